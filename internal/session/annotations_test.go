package session

import (
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestWorkspaceRoundTrip(t *testing.T) {
	paths := []string{
		"/home/dev/projects/widget",
		"/home/dev/with spaces/and=equals",
		"/home/dev/unicode/プロジェクト",
		"",
	}
	for _, p := range paths {
		decoded, err := DecodeWorkspace(EncodeWorkspace(p))
		assert.NilError(t, err)
		assert.Equal(t, decoded, p)
	}
}

func TestDecodeWorkspaceEmptyIsNotAnError(t *testing.T) {
	got, err := DecodeWorkspace("")
	assert.NilError(t, err)
	assert.Equal(t, got, "")
}

func TestDecodeWorkspaceRejectsGarbage(t *testing.T) {
	_, err := DecodeWorkspace("not!!base64")
	assert.ErrorContains(t, err, "decode workspace")
}

func TestCreatedAtRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, ParseCreatedAt(FormatCreatedAt(now)), now)
	assert.Assert(t, ParseCreatedAt("garbage").IsZero())
}

func TestClaudeArgsYoloInjection(t *testing.T) {
	cfg := SessionConfig{Args: []string{"--model", "opus"}}
	assert.DeepEqual(t, cfg.ClaudeArgs(), []string{"--model", "opus"})

	cfg.Yolo = true
	assert.DeepEqual(t, cfg.ClaudeArgs(), []string{"--dangerously-skip-permissions", "--model", "opus"})
}

func TestDefaultCredentialAllowlistIsFixed(t *testing.T) {
	list := DefaultCredentialAllowlist()
	assert.Equal(t, len(list), 8)
	for rel := range list {
		// Nothing outside the fixed set: no logs, histories, or caches.
		for _, banned := range []string{"log", "history", "cache", "projects"} {
			assert.Assert(t, !strings.Contains(rel, banned), rel)
		}
	}
	assert.Assert(t, !Sensitive(".gitconfig"))
	assert.Assert(t, Sensitive(".claude/credentials.json"))
}
