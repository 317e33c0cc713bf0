package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestResolveSkipsAbsentFiles(t *testing.T) {
	home := t.TempDir()
	assert.NilError(t, os.WriteFile(filepath.Join(home, ".gitconfig"), []byte("[user]\n"), 0o600))

	resolved := Resolve(home, map[string]string{
		".gitconfig":   "/home/paude/.gitconfig",
		".claude.json": "/tmp/claude.seed/.claude.json",
	})

	assert.Equal(t, len(resolved), 1)
	assert.Equal(t, resolved[0].Rel, ".gitconfig")
	assert.Equal(t, resolved[0].Dest, "/home/paude/.gitconfig")
	assert.Assert(t, !resolved[0].Sensitive)
}

func TestResolveFollowsSymlinks(t *testing.T) {
	home := t.TempDir()
	target := filepath.Join(home, "real-claude.json")
	assert.NilError(t, os.WriteFile(target, []byte("{}"), 0o600))
	assert.NilError(t, os.Symlink(target, filepath.Join(home, ".claude.json")))

	resolved := Resolve(home, map[string]string{".claude.json": "/tmp/claude.seed/.claude.json"})
	assert.Equal(t, len(resolved), 1)
	assert.Equal(t, resolved[0].Source, target)
	assert.Assert(t, resolved[0].Sensitive)
}

func TestResolveSkipsDirectories(t *testing.T) {
	home := t.TempDir()
	assert.NilError(t, os.Mkdir(filepath.Join(home, ".claude"), 0o700))

	resolved := Resolve(home, map[string]string{".claude": "/home/paude/.claude"})
	assert.Equal(t, len(resolved), 0)
}

func TestProjectBuildsSourceToDestMap(t *testing.T) {
	home := t.TempDir()
	assert.NilError(t, os.WriteFile(filepath.Join(home, ".gitconfig"), []byte("[user]\n"), 0o600))

	proj := Project(home)
	assert.Equal(t, len(proj.Allowlist), 1)
	for src, dst := range proj.Allowlist {
		assert.Equal(t, filepath.Base(src), ".gitconfig")
		assert.Equal(t, dst, "/home/paude/.gitconfig")
	}
}

func TestObjectNamesDeterministic(t *testing.T) {
	assert.Equal(t, SecretName("demo"), "paude-creds-demo")
	assert.Equal(t, ConfigMapName("demo"), "paude-config-demo")
}
