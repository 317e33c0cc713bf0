package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// maxNameLen is the DNS-label limit, which is also stricter than any
// container engine's name limit, so one bound covers both substrates.
const maxNameLen = 63

// DeriveName produces a session name from a workspace path when the user
// didn't supply one: the directory basename plus a short hash of the
// absolute path, so two checkouts of the same project get distinct names.
func DeriveName(workspaceDir string) string {
	abs, err := filepath.Abs(workspaceDir)
	if err != nil {
		abs = workspaceDir
	}
	sum := sha256.Sum256([]byte(abs))
	short := hex.EncodeToString(sum[:3])
	base := SanitizeName(filepath.Base(abs))
	if base == "" {
		base = "workspace"
	}
	// Leave room for the separator and hash within the label limit.
	if len(base) > maxNameLen-len(short)-1 {
		base = strings.TrimRight(base[:maxNameLen-len(short)-1], "-")
	}
	return base + "-" + short
}

// SanitizeName maps an arbitrary string into the intersection of a valid
// container name and a valid DNS label: lower-case alphanumerics and '-',
// at most 63 characters, no leading or trailing '-'. Characters outside
// the set become '-'; runs of '-' collapse.
func SanitizeName(name string) string {
	var b strings.Builder
	lastDash := true // suppress leading dashes
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if len(out) > maxNameLen {
		out = strings.TrimRight(out[:maxNameLen], "-")
	}
	return out
}

// ValidateName reports whether name is usable as-is on both substrates.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("session name is empty")
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("session name %q exceeds %d characters", name, maxNameLen)
	}
	if name != SanitizeName(name) {
		return fmt.Errorf("session name %q must be lower-case alphanumerics and '-', with no leading or trailing '-'", name)
	}
	return nil
}
