// Package credentials implements the Credential Projector (C3): resolving
// which files from the fixed allowlist actually exist on the host, and
// materializing them into the session either as read-only bind mounts
// (local) or as a Secret/ConfigMap pair (remote).
//
// The projector never aborts a session for credential absence: a missing
// or unreadable file is skipped, and a session with no credentials at all
// simply starts unauthenticated.
package credentials

import (
	"os"
	"path/filepath"

	"github.com/paude/paude/internal/session"
)

// Resolved is one projectable credential file.
type Resolved struct {
	Rel       string // allowlist key, relative to $HOME
	Source    string // resolved absolute host path, symlinks followed
	Dest      string // in-session destination path
	Sensitive bool
}

// Resolve walks the allowlist and returns only the entries whose source
// exists under home, following symlinks. Absent or broken entries are
// skipped, never an error.
func Resolve(home string, allowlist map[string]string) []Resolved {
	var out []Resolved
	for rel, dst := range allowlist {
		src := filepath.Join(home, rel)
		real, err := filepath.EvalSymlinks(src)
		if err != nil {
			continue
		}
		info, err := os.Stat(real)
		if err != nil || info.IsDir() {
			continue
		}
		out = append(out, Resolved{
			Rel:       rel,
			Source:    real,
			Dest:      dst,
			Sensitive: session.Sensitive(rel),
		})
	}
	return out
}

// Project resolves the default allowlist against home and returns the
// CredentialProjection the controller attaches to the session before
// calling Backend.Create.
func Project(home string) session.CredentialProjection {
	resolved := Resolve(home, session.DefaultCredentialAllowlist())
	allowlist := make(map[string]string, len(resolved))
	for _, r := range resolved {
		allowlist[r.Source] = r.Dest
	}
	return session.CredentialProjection{Allowlist: allowlist}
}
