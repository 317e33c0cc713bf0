// Package discovery implements Session Discovery (C8): resolving which
// session and which backend a bare command like `paude connect` should
// act on, without the user having to name either.
//
// Three strategies run in order: explicit name, workspace match against
// the current directory, then a singleton fallback. The local engine is
// probed before the cluster so the local substrate wins when a session
// exists on both, and an unreachable backend is skipped silently — a
// broken backend must not hide sessions that exist on a healthy one.
package discovery

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/paude/paude/internal/session"
	"github.com/paude/paude/internal/substrate"
)

// Backends orders the substrates to probe: local first, then remote.
type Backends struct {
	Local  substrate.Backend // nil if the local engine isn't available
	Remote substrate.Backend // nil if the remote cluster isn't configured
}

func (b Backends) ordered() []substrate.Backend {
	var out []substrate.Backend
	if b.Local != nil {
		out = append(out, b.Local)
	}
	if b.Remote != nil {
		out = append(out, b.Remote)
	}
	return out
}

// ErrNoSessions is returned when no backend has any session at all.
type ErrNoSessions struct{}

func (ErrNoSessions) Error() string { return "no sessions found on any backend" }

// ErrAmbiguous is returned when more than one session matches and no
// singleton fallback applies; Candidates lists what was found so the
// caller can print a numbered disambiguation list.
type ErrAmbiguous struct {
	Candidates []session.Session
}

func (e ErrAmbiguous) Error() string {
	return fmt.Sprintf("%d sessions match; specify a name", len(e.Candidates))
}

// Pair couples a Session with the Backend it was found on, so callers
// don't have to re-dispatch on the session's backend tag.
type Pair struct {
	Session session.Session
	Backend substrate.Backend
}

// Resolve implements the three-strategy order. workspaceDir is the
// caller's current directory; an empty value skips the workspace
// strategy.
func Resolve(ctx context.Context, backends Backends, name, workspaceDir string) (Pair, error) {
	if name != "" {
		return resolveByName(ctx, backends, name)
	}

	if p, ok, err := resolveByWorkspace(ctx, backends, workspaceDir); err != nil {
		return Pair{}, err
	} else if ok {
		return p, nil
	}

	return resolveSingleton(ctx, backends)
}

func resolveByName(ctx context.Context, backends Backends, name string) (Pair, error) {
	for _, be := range backends.ordered() {
		sessions, err := be.List(ctx)
		if err != nil {
			continue // unreachable backend: skip silently
		}
		for _, s := range sessions {
			if s.Name == name {
				return Pair{Session: s, Backend: be}, nil
			}
		}
	}
	return Pair{}, fmt.Errorf("session %q not found on any backend", name)
}

// canonical resolves symlinks and relative segments so a workspace
// recorded as /home/dev/p matches a cwd of /home/dev/p/./ or a symlinked
// spelling of the same directory.
func canonical(path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

func resolveByWorkspace(ctx context.Context, backends Backends, workspaceDir string) (Pair, bool, error) {
	want := canonical(workspaceDir)
	if want == "" {
		return Pair{}, false, nil
	}
	for _, be := range backends.ordered() {
		sessions, err := be.List(ctx)
		if err != nil {
			continue
		}
		for _, s := range sessions {
			if s.Config.WorkspaceDir != "" && canonical(s.Config.WorkspaceDir) == want {
				return Pair{Session: s, Backend: be}, true, nil
			}
		}
	}
	return Pair{}, false, nil
}

// resolveSingleton auto-selects only when the choice is unambiguous: one
// running session wins over stopped ones, and one session total wins by
// default; anything else is ErrAmbiguous.
func resolveSingleton(ctx context.Context, backends Backends) (Pair, error) {
	all, err := ListAll(ctx, backends)
	if err != nil {
		return Pair{}, err
	}
	if len(all) == 0 {
		return Pair{}, ErrNoSessions{}
	}
	if len(all) == 1 {
		return all[0], nil
	}

	var running []Pair
	for _, p := range all {
		if p.Session.Phase == session.PhaseRunning {
			running = append(running, p)
		}
	}
	if len(running) == 1 {
		return running[0], nil
	}

	sessions := make([]session.Session, 0, len(all))
	for _, p := range all {
		sessions = append(sessions, p.Session)
	}
	return Pair{}, ErrAmbiguous{Candidates: sessions}
}

// ListAll aggregates sessions from every configured backend, tolerating
// individual backend failures rather than failing the whole listing.
func ListAll(ctx context.Context, backends Backends) ([]Pair, error) {
	var out []Pair
	var anyOK bool
	for _, be := range backends.ordered() {
		sessions, err := be.List(ctx)
		if err != nil {
			continue
		}
		anyOK = true
		for _, s := range sessions {
			out = append(out, Pair{Session: s, Backend: be})
		}
	}
	if !anyOK && len(backends.ordered()) > 0 {
		return nil, fmt.Errorf("no configured backend is reachable")
	}
	return out, nil
}
