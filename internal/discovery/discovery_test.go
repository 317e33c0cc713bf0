package discovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/paude/paude/internal/session"
	"github.com/paude/paude/internal/substrate"
)

// fakeBackend is a minimal in-memory substrate.Backend double: enough
// surface to drive the discovery logic without a real engine or cluster.
type fakeBackend struct {
	name     session.Backend
	sessions []session.Session
	listErr  error
}

func (f *fakeBackend) Name() session.Backend { return f.name }
func (f *fakeBackend) Ping(ctx context.Context) error { return nil }
func (f *fakeBackend) Create(ctx context.Context, spec substrate.CreateSpec) (string, error) {
	return "", nil
}
func (f *fakeBackend) Start(ctx context.Context, id string) error { return nil }
func (f *fakeBackend) Stop(ctx context.Context, id string) error  { return nil }
func (f *fakeBackend) Delete(ctx context.Context, id string) error { return nil }
func (f *fakeBackend) Get(ctx context.Context, id string) (session.Session, error) {
	return session.Session{}, nil
}
func (f *fakeBackend) List(ctx context.Context) ([]session.Session, error) {
	return f.sessions, f.listErr
}
func (f *fakeBackend) Exec(ctx context.Context, id string, opts substrate.ExecOptions, streams substrate.ExecStreams) error {
	return nil
}

func TestResolveByNamePrefersLocal(t *testing.T) {
	local := &fakeBackend{name: session.BackendLocal, sessions: []session.Session{{ID: "1", Name: "dev"}}}
	remote := &fakeBackend{name: session.BackendRemote, sessions: []session.Session{{ID: "2", Name: "dev"}}}

	p, err := Resolve(context.Background(), Backends{Local: local, Remote: remote}, "dev", "")
	assert.NilError(t, err)
	assert.Equal(t, p.Session.ID, "1")
	assert.Equal(t, p.Backend, substrate.Backend(local))
}

func TestResolveSingletonFallback(t *testing.T) {
	local := &fakeBackend{name: session.BackendLocal, sessions: []session.Session{{ID: "1", Name: "only"}}}
	remote := &fakeBackend{name: session.BackendRemote}

	p, err := Resolve(context.Background(), Backends{Local: local, Remote: remote}, "", "")
	assert.NilError(t, err)
	assert.Equal(t, p.Session.ID, "1")
}

func TestResolveAmbiguousWithoutWorkspaceMatch(t *testing.T) {
	local := &fakeBackend{name: session.BackendLocal, sessions: []session.Session{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}}}

	_, err := Resolve(context.Background(), Backends{Local: local}, "", "")
	var ambiguous ErrAmbiguous
	assert.Assert(t, errors.As(err, &ambiguous))
	assert.Equal(t, len(ambiguous.Candidates), 2)
}

func TestResolveByWorkspaceTakesPrecedenceOverSingleton(t *testing.T) {
	local := &fakeBackend{name: session.BackendLocal, sessions: []session.Session{
		{ID: "1", Name: "a", Config: session.SessionConfig{WorkspaceDir: "/repo/a"}},
		{ID: "2", Name: "b", Config: session.SessionConfig{WorkspaceDir: "/repo/b"}},
	}}

	p, err := Resolve(context.Background(), Backends{Local: local}, "", "/repo/b")
	assert.NilError(t, err)
	assert.Equal(t, p.Session.ID, "2")
}

func TestListAllToleratesOneBackendFailing(t *testing.T) {
	local := &fakeBackend{name: session.BackendLocal, sessions: []session.Session{{ID: "1", Name: "a"}}}
	remote := &fakeBackend{name: session.BackendRemote, listErr: errors.New("unreachable")}

	pairs, err := ListAll(context.Background(), Backends{Local: local, Remote: remote})
	assert.NilError(t, err)
	assert.Equal(t, len(pairs), 1)
}

func TestResolveNoSessions(t *testing.T) {
	local := &fakeBackend{name: session.BackendLocal}
	_, err := Resolve(context.Background(), Backends{Local: local}, "", "")
	var none ErrNoSessions
	assert.Assert(t, errors.As(err, &none))
}

func TestResolveSingletonPrefersTheOnlyRunningSession(t *testing.T) {
	local := &fakeBackend{name: session.BackendLocal, sessions: []session.Session{
		{ID: "1", Name: "a", Phase: session.PhaseStopped},
		{ID: "2", Name: "b", Phase: session.PhaseRunning},
	}}

	p, err := Resolve(context.Background(), Backends{Local: local}, "", "")
	assert.NilError(t, err)
	assert.Equal(t, p.Session.ID, "2")
}

func TestResolveByNameUnknown(t *testing.T) {
	local := &fakeBackend{name: session.BackendLocal}
	_, err := Resolve(context.Background(), Backends{Local: local}, "ghost", "")
	assert.ErrorContains(t, err, "not found on any backend")
}

func TestResolveByWorkspaceFollowsSymlinks(t *testing.T) {
	real := t.TempDir()
	link := filepath.Join(t.TempDir(), "link")
	assert.NilError(t, os.Symlink(real, link))

	local := &fakeBackend{name: session.BackendLocal, sessions: []session.Session{
		{ID: "1", Name: "a", Config: session.SessionConfig{WorkspaceDir: real}},
		{ID: "2", Name: "b", Config: session.SessionConfig{WorkspaceDir: "/elsewhere"}},
	}}

	p, err := Resolve(context.Background(), Backends{Local: local}, "", link)
	assert.NilError(t, err)
	assert.Equal(t, p.Session.ID, "1")
}
