package controller

import (
	"context"
	"errors"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/paude/paude/internal/errkind"
	"github.com/paude/paude/internal/session"
	"github.com/paude/paude/internal/substrate"
)

type fakeBackend struct {
	createdSpec substrate.CreateSpec
	createErr   error
	started     bool
	stopped     bool
	deleted     bool
	deleteErr   error
	getCalls    int
	phases      []session.Phase
	execCmd     []string
}

func (f *fakeBackend) Name() session.Backend          { return session.BackendLocal }
func (f *fakeBackend) Ping(ctx context.Context) error { return nil }
func (f *fakeBackend) Create(ctx context.Context, spec substrate.CreateSpec) (string, error) {
	f.createdSpec = spec
	if f.createErr != nil {
		return "", f.createErr
	}
	return "id-1", nil
}
func (f *fakeBackend) Start(ctx context.Context, id string) error { f.started = true; return nil }
func (f *fakeBackend) Stop(ctx context.Context, id string) error  { f.stopped = true; return nil }
func (f *fakeBackend) Delete(ctx context.Context, id string) error {
	f.deleted = true
	return f.deleteErr
}
func (f *fakeBackend) Get(ctx context.Context, id string) (session.Session, error) {
	phase := f.phases[f.getCalls]
	if f.getCalls < len(f.phases)-1 {
		f.getCalls++
	}
	return session.Session{ID: id, Phase: phase}, nil
}
func (f *fakeBackend) List(ctx context.Context) ([]session.Session, error) { return nil, nil }
func (f *fakeBackend) Exec(ctx context.Context, id string, opts substrate.ExecOptions, streams substrate.ExecStreams) error {
	f.execCmd = opts.Command
	return nil
}

type fakeImages struct {
	tag      string
	rebuilds []bool
}

func (f *fakeImages) Materialize(ctx context.Context, cfg session.SessionConfig, rebuild bool) (string, error) {
	f.rebuilds = append(f.rebuilds, rebuild)
	return f.tag, nil
}

type fakeCreds struct{ projected bool }

func (f *fakeCreds) Project(ctx context.Context, s *session.Session) error {
	f.projected = true
	s.Config.Credentials = session.CredentialProjection{
		Allowlist: map[string]string{"/home/dev/.gitconfig": "/home/paude/.gitconfig"},
	}
	return nil
}

type fakeEgress struct {
	ensured   bool
	readyAfter int
	readyCalls int
	tornDown  bool
}

func (f *fakeEgress) Ensure(ctx context.Context, s session.Session) error { f.ensured = true; return nil }
func (f *fakeEgress) Ready(ctx context.Context, s session.Session) (bool, error) {
	f.readyCalls++
	return f.readyCalls > f.readyAfter, nil
}
func (f *fakeEgress) Address(s session.Session) string { return "paude-proxy:3128" }
func (f *fakeEgress) Network(s session.Session) string { return "paude-internal" }
func (f *fakeEgress) Teardown(ctx context.Context, s session.Session) error {
	f.tornDown = true
	return nil
}

type fakeSync struct {
	pushed bool
	pulled bool
	err    error
}

func (f *fakeSync) Push(ctx context.Context, s session.Session) error { f.pushed = true; return f.err }
func (f *fakeSync) Pull(ctx context.Context, s session.Session) error { f.pulled = true; return f.err }

func restrictedConfig() session.SessionConfig {
	return session.SessionConfig{
		Name:              "demo",
		WorkspaceDir:      "/home/dev/demo",
		Backend:           session.BackendLocal,
		NetworkRestricted: true,
	}
}

func TestCreateLeavesSessionStopped(t *testing.T) {
	be := &fakeBackend{}
	images := &fakeImages{tag: "paude-session:ab12-amd64"}
	creds := &fakeCreds{}
	eg := &fakeEgress{}
	c := &Controller{Backend: be, Images: images, Creds: creds, Egress: eg}

	s, err := c.Create(context.Background(), restrictedConfig(), CreateOptions{})
	assert.NilError(t, err)
	assert.Equal(t, s.Phase, session.PhaseStopped)
	assert.Equal(t, s.ID, "id-1")
	assert.Equal(t, s.ImageTag, "paude-session:ab12-amd64")
	assert.Assert(t, creds.projected)
	assert.Assert(t, eg.ensured)
	assert.Assert(t, !be.started, "create must not start the workload")
	assert.Equal(t, be.createdSpec.Network, "paude-internal")
	assert.Equal(t, be.createdSpec.Session.Config.Egress.Listen, "paude-proxy:3128")
}

func TestCreateDerivesNameWhenEmpty(t *testing.T) {
	be := &fakeBackend{}
	c := &Controller{Backend: be}
	cfg := session.SessionConfig{WorkspaceDir: "/home/dev/widget", Backend: session.BackendLocal}

	s, err := c.Create(context.Background(), cfg, CreateOptions{})
	assert.NilError(t, err)
	assert.Assert(t, s.Name != "")
	assert.NilError(t, session.ValidateName(s.Name))
}

func TestCreateRejectsInvalidName(t *testing.T) {
	c := &Controller{Backend: &fakeBackend{}}
	cfg := session.SessionConfig{Name: "Bad Name", WorkspaceDir: "/x"}
	_, err := c.Create(context.Background(), cfg, CreateOptions{})
	assert.ErrorContains(t, err, "lower-case")
}

func TestCreatePropagatesObjectExists(t *testing.T) {
	be := &fakeBackend{createErr: errkind.Newf("local.Create", errkind.ObjectExists, "name taken")}
	c := &Controller{Backend: be}

	_, err := c.Create(context.Background(), restrictedConfig(), CreateOptions{})
	assert.Assert(t, errkind.Is(err, errkind.ObjectExists))
}

func TestCreateForwardsRebuildFlag(t *testing.T) {
	images := &fakeImages{tag: "t"}
	c := &Controller{Backend: &fakeBackend{}, Images: images}
	_, err := c.Create(context.Background(), restrictedConfig(), CreateOptions{Rebuild: true})
	assert.NilError(t, err)
	assert.DeepEqual(t, images.rebuilds, []bool{true})
}

func TestStartWaitsForProxyThenReadiness(t *testing.T) {
	be := &fakeBackend{phases: []session.Phase{session.PhaseRunning}}
	eg := &fakeEgress{readyAfter: 0}
	c := &Controller{Backend: be, Egress: eg}

	s := session.Session{ID: "id-1", Name: "demo", Backend: session.BackendLocal, Config: restrictedConfig()}
	got, err := c.Start(context.Background(), s, StartOptions{})
	assert.NilError(t, err)
	assert.Assert(t, eg.ensured, "start must re-wire egress before scaling up")
	assert.Assert(t, be.started)
	assert.Assert(t, eg.readyCalls >= 1)
	assert.Equal(t, got.Phase, session.PhaseRunning)
}

func TestStartSyncsRemoteSessions(t *testing.T) {
	be := &fakeBackend{phases: []session.Phase{session.PhaseRunning}}
	sync := &fakeSync{}
	c := &Controller{Backend: be, Sync: sync}

	s := session.Session{ID: "id-1", Name: "demo", Backend: session.BackendRemote}
	_, err := c.Start(context.Background(), s, StartOptions{Sync: true})
	assert.NilError(t, err)
	assert.Assert(t, sync.pushed)
}

func TestStartSyncFailureIsNotFatal(t *testing.T) {
	be := &fakeBackend{phases: []session.Phase{session.PhaseRunning}}
	sync := &fakeSync{err: errors.New("rsync exploded")}
	c := &Controller{Backend: be, Sync: sync}

	s := session.Session{ID: "id-1", Name: "demo", Backend: session.BackendRemote}
	_, err := c.Start(context.Background(), s, StartOptions{Sync: true})
	assert.NilError(t, err)
}

func TestStartSkipsSyncForLocalSessions(t *testing.T) {
	be := &fakeBackend{phases: []session.Phase{session.PhaseRunning}}
	sync := &fakeSync{}
	c := &Controller{Backend: be, Sync: sync}

	s := session.Session{ID: "id-1", Name: "demo", Backend: session.BackendLocal}
	_, err := c.Start(context.Background(), s, StartOptions{Sync: true})
	assert.NilError(t, err)
	assert.Assert(t, !sync.pushed)
}

func TestStopPullsBackWhenAsked(t *testing.T) {
	be := &fakeBackend{}
	sync := &fakeSync{}
	c := &Controller{Backend: be, Sync: sync}

	s := session.Session{ID: "id-1", Name: "demo", Backend: session.BackendRemote}
	assert.NilError(t, c.Stop(context.Background(), s, StopOptions{Sync: true}))
	assert.Assert(t, sync.pulled)
	assert.Assert(t, be.stopped)
}

func TestDeleteCascadesAndTearsDownEgress(t *testing.T) {
	be := &fakeBackend{}
	eg := &fakeEgress{}
	c := &Controller{Backend: be, Egress: eg}

	s := session.Session{ID: "id-1", Name: "demo"}
	assert.NilError(t, c.Delete(context.Background(), s))
	assert.Assert(t, be.stopped)
	assert.Assert(t, be.deleted)
	assert.Assert(t, eg.tornDown)
}

func TestDeleteMissingSessionReportsNotFound(t *testing.T) {
	be := &fakeBackend{deleteErr: errkind.Newf("local.Delete", errkind.ObjectNotFound, "gone")}
	c := &Controller{Backend: be}

	err := c.Delete(context.Background(), session.Session{ID: "ghost", Name: "ghost"})
	assert.Assert(t, errkind.Is(err, errkind.ObjectNotFound))
}

func TestConnectAttachesToEntrypoint(t *testing.T) {
	be := &fakeBackend{}
	c := &Controller{Backend: be}

	err := c.Connect(context.Background(), session.Session{ID: "id-1"}, substrate.ExecStreams{})
	assert.NilError(t, err)
	assert.DeepEqual(t, be.execCmd, []string{"/home/paude/entrypoint.sh"})
}

// diagBackend wraps fakeBackend with the Diagnoser capability.
type diagBackend struct {
	fakeBackend
	diag string
}

func (d *diagBackend) Diagnose(ctx context.Context, id string) string { return d.diag }

func TestStartSurfacesErrorPhaseWithDiagnostics(t *testing.T) {
	be := &diagBackend{
		fakeBackend: fakeBackend{phases: []session.Phase{session.PhaseError}},
		diag:        "Warning BackOff: restarting failed container\nlast log line",
	}
	c := &Controller{Backend: be}

	_, err := c.Start(context.Background(), session.Session{ID: "id-1", Name: "demo"}, StartOptions{})
	assert.ErrorContains(t, err, "error state")
	assert.ErrorContains(t, err, "BackOff")
}

func TestStartCancelledContextUnwinds(t *testing.T) {
	be := &fakeBackend{phases: []session.Phase{session.PhasePending}}
	c := &Controller{Backend: be}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Start(ctx, session.Session{ID: "id-1", Name: "demo"}, StartOptions{})
	assert.Assert(t, errors.Is(err, context.Canceled))
}
