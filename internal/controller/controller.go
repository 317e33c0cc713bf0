// Package controller implements the Session Controller (C6): the single
// place that drives a Session through its lifecycle. It owns a
// substrate.Backend plus the image, credential, egress, and sync
// subsystems, and sequences them so that credentials and confinement are
// in place before the workload ever runs.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/paude/paude/internal/errkind"
	"github.com/paude/paude/internal/session"
	"github.com/paude/paude/internal/substrate"
)

// Readiness is polled rather than watched, for portability across
// substrate versions: every 2 seconds within a 300-second budget.
const (
	PollInterval = 2 * time.Second
	PollBudget   = 300 * time.Second
)

// ImageMaterializer resolves a SessionConfig to a pullable image
// reference, building and delivering as needed.
type ImageMaterializer interface {
	Materialize(ctx context.Context, cfg session.SessionConfig, rebuild bool) (string, error)
}

// CredentialProjector resolves host credentials onto the session config
// and, on the remote substrate, materializes them as cluster objects.
type CredentialProjector interface {
	Project(ctx context.Context, s *session.Session) error
}

// EgressManager wires and unwires a session's egress confinement.
type EgressManager interface {
	Ensure(ctx context.Context, s session.Session) error
	Ready(ctx context.Context, s session.Session) (bool, error)
	Address(s session.Session) string
	Network(s session.Session) string
	Teardown(ctx context.Context, s session.Session) error
}

// Syncer moves workspace trees between host and session volume. Only the
// remote substrate has one; local workspaces are bind mounts.
type Syncer interface {
	Push(ctx context.Context, s session.Session) error
	Pull(ctx context.Context, s session.Session) error
}

// Diagnoser is the optional backend capability of attaching events and
// logs to a readiness failure.
type Diagnoser interface {
	Diagnose(ctx context.Context, id string) string
}

// Controller drives Session lifecycle transitions against a single
// substrate.Backend. One Controller is constructed per invocation, scoped
// to whichever backend the command resolved.
type Controller struct {
	Backend substrate.Backend
	Images  ImageMaterializer
	Creds   CredentialProjector
	Egress  EgressManager
	Sync    Syncer
}

// CreateOptions modify Create's behavior.
type CreateOptions struct {
	Rebuild bool // force image regeneration even on a cache hit
}

// Create materializes a brand new session in the stopped state: derive
// and validate the name, project credentials, resolve the image, wire
// egress, then ask the backend for the persistent object. The session is
// NOT started; Start is a separate transition.
func (c *Controller) Create(ctx context.Context, cfg session.SessionConfig, opts CreateOptions) (session.Session, error) {
	if cfg.Name == "" {
		cfg.Name = session.DeriveName(cfg.WorkspaceDir)
	} else if err := session.ValidateName(cfg.Name); err != nil {
		return session.Session{}, err
	}

	s := session.Session{
		Name:      cfg.Name,
		Backend:   cfg.Backend,
		Phase:     session.PhaseStopped,
		Config:    cfg,
		CreatedAt: time.Now(),
	}

	if c.Egress != nil && s.Config.NetworkRestricted && s.Config.Egress.Listen == "" {
		s.Config.Egress.Listen = c.Egress.Address(s)
	}

	if c.Creds != nil {
		if err := c.Creds.Project(ctx, &s); err != nil {
			return session.Session{}, fmt.Errorf("create session %s: project credentials: %w", cfg.Name, err)
		}
	}

	if c.Images != nil {
		tag, err := c.Images.Materialize(ctx, s.Config, opts.Rebuild)
		if err != nil {
			return session.Session{}, fmt.Errorf("create session %s: %w", cfg.Name, err)
		}
		s.ImageTag = tag
	}

	network := ""
	if c.Egress != nil {
		if err := c.Egress.Ensure(ctx, s); err != nil {
			return session.Session{}, fmt.Errorf("create session %s: wire egress: %w", cfg.Name, err)
		}
		network = c.Egress.Network(s)
	}

	id, err := c.Backend.Create(ctx, substrate.CreateSpec{Session: s, Network: network})
	if err != nil {
		return session.Session{}, fmt.Errorf("create session %s: %w", cfg.Name, err)
	}
	s.ID = id
	return s, nil
}

// StartOptions modify Start's behavior.
type StartOptions struct {
	Sync bool // push the workspace after readiness (remote only)
}

// Start drives Stopped -> Running: wait for the proxy, scale up, wait for
// readiness, then push the workspace. The ordering is a contract — the
// workload must never come up before its confinement is in effect, and
// sync must not race the terminal multiplexer's startup.
func (c *Controller) Start(ctx context.Context, s session.Session, opts StartOptions) (session.Session, error) {
	if c.Egress != nil {
		// Re-ensure on every start: a fresh process resuming a stopped
		// session finds the local proxy stopped (torn down when the
		// invocation that started it exited) and must bring it back.
		if err := c.Egress.Ensure(ctx, s); err != nil {
			return session.Session{}, fmt.Errorf("start session %s: wire egress: %w", s.Name, err)
		}
		if err := c.awaitProxy(ctx, s); err != nil {
			return session.Session{}, fmt.Errorf("start session %s: %w", s.Name, err)
		}
	}

	if err := c.Backend.Start(ctx, s.ID); err != nil {
		return session.Session{}, fmt.Errorf("start session %s: %w", s.Name, err)
	}

	started, err := c.awaitRunning(ctx, s.ID)
	if err != nil {
		return session.Session{}, fmt.Errorf("start session %s: %w", s.Name, err)
	}
	// Listing-derived records carry only what the substrate stores;
	// preserve the caller's fuller config.
	started.Config = mergeConfig(s.Config, started.Config)

	if opts.Sync && c.Sync != nil && s.Backend == session.BackendRemote {
		if err := c.Sync.Push(ctx, started); err != nil {
			log.Printf("[controller] workspace push for %s failed: %v (continuing)", s.Name, err)
		}
	}
	return started, nil
}

// mergeConfig overlays substrate-recovered fields onto the caller's
// config without losing flags the substrate doesn't store.
func mergeConfig(full, recovered session.SessionConfig) session.SessionConfig {
	if full.WorkspaceDir == "" {
		full.WorkspaceDir = recovered.WorkspaceDir
	}
	if full.Namespace == "" {
		full.Namespace = recovered.Namespace
	}
	return full
}

// awaitProxy polls the egress manager until the proxy reports ready.
func (c *Controller) awaitProxy(ctx context.Context, s session.Session) error {
	deadline := time.Now().Add(PollBudget)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		ready, err := c.Egress.Ready(ctx, s)
		if err != nil {
			return fmt.Errorf("await proxy: %w", err)
		}
		if ready {
			return nil
		}
		if time.Now().After(deadline) {
			return errkind.Newf("await proxy", errkind.Timeout,
				"egress proxy for %s not ready within %s", s.Name, PollBudget)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// awaitRunning polls Get until the session reports Running, an Error
// phase (with diagnostics attached when the backend can produce them),
// or the budget elapses.
func (c *Controller) awaitRunning(ctx context.Context, id string) (session.Session, error) {
	deadline := time.Now().Add(PollBudget)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		s, err := c.Backend.Get(ctx, id)
		if err != nil {
			return session.Session{}, fmt.Errorf("await running: %w", err)
		}
		switch s.Phase {
		case session.PhaseRunning:
			return s, nil
		case session.PhaseError:
			detail := s.LastError
			if d, ok := c.Backend.(Diagnoser); ok {
				if diag := d.Diagnose(ctx, id); diag != "" {
					detail += "\n" + diag
				}
			}
			return session.Session{}, errkind.Newf("await running", errkind.Unknown,
				"session %s entered error state: %s", id, detail)
		}
		if time.Now().After(deadline) {
			return session.Session{}, errkind.Newf("await running", errkind.Timeout,
				"session %s did not become ready within %s", id, PollBudget)
		}
		select {
		case <-ctx.Done():
			return session.Session{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// StopOptions modify Stop's behavior.
type StopOptions struct {
	Sync bool // pull the workspace back before scaling down (remote only)
}

// Stop pauses a session's compute without deleting its stored state.
func (c *Controller) Stop(ctx context.Context, s session.Session, opts StopOptions) error {
	if opts.Sync && c.Sync != nil && s.Backend == session.BackendRemote {
		if err := c.Sync.Pull(ctx, s); err != nil {
			log.Printf("[controller] workspace pull for %s failed: %v (continuing)", s.Name, err)
		}
	}
	if err := c.Backend.Stop(ctx, s.ID); err != nil {
		return fmt.Errorf("stop session %s: %w", s.Name, err)
	}
	return nil
}

// Delete tears the session down: scale to zero first so mounts release,
// then let the backend sweep the object graph, then unwire egress.
// Cleanup errors are collected rather than aborting early, so one failed
// step doesn't strand the rest; missing pieces are not errors.
func (c *Controller) Delete(ctx context.Context, s session.Session) error {
	var errs []error

	if !s.Legacy {
		if err := c.Backend.Stop(ctx, s.ID); err != nil && !errkind.Is(err, errkind.ObjectNotFound) {
			errs = append(errs, fmt.Errorf("stop: %w", err))
		}
	}

	err := c.Backend.Delete(ctx, s.ID)
	notFound := errkind.Is(err, errkind.ObjectNotFound)
	if err != nil && !notFound {
		errs = append(errs, fmt.Errorf("delete: %w", err))
	}

	if c.Egress != nil {
		if terr := c.Egress.Teardown(ctx, s); terr != nil {
			log.Printf("[controller] egress teardown for %s: %v (orphan acceptable)", s.Name, terr)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if notFound {
		return err
	}
	return nil
}

// List enumerates every session the backend knows about, including legacy
// ephemeral objects.
func (c *Controller) List(ctx context.Context) ([]session.Session, error) {
	return c.Backend.List(ctx)
}

// Get resolves a single session's current state.
func (c *Controller) Get(ctx context.Context, id string) (session.Session, error) {
	return c.Backend.Get(ctx, id)
}

// Connect opens an interactive exec into the session's persistent
// terminal multiplexer, wiring the caller's streams through. The entry
// command attaches to (or creates) the session's tmux session, so
// repeated connects land in the same terminal. The assistant's exit code
// comes back as *substrate.ExitError.
func (c *Controller) Connect(ctx context.Context, s session.Session, streams substrate.ExecStreams) error {
	return c.Backend.Exec(ctx, s.ID, substrate.ExecOptions{
		Command: []string{"/home/paude/entrypoint.sh"},
		Stdin:   true,
		TTY:     true,
	}, streams)
}
