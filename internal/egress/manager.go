package egress

import (
	"context"

	dockerclient "github.com/docker/docker/client"

	"github.com/paude/paude/internal/session"
	"github.com/paude/paude/internal/substrate"
)

// LocalManager wires egress for the local substrate: the shared internal
// network plus the shared proxy container. The proxy is reused across
// sessions, so per-session teardown leaves it alone; when an Ensure call
// in this process is what started the proxy, StopOnExit stops it again
// at process exit (the command layer calls it last thing before
// returning).
type LocalManager struct {
	CLI *dockerclient.Client

	startedProxy bool
}

func (m *LocalManager) Ensure(ctx context.Context, s session.Session) error {
	if !s.Config.NetworkRestricted {
		return nil
	}
	started, err := EnsureLocalProxy(ctx, m.CLI, ProxyImage(s.ImageTag))
	if started {
		m.startedProxy = true
	}
	return err
}

// Ready is immediate locally: EnsureLocalProxy returns with the proxy
// container started.
func (m *LocalManager) Ready(ctx context.Context, s session.Session) (bool, error) {
	return true, nil
}

// Address is what the workload's proxy environment points at.
func (m *LocalManager) Address(s session.Session) string {
	return ProxyAddress(false, s.Name, "")
}

// Network names the engine network the workload should join.
func (m *LocalManager) Network(s session.Session) string {
	if !s.Config.NetworkRestricted {
		return ""
	}
	return NetworkName
}

// Teardown is a no-op per session; the network and proxy are shared
// across sessions. StopOnExit stops the proxy; the network is left in
// place.
func (m *LocalManager) Teardown(ctx context.Context, s session.Session) error {
	return nil
}

// StopOnExit stops the shared proxy container if and only if this
// invocation started it. A proxy that was already running belongs to
// some earlier invocation's sessions and is left alone.
func (m *LocalManager) StopOnExit(ctx context.Context) error {
	if !m.startedProxy {
		return nil
	}
	m.startedProxy = false
	return StopLocalProxy(ctx, m.CLI)
}

// RemoteManager wires egress for the remote substrate: the per-session
// NetworkPolicy and proxy Deployment+Service.
type RemoteManager struct {
	Applier *Applier
}

func (m *RemoteManager) Ensure(ctx context.Context, s session.Session) error {
	return m.Applier.Ensure(ctx, s.Name, substrate.SessionLabels(s.Name), ProxyImage(s.ImageTag), s.Config.NetworkRestricted)
}

func (m *RemoteManager) Ready(ctx context.Context, s session.Session) (bool, error) {
	if !s.Config.NetworkRestricted {
		return true, nil
	}
	return m.Applier.ProxyReady(ctx, s.Name)
}

// Address is the per-session proxy Service's cluster DNS name.
func (m *RemoteManager) Address(s session.Session) string {
	return ProxyAddress(true, s.Name, m.Applier.Namespace)
}

// Network is meaningless on the remote substrate; confinement is the
// NetworkPolicy's job.
func (m *RemoteManager) Network(s session.Session) string { return "" }

func (m *RemoteManager) Teardown(ctx context.Context, s session.Session) error {
	return m.Applier.Delete(ctx, s.Name)
}
