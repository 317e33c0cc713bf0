package egress

import (
	"context"
	"log"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"

	"github.com/paude/paude/internal/errkind"
	"github.com/paude/paude/internal/substrate"
)

// NetworkName is the dedicated internal bridge network every restricted
// session container joins instead of the default bridge. It is shared
// across sessions and invocations; creation is idempotent and nothing
// removes it automatically.
const NetworkName = "paude-internal"

// EnsureNetwork creates the internal egress network if it doesn't already
// exist. Internal means the engine gives it no route out, so the only
// path to the outside is a container that is also attached to the default
// network — the proxy.
func EnsureNetwork(ctx context.Context, cli *dockerclient.Client) error {
	_, err := cli.NetworkInspect(ctx, NetworkName, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if !dockerclient.IsErrNotFound(err) {
		return errkind.New("egress.EnsureNetwork", errkind.Unknown, err)
	}
	_, err = cli.NetworkCreate(ctx, NetworkName, network.CreateOptions{
		Internal: true,
		Labels: map[string]string{
			substrate.LabelManagedBy: substrate.ManagedByValue,
		},
	})
	if err != nil {
		return errkind.New("egress.EnsureNetwork", errkind.Unknown, err)
	}
	return nil
}

// EnsureLocalProxy makes sure the shared proxy container exists and is
// running, attached to both the internal network (where sessions reach
// it) and the default bridge (its way out). An existing stopped proxy is
// restarted; an existing running one is reused as-is. The returned bool
// reports whether THIS call started the proxy, so the caller knows to
// stop it again at process exit.
func EnsureLocalProxy(ctx context.Context, cli *dockerclient.Client, proxyImage string) (bool, error) {
	if err := EnsureNetwork(ctx, cli); err != nil {
		return false, err
	}

	info, err := cli.ContainerInspect(ctx, LocalProxyName)
	if err == nil {
		if info.State.Running {
			return false, nil
		}
		if err := cli.ContainerStart(ctx, LocalProxyName, container.StartOptions{}); err != nil {
			return false, errkind.New("egress.EnsureLocalProxy", errkind.Unknown, err)
		}
		return true, nil
	}
	if !dockerclient.IsErrNotFound(err) {
		return false, errkind.New("egress.EnsureLocalProxy", errkind.Unknown, err)
	}

	resp, err := cli.ContainerCreate(ctx,
		&container.Config{
			Image: proxyImage,
			Labels: map[string]string{
				substrate.LabelManagedBy: substrate.ManagedByValue,
				substrate.LabelComponent: substrate.ComponentProxy,
			},
		},
		&container.HostConfig{
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		},
		&network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				NetworkName: {},
			},
		},
		nil, LocalProxyName,
	)
	if err != nil {
		return false, errkind.New("egress.EnsureLocalProxy", errkind.Unknown, err)
	}

	// The create call attaches only the internal network; the default
	// bridge is joined afterwards so the proxy has a route out.
	if err := cli.NetworkConnect(ctx, "bridge", resp.ID, nil); err != nil {
		log.Printf("[egress] attach proxy to default network: %v", err)
	}

	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return false, errkind.New("egress.EnsureLocalProxy", errkind.Unknown, err)
	}
	return true, nil
}

// StopLocalProxy stops (but does not remove) the shared proxy container.
// The container itself is kept so the next invocation restarts it instead
// of rebuilding.
func StopLocalProxy(ctx context.Context, cli *dockerclient.Client) error {
	timeout := 5
	err := cli.ContainerStop(ctx, LocalProxyName, container.StopOptions{Timeout: &timeout})
	if err != nil && !dockerclient.IsErrNotFound(err) {
		return errkind.New("egress.StopLocalProxy", errkind.Transient, err)
	}
	return nil
}
