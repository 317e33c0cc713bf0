package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	dockerclient "github.com/docker/docker/client"

	"github.com/paude/paude/internal/controller"
	"github.com/paude/paude/internal/credentials"
	"github.com/paude/paude/internal/discovery"
	"github.com/paude/paude/internal/egress"
	"github.com/paude/paude/internal/errkind"
	"github.com/paude/paude/internal/image"
	"github.com/paude/paude/internal/session"
	"github.com/paude/paude/internal/substrate"
	"github.com/paude/paude/internal/substrate/local"
	"github.com/paude/paude/internal/substrate/remote"
	"github.com/paude/paude/internal/wsync"
)

const paudeVersion = "0.4.0"

func defaultBaseImage() string {
	return "debian:bookworm-slim"
}

// buildInputs assembles the image build inputs for a workspace. The
// embedded Dockerfile and entrypoint are the normal path; PAUDE_DEV=1
// overrides them from a sibling containers/ directory so image changes
// can be iterated on without recompiling.
func buildInputs(workspaceDir string) session.BuildInputs {
	in := session.BuildInputs{
		BaseImage:     defaultBaseImage(),
		DockerfileTxt: image.DefaultDockerfile,
		EntrypointTxt: image.DefaultEntrypoint,
		Version:       paudeVersion,
	}
	if os.Getenv("PAUDE_DEV") != "1" {
		return in
	}
	devDir := filepath.Join(workspaceDir, "containers", "session")
	if data, err := os.ReadFile(filepath.Join(devDir, "Dockerfile")); err == nil {
		log.Printf("[setup] PAUDE_DEV: using %s", filepath.Join(devDir, "Dockerfile"))
		in.DockerfileTxt = string(data)
	}
	if data, err := os.ReadFile(filepath.Join(devDir, "entrypoint.sh")); err == nil {
		in.EntrypointTxt = string(data)
	}
	return in
}

// defaultImageRepo honors PAUDE_REGISTRY as a pull/push prefix; the bare
// name builds locally only.
func defaultImageRepo() string {
	if reg := os.Getenv("PAUDE_REGISTRY"); reg != "" {
		return reg + "/paude-claude-" + runtime.GOARCH
	}
	return "paude-session"
}

// probeTimeout bounds each substrate Ping; anything non-interactive the
// commands run directly is capped the same way.
const probeTimeout = 30 * time.Second

// probeErrors keeps the classified failure each substrate probe ended
// with, so a command that explicitly asked for that substrate can render
// the real cause (and its remediation hint) instead of a bare "not
// available".
type probeErrors struct {
	local  error
	remote error
}

// explain turns the probe failure for the requested substrate into the
// user-facing error: the classified cause, plus a remediation hint for
// the kinds that have an obvious next step.
func (p probeErrors) explain(kind session.Backend) error {
	err := p.local
	if kind == session.BackendRemote {
		err = p.remote
	}
	if err == nil {
		return fmt.Errorf("no %s backend available", kind)
	}
	switch {
	case errkind.Is(err, errkind.NamespaceMissing):
		return fmt.Errorf("%w\nthe target namespace does not exist; create it, or set PAUDE_NAMESPACE to an existing one", err)
	case errkind.Is(err, errkind.NotAuthenticated):
		return fmt.Errorf("%w\nlog in to the cluster (kubectl/oc login) and retry", err)
	case errkind.Is(err, errkind.NotInstalled):
		return fmt.Errorf("%w\ninstall and start the container engine (docker or podman) and retry", err)
	case errkind.Is(err, errkind.Unreachable):
		return fmt.Errorf("%w\nthe %s substrate did not answer; check that it is running and reachable", err, kind)
	}
	return err
}

// resolveBackends probes both substrates concurrently, tolerating either
// being unavailable (no engine socket, no kubeconfig) rather than failing
// outright. A backend that exists but doesn't answer Ping within the
// probe timeout is dropped from discovery; its classified probe error is
// kept so commands that named that substrate can explain the failure.
func resolveBackends(ctx context.Context) (discovery.Backends, probeErrors) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var backends discovery.Backends
	var probes probeErrors
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		lb, err := local.New()
		if err != nil {
			log.Printf("[setup] local engine unavailable: %v", err)
			probes.local = err
			return
		}
		if err := lb.Ping(probeCtx); err != nil {
			log.Printf("[setup] local engine unreachable: %v", err)
			probes.local = err
			return
		}
		backends.Local = lb
	}()
	go func() {
		defer wg.Done()
		rb, err := remote.New(os.Getenv("KUBECONFIG"), os.Getenv("PAUDE_KUBE_CONTEXT"), os.Getenv("PAUDE_NAMESPACE"))
		if err != nil {
			log.Printf("[setup] remote cluster unavailable: %v", err)
			probes.remote = err
			return
		}
		if err := rb.Ping(probeCtx); err != nil {
			log.Printf("[setup] remote cluster unreachable: %v", err)
			probes.remote = err
			return
		}
		backends.Remote = rb
	}()
	wg.Wait()

	return backends, probes
}

func backendFor(backends discovery.Backends, kind session.Backend) substrate.Backend {
	switch kind {
	case session.BackendRemote:
		return backends.Remote
	default:
		return backends.Local
	}
}

// localEgressManagers collects the LocalManagers this invocation wired,
// so run() can stop the shared proxy at process exit when an Ensure here
// is what started it.
var (
	localEgressMu       sync.Mutex
	localEgressManagers []*egress.LocalManager
)

func trackLocalEgress(m *egress.LocalManager) {
	localEgressMu.Lock()
	defer localEgressMu.Unlock()
	localEgressManagers = append(localEgressManagers, m)
}

// stopStartedLocalProxy runs last thing before the process exits: the
// local proxy is a resource of the current invocation, so when this
// invocation started it, this stops it again. Persistent session objects
// are never touched here. A fresh context is used because the main one
// is already cancelled on the signal path.
func stopStartedLocalProxy() {
	localEgressMu.Lock()
	managers := localEgressManagers
	localEgressManagers = nil
	localEgressMu.Unlock()

	if len(managers) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, m := range managers {
		if err := m.StopOnExit(ctx); err != nil {
			log.Printf("[setup] stop local proxy: %v", err)
		}
	}
}

// buildController assembles the controller for one resolved backend,
// wiring the substrate-appropriate image, credential, egress, and sync
// implementations.
func buildController(be substrate.Backend) (*controller.Controller, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	c := &controller.Controller{Backend: be}

	switch b := be.(type) {
	case *local.Backend:
		pipeline := image.NewPipeline(b.Raw())
		c.Images = &image.LocalMaterializer{Pipeline: pipeline, Repo: defaultImageRepo()}
		c.Creds = &credentials.LocalProjector{Home: home}
		lm := &egress.LocalManager{CLI: b.Raw()}
		c.Egress = lm
		trackLocalEgress(lm)

	case *remote.Backend:
		// Remote builds still happen on the local engine; only delivery
		// differs. A missing local engine surfaces when a build is needed,
		// not before.
		engine, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
		if err != nil {
			return nil, err
		}
		pipeline := image.NewPipeline(engine)
		deliveryCfg := image.DefaultDeliveryConfig()
		deliveryCfg.ExternalRegistry = os.Getenv("PAUDE_REGISTRY")
		c.Images = &image.RemoteMaterializer{
			Local: &image.LocalMaterializer{Pipeline: pipeline, Repo: defaultImageRepo()},
			Deliverer: &image.Deliverer{
				Pipeline:   pipeline,
				Clientset:  b.Clientset,
				RESTConfig: b.RESTConfig,
				Namespace:  b.Namespace,
				Config:     deliveryCfg,
			},
		}
		c.Creds = &credentials.ClusterProjector{
			Home:   home,
			Remote: &credentials.RemoteProjector{Client: b.Client, Namespace: b.Namespace},
		}
		c.Egress = &egress.RemoteManager{
			Applier: &egress.Applier{Client: b.Client, Namespace: b.Namespace},
		}
		if helper, err := os.Executable(); err == nil {
			c.Sync = &wsync.SessionSyncer{ExecHelperPath: helper, Namespace: b.Namespace}
		}
	}
	return c, nil
}

func resolveTarget(ctx context.Context, backends discovery.Backends, name string) (discovery.Pair, error) {
	wd, _ := os.Getwd()
	return discovery.Resolve(ctx, backends, name, wd)
}
