// Package local implements the substrate.Backend interface over a local
// rootless container engine (Docker or Podman's Docker-compatible socket).
//
// A session is a named container plus a named volume. The workspace is
// bind-mounted read-write at its original host path so pathname-based
// tools inside the session see the same paths the developer does; the
// named volume carries /pvc, the state that must outlive stop/start.
package local

import (
	"context"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/paude/paude/internal/errkind"
	"github.com/paude/paude/internal/session"
	"github.com/paude/paude/internal/substrate"
)

// PVCMountPath is where the session's persistent volume is mounted, the
// same path the remote substrate uses for its PVC.
const PVCMountPath = "/pvc"

// Backend wraps a docker client.Client and implements substrate.Backend.
type Backend struct {
	cli *dockerclient.Client
}

var _ substrate.Backend = (*Backend)(nil)

// New creates a Backend using the ambient engine environment
// (client.FromEnv with API version negotiation), so DOCKER_HOST and
// Podman's docker-compatible socket both work.
func New() (*Backend, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, errkind.New("local.New", errkind.NotInstalled, err)
	}
	return &Backend{cli: cli}, nil
}

// Raw exposes the underlying engine client for subsystems that talk to
// the engine directly (image pipeline, egress network and proxy setup).
func (b *Backend) Raw() *dockerclient.Client { return b.cli }

func (b *Backend) Name() session.Backend { return session.BackendLocal }

func (b *Backend) Ping(ctx context.Context) error {
	if _, err := b.cli.Ping(ctx); err != nil {
		return errkind.New("local.Ping", errkind.Unreachable, err)
	}
	return nil
}

// ContainerName and VolumeName fix the engine-object naming scheme. The
// volume name is derived from the session name, never from the container
// ID, so delete can find it even when the container is already gone.
func ContainerName(sessionName string) string { return "paude-" + sessionName }
func VolumeName(sessionName string) string    { return "paude-" + sessionName + "-workspace" }

// managedFilter scopes every list call to objects paude created.
func managedFilter() filters.Args {
	args := filters.NewArgs()
	args.Add("label", substrate.LabelManagedBy+"="+substrate.ManagedByValue)
	return args
}

func sessionLabels(s session.Session) map[string]string {
	labels := substrate.SessionLabels(s.Name)
	labels[substrate.AnnotationWorkspace] = session.EncodeWorkspace(s.Config.WorkspaceDir)
	labels[substrate.AnnotationCreatedAt] = session.FormatCreatedAt(s.CreatedAt)
	labels[substrate.AnnotationRestricted] = strconv.FormatBool(s.Config.NetworkRestricted)
	return labels
}

// Create materializes the session container in the created-but-not-started
// state, with the named workspace volume, the workspace bind mount at its
// host path, and read-only credential bind mounts. The confining egress
// network and proxy environment are already resolved onto spec.Session by
// the controller.
func (b *Backend) Create(ctx context.Context, spec substrate.CreateSpec) (string, error) {
	s := spec.Session

	volName := VolumeName(s.Name)
	if _, err := b.cli.VolumeCreate(ctx, volume.CreateOptions{
		Name:   volName,
		Labels: sessionLabels(s),
	}); err != nil {
		return "", errkind.New("local.Create", errkind.Unknown, err)
	}

	mounts := []mount.Mount{
		{
			Type:   mount.TypeBind,
			Source: s.Config.WorkspaceDir,
			Target: s.Config.WorkspaceDir,
		},
		{
			Type:   mount.TypeVolume,
			Source: volName,
			Target: PVCMountPath,
		},
	}
	creds := make([]string, 0, len(s.Config.Credentials.Allowlist))
	for src := range s.Config.Credentials.Allowlist {
		creds = append(creds, src)
	}
	sort.Strings(creds)
	for _, src := range creds {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   src,
			Target:   s.Config.Credentials.Allowlist[src],
			ReadOnly: true,
		})
	}

	workdir := s.Config.Workdir
	if workdir == "" {
		workdir = s.Config.WorkspaceDir
	}

	hostConfig := &container.HostConfig{Mounts: mounts}
	applyTier(hostConfig, TierModerate)

	var netConfig *network.NetworkingConfig
	if spec.Network != "" {
		netConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {},
			},
		}
	}

	resp, err := b.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      s.ImageTag,
			Labels:     sessionLabels(s),
			Tty:        true,
			Env:        buildEnv(s),
			WorkingDir: workdir,
		},
		hostConfig,
		netConfig, nil, ContainerName(s.Name),
	)
	if err != nil {
		if isConflict(err) {
			return "", errkind.New("local.Create", errkind.ObjectExists, err)
		}
		return "", errkind.New("local.Create", errkind.Unknown, err)
	}
	return resp.ID, nil
}

func isConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already in use")
}

// buildEnv renders the environment contract the session entrypoint reads:
// the serialized assistant args, the workspace path, the credential
// watchdog window, the proxy variables when egress is restricted, and any
// user-supplied extras.
func buildEnv(s session.Session) []string {
	env := []string{
		"PAUDE_SESSION_NAME=" + s.Name,
		"PAUDE_BACKEND=local",
		"PAUDE_WORKSPACE=" + s.Config.WorkspaceDir,
		"PAUDE_CLAUDE_ARGS=" + strings.Join(s.Config.ClaudeArgs(), " "),
	}
	if s.Config.CredentialTimeoutMinutes > 0 {
		env = append(env,
			"PAUDE_CREDENTIAL_TIMEOUT="+strconv.Itoa(s.Config.CredentialTimeoutMinutes),
			"PAUDE_CREDENTIAL_WATCHDOG=1",
		)
	}
	if s.Config.NetworkRestricted && s.Config.Egress.Listen != "" {
		proxyURL := "http://" + s.Config.Egress.Listen
		env = append(env,
			"HTTP_PROXY="+proxyURL,
			"HTTPS_PROXY="+proxyURL,
			"http_proxy="+proxyURL,
			"https_proxy="+proxyURL,
		)
	}
	extras := make([]string, 0, len(s.Config.Env))
	for k, v := range s.Config.Env {
		extras = append(extras, k+"="+v)
	}
	sort.Strings(extras)
	return append(env, extras...)
}

func (b *Backend) Start(ctx context.Context, id string) error {
	if err := b.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return errkind.New("local.Start", errkind.ObjectNotFound, err)
		}
		return errkind.New("local.Start", errkind.Unknown, err)
	}
	return nil
}

func (b *Backend) Stop(ctx context.Context, id string) error {
	timeout := 10
	if err := b.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return errkind.New("local.Stop", errkind.ObjectNotFound, err)
		}
		return errkind.New("local.Stop", errkind.Unknown, err)
	}
	return nil
}

// Delete removes the container and then the workspace volume. The volume
// can only be removed once the container releases it, so ordering matters.
// A missing container still proceeds to volume cleanup; only both being
// absent reports ObjectNotFound.
func (b *Backend) Delete(ctx context.Context, id string) error {
	name := ""
	if info, err := b.cli.ContainerInspect(ctx, id); err == nil {
		name = info.Config.Labels[substrate.LabelSession]
	}

	containerMissing := false
	if err := b.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if !dockerclient.IsErrNotFound(err) {
			return errkind.New("local.Delete", errkind.Unknown, err)
		}
		containerMissing = true
	}

	if name == "" {
		// Container already gone; id may itself be the session name or the
		// conventional container name.
		name = strings.TrimPrefix(id, "paude-")
	}
	volumeMissing := false
	if err := b.cli.VolumeRemove(ctx, VolumeName(name), true); err != nil {
		if !dockerclient.IsErrNotFound(err) {
			return errkind.New("local.Delete", errkind.Transient, err)
		}
		volumeMissing = true
	}

	if containerMissing && volumeMissing {
		return errkind.Newf("local.Delete", errkind.ObjectNotFound, "session %s not found", id)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, id string) (session.Session, error) {
	info, err := b.cli.ContainerInspect(ctx, id)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return session.Session{}, errkind.New("local.Get", errkind.ObjectNotFound, err)
		}
		return session.Session{}, errkind.New("local.Get", errkind.Unknown, err)
	}
	return inspectToSession(info), nil
}

func (b *Backend) List(ctx context.Context) ([]session.Session, error) {
	containers, err := b.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: managedFilter(),
	})
	if err != nil {
		return nil, errkind.New("local.List", errkind.Unknown, err)
	}
	var sessions []session.Session
	for _, c := range containers {
		if c.Labels[substrate.LabelComponent] == substrate.ComponentProxy {
			continue // the shared proxy container is not a session
		}
		sessions = append(sessions, summaryToSession(c))
	}
	return sessions, nil
}

// Exec runs a command inside the session container, demultiplexing the
// combined stdout/stderr stream for non-TTY execs and resizing the TTY as
// window-size updates arrive. A nonzero exit is reported as
// *substrate.ExitError after the stream drains.
func (b *Backend) Exec(ctx context.Context, id string, opts substrate.ExecOptions, streams substrate.ExecStreams) error {
	execCfg := container.ExecOptions{
		Cmd:          opts.Command,
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  opts.Stdin,
		Tty:          opts.TTY,
	}
	execID, err := b.cli.ContainerExecCreate(ctx, id, execCfg)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return errkind.New("local.Exec", errkind.ObjectNotFound, err)
		}
		return errkind.New("local.Exec", errkind.Unknown, err)
	}

	attach, err := b.cli.ContainerExecAttach(ctx, execID.ID, container.ExecStartOptions{Tty: opts.TTY})
	if err != nil {
		return errkind.New("local.Exec", errkind.Unknown, err)
	}
	defer attach.Close()

	if streams.Resize != nil {
		go func() {
			for size := range streams.Resize {
				_ = b.cli.ContainerExecResize(ctx, execID.ID, container.ResizeOptions{
					Height: uint(size.Height),
					Width:  uint(size.Width),
				})
			}
		}()
	}

	if opts.Stdin && streams.Stdin != nil {
		go func() {
			_, _ = io.Copy(attach.Conn, streams.Stdin)
			_ = attach.CloseWrite()
		}()
	}

	var stdout, stderr io.Writer = io.Discard, io.Discard
	if streams.Stdout != nil {
		stdout = streams.Stdout
	}
	if streams.Stderr != nil {
		stderr = streams.Stderr
	}

	if opts.TTY {
		_, err = io.Copy(stdout, attach.Reader)
	} else {
		_, err = stdcopy.StdCopy(stdout, stderr, attach.Reader)
	}
	if err != nil && err != io.EOF {
		return errkind.New("local.Exec", errkind.Unknown, err)
	}

	inspect, err := b.cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return errkind.New("local.Exec", errkind.Unknown, err)
	}
	if inspect.ExitCode != 0 {
		return &substrate.ExitError{Code: inspect.ExitCode}
	}
	return nil
}
