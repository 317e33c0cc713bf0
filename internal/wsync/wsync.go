// Package wsync implements Workspace Sync (C7). The local substrate needs
// none of it — the workspace is a bind mount — so everything here serves
// the remote substrate, where the workspace lives on the session's PVC
// and is replicated with rsync tunneled through the cluster's exec
// channel.
//
// rsync never sees SSH: its "-e" remote-shell hook points at the paude
// binary's hidden exec-helper verb, which execs `rsync --server` inside
// the pod and splices stdin/stdout, so both rsync ends see an ordinary
// remote-shell pipe.
package wsync

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"

	"github.com/paude/paude/internal/session"
)

// Direction selects which way a sync pass moves files.
type Direction string

const (
	DirectionRemote Direction = "remote" // push: local -> pod
	DirectionLocal  Direction = "local"  // pull: pod -> local
	DirectionBoth   Direction = "both"   // push, then pull
)

// ParseDirection validates a user-supplied direction string.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionRemote, DirectionLocal, DirectionBoth:
		return Direction(s), nil
	}
	return "", fmt.Errorf("unknown sync direction %q (expected remote, local, or both)", s)
}

// RemoteWorkspacePath is where the workspace tree lives on the session's
// persistent volume.
const RemoteWorkspacePath = "/pvc/workspace"

// DefaultExcludes are never synced in either direction. Virtual
// environments and dependency trees are machine-local and enormous; .git
// is deliberately NOT excluded so the assistant can read and write
// history.
var DefaultExcludes = []string{
	".venv", "venv", ".virtualenv", "env", ".env", "__pycache__", "*.pyc", "node_modules",
}

// Endpoint identifies the pod side of a sync.
type Endpoint struct {
	ExecHelperPath string // path to the paude binary, invoked as the rsync remote shell
	PodName        string
	Namespace      string
	LocalPath      string // absolute host workspace path
	RemotePath     string // workspace path on the PVC; RemoteWorkspacePath when empty
}

// remoteHost is a placeholder token in rsync's remote-path position; the
// actual pod routing rides on the -e command's own arguments, but rsync
// needs something before the colon to treat the path as remote.
const remoteHost = "paude-session"

// CheckInstalled verifies rsync is available on the host.
func CheckInstalled(ctx context.Context) error {
	return exec.CommandContext(ctx, "rsync", "--version").Run()
}

// Run performs one sync pass in the given direction. Both runs push
// first, then pull, so the pod sees the host's newest files before the
// host collects the pod's.
func Run(ctx context.Context, ep Endpoint, dir Direction) error {
	switch dir {
	case DirectionRemote:
		return push(ctx, ep)
	case DirectionLocal:
		return pull(ctx, ep)
	case DirectionBoth:
		if err := push(ctx, ep); err != nil {
			return err
		}
		return pull(ctx, ep)
	}
	return fmt.Errorf("unknown sync direction %q", dir)
}

func (ep Endpoint) remotePath() string {
	if ep.RemotePath != "" {
		return ep.RemotePath
	}
	return RemoteWorkspacePath
}

func push(ctx context.Context, ep Endpoint) error {
	return run(ctx, ep, ep.LocalPath+"/", remoteHost+":"+ep.remotePath()+"/")
}

func pull(ctx context.Context, ep Endpoint) error {
	return run(ctx, ep, remoteHost+":"+ep.remotePath()+"/", ep.LocalPath+"/")
}

// args builds the rsync argv: archive mode minus permissions (container
// and host UIDs differ), deletions propagated, the fixed exclude list,
// and the exec-helper remote shell.
func args(ep Endpoint, src, dst string) []string {
	argv := []string{"-az", "--delete", "--no-perms"}
	for _, ex := range DefaultExcludes {
		argv = append(argv, "--exclude", ex)
	}
	rsh := fmt.Sprintf("%s exec-helper %s %s", ep.ExecHelperPath, ep.PodName, ep.Namespace)
	argv = append(argv, "-e", rsh, src, dst)
	return argv
}

func run(ctx context.Context, ep Endpoint, src, dst string) error {
	argv := args(ep, src, dst)
	log.Printf("[wsync] rsync %s", strings.Join(argv, " "))
	cmd := exec.CommandContext(ctx, "rsync", argv...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("rsync %s -> %s: %w: %s", src, dst, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// SessionSyncer adapts Run to the controller's Syncer interface for one
// resolved session.
type SessionSyncer struct {
	ExecHelperPath string
	Namespace      string
}

func (y *SessionSyncer) endpoint(s session.Session) Endpoint {
	ns := s.Config.Namespace
	if ns == "" {
		ns = y.Namespace
	}
	return Endpoint{
		ExecHelperPath: y.ExecHelperPath,
		PodName:        s.ID + "-0",
		Namespace:      ns,
		LocalPath:      s.Config.WorkspaceDir,
	}
}

func (y *SessionSyncer) Push(ctx context.Context, s session.Session) error {
	return Run(ctx, y.endpoint(s), DirectionRemote)
}

func (y *SessionSyncer) Pull(ctx context.Context, s session.Session) error {
	return Run(ctx, y.endpoint(s), DirectionLocal)
}
