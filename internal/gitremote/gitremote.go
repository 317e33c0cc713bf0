// Package gitremote registers git remotes that use the `ext::` transport
// to fetch directly against a session's workspace, without going through
// the workspace sync engine. git runs the configured command and speaks
// its pack protocol over the child's stdin/stdout, which an `exec -i`
// into the session provides for free.
package gitremote

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// RemotePrefix namespaces every remote paude registers, so list/remove
// operations can find them without touching the developer's own remotes.
const RemotePrefix = "paude-"

// BuildPodmanURL returns the ext:: URL for a local container session:
// `ext::podman exec -i <container> %S <workspace_path>`. %S is git's own
// placeholder, substituted with the git subcommand (upload-pack etc.) at
// fetch time.
func BuildPodmanURL(containerName, workspacePath string) string {
	return fmt.Sprintf("ext::podman exec -i %s %%S %s", containerName, workspacePath)
}

// BuildClusterURL returns the ext:: URL for a remote session, using the
// cluster CLI named by cli (`oc`, `kubectl`, ...) as given; it does not
// probe which CLI is installed: `ext::<cli> [--context <ctx>] exec -i <pod> -n <ns> -- %S
// <workspace_path>`.
func BuildClusterURL(cli, podName, namespace, kubeContext, workspacePath string) string {
	if kubeContext != "" {
		return fmt.Sprintf("ext::%s --context %s exec -i %s -n %s -- %%S %s", cli, kubeContext, podName, namespace, workspacePath)
	}
	return fmt.Sprintf("ext::%s exec -i %s -n %s -- %%S %s", cli, podName, namespace, workspacePath)
}

// IsRepository reports whether dir is inside a git working tree.
func IsRepository(ctx context.Context, dir string) bool {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "--is-inside-work-tree")
	return cmd.Run() == nil
}

// IsExtProtocolAllowed checks git's protocol.ext.allow configuration.
func IsExtProtocolAllowed(ctx context.Context, dir string) bool {
	out, err := exec.CommandContext(ctx, "git", "-C", dir, "config", "--get", "protocol.ext.allow").CombinedOutput()
	if err != nil {
		return false
	}
	v := strings.TrimSpace(string(out))
	return v == "always" || v == "user"
}

// EnableExtProtocol sets protocol.ext.allow=always for the repository;
// git refuses ext:: remotes without it.
func EnableExtProtocol(ctx context.Context, dir string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "config", "protocol.ext.allow", "always")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("enable ext protocol: %w: %s", err, out)
	}
	return nil
}

// Add registers a remote named RemotePrefix+sessionName pointed at url,
// enabling the ext:: protocol first when the repository hasn't already.
func Add(ctx context.Context, dir, sessionName, url string) error {
	if !IsExtProtocolAllowed(ctx, dir) {
		if err := EnableExtProtocol(ctx, dir); err != nil {
			return err
		}
	}
	name := RemotePrefix + sessionName
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "remote", "add", name, url)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("add remote %s: %w: %s", name, err, out)
	}
	return nil
}

// Remove deletes the remote for sessionName. Absent remotes are not an
// error; a prior delete may already have cleaned them up.
func Remove(ctx context.Context, dir, sessionName string) error {
	name := RemotePrefix + sessionName
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "remote", "remove", name)
	out, err := cmd.CombinedOutput()
	if err != nil && !strings.Contains(string(out), "No such remote") {
		return fmt.Errorf("remove remote %s: %w: %s", name, err, out)
	}
	return nil
}

// List returns every paude-managed remote name registered in dir.
func List(ctx context.Context, dir string) ([]string, error) {
	out, err := exec.CommandContext(ctx, "git", "-C", dir, "remote").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("list remotes: %w: %s", err, out)
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, RemotePrefix) {
			names = append(names, line)
		}
	}
	return names, nil
}
