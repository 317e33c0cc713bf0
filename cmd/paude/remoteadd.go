package main

import (
	"context"
	"fmt"
	"os"

	"github.com/paude/paude/internal/gitremote"
	"github.com/paude/paude/internal/session"
	"github.com/paude/paude/internal/wsync"
)

// runRemoteAdd registers a git remote pointed at a session's workspace
// via the ext:: transport, so `git fetch` pulls directly from the running
// session without going through the sync engine.
func runRemoteAdd(ctx context.Context, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}

	backends, _ := resolveBackends(ctx)
	target, err := resolveTarget(ctx, backends, name)
	if err != nil {
		return describeResolveFailure(err)
	}

	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	if !gitremote.IsRepository(ctx, wd) {
		return fmt.Errorf("%s is not inside a git repository", wd)
	}

	var url string
	if target.Session.Backend == session.BackendRemote {
		url = gitremote.BuildClusterURL("kubectl", target.Session.ID+"-0",
			target.Session.Config.Namespace, target.Session.Config.Context, wsync.RemoteWorkspacePath)
	} else {
		url = gitremote.BuildPodmanURL(target.Session.ID, target.Session.Config.WorkspaceDir)
	}

	if err := gitremote.Add(ctx, wd, target.Session.Name, url); err != nil {
		return err
	}
	fmt.Printf("registered remote %s%s\n", gitremote.RemotePrefix, target.Session.Name)
	fmt.Printf("  git fetch %s%s\n", gitremote.RemotePrefix, target.Session.Name)
	return nil
}
