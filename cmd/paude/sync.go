package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/paude/paude/internal/session"
	"github.com/paude/paude/internal/wsync"
)

// runSync drives a one-shot rsync-over-exec pass against a remote
// session's workspace. Local sessions need no sync — their workspace is a
// bind mount — so sync against one reports that and succeeds.
func runSync(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	var direction string
	fs.StringVar(&direction, "direction", "both", "sync direction: remote (push), local (pull), or both")
	fs.StringVar(&direction, "d", "both", "shorthand for -direction")
	name, err := parseArgs(fs, args)
	if err != nil {
		return err
	}

	dir, err := wsync.ParseDirection(direction)
	if err != nil {
		return err
	}

	backends, _ := resolveBackends(ctx)
	target, err := resolveTarget(ctx, backends, name)
	if err != nil {
		return describeResolveFailure(err)
	}

	if target.Session.Backend != session.BackendRemote {
		fmt.Printf("session %q is local; its workspace is already shared via bind mount\n", target.Session.Name)
		return nil
	}
	if err := wsync.CheckInstalled(ctx); err != nil {
		return fmt.Errorf("rsync is required for remote workspace sync: %w", err)
	}

	helper, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve paude executable path: %w", err)
	}

	ep := wsync.Endpoint{
		ExecHelperPath: helper,
		PodName:        target.Session.ID + "-0",
		Namespace:      target.Session.Config.Namespace,
		LocalPath:      target.Session.Config.WorkspaceDir,
	}
	if err := wsync.Run(ctx, ep, dir); err != nil {
		return err
	}
	fmt.Printf("synced session %q (%s)\n", target.Session.Name, dir)
	return nil
}
