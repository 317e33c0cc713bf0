package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/paude/paude/internal/controller"
	"github.com/paude/paude/internal/errkind"
)

func runStart(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	noSync := fs.Bool("no-sync", false, "skip the initial workspace push (remote sessions)")
	name, err := parseArgs(fs, args)
	if err != nil {
		return err
	}

	backends, _ := resolveBackends(ctx)
	target, err := resolveTarget(ctx, backends, name)
	if err != nil {
		return describeResolveFailure(err)
	}

	ctrl, err := buildController(target.Backend)
	if err != nil {
		return err
	}

	started, err := ctrl.Start(ctx, target.Session, controller.StartOptions{Sync: !*noSync})
	if err != nil {
		if errkind.Is(err, errkind.ObjectNotFound) {
			return fmt.Errorf("session %q not found", target.Session.Name)
		}
		return err
	}

	fmt.Printf("started session %q, attaching...\n", started.Name)
	return attach(ctx, ctrl, started)
}

func runStop(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stop", flag.ContinueOnError)
	doSync := fs.Bool("sync", false, "pull the workspace back before stopping (remote sessions)")
	name, err := parseArgs(fs, args)
	if err != nil {
		return err
	}

	backends, _ := resolveBackends(ctx)
	target, err := resolveTarget(ctx, backends, name)
	if err != nil {
		return describeResolveFailure(err)
	}

	ctrl, err := buildController(target.Backend)
	if err != nil {
		return err
	}
	if err := ctrl.Stop(ctx, target.Session, controller.StopOptions{Sync: *doSync}); err != nil {
		if errkind.Is(err, errkind.ObjectNotFound) {
			return fmt.Errorf("session %q not found", target.Session.Name)
		}
		return err
	}
	fmt.Printf("stopped session %q (volume preserved)\n", target.Session.Name)
	return nil
}

func runDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	confirm := fs.Bool("confirm", false, "required; deletion removes the session's volume")
	name, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("usage: paude delete NAME --confirm")
	}
	if !*confirm {
		return fmt.Errorf("delete removes the session's volume and cannot be undone; re-run with --confirm")
	}

	backends, _ := resolveBackends(ctx)
	target, err := resolveTarget(ctx, backends, name)
	if err != nil {
		return describeResolveFailure(err)
	}

	ctrl, err := buildController(target.Backend)
	if err != nil {
		return err
	}
	if err := ctrl.Delete(ctx, target.Session); err != nil {
		if errkind.Is(err, errkind.ObjectNotFound) {
			return fmt.Errorf("session %q not found", target.Session.Name)
		}
		return err
	}
	fmt.Printf("deleted session %q and its resources\n", target.Session.Name)
	return nil
}
