package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/paude/paude/internal/clitui"
	"github.com/paude/paude/internal/controller"
	"github.com/paude/paude/internal/errkind"
	"github.com/paude/paude/internal/session"
)

func runCreate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	backendFlag := fs.String("backend", "local", "substrate to create the session on: local or remote")
	yolo := fs.Bool("yolo", false, "run the assistant with --dangerously-skip-permissions")
	allowNetwork := fs.Bool("allow-network", false, "skip egress restriction entirely")
	pvcSize := fs.String("pvc-size", "", "remote workspace volume size, e.g. 50Gi")
	storageClass := fs.String("storage-class", "", "remote workspace volume storage class")
	credTimeout := fs.Int("credential-timeout", 240, "credential watchdog window in minutes; 0 disables")
	rebuild := fs.Bool("rebuild", false, "rebuild the session image even on a cache hit")
	name, err := parseArgs(fs, args)
	if err != nil {
		return err
	}

	backendKind, berr := parseBackend(*backendFlag)
	if berr != nil {
		return berr
	}

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	backends, probes := resolveBackends(ctx)
	be := backendFor(backends, backendKind)
	if be == nil {
		return probes.explain(backendKind)
	}

	ctrl, err := buildController(be)
	if err != nil {
		return err
	}

	cfg := session.SessionConfig{
		Name:         name,
		WorkspaceDir: wd,
		Backend:      backendKind,
		Build:        buildInputs(wd),
		NetworkRestricted:        !*allowNetwork,
		Yolo:                     *yolo,
		CredentialTimeoutMinutes: *credTimeout,
		PVCSize:                  *pvcSize,
		StorageClass:             *storageClass,
	}

	var created session.Session
	var createErr error
	label := fmt.Sprintf("creating session on %s backend", backendKind)
	prog := clitui.NewProgressModel(label, func() error {
		created, createErr = ctrl.Create(ctx, cfg, controller.CreateOptions{Rebuild: *rebuild})
		return createErr
	})
	if _, err := tea.NewProgram(prog).Run(); err != nil {
		return fmt.Errorf("run create progress view: %w", err)
	}
	if createErr != nil {
		if errkind.Is(createErr, errkind.ObjectExists) {
			return fmt.Errorf("%w\na session with this name already exists; `paude start` resumes it, `paude delete --confirm` removes it", createErr)
		}
		return createErr
	}

	fmt.Printf("created session %q on %s backend (image %s)\n", created.Name, created.Backend, created.ImageTag)
	fmt.Printf("run `paude start %s` to start it\n", created.Name)

	if dir, err := session.AppStateDir(); err == nil {
		if st, err := session.LoadAppState(dir); err == nil {
			st.LastBackend = backendKind
			if err := session.SaveAppState(dir, st); err != nil {
				log.Printf("[create] save app state: %v", err)
			}
		}
	}
	return nil
}

func parseBackend(s string) (session.Backend, error) {
	switch s {
	case "local", "":
		return session.BackendLocal, nil
	case "remote":
		return session.BackendRemote, nil
	}
	return "", fmt.Errorf("unknown backend %q (expected local or remote)", s)
}
