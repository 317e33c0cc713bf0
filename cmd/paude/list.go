package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/paude/paude/internal/clitui"
	"github.com/paude/paude/internal/discovery"
	"github.com/paude/paude/internal/session"
)

func runList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	backendFlag := fs.String("backend", "", "limit the listing to one substrate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	backends, _ := resolveBackends(ctx)
	if *backendFlag != "" {
		kind, err := parseBackend(*backendFlag)
		if err != nil {
			return err
		}
		if kind == session.BackendLocal {
			backends.Remote = nil
		} else {
			backends.Local = nil
		}
	}

	pairs, err := discovery.ListAll(ctx, backends)
	if err != nil {
		return err
	}

	sessions := make([]session.Session, 0, len(pairs))
	for _, p := range pairs {
		sessions = append(sessions, p.Session)
	}
	fmt.Print(clitui.RenderSessionTable(sessions))
	return nil
}

// runDefault handles a bare `paude`: show this directory's sessions with
// a hint at the next step, or point at create when there are none.
func runDefault(ctx context.Context) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}

	if dir, err := session.AppStateDir(); err == nil {
		if st, err := session.LoadAppState(dir); err == nil && !st.IntroductionShown {
			fmt.Println("paude runs an AI coding assistant in an isolated, network-restricted container.")
			fmt.Println()
			if err := session.MarkIntroductionShown(dir); err != nil {
				log.Printf("[list] mark introduction shown: %v", err)
			}
		}
	}

	backends, _ := resolveBackends(ctx)
	pairs, err := discovery.ListAll(ctx, backends)
	if err != nil {
		return err
	}

	var here []session.Session
	for _, p := range pairs {
		if p.Session.Config.WorkspaceDir != "" && sameDir(p.Session.Config.WorkspaceDir, wd) {
			here = append(here, p.Session)
		}
	}

	if len(here) == 0 {
		fmt.Printf("no sessions for %s\n", wd)
		fmt.Println("  paude create          create one bound to this directory")
		if len(pairs) > 0 {
			fmt.Printf("  paude list            see all %d sessions\n", len(pairs))
		}
		return nil
	}

	fmt.Print(clitui.RenderSessionTable(here))
	for _, s := range here {
		switch s.Phase {
		case session.PhaseRunning:
			fmt.Printf("  paude connect %s      attach\n", s.Name)
		case session.PhaseStopped:
			fmt.Printf("  paude start %s        resume\n", s.Name)
		}
	}
	return nil
}

func sameDir(a, b string) bool {
	ra, err := filepath.EvalSymlinks(a)
	if err != nil {
		ra = a
	}
	rb, err := filepath.EvalSymlinks(b)
	if err != nil {
		rb = b
	}
	return ra == rb
}
