package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/paude/paude/internal/controller"
	"github.com/paude/paude/internal/discovery"
	"github.com/paude/paude/internal/session"
	"github.com/paude/paude/internal/substrate"
)

func runConnect(ctx context.Context, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}

	backends, _ := resolveBackends(ctx)
	target, err := resolveTarget(ctx, backends, name)
	if err != nil {
		return describeResolveFailure(err)
	}
	if target.Session.Legacy {
		return fmt.Errorf("session %q is a legacy ephemeral pod; it supports list and delete only", target.Session.Name)
	}
	if target.Session.Phase != session.PhaseRunning {
		return fmt.Errorf("session %q is %s; `paude start %s` starts it", target.Session.Name, target.Session.Phase, target.Session.Name)
	}

	fmt.Printf("Connecting to %q (%s)...\n", target.Session.Name, target.Session.Backend)

	ctrl, err := buildController(target.Backend)
	if err != nil {
		return err
	}
	return attach(ctx, ctrl, target.Session)
}

// attach opens the interactive terminal into the session: raw mode on the
// caller's terminal, window-size changes forwarded, and a terminal reset
// on the way out so a crashed full-screen program doesn't leave the
// user's shell garbled. The session's exit code passes through as
// *substrate.ExitError.
func attach(ctx context.Context, ctrl *controller.Controller, s session.Session) error {
	stdinFd := int(os.Stdin.Fd())

	var restore func()
	resize := make(chan substrate.TerminalSize, 1)
	if term.IsTerminal(stdinFd) {
		oldState, err := term.MakeRaw(stdinFd)
		if err != nil {
			return fmt.Errorf("set raw terminal mode: %w", err)
		}
		restore = func() {
			_ = term.Restore(stdinFd, oldState)
			// Reset scroll region and cursor visibility; tmux inside the
			// session may have repainted the whole screen.
			fmt.Fprint(os.Stdout, "\x1b[!p\x1b[?25h")
		}
		defer restore()

		go watchWindowSize(ctx, stdinFd, resize)
	} else {
		close(resize)
	}

	streams := substrate.ExecStreams{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Resize: resize,
	}
	err := ctrl.Connect(ctx, s, streams)

	var exitErr *substrate.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return fmt.Errorf("connect to session %s: %w", s.Name, err)
	}
	return err
}

// watchWindowSize seeds the initial terminal geometry and then forwards
// one update per SIGWINCH.
func watchWindowSize(ctx context.Context, fd int, resize chan<- substrate.TerminalSize) {
	defer close(resize)

	send := func() {
		w, h, err := term.GetSize(fd)
		if err != nil {
			return
		}
		select {
		case resize <- substrate.TerminalSize{Width: uint16(w), Height: uint16(h)}:
		case <-ctx.Done():
		}
	}
	send()

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-winch:
			send()
		}
	}
}

// describeResolveFailure turns discovery errors into the user-facing
// disambiguation output: a numbered candidate list for ambiguity, a hint
// for the empty case.
func describeResolveFailure(err error) error {
	var ambiguous discovery.ErrAmbiguous
	if errors.As(err, &ambiguous) {
		fmt.Fprintln(os.Stderr, "multiple sessions found; specify one by name:")
		for i, s := range ambiguous.Candidates {
			fmt.Fprintf(os.Stderr, "  %d. %s (%s, %s)\n", i+1, s.Name, s.Backend, s.Phase)
		}
		return fmt.Errorf("ambiguous session reference")
	}
	var none discovery.ErrNoSessions
	if errors.As(err, &none) {
		return fmt.Errorf("no sessions found; `paude create` makes one for this directory")
	}
	return err
}
