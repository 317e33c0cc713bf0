// Command paude runs an AI coding assistant inside an isolated, network-
// restricted container bound to the current project directory, on either
// a local container engine or a remote Kubernetes-compatible cluster.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/paude/paude/internal/substrate"
)

func main() {
	os.Exit(run())
}

func run() int {
	logFile, err := setupLogFile()
	if err != nil {
		fmt.Fprintf(os.Stderr, "paude: warning: could not open log file: %v\n", err)
	} else {
		defer logFile.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SIGINT/SIGTERM cancel in-flight substrate calls and set the exit
	// code to 128+signal. Persistent objects half-created at that point
	// stay; they are durable by design and `delete --confirm` cleans up.
	var gotSignal atomic.Int32
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		if s, ok := sig.(syscall.Signal); ok {
			gotSignal.Store(int32(s))
		}
		log.Printf("[main] received %s, shutting down", sig)
		cancel()
	}()

	verb := ""
	args := []string{}
	if len(os.Args) > 1 {
		verb = os.Args[1]
		args = os.Args[2:]
	}

	var runErr error
	switch verb {
	case "":
		runErr = runDefault(ctx)
	case "create":
		runErr = runCreate(ctx, args)
	case "start":
		runErr = runStart(ctx, args)
	case "stop":
		runErr = runStop(ctx, args)
	case "connect":
		runErr = runConnect(ctx, args)
	case "delete", "rm":
		runErr = runDelete(ctx, args)
	case "list", "ls", "ps":
		runErr = runList(ctx, args)
	case "sync":
		runErr = runSync(ctx, args)
	case "remote-add":
		runErr = runRemoteAdd(ctx, args)
	case "exec-helper":
		runErr = runExecHelper(ctx, args)
	case "help", "-h", "--help":
		printHelp()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "paude: unknown command %q\n", verb)
		printHelp()
		return 1
	}

	// The local proxy belongs to this invocation; stop it if an Ensure
	// here started it, before the exit code is decided.
	stopStartedLocalProxy()

	if sig := gotSignal.Load(); sig != 0 {
		return 128 + int(sig)
	}
	if runErr != nil {
		// The assistant's own exit status passes through unchanged.
		var exit *substrate.ExitError
		if errors.As(runErr, &exit) {
			return exit.Code
		}
		fmt.Fprintf(os.Stderr, "paude: %s: %v\n", verb, runErr)
		log.Printf("[main] %s failed: %v", verb, runErr)
		return 1
	}
	return 0
}

func printHelp() {
	fmt.Fprint(os.Stderr, `paude - isolated, network-restricted AI coding sessions

Usage:
  paude create [name] [--backend=local|remote] [--yolo] [--allow-network]
               [--pvc-size SIZE] [--storage-class CLASS]
               [--credential-timeout MINUTES] [--rebuild]
  paude start [name] [--no-sync]      start a session and attach
  paude stop [name] [--sync]          stop a session, keep its volume
  paude connect [name]                attach to a running session
  paude delete name --confirm         delete a session and all its resources
  paude list [--backend=local|remote] list sessions
  paude sync [name] [-d remote|local|both]
  paude remote-add [name]             register a git remote for a session

Run with no arguments to see this directory's sessions.
`)
}
