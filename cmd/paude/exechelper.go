package main

import (
	"context"
	"fmt"
	"os"

	"github.com/paude/paude/internal/substrate"
	"github.com/paude/paude/internal/substrate/remote"
)

// runExecHelper is the hidden verb rsync invokes as its remote shell:
// `paude exec-helper <pod> <namespace> <dummy-host> rsync --server ...`.
// It execs the server command inside the pod over the same exec streaming
// the interactive connect uses, splicing stdin/stdout straight through so
// rsync on both ends sees a normal remote-shell pipe.
func runExecHelper(ctx context.Context, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("exec-helper: expected <pod> <namespace> <host> <command...>")
	}
	podName, namespace := args[0], args[1]
	serverCmd := args[3:] // args[2] is the placeholder host rsync inserts

	be, err := remote.New(os.Getenv("KUBECONFIG"), os.Getenv("PAUDE_KUBE_CONTEXT"), namespace)
	if err != nil {
		return fmt.Errorf("exec-helper: connect to cluster: %w", err)
	}

	streams := substrate.ExecStreams{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
	return be.Exec(ctx, podName, substrate.ExecOptions{Command: serverCmd, Stdin: true}, streams)
}
