package main

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/paude/paude/internal/session"
)

// setupLogFile opens a per-invocation log file under the state directory
// and tees the standard logger to it and stderr, so a failure is visible
// immediately as well as preserved.
func setupLogFile() (*os.File, error) {
	dir, err := session.AppStateDir()
	if err != nil {
		return nil, err
	}
	logsDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, err
	}

	name := filepath.Join(logsDir, "paude-"+time.Now().Format("20060102-150405")+".log")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	log.SetOutput(io.MultiWriter(f, os.Stderr))
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	return f, nil
}
