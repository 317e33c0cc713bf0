package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// appStateMu protects concurrent AppState saves from racing on the temp file.
var appStateMu sync.Mutex

const appStateFileName = "state.json"

// AppState is the C10 app-state store: small, non-authoritative, process-local
// preferences that have no substrate object to live on. It is not the
// Session Store — sessions themselves live on container labels or
// StatefulSet annotations, never in this file.
type AppState struct {
	Version           int       `json:"version"`
	IntroductionShown bool      `json:"introduction_shown"`
	LastBackend       Backend   `json:"last_backend,omitempty"`
	SavedAt           time.Time `json:"saved_at"`
}

// AppStateDir returns ~/.paude, creating nothing.
func AppStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".paude"), nil
}

func appStatePath(dir string) string {
	return filepath.Join(dir, appStateFileName)
}

// LoadAppState reads the app state file, returning version-1 defaults on
// first run.
func LoadAppState(dir string) (*AppState, error) {
	data, err := os.ReadFile(appStatePath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return &AppState{Version: 1}, nil
		}
		return nil, fmt.Errorf("read app state: %w", err)
	}
	var st AppState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse app state: %w", err)
	}
	return &st, nil
}

// SaveAppState writes the app state atomically: temp file then rename.
func SaveAppState(dir string, st *AppState) error {
	appStateMu.Lock()
	defer appStateMu.Unlock()

	st.SavedAt = time.Now()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal app state: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create app state dir: %w", err)
	}

	finalPath := appStatePath(dir)
	tempPath := fmt.Sprintf("%s.tmp.%d", finalPath, time.Now().UnixNano())

	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp app state: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename temp app state: %w", err)
	}
	return nil
}

// MarkIntroductionShown records that the first-run banner has been displayed.
func MarkIntroductionShown(dir string) error {
	st, err := LoadAppState(dir)
	if err != nil {
		return err
	}
	if st.IntroductionShown {
		return nil
	}
	st.IntroductionShown = true
	return SaveAppState(dir, st)
}
