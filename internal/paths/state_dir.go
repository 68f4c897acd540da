package paths

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// StateBaseDir resolves the default base directory for runplane state.
// Preference order:
// 1. $XDG_STATE_HOME/runplane
// 2. ~/.local/state/runplane
// 3. $XDG_RUNTIME_DIR/runplane
func StateBaseDir() (string, error) {
	if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
		return filepath.Join(stateHome, "runplane"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		if runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); runtimeDir != "" {
			return filepath.Join(runtimeDir, "runplane"), nil
		}
		return "", err
	}
	if home != "" {
		return filepath.Join(home, ".local", "state", "runplane"), nil
	}
	if runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); runtimeDir != "" {
		return filepath.Join(runtimeDir, "runplane"), nil
	}
	return "", errors.New("unable to resolve state directory from XDG state/runtime or home")
}

// HistoryDBPath is the default location of the run-history journal.
func HistoryDBPath() (string, error) {
	base, err := StateBaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "history.db"), nil
}
