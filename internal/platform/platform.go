// Package platform provides OS-aware helpers for the daemon's data directory.
// runtime.GOOS checks belong here, not scattered across the codebase.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
)

// DataDirEnv overrides the default data directory (used in containers).
const DataDirEnv = "CTXMON_DATA_DIR"

// DefaultDataDir returns the OS-appropriate data directory.
//
//	Linux:   ~/.local/share/ctxmon
//	macOS:   ~/Library/Application Support/ctxmon
//	Windows: %APPDATA%\ctxmon
func DefaultDataDir() string {
	if env := os.Getenv(DataDirEnv); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "ctxmon")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "ctxmon")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "ctxmon")
		}
		return filepath.Join(home, ".local", "share", "ctxmon")
	}
}

// DataPath joins parts onto the default data directory.
//
// Example: DataPath("ctxmon.db") → ~/.local/share/ctxmon/ctxmon.db
func DataPath(parts ...string) string {
	return filepath.Join(append([]string{DefaultDataDir()}, parts...)...)
}

// EnsureDir creates a directory and all parents if they don't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || (len(path) > 1 && path[0] == '~' && os.IsPathSeparator(path[1])) {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
