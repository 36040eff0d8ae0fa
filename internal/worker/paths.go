package worker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ErrNotFound is returned when the worker executable or script is missing.
var ErrNotFound = errors.New("worker file not found")

// DefaultExecutable returns the bundled interpreter path relative to the app path.
func DefaultExecutable() string {
	if runtime.GOOS == "windows" {
		return filepath.Join("backend", "venv", "Scripts", "python.exe")
	}
	return filepath.Join("backend", "venv", "bin", "python")
}

// DefaultScript returns the backend entry point relative to the app path.
func DefaultScript() string {
	return filepath.Join("backend", "app", "main.py")
}

// ResolvePaths builds absolute executable and script paths from the install
// location. Empty overrides use the defaults and relative overrides are
// joined to appPath. Both files must exist.
func ResolvePaths(appPath, executable, script string) (string, string, error) {
	if executable == "" {
		executable = DefaultExecutable()
	}
	if script == "" {
		script = DefaultScript()
	}

	exePath := resolve(appPath, executable)
	scriptPath := resolve(appPath, script)

	for _, p := range []string{exePath, scriptPath} {
		info, err := os.Stat(p)
		if err != nil {
			return "", "", fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		if info.IsDir() {
			return "", "", fmt.Errorf("%w: %s is a directory", ErrNotFound, p)
		}
	}

	return exePath, scriptPath, nil
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}
