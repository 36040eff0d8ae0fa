package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Build metadata injected at build time via ldflags.
//
// Build with:
//
//	go build -ldflags "-X 'github.com/projectdesk/projectdesk/internal/config.Version=1.2.0' \
//	                   -X 'github.com/projectdesk/projectdesk/internal/config.BuildMode=dev'"
var (
	Version   = "dev"
	BuildMode string
)

// DefaultDevMode reports whether the binary was built for development,
// either through the BuildMode ldflag or by running under "go run".
func DefaultDevMode() bool {
	if strings.EqualFold(BuildMode, "dev") {
		return true
	}
	exe, err := os.Executable()
	if err != nil {
		return false
	}
	return strings.Contains(exe, "go-build")
}

// DefaultAppPath returns the install location: the directory holding the
// executable, or the working directory for development builds.
func DefaultAppPath() string {
	if DefaultDevMode() {
		if wd, err := os.Getwd(); err == nil {
			return wd
		}
	}
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}
