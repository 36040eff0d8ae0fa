// Package surface opens the application window and loads the frontend into it.
package surface

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"strings"
)

// ErrUnavailable is returned by a Factory that cannot create windows on this host.
var ErrUnavailable = errors.New("display surface unavailable")

// Surface is one open window.
type Surface interface {
	Load(target Target) error
	// Done is closed when the window has been closed by the user or by Close.
	Done() <-chan struct{}
	Close() error
}

// Factory creates surfaces.
type Factory interface {
	Create(ctx context.Context, opts Options) (Surface, error)
}

// Options configures a new surface.
type Options struct {
	Title  string
	Width  int
	Height int

	// HostIntegration exposes host functions to the page.
	HostIntegration bool
	// ContextIsolation keeps the page in its own renderer process.
	ContextIsolation bool
	DevTools         bool

	// BackendPort is reported to the page through host integration.
	BackendPort int
	// OnQuit is called when the page asks the application to quit.
	OnQuit func()
}

// DefaultOptions returns the initial window configuration.
func DefaultOptions() Options {
	return Options{
		Title:           "ProjectDesk",
		Width:           1200,
		Height:          800,
		HostIntegration: true,
	}
}

// Target is what a surface loads: a remote URL or a local file.
type Target struct {
	URL  string `json:"url,omitempty"`
	File string `json:"file,omitempty"`
}

// URLTarget returns a target for a remote URL.
func URLTarget(u string) Target {
	return Target{URL: u}
}

// FileTarget returns a target for a local document.
func FileTarget(path string) Target {
	return Target{File: path}
}

// IsFile reports whether the target is a local document.
func (t Target) IsFile() bool {
	return t.File != ""
}

// String returns a URL a window can load. Files become file:// URLs.
func (t Target) String() string {
	if !t.IsFile() {
		return t.URL
	}
	p, err := filepath.Abs(t.File)
	if err != nil {
		p = t.File
	}
	p = filepath.ToSlash(p)
	if !strings.HasPrefix(p, "/") {
		// Windows drive paths: C:/app -> /C:/app
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}
