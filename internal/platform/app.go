// Package platform runs the host event loop: a status item on macOS, a
// notification-area icon on Windows and a headless loop elsewhere.
package platform

// AppConfig configures the host loop. Callbacks may be nil.
type AppConfig struct {
	Name   string
	NoTray bool

	// OnReady runs once the loop is up, on its own goroutine.
	OnReady func()
	// OnActivate runs when the user asks to bring the application forward.
	OnActivate func()
	// OnQuit runs once, after Stop.
	OnQuit func()
}

type App interface {
	Run() error
	OpenBrowser(url string) error
	Stop()
}

func (c AppConfig) displayName() string {
	if c.Name == "" {
		return "ProjectDesk"
	}
	return c.Name
}

func (c AppConfig) ready() {
	if c.OnReady != nil {
		go c.OnReady()
	}
}

func (c AppConfig) activate() {
	if c.OnActivate != nil {
		go c.OnActivate()
	}
}
