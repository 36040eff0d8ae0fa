package platform

import "sync"

// headlessApp blocks until Stop. Used on Linux and whenever the tray is disabled.
type headlessApp struct {
	config   AppConfig
	done     chan struct{}
	stopOnce sync.Once
}

func newHeadlessApp(cfg AppConfig) *headlessApp {
	return &headlessApp{
		config: cfg,
		done:   make(chan struct{}),
	}
}

func (a *headlessApp) Run() error {
	a.config.ready()
	<-a.done
	return nil
}

func (a *headlessApp) OpenBrowser(url string) error {
	return openURL(url)
}

func (a *headlessApp) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
		if a.config.OnQuit != nil {
			a.config.OnQuit()
		}
	})
}
