//go:build windows

package platform

import (
	"context"
	"os/exec"
	"sync"

	"github.com/tailscale/walk"
)

type windowsApp struct {
	config     AppConfig
	app        *walk.Application
	notifyIcon *walk.NotifyIcon
	running    bool
	mu         sync.Mutex
	stopOnce   sync.Once
}

func NewApp(cfg AppConfig) App {
	if cfg.NoTray {
		return newHeadlessApp(cfg)
	}
	return &windowsApp{config: cfg}
}

func (a *windowsApp) Run() error {
	name := a.config.displayName()

	var err error

	// Initialize Walk application - must be called before any other Walk functions
	a.app, err = walk.InitApp()
	if err != nil {
		return err
	}

	walk.App().SetOrganizationName(name)
	walk.App().SetProductName(name)

	a.notifyIcon, err = walk.NewNotifyIcon()
	if err != nil {
		return err
	}

	if err := a.notifyIcon.SetToolTip(name); err != nil {
		return err
	}

	if icon := walk.IconApplication(); icon != nil {
		a.notifyIcon.SetIcon(icon)
	}

	a.notifyIcon.MouseDown().Attach(func(x, y int, button walk.MouseButton) {
		if button == walk.LeftButton {
			a.config.activate()
		}
	})

	openAction := walk.NewAction()
	openAction.SetText("Open " + name)
	openAction.Triggered().Attach(func() {
		a.config.activate()
	})

	quitAction := walk.NewAction()
	quitAction.SetText("Quit")
	quitAction.Triggered().Attach(func() {
		a.Stop()
	})

	a.notifyIcon.ContextMenu().Actions().Add(openAction)
	a.notifyIcon.ContextMenu().Actions().Add(walk.NewSeparatorAction())
	a.notifyIcon.ContextMenu().Actions().Add(quitAction)

	if err := a.notifyIcon.SetVisible(true); err != nil {
		return err
	}

	a.mu.Lock()
	a.running = true
	a.mu.Unlock()

	a.config.ready()
	a.app.Run()
	return nil
}

func (a *windowsApp) OpenBrowser(url string) error {
	return openURL(url)
}

func (a *windowsApp) Stop() {
	a.stopOnce.Do(func() {
		if a.config.OnQuit != nil {
			a.config.OnQuit()
		}

		a.mu.Lock()
		if a.running {
			if a.notifyIcon != nil {
				a.notifyIcon.Dispose()
			}
			if a.app != nil {
				a.app.Exit(0)
			}
		}
		a.mu.Unlock()
	})
}

func openURL(url string) error {
	return exec.CommandContext(context.Background(), "cmd", "/c", "start", "", url).Start()
}
