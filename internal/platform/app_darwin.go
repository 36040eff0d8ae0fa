//go:build darwin

package platform

import (
	"os/exec"
	"sync"

	"github.com/progrium/darwinkit/macos/appkit"
	"github.com/progrium/darwinkit/macos/foundation"
	"github.com/progrium/darwinkit/objc"
)

type macApp struct {
	config     AppConfig
	statusItem appkit.StatusItem
	running    bool
	mu         sync.Mutex
	stopOnce   sync.Once
}

func NewApp(cfg AppConfig) App {
	if cfg.NoTray {
		return newHeadlessApp(cfg)
	}
	return &macApp{config: cfg}
}

func (a *macApp) Run() error {
	name := a.config.displayName()

	objc.WithAutoreleasePool(func() {
		app := appkit.Application_SharedApplication()
		app.SetActivationPolicy(appkit.ApplicationActivationPolicyAccessory)

		a.statusItem = appkit.StatusBar_SystemStatusBar().StatusItemWithLength(appkit.VariableStatusItemLength)

		if button := a.statusItem.Button(); button.Ptr != nil {
			button.SetTitle(name)
		}

		menu := appkit.NewMenu()

		openItem := appkit.NewMenuItemWithAction("Open "+name, "o", func(sender objc.Object) {
			a.config.activate()
		})
		menu.AddItem(openItem)

		menu.AddItem(appkit.MenuItem_SeparatorItem())

		quitItem := appkit.NewMenuItemWithAction("Quit "+name, "q", func(sender objc.Object) {
			a.Stop()
		})
		menu.AddItem(quitItem)

		a.statusItem.SetMenu(menu)

		a.mu.Lock()
		a.running = true
		a.mu.Unlock()

		a.config.ready()
		app.Run()
	})

	return nil
}

func (a *macApp) OpenBrowser(url string) error {
	nsURL := foundation.URL_URLWithString(url)
	if nsURL.Ptr == nil {
		return openURL(url)
	}
	appkit.Workspace_SharedWorkspace().OpenURL(nsURL)
	return nil
}

func (a *macApp) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		wasRunning := a.running
		a.running = false
		a.mu.Unlock()

		if a.config.OnQuit != nil {
			a.config.OnQuit()
		}

		if wasRunning {
			objc.WithAutoreleasePool(func() {
				app := appkit.Application_SharedApplication()
				app.Terminate(nil)
			})
		}
	})
}

func openURL(url string) error {
	return exec.Command("open", url).Start()
}
