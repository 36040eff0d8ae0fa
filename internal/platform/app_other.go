//go:build !windows && !darwin

package platform

import "os/exec"

func NewApp(cfg AppConfig) App {
	return newHeadlessApp(cfg)
}

func openURL(url string) error {
	return exec.Command("xdg-open", url).Start()
}
