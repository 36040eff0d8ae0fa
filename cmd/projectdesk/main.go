package main

import (
	"os"
	"runtime"

	"github.com/projectdesk/projectdesk/internal/cli"
)

func main() {
	// Lock the main goroutine to the main OS thread.
	// This is required for macOS where UI elements (NSApplication, the status item)
	// must be created and manipulated on the main thread.
	runtime.LockOSThread()

	os.Exit(cli.Execute())
}
