package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/projectdesk/projectdesk/internal/config"
)

// bootstrapLog writes early diagnostic messages to a file before the main logger is initialized.
// GUI builds on Windows and macOS have no console, so this is the only trace of a failed start.
func bootstrapLog(msg string) {
	writeBootstrapLog(config.DefaultLogPath(), msg)
}

func writeBootstrapLog(logDir, msg string) {
	_ = os.MkdirAll(logDir, 0o755)
	logFile := filepath.Join(logDir, "bootstrap.log")

	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(f, "[%s] %s\n", timestamp, msg)
}
