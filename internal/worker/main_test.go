package worker

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"testing"
	"time"
)

const helperEnv = "PROJECTDESK_WORKER_HELPER"

// TestMain lets the test binary stand in for the worker. It runs before
// flag parsing so the helper accepts the "<script> --port N" command line.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelper(mode, os.Args[1:]))
	}
	os.Exit(m.Run())
}

func runHelper(mode string, args []string) int {
	switch mode {
	case "echo":
		fmt.Println("ready")
		fmt.Printf("args=%v\n", args)
		fmt.Fprintln(os.Stderr, "warning: debug build")
		return 0
	case "fail":
		fmt.Fprintln(os.Stderr, "Traceback: boom")
		return 3
	case "sleep":
		fmt.Println("serving")
		time.Sleep(time.Minute)
		return 0
	case "ignore-term":
		signal.Ignore(syscall.SIGTERM)
		fmt.Println("serving")
		time.Sleep(time.Minute)
		return 0
	case "tick":
		// A server started by the worker that shares its output.
		signal.Ignore(syscall.SIGTERM)
		for range time.Tick(20 * time.Millisecond) {
			fmt.Println("tick")
		}
		return 0
	case "spawn-child":
		if err := startTicker(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println("spawned")
		return 0
	case "spawn-child-stay":
		if err := startTicker(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		signal.Ignore(syscall.SIGTERM)
		fmt.Println("spawned")
		time.Sleep(time.Minute)
		return 0
	}
	return 1
}

// startTicker starts a "tick" helper that inherits stdout and stderr and
// is left running.
func startTicker() error {
	cmd := exec.Command(os.Args[0])
	cmd.Env = append(os.Environ(), helperEnv+"=tick")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

func helperSpec(mode string) Spec {
	return Spec{
		Executable: os.Args[0],
		Script:     "main.py",
		Port:       8123,
		Env:        []string{helperEnv + "=" + mode},
	}
}
