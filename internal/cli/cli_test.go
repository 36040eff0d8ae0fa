package cli

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/projectdesk/projectdesk/internal/config"
	"github.com/projectdesk/projectdesk/internal/port"
	"github.com/projectdesk/projectdesk/internal/shell"
	"github.com/projectdesk/projectdesk/internal/surface"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("boom"), 1},
		{"config", &configError{err: errors.New("bad yaml")}, ExitConfig},
		{"spawn", &shell.Error{Kind: shell.KindSpawnFailed, Op: "initialize"}, 5},
		{"wrapped port", fmt.Errorf("run: %w", &shell.Error{Kind: shell.KindPortUnavailable, Op: "initialize"}), 3},
		{"already initialized", &shell.Error{Kind: shell.KindAlreadyInitialized, Op: "initialize"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestConfigCommand(t *testing.T) {
	t.Setenv("PROJECTDESK_WORKER_PORT_START", "9100")

	out, err := execute(t, "config", "--dev", "--app-path", "/opt/projectdesk")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.True(t, cfg.Shell.DevMode)
	assert.Equal(t, "/opt/projectdesk", cfg.App.Path)
	assert.Equal(t, 9100, cfg.Worker.PortStart)
	assert.Contains(t, out, "stop_timeout: 5s")
}

func TestConfigCommand_InvalidConfig(t *testing.T) {
	t.Setenv("PROJECTDESK_WORKER_RESTART_POLICY", "sometimes")

	_, err := execute(t, "config")
	require.Error(t, err)
	assert.Equal(t, ExitConfig, ExitCode(err))
}

func TestConfigCommand_MissingFile(t *testing.T) {
	_, err := execute(t, "config", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitConfig, ExitCode(err))
}

func TestPortCommand(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	free := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	t.Setenv("PROJECTDESK_WORKER_PORT_START", strconv.Itoa(free))
	t.Setenv("PROJECTDESK_WORKER_PORT_END", strconv.Itoa(free))

	out, err := execute(t, "port")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(free), strings.TrimSpace(out))
}

func TestPortCommand_NoneAvailable(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	taken := ln.Addr().(*net.TCPAddr).Port

	t.Setenv("PROJECTDESK_WORKER_PORT_START", strconv.Itoa(taken))
	t.Setenv("PROJECTDESK_WORKER_PORT_END", strconv.Itoa(taken))

	_, err = execute(t, "port")
	require.Error(t, err)
	assert.ErrorIs(t, err, port.ErrNoPortAvailable)
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, config.Version)
}

func TestWriteBootstrapLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	writeBootstrapLog(dir, "first")
	writeBootstrapLog(dir, "second")

	data, err := os.ReadFile(filepath.Join(dir, "bootstrap.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], "] first"))
	assert.True(t, strings.HasSuffix(lines[1], "] second"))
}

func TestNewSurfaceFactory(t *testing.T) {
	cfg := config.Default()
	opener := openerFunc(func(string) error { return nil })

	cfg.Window.BrowserFallback = false
	_, ok := newSurfaceFactory(cfg, opener, zerolog.Nop()).(*surface.LorcaFactory)
	assert.True(t, ok)

	cfg.Window.BrowserFallback = true
	fallback, ok := newSurfaceFactory(cfg, opener, zerolog.Nop()).(*surface.FallbackFactory)
	require.True(t, ok)
	assert.IsType(t, &surface.BrowserFactory{}, fallback.Secondary)
}
