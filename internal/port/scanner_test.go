package port

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenLoopback(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })
	return listener.Addr().(*net.TCPAddr).Port
}

func TestIsPortAvailable_UsedPort(t *testing.T) {
	port := listenLoopback(t)
	scanner := NewScanner("127.0.0.1", port, port)

	assert.False(t, scanner.IsPortAvailable(port))
}

func TestIsPortAvailable_OutOfRange(t *testing.T) {
	scanner := NewScanner("127.0.0.1", 1, 65535)

	assert.False(t, scanner.IsPortAvailable(0))
	assert.False(t, scanner.IsPortAvailable(70000))
}

func TestFindAvailablePort(t *testing.T) {
	scanner := NewScanner("127.0.0.1", 50000, 50100)

	port, err := scanner.FindAvailablePort(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, 50000)
	assert.LessOrEqual(t, port, 50100)
	assert.True(t, scanner.IsPortAvailable(port))
}

func TestFindAvailablePort_SkipsUsedPort(t *testing.T) {
	used := listenLoopback(t)
	if used == 65535 {
		t.Skip("listener landed on the last port")
	}
	scanner := NewScanner("127.0.0.1", used, used+1)

	port, err := scanner.FindAvailablePort(context.Background())
	if err != nil {
		// used+1 may be taken by an unrelated process.
		assert.ErrorIs(t, err, ErrNoPortAvailable)
		return
	}
	assert.Equal(t, used+1, port)
}

func TestFindAvailablePort_Exhausted(t *testing.T) {
	used := listenLoopback(t)
	scanner := NewScanner("127.0.0.1", used, used)

	_, err := scanner.FindAvailablePort(context.Background())
	assert.ErrorIs(t, err, ErrNoPortAvailable)
}

func TestFindAvailablePort_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewScanner("127.0.0.1", 50000, 50100).FindAvailablePort(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFixed(t *testing.T) {
	port, err := Fixed(8123).FindAvailablePort(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8123, port)
}
