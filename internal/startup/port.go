package startup

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
)

const dialTimeout = 500 * time.Millisecond

// WaitForPort blocks until a TCP connection to addr succeeds or ctx ends.
func WaitForPort(ctx context.Context, addr string, cfg RetryConfig, logger *zerolog.Logger) error {
	dialer := net.Dialer{Timeout: dialTimeout}
	return WithRetry(ctx, "wait for "+addr, cfg, func() error {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}, logger)
}

// IsListening reports whether something accepts TCP connections on addr.
func IsListening(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
