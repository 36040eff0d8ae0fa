// Package port finds free local TCP ports for the worker process.
//
// Availability is decided by the operating system: a port is free when a
// listener can be bound to it. The probe listener is closed immediately, so
// there is a short window in which another process could take the port before
// the worker binds it. The worker reports that case as a bind failure on its
// own stderr.
package port

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ErrNoPortAvailable is returned when every port in the probed range is taken.
var ErrNoPortAvailable = errors.New("no available port")

// Prober finds a free port. The shell depends on this interface so tests can
// supply a fixed port.
type Prober interface {
	FindAvailablePort(ctx context.Context) (int, error)
}

// Scanner probes a port range on a host address.
type Scanner struct {
	host  string
	start int
	end   int
}

// NewScanner creates a Scanner for [start, end] on the given host.
// An empty host probes all interfaces.
func NewScanner(host string, start, end int) *Scanner {
	return &Scanner{host: host, start: start, end: end}
}

// Range returns the inclusive port range the scanner probes.
func (s *Scanner) Range() (int, int) {
	return s.start, s.end
}

// IsPortAvailable reports whether a TCP listener can be bound to port.
func (s *Scanner) IsPortAvailable(port int) bool {
	if port < 1 || port > 65535 {
		return false
	}
	listener, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

// FindAvailablePort returns the first free port in the range, scanning upward.
// The scan stops early when ctx is cancelled.
func (s *Scanner) FindAvailablePort(ctx context.Context) (int, error) {
	for port := s.start; port <= s.end; port++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if s.IsPortAvailable(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("%w in range %d-%d", ErrNoPortAvailable, s.start, s.end)
}

// Fixed is a Prober that always returns the same port.
type Fixed int

// FindAvailablePort returns the fixed port.
func (f Fixed) FindAvailablePort(context.Context) (int, error) {
	return int(f), nil
}
