// Package probe performs the cheap pre-session reachability check, so a down
// device fails fast without paying the authenticated-session cost.
package probe

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Prober reports whether a device address accepts connections.
type Prober interface {
	// Probe returns nil if addr is reachable within timeout. Network-level
	// failures (refused, no route, timeout) come back as errors, never
	// panics, and the probe connection is always closed before return.
	Probe(ctx context.Context, addr string, timeout time.Duration) error
}

var _ Prober = TCPProber{}

// TCPProber checks reachability with a plain TCP dial on the service port.
type TCPProber struct{}

func (TCPProber) Probe(ctx context.Context, addr string, timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("probe %s: timeout must be positive", addr)
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("probe %s: %w", addr, err)
	}
	conn.Close()
	return nil
}
