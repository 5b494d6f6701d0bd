// Package session defines the remote-session boundary the runner depends on,
// plus the SSH implementation. The runner only needs connect, execute, and
// close; everything else about the remote shell stays behind this interface
// so the runner can be tested against a fake with no network access.
package session

import (
	"context"
	"time"

	"github.com/ibivanov/netfleet/internal/device"
)

// Provider establishes an authenticated command session to one device.
type Provider interface {
	Connect(ctx context.Context, dev device.Descriptor, timeout time.Duration) (Session, error)
}

// Session is an established command channel to one device.
type Session interface {
	// Execute runs a command and returns its output, bounded by timeout.
	Execute(ctx context.Context, command string, timeout time.Duration) (string, error)
	// Run executes a command where no output is expected.
	Run(ctx context.Context, command string, timeout time.Duration) error
	// Close releases the session. It must be callable after a prior command
	// failure, and is safe to call more than once.
	Close() error
}
