package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"

	"github.com/ibivanov/netfleet/internal/device"
)

// SSHProvider dials devices over SSH with password auth. Dial attempts are
// retried with exponential backoff and guarded by a shared circuit breaker,
// so a flapping management network does not hammer every device in turn.
type SSHProvider struct {
	breaker *gobreaker.CircuitBreaker
}

func NewSSHProvider() *SSHProvider {
	cbs := gobreaker.Settings{
		Name:        "ssh-connect",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}
	return &SSHProvider{breaker: gobreaker.NewCircuitBreaker(cbs)}
}

func dialBackoff(bound time.Duration) *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      bound,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
}

func (p *SSHProvider) Connect(ctx context.Context, dev device.Descriptor, timeout time.Duration) (Session, error) {
	config := &ssh.ClientConfig{
		User:            dev.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(dev.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
		BannerCallback:  func(message string) error { return nil }, // ignore banner
	}

	var client *ssh.Client
	operation := func() error {
		res, err := p.breaker.Execute(func() (any, error) {
			return ssh.Dial("tcp", dev.Addr(), config)
		})
		if err != nil {
			return err
		}
		client = res.(*ssh.Client)
		return nil
	}

	b := backoff.WithContext(dialBackoff(timeout), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return nil, fmt.Errorf("connect %s: %w", dev.Addr(), err)
	}

	return &sshSession{client: client}, nil
}

// sshSession opens one ssh.Session per command over a shared client
// connection, mirroring how a remote shell multiplexes exec channels.
type sshSession struct {
	client *ssh.Client
	closed atomic.Bool
}

func (s *sshSession) Execute(ctx context.Context, command string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sess, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()

	type execResult struct {
		out []byte
		err error
	}
	done := make(chan execResult, 1)
	go func() {
		out, err := sess.CombinedOutput(command)
		done <- execResult{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		// best effort: tear down the exec channel so the goroutine unblocks
		sess.Signal(ssh.SIGKILL)
		return "", fmt.Errorf("command %q: %w", command, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return string(r.out), fmt.Errorf("command %q: %w", command, r.err)
		}
		return string(r.out), nil
	}
}

func (s *sshSession) Run(ctx context.Context, command string, timeout time.Duration) error {
	_, err := s.Execute(ctx, command, timeout)
	return err
}

func (s *sshSession) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Close()
}
