package runner_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibivanov/netfleet/internal/device"
	"github.com/ibivanov/netfleet/internal/lg"
	"github.com/ibivanov/netfleet/internal/runner"
	"github.com/ibivanov/netfleet/internal/session"
	"github.com/ibivanov/netfleet/internal/task"
)

const backupCmd = "show running-config"

type fakeProber struct {
	err   error
	calls int
}

func (f *fakeProber) Probe(_ context.Context, _ string, _ time.Duration) error {
	f.calls++
	return f.err
}

type fakeSession struct {
	outputs    map[string]string
	errs       map[string]error
	executed   []string
	closeCount int
}

func (s *fakeSession) Execute(_ context.Context, command string, _ time.Duration) (string, error) {
	s.executed = append(s.executed, command)
	if err := s.errs[command]; err != nil {
		return "", err
	}
	return s.outputs[command], nil
}

func (s *fakeSession) Run(ctx context.Context, command string, timeout time.Duration) error {
	_, err := s.Execute(ctx, command, timeout)
	return err
}

func (s *fakeSession) Close() error {
	s.closeCount++
	return nil
}

type fakeProvider struct {
	session  *fakeSession
	err      error
	connects int
}

func (p *fakeProvider) Connect(_ context.Context, _ device.Descriptor, _ time.Duration) (session.Session, error) {
	p.connects++
	if p.err != nil {
		return nil, p.err
	}
	return p.session, nil
}

type fakeBackups struct {
	ref    string
	err    error
	writes int
}

func (b *fakeBackups) WriteBackup(_ device.Descriptor, _ string) (string, error) {
	b.writes++
	if b.err != nil {
		return "", b.err
	}
	return b.ref, nil
}

func testDevice() device.Descriptor {
	return device.Descriptor{Name: "r1", Host: "10.0.0.1", Username: "admin", Password: "secret"}
}

func showTask(commands ...string) task.Task {
	return task.NewShow(commands).Normalize()
}

func pushTask(commands ...string) task.Task {
	return task.NewConfigPush(commands).Normalize()
}

func TestUnreachableSkipsSession(t *testing.T) {
	prober := &fakeProber{err: errors.New("connection refused")}
	provider := &fakeProvider{session: &fakeSession{}}
	r := runner.New(prober, provider, &fakeBackups{}, lg.Discard)

	res := r.Run(context.Background(), testDevice(), showTask("show version"))

	assert.Equal(t, runner.Unreachable, res.Status)
	assert.Equal(t, runner.StepProbe, res.LastStep)
	assert.Empty(t, res.Commands)
	assert.Equal(t, 1, prober.calls)
	assert.Zero(t, provider.connects, "no session may be attempted for an unreachable device")
}

func TestConnectFailed(t *testing.T) {
	provider := &fakeProvider{err: errors.New("ssh: unable to authenticate")}
	r := runner.New(&fakeProber{}, provider, &fakeBackups{}, lg.Discard)

	res := r.Run(context.Background(), testDevice(), showTask("show version"))

	assert.Equal(t, runner.ConnectFailed, res.Status)
	assert.Equal(t, runner.StepConnect, res.LastStep)
	assert.Contains(t, res.Err, "unable to authenticate")
	assert.Empty(t, res.Commands)
}

func TestShowSuccess(t *testing.T) {
	sess := &fakeSession{outputs: map[string]string{
		"show version":             "IOS 15.2",
		"show ip interface brief":  "Gi0/1 up up",
	}}
	r := runner.New(&fakeProber{}, &fakeProvider{session: sess}, &fakeBackups{}, lg.Discard)

	res := r.Run(context.Background(), testDevice(), showTask("show ip interface brief", "show version"))

	require.Equal(t, runner.Success, res.Status)
	assert.Equal(t, runner.StepDone, res.LastStep)
	require.Len(t, res.Commands, 2)
	// order follows the task's command sequence
	assert.Equal(t, "show ip interface brief", res.Commands[0].Command)
	assert.Equal(t, "Gi0/1 up up", res.Commands[0].Output)
	assert.Equal(t, "show version", res.Commands[1].Command)
	assert.Equal(t, 1, sess.closeCount)
	assert.Positive(t, res.Elapsed)
}

func TestShowContinuesPastFailure(t *testing.T) {
	sess := &fakeSession{
		outputs: map[string]string{"cmd1": "out1", "cmd3": "out3"},
		errs:    map[string]error{"cmd2": errors.New("% Invalid input")},
	}
	r := runner.New(&fakeProber{}, &fakeProvider{session: sess}, &fakeBackups{}, lg.Discard)

	res := r.Run(context.Background(), testDevice(), showTask("cmd1", "cmd2", "cmd3"))

	assert.Equal(t, runner.CommandFailed, res.Status)
	require.Len(t, res.Commands, 3, "show commands are independent reads, the sequence continues")
	assert.Equal(t, "out1", res.Commands[0].Output)
	assert.Contains(t, res.Commands[1].Err, "Invalid input")
	assert.Equal(t, "out3", res.Commands[2].Output)
	assert.Equal(t, 1, sess.closeCount)
}

func TestConfigPushHaltsAtFailure(t *testing.T) {
	sess := &fakeSession{
		outputs: map[string]string{backupCmd: "running config", "cmd1": "ok"},
		errs:    map[string]error{"cmd2": errors.New("% Invalid input")},
	}
	r := runner.New(&fakeProber{}, &fakeProvider{session: sess}, &fakeBackups{ref: "backups/r1.cfg"}, lg.Discard)

	res := r.Run(context.Background(), testDevice(), pushTask("cmd1", "cmd2", "cmd3"))

	assert.Equal(t, runner.CommandFailed, res.Status)
	require.Len(t, res.Commands, 2, "config commands are order-dependent, the sequence halts")
	assert.NotContains(t, sess.executed, "cmd3")
	assert.Equal(t, "backups/r1.cfg", res.BackupRef)
	assert.Equal(t, 1, sess.closeCount, "a failed sequence never leaks a session")
}

func TestBackupCommandFailureSkipsPush(t *testing.T) {
	sess := &fakeSession{errs: map[string]error{backupCmd: errors.New("timed out")}}
	backups := &fakeBackups{ref: "backups/r1.cfg"}
	r := runner.New(&fakeProber{}, &fakeProvider{session: sess}, backups, lg.Discard)

	res := r.Run(context.Background(), testDevice(), pushTask("cmd1", "cmd2"))

	assert.Equal(t, runner.ConnectFailed, res.Status, "backup failure is a connect-class failure")
	assert.Equal(t, runner.StepBackup, res.LastStep)
	assert.Empty(t, res.Commands, "no partial push without a backup")
	assert.Empty(t, res.BackupRef)
	assert.Zero(t, backups.writes)
	assert.Equal(t, []string{backupCmd}, sess.executed)
	assert.Equal(t, 1, sess.closeCount)
}

func TestBackupPersistFailureSkipsPush(t *testing.T) {
	sess := &fakeSession{outputs: map[string]string{backupCmd: "running config"}}
	backups := &fakeBackups{err: errors.New("disk full")}
	r := runner.New(&fakeProber{}, &fakeProvider{session: sess}, backups, lg.Discard)

	res := r.Run(context.Background(), testDevice(), pushTask("cmd1"))

	assert.Equal(t, runner.ConnectFailed, res.Status)
	assert.Empty(t, res.Commands)
	assert.Empty(t, res.BackupRef)
}

func TestTimeoutClassification(t *testing.T) {
	sess := &fakeSession{
		outputs: map[string]string{"cmd1": "ok"},
		errs:    map[string]error{"cmd2": fmt.Errorf("command %q: %w", "cmd2", context.DeadlineExceeded)},
	}
	r := runner.New(&fakeProber{}, &fakeProvider{session: sess}, &fakeBackups{}, lg.Discard)

	res := r.Run(context.Background(), testDevice(), showTask("cmd1", "cmd2"))

	assert.Equal(t, runner.Timeout, res.Status)
}

func TestFirstFailureClassWins(t *testing.T) {
	sess := &fakeSession{
		errs: map[string]error{
			"cmd1": errors.New("% Invalid input"),
			"cmd2": fmt.Errorf("command %q: %w", "cmd2", context.DeadlineExceeded),
		},
	}
	r := runner.New(&fakeProber{}, &fakeProvider{session: sess}, &fakeBackups{}, lg.Discard)

	res := r.Run(context.Background(), testDevice(), showTask("cmd1", "cmd2"))

	assert.Equal(t, runner.CommandFailed, res.Status)
	assert.Contains(t, res.Err, "Invalid input")
}

func TestShowIsIdempotent(t *testing.T) {
	newSession := func() *fakeSession {
		return &fakeSession{outputs: map[string]string{"show version": "IOS 15.2"}}
	}
	tk := showTask("show version")

	first := runner.New(&fakeProber{}, &fakeProvider{session: newSession()}, &fakeBackups{}, lg.Discard).
		Run(context.Background(), testDevice(), tk)
	second := runner.New(&fakeProber{}, &fakeProvider{session: newSession()}, &fakeBackups{}, lg.Discard).
		Run(context.Background(), testDevice(), tk)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Commands, second.Commands)
}

func TestPushSuccess(t *testing.T) {
	sess := &fakeSession{outputs: map[string]string{
		backupCmd: "running config",
		"interface Gi0/1": "",
		"no shutdown":     "",
	}}
	backups := &fakeBackups{ref: "backups/r1.cfg"}
	r := runner.New(&fakeProber{}, &fakeProvider{session: sess}, backups, lg.Discard)

	res := r.Run(context.Background(), testDevice(), pushTask("interface Gi0/1", "no shutdown"))

	assert.Equal(t, runner.Success, res.Status)
	assert.Equal(t, runner.StepDone, res.LastStep)
	assert.Equal(t, "backups/r1.cfg", res.BackupRef)
	assert.Equal(t, 1, backups.writes)
	require.Len(t, res.Commands, 2)
	assert.Equal(t, []string{backupCmd, "interface Gi0/1", "no shutdown"}, sess.executed)
}
