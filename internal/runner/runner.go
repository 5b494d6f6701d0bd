// Package runner drives a single device through its task: probe, connect,
// back up (config mode), execute, disconnect. Every failure is recovered
// into the device's Result; nothing propagates past the runner's boundary.
package runner

import (
	"context"
	"errors"
	"time"

	"github.com/ibivanov/netfleet/internal/device"
	"github.com/ibivanov/netfleet/internal/lg"
	"github.com/ibivanov/netfleet/internal/probe"
	"github.com/ibivanov/netfleet/internal/session"
	"github.com/ibivanov/netfleet/internal/task"
)

// backupCommand captures the running configuration before a push.
const backupCommand = "show running-config"

// BackupWriter persists a device's pre-push configuration and returns a
// reference to it.
type BackupWriter interface {
	WriteBackup(dev device.Descriptor, config string) (string, error)
}

// Runner executes one task against one device.
type Runner struct {
	prober   probe.Prober
	provider session.Provider
	backups  BackupWriter
	logger   lg.Logger
}

func New(prober probe.Prober, provider session.Provider, backups BackupWriter, logger lg.Logger) *Runner {
	if logger == nil {
		logger = lg.Discard
	}
	return &Runner{prober: prober, provider: provider, backups: backups, logger: logger}
}

// Run walks the device through the task's state machine and returns its
// Result. Run never returns an error: all failures are encoded in the Result.
func (r *Runner) Run(ctx context.Context, dev device.Descriptor, tk task.Task) (res Result) {
	start := time.Now()
	res = Result{Device: dev, Status: Success, LastStep: StepProbe}
	defer func() { res.Elapsed = time.Since(start) }()

	log := r.logger.With(lg.String("host", dev.Host), lg.String("mode", tk.Mode.String()))

	if err := r.prober.Probe(ctx, dev.Addr(), tk.ProbeTimeout); err != nil {
		res.Status = Unreachable
		res.Err = err.Error()
		log.Warn("device unreachable", lg.Err(err))
		return res
	}

	res.LastStep = StepConnect
	sess, err := r.provider.Connect(ctx, dev, tk.ConnectTimeout)
	if err != nil {
		res.Status = ConnectFailed
		res.Err = err.Error()
		log.Warn("connect failed", lg.Err(err))
		return res
	}
	// scoped release: the session never outlives the run, success or not
	defer sess.Close()

	if tk.Mode == task.ConfigPush {
		res.LastStep = StepBackup
		ref, err := r.backup(ctx, sess, dev, tk)
		if err != nil {
			// backup-before-push is a hard precondition; the command
			// sequence is skipped entirely
			res.Status = ConnectFailed
			res.Err = err.Error()
			log.Warn("backup failed, push skipped", lg.Err(err))
			return res
		}
		res.BackupRef = ref
	}

	res.LastStep = StepExecute
	res.Commands = make([]CommandResult, 0, len(tk.Commands))
	for _, cmd := range tk.Commands {
		out, err := sess.Execute(ctx, cmd, tk.CommandTimeout)
		cr := CommandResult{Command: cmd, Output: out}
		if err != nil {
			cr.Err = err.Error()
			res.Commands = append(res.Commands, cr)
			if res.Status == Success {
				res.Status = classify(err)
				res.Err = err.Error()
			}
			log.Warn("command failed", lg.String("command", cmd), lg.Err(err))
			if tk.Mode == task.ConfigPush {
				// ordered sequence, already-applied commands are not rolled
				// back on the device side
				return res
			}
			continue
		}
		res.Commands = append(res.Commands, cr)
	}

	if res.Status == Success {
		res.LastStep = StepDone
		log.Info("device done", lg.Int("commands", len(res.Commands)))
	}
	return res
}

func (r *Runner) backup(ctx context.Context, sess session.Session, dev device.Descriptor, tk task.Task) (string, error) {
	cfg, err := sess.Execute(ctx, backupCommand, tk.CommandTimeout)
	if err != nil {
		return "", err
	}
	if r.backups == nil {
		return "", errors.New("no backup writer configured")
	}
	ref, err := r.backups.WriteBackup(dev, cfg)
	if err != nil {
		return "", err
	}
	return ref, nil
}

func classify(err error) Status {
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return CommandFailed
}
