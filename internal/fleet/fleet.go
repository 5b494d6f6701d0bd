// Package fleet orchestrates a task across a device inventory: bounded
// fan-out, per-device isolation, order-preserving aggregation, and handoff
// of each finished result to the sink.
package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ibivanov/netfleet/internal/device"
	"github.com/ibivanov/netfleet/internal/lg"
	"github.com/ibivanov/netfleet/internal/runner"
	"github.com/ibivanov/netfleet/internal/task"
)

// DeviceRunner runs one device's task. The production implementation is
// *runner.Runner; tests substitute fakes.
type DeviceRunner interface {
	Run(ctx context.Context, dev device.Descriptor, tk task.Task) runner.Result
}

// ResultSink persists per-device results. Both calls are fire-and-forget
// from the orchestrator's perspective: failures are recorded in the result's
// SinkErr metadata, never raised.
type ResultSink interface {
	PersistOutput(batchID uuid.UUID, res runner.Result) error
	AppendAudit(batchID uuid.UUID, res runner.Result) error
}

// Orchestrator fans a task out over an inventory and collects one result per
// device.
type Orchestrator struct {
	runner DeviceRunner
	sink   ResultSink
	width  int64
	logger lg.Logger

	// sinkMu serializes sink writes so concurrent devices never interleave
	// audit entries mid-line
	sinkMu sync.Mutex
}

// New builds an Orchestrator. width bounds how many devices run at once;
// width 1 degenerates to sequential iteration.
func New(r DeviceRunner, sink ResultSink, width int, logger lg.Logger) *Orchestrator {
	if width < 1 {
		width = 1
	}
	if logger == nil {
		logger = lg.Discard
	}
	return &Orchestrator{runner: r, sink: sink, width: int64(width), logger: logger}
}

// Execute runs the task against every device in the inventory and returns
// the batch summary. The only error return is an inventory or task
// validation failure, surfaced before any device work starts; every
// operational failure is encoded in that device's result. The summary holds
// exactly one result per inventory entry, in inventory order, regardless of
// completion order.
func (o *Orchestrator) Execute(ctx context.Context, inventory []device.Descriptor, tk task.Task) (Summary, error) {
	tk = tk.Normalize()
	if err := tk.Validate(); err != nil {
		return Summary{}, fmt.Errorf("invalid task: %w", err)
	}
	if err := device.ValidateInventory(inventory); err != nil {
		return Summary{}, err
	}

	batchID := uuid.New()
	start := time.Now()
	log := o.logger.With(lg.String("batch", batchID.String()), lg.String("mode", tk.Mode.String()))
	log.Info("batch starting", lg.Int("devices", len(inventory)))

	results := make([]runner.Result, len(inventory))
	sem := semaphore.NewWeighted(o.width)
	var wg sync.WaitGroup

	for i, dev := range inventory {
		if err := sem.Acquire(ctx, 1); err != nil {
			// batch aborted: devices not yet started still get a terminal
			// result; completed ones were flushed as they finished
			results[i] = runner.Result{
				Device:   dev,
				Status:   runner.Timeout,
				LastStep: runner.StepProbe,
				Err:      fmt.Sprintf("batch aborted: %v", err),
			}
			continue
		}

		wg.Add(1)
		go func(i int, dev device.Descriptor) {
			defer wg.Done()
			defer sem.Release(1)
			defer func() {
				// isolation: a panic while processing one device becomes
				// that device's result, it never aborts the batch
				if p := recover(); p != nil {
					results[i] = runner.Result{
						Device:   dev,
						Status:   runner.CommandFailed,
						LastStep: runner.StepExecute,
						Err:      fmt.Sprintf("panic: %v", p),
					}
					log.Error("device task panicked", lg.String("host", dev.Host), lg.Any("panic", p))
				}
				o.flush(batchID, &results[i])
			}()
			results[i] = o.runner.Run(ctx, dev, tk)
		}(i, dev)
	}

	wg.Wait()

	summary := newSummary(batchID, results, time.Since(start))
	log.Info("batch finished",
		lg.Int("devices", summary.Total),
		lg.Int("failed", summary.Failed()),
		lg.Duration("elapsed", summary.Elapsed))
	return summary, nil
}

// flush hands one finished result to the sink. Sink failures are recorded in
// the result's metadata and logged, nothing more.
func (o *Orchestrator) flush(batchID uuid.UUID, res *runner.Result) {
	if o.sink == nil {
		return
	}
	o.sinkMu.Lock()
	defer o.sinkMu.Unlock()

	if err := o.sink.PersistOutput(batchID, *res); err != nil {
		res.SinkErr = err.Error()
		o.logger.Error("persist output failed", lg.String("host", res.Device.Host), lg.Err(err))
	}
	if err := o.sink.AppendAudit(batchID, *res); err != nil {
		if res.SinkErr != "" {
			res.SinkErr += "; "
		}
		res.SinkErr += err.Error()
		o.logger.Error("audit append failed", lg.String("host", res.Device.Host), lg.Err(err))
	}
}
