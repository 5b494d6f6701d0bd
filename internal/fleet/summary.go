package fleet

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ibivanov/netfleet/internal/runner"
)

// Summary aggregates one batch run. Counts are a pure tally over the
// collected results; Results preserves inventory order.
type Summary struct {
	BatchID uuid.UUID
	Total   int
	Counts  map[runner.Status]int
	Results []runner.Result
	Elapsed time.Duration
}

func newSummary(batchID uuid.UUID, results []runner.Result, elapsed time.Duration) Summary {
	counts := make(map[runner.Status]int)
	for _, r := range results {
		counts[r.Status]++
	}
	return Summary{
		BatchID: batchID,
		Total:   len(results),
		Counts:  counts,
		Results: results,
		Elapsed: elapsed,
	}
}

// Failed returns how many devices did not finish with Success. Automation
// callers use this to distinguish a clean batch from a degraded one.
func (s Summary) Failed() int {
	return s.Total - s.Counts[runner.Success]
}

func (s Summary) OK() bool { return s.Failed() == 0 }

// String renders a one-line-per-device operator summary.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "batch %s: %d devices, %d failed, %s\n", s.BatchID, s.Total, s.Failed(), s.Elapsed.Round(time.Millisecond))
	for _, r := range s.Results {
		fmt.Fprintf(&b, "  %-24s %-14s step=%s elapsed=%s", r.Device.Label(), r.Status, r.LastStep, r.Elapsed.Round(time.Millisecond))
		if r.Err != "" {
			fmt.Fprintf(&b, " error=%q", r.Err)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
