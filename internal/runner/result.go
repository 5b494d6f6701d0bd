package runner

import (
	"time"

	"github.com/ibivanov/netfleet/internal/device"
)

// Status classifies the outcome of one device's run.
type Status int

const (
	Success Status = iota
	// Unreachable: the reachability probe ran and failed. Never set without
	// the probe having executed; no session is attempted.
	Unreachable
	// ConnectFailed: session establishment failed, or the mandatory backup
	// before a config push failed (no push is safe without a backup).
	ConnectFailed
	// CommandFailed: a command executed but the device reported an error.
	CommandFailed
	// Timeout: an operation exceeded its bound.
	Timeout
)

func (s Status) String() string {
	switch s {
	case Success:
		return "Success"
	case Unreachable:
		return "Unreachable"
	case ConnectFailed:
		return "ConnectFailed"
	case CommandFailed:
		return "CommandFailed"
	case Timeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Step names the last state the per-device state machine reached, so an
// operator can act on a failure without re-running with higher verbosity.
type Step string

const (
	StepProbe      Step = "probe"
	StepConnect    Step = "connect"
	StepBackup     Step = "backup"
	StepExecute    Step = "execute"
	StepDisconnect Step = "disconnect"
	StepDone       Step = "done"
)

// CommandResult is one (command, output-or-error) pair, in task order.
type CommandResult struct {
	Command string `json:"command"`
	Output  string `json:"output,omitempty"`
	Err     string `json:"error,omitempty"`
}

// Result is the terminal record for one device in one batch run. Created
// exactly once per device, never mutated after the runner returns it.
type Result struct {
	Device   device.Descriptor `json:"device"`
	Status   Status            `json:"status"`
	Commands []CommandResult   `json:"commands"`
	// BackupRef points at the persisted pre-push configuration. Populated
	// only when the backup step succeeded (ConfigPush mode).
	BackupRef string        `json:"backupRef,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	LastStep  Step          `json:"lastStep"`
	Err       string        `json:"error,omitempty"`
	// SinkErr records persistence failures. Sink problems are metadata, not
	// run failures; they never change Status.
	SinkErr string `json:"sinkError,omitempty"`
}

func (r Result) OK() bool { return r.Status == Success }
