// Package task defines the task descriptor a batch run executes: the mode,
// the ordered command list, and the per-operation timeouts.
package task

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects what a batch does on each device. The set is closed: new modes
// are added here and handled in the runner in one place.
type Mode int

const (
	// Show runs read-only audit commands. Commands are independent reads, so
	// execution continues past a failing command.
	Show Mode = iota
	// ConfigPush applies configuration commands in order, after a mandatory
	// backup of the running configuration. The sequence halts at the first
	// failing command.
	ConfigPush
)

func (m Mode) String() string {
	switch m {
	case Show:
		return "show"
	case ConfigPush:
		return "config-push"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Default timeouts, applied by Normalize when a field is unset.
const (
	DefaultProbeTimeout   = 3 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultCommandTimeout = 30 * time.Second
)

// DefaultShowCommands is the stock audit command set.
var DefaultShowCommands = []string{
	"show ip interface brief",
	"show version",
	"show running-config",
}

// Task describes one batch task. Immutable for the duration of a run.
type Task struct {
	Mode           Mode
	Commands       []string
	ProbeTimeout   time.Duration
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// NewShow builds a Show task; an empty command list falls back to the stock
// audit commands.
func NewShow(commands []string) Task {
	if len(commands) == 0 {
		commands = DefaultShowCommands
	}
	return Task{Mode: Show, Commands: commands}
}

// NewConfigPush builds a ConfigPush task for the given command sequence.
func NewConfigPush(commands []string) Task {
	return Task{Mode: ConfigPush, Commands: commands}
}

var errNoCommands = errors.New("task has no commands")

// Normalize fills unset timeouts with defaults and returns the result.
func (t Task) Normalize() Task {
	if t.ProbeTimeout <= 0 {
		t.ProbeTimeout = DefaultProbeTimeout
	}
	if t.ConnectTimeout <= 0 {
		t.ConnectTimeout = DefaultConnectTimeout
	}
	if t.CommandTimeout <= 0 {
		t.CommandTimeout = DefaultCommandTimeout
	}
	return t
}

// Validate rejects tasks that cannot be executed.
func (t Task) Validate() error {
	if t.Mode != Show && t.Mode != ConfigPush {
		return fmt.Errorf("unknown task mode %d", int(t.Mode))
	}
	if len(t.Commands) == 0 {
		return errNoCommands
	}
	for i, c := range t.Commands {
		if c == "" {
			return fmt.Errorf("command %d is empty", i)
		}
	}
	if t.ProbeTimeout <= 0 || t.ConnectTimeout <= 0 || t.CommandTimeout <= 0 {
		return fmt.Errorf("task timeouts must be positive")
	}
	return nil
}
