// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/ninedoor/lib/audit"
	"github.com/bureau-foundation/ninedoor/lib/clock"
)

// State is the node's lifecycle state.
type State int

const (
	Booting State = iota
	Degraded
	Online
	Draining
	Quiesced
	Offline
)

func (s State) String() string {
	switch s {
	case Booting:
		return "booting"
	case Degraded:
		return "degraded"
	case Online:
		return "online"
	case Draining:
		return "draining"
	case Quiesced:
		return "quiesced"
	case Offline:
		return "offline"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Command is a manual transition request.
type Command int

const (
	Cordon Command = iota
	Drain
	Resume
	Quiesce
	Reset
)

func (c Command) String() string {
	switch c {
	case Cordon:
		return "cordon"
	case Drain:
		return "drain"
	case Resume:
		return "resume"
	case Quiesce:
		return "quiesce"
	case Reset:
		return "reset"
	default:
		return fmt.Sprintf("Command(%d)", int(c))
	}
}

// ParseCommand accepts a command name in any case, ignoring
// surrounding whitespace.
func ParseCommand(value string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "cordon":
		return Cordon, nil
	case "drain":
		return Drain, nil
	case "resume":
		return Resume, nil
	case "quiesce":
		return Quiesce, nil
	case "reset":
		return Reset, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, value)
	}
}

// requiresNoLeases reports whether the command refuses to run with
// outstanding leases.
func (c Command) requiresNoLeases() bool {
	return c == Drain || c == Quiesce || c == Reset
}

// EventBootComplete is the automatic Booting to Online transition.
const EventBootComplete = "boot-complete"

var (
	ErrUnknownCommand    = errors.New("lifecycle: unknown command")
	ErrInvalidTransition = errors.New("lifecycle: invalid transition")
	ErrUnknownEvent      = errors.New("lifecycle: unknown event")
)

// OutstandingLeasesError is returned when a command needs zero leases
// and some remain.
type OutstandingLeasesError struct {
	Command Command
	Count   int
}

func (e *OutstandingLeasesError) Error() string {
	return fmt.Sprintf("lifecycle: %s refused with %d outstanding leases", e.Command, e.Count)
}

// Snapshot is the observable state of a Machine.
type Snapshot struct {
	State  State
	Reason string
	Since  time.Time
}

// Machine is the lifecycle state machine. It is safe for concurrent
// use.
type Machine struct {
	mutex  sync.Mutex
	clock  clock.Clock
	logger *slog.Logger
	audit  *audit.Log
	state  State
	reason string
	since  time.Time
}

// NewMachine returns a machine in Booting.
func NewMachine(clk clock.Clock, logger *slog.Logger, log *audit.Log) *Machine {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Machine{
		clock:  clk,
		logger: logger,
		audit:  log,
		state:  Booting,
		reason: "process start",
		since:  clk.Now(),
	}
}

// Snapshot returns the current state, reason, and entry time.
func (m *Machine) Snapshot() Snapshot {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return Snapshot{State: m.state, Reason: m.reason, Since: m.since}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state
}

func target(command Command, from State) (State, bool) {
	switch command {
	case Cordon:
		return Draining, from == Online || from == Degraded
	case Drain:
		return Quiesced, from == Draining
	case Resume:
		return Online, from != Online
	case Quiesce:
		return Quiesced, from == Online || from == Degraded || from == Draining
	case Reset:
		return Booting, from != Booting
	}
	return from, false
}

// Apply runs a manual command. leases is the number of leases
// currently outstanding. On error the state is unchanged.
func (m *Machine) Apply(command Command, leases int) (Snapshot, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	to, ok := target(command, m.state)
	if !ok {
		return m.snapshotLocked(), fmt.Errorf("%w: %s from %s", ErrInvalidTransition, command, m.state)
	}
	if command.requiresNoLeases() && leases > 0 {
		return m.snapshotLocked(), &OutstandingLeasesError{Command: command, Count: leases}
	}
	m.transitionLocked(to, "command "+command.String())
	return m.snapshotLocked(), nil
}

// Trigger runs an automatic event. Only boot-complete is defined; it
// is ignored unless the machine is Booting.
func (m *Machine) Trigger(event string) (Snapshot, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if event != EventBootComplete {
		return m.snapshotLocked(), fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	if m.state != Booting {
		return m.snapshotLocked(), fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, m.state)
	}
	m.transitionLocked(Online, event)
	return m.snapshotLocked(), nil
}

// Force sets the state unconditionally. Used for Degraded on internal
// faults and Offline at shutdown.
func (m *Machine) Force(state State, reason string) Snapshot {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.state != state {
		m.transitionLocked(state, reason)
	}
	return m.snapshotLocked()
}

func (m *Machine) transitionLocked(to State, reason string) {
	from := m.state
	m.state = to
	m.reason = reason
	m.since = m.clock.Now()
	m.logger.Info("lifecycle transition", "from", from, "to", to, "reason", reason)
	m.audit.Record("lifecycle", audit.OutcomeTransition, "from", from, "to", to, "reason", reason)
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{State: m.state, Reason: m.reason, Since: m.since}
}
