package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/tarungka/opwire/channel"
)

// State is a lifecycle phase of one operator attempt. States are declared in
// their only legal order.
type State int32

const (
	Created State = iota
	ResourceCreation
	OperationInit
	OperationRunning
	OperationShutdown
	ResourceDeletion
	ServiceShutdown
	Stopped
)

var stateNames = [...]string{
	Created:           "Created",
	ResourceCreation:  "ResourceCreation",
	OperationInit:     "OperationInit",
	OperationRunning:  "OperationRunning",
	OperationShutdown: "OperationShutdown",
	ResourceDeletion:  "ResourceDeletion",
	ServiceShutdown:   "ServiceShutdown",
	Stopped:           "Stopped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", s)
	}
	return stateNames[s]
}

// Signal names why a transition happened.
type Signal string

const (
	SignalProceed   Signal = "proceed"
	SignalError     Signal = "error"
	SignalInterrupt Signal = "interrupt"
	SignalMode      Signal = "mode"
)

// Transition is one edge taken by the state machine. Error is set when the
// edge is the error shortcut.
type Transition struct {
	From   State
	To     State
	Signal Signal
	Err    error
	At     time.Time
}

func (t Transition) String() string {
	return fmt.Sprintf("(%s)--[%s]-->(%s)", t.From, t.Signal, t.To)
}

// Mode selects which phases run.
type Mode string

const (
	ModeStandard                Mode = "standard"
	ModeSkip                    Mode = "skip"
	ModeWithoutResourceDeletion Mode = "without_resource_deletion"
	ModeResourceCreationOnly    Mode = "resource_creation_only"
	ModeResourceDeletionOnly    Mode = "resource_deletion_only"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.ReplaceAll(s, "-", "_"))); m {
	case "":
		return ModeStandard, nil
	case ModeStandard, ModeSkip, ModeWithoutResourceDeletion, ModeResourceCreationOnly, ModeResourceDeletionOnly:
		return m, nil
	}
	return ModeStandard, fmt.Errorf("invalid execution mode %q", s)
}

// Exit codes reported to the process that launched the operator.
const (
	ExitOK                = 0
	ExitGeneralError      = 1
	ExitServiceStart      = 110
	ExitServiceShutdown   = 111
	ExitResourceCreation  = 112
	ExitResourceDeletion  = 113
	ExitOperationInit     = 114
	ExitOperation         = 115
	ExitOperationShutdown = 116
	ExitFatal             = 129
	ExitInterrupted       = 130
)

// ExitCodeOf maps the cause of a failed attempt and the phase it happened
// in to the process exit code.
func ExitCodeOf(err error, phase State) int {
	switch {
	case err == nil:
		return ExitOK
	case channel.KindOf(err) == channel.KindInterrupted:
		return ExitInterrupted
	}
	return exitCodeFor(phase)
}

func exitCodeFor(s State) int {
	switch s {
	case Created:
		return ExitServiceStart
	case ResourceCreation:
		return ExitResourceCreation
	case OperationInit:
		return ExitOperationInit
	case OperationRunning:
		return ExitOperation
	case OperationShutdown:
		return ExitOperationShutdown
	case ResourceDeletion:
		return ExitResourceDeletion
	case ServiceShutdown:
		return ExitServiceShutdown
	}
	return ExitGeneralError
}
