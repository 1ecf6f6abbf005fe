package executor

import (
	"fmt"

	"github.com/tarungka/opwire/channel"
)

// Result is the terminal state of one attempt.
type Result struct {
	Operator string
	Attempt  string
	State    State
	OK       bool
	// Kind and Phase describe the first failure.
	Kind     channel.Kind
	Phase    State
	Err      error
	ExitCode int
}

func (r Result) String() string {
	if r.OK {
		return "StoppedOk"
	}
	return fmt.Sprintf("StoppedWithError(%s: %v)", r.Kind, r.Err)
}
