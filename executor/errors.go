package executor

import (
	"errors"
	"fmt"

	"github.com/tarungka/opwire/channel"
)

var (
	// ErrInterrupted is the cause recorded when an attempt was interrupted.
	ErrInterrupted = errors.New("operator interrupted")

	// ErrNoLogic is returned for operators without processing logic.
	ErrNoLogic = errors.New("operator has no usable logic")

	// ErrLoggerPlugins is returned when more than one logger plugin is attached.
	ErrLoggerPlugins = errors.New("operator must have exactly one logger plugin")

	// ErrUnknownPort is returned when records are emitted to a port that does
	// not exist.
	ErrUnknownPort = errors.New("unknown output port")

	// ErrUnknownPlugin is returned when no factory is registered for a plugin type.
	ErrUnknownPlugin = errors.New("unknown plugin type")
)

// ProcessingError is a failure of operator logic or one of its plugins.
type ProcessingError struct {
	Operator string
	Port     string
	Offset   int64
	Err      error
}

func (e *ProcessingError) Error() string {
	if e.Port == "" {
		return fmt.Sprintf("processing %s: %v", e.Operator, e.Err)
	}
	return fmt.Sprintf("processing %s port %s offset %d: %v", e.Operator, e.Port, e.Offset, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func (e *ProcessingError) ErrorKind() channel.Kind { return channel.KindProcessing }

type interruptedError struct {
	cause error
}

func (e *interruptedError) Error() string {
	if e.cause == nil || errors.Is(e.cause, ErrInterrupted) {
		return ErrInterrupted.Error()
	}
	return fmt.Sprintf("%v: %v", ErrInterrupted, e.cause)
}

func (e *interruptedError) Is(target error) bool { return target == ErrInterrupted }

func (e *interruptedError) Unwrap() error { return e.cause }

func (e *interruptedError) ErrorKind() channel.Kind { return channel.KindInterrupted }

// processing keeps channel classified errors and marks everything else as
// a processing failure.
func processing(op, port string, offset int64, err error) error {
	switch channel.KindOf(err) {
	case channel.KindUnknown, channel.KindProcessing:
		var pe *ProcessingError
		if errors.As(err, &pe) {
			return err
		}
		return &ProcessingError{Operator: op, Port: port, Offset: offset, Err: err}
	}
	return err
}
