package channel

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotOpen is returned when record I/O is attempted outside the open window.
	ErrNotOpen = errors.New("channel not open")

	// ErrNotReady is returned by Open when a resource owned by the counterpart
	// has not been provisioned yet. Callers may retry.
	ErrNotReady = errors.New("channel resources not ready")

	// ErrCommitAhead is returned when a commit names an offset that was never read.
	ErrCommitAhead = errors.New("commit offset beyond read offset")

	// ErrCounterpartFailed is returned by Read once a writer of the channel
	// reported an error.
	ErrCounterpartFailed = errors.New("channel counterpart failed")

	// ErrUnknownBackend is returned when no factory is registered for a backend.
	ErrUnknownBackend = errors.New("unknown channel backend")

	// ErrTopicNotFound is returned by backends that address a missing topic.
	ErrTopicNotFound = errors.New("topic not found")
)

// Kind classifies an error for the executor's failure policy.
type Kind int

const (
	KindUnknown Kind = iota
	KindResource
	KindChannel
	KindProcessing
	KindTimeout
	KindInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindResource:
		return "ResourceError"
	case KindChannel:
		return "ChannelError"
	case KindProcessing:
		return "ProcessingError"
	case KindTimeout:
		return "TimeoutError"
	case KindInterrupted:
		return "Interrupted"
	default:
		return "UnknownError"
	}
}

// Kinder is implemented by errors that carry their own classification.
type Kinder interface {
	ErrorKind() Kind
}

// Error is a classified channel failure.
type Error struct {
	Kind    Kind
	Op      string
	Channel string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: channel %s: %s: %v", e.Kind, e.Channel, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) ErrorKind() Kind { return e.Kind }

func wrap(kind Kind, op, ch string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) && ce.Channel == ch {
		return err
	}
	return &Error{Kind: kind, Op: op, Channel: ch, Err: err}
}

func ResourceErr(op, ch string, err error) error { return wrap(KindResource, op, ch, err) }

func ChannelErr(op, ch string, err error) error { return wrap(KindChannel, op, ch, err) }

func TimeoutErr(op, ch string, err error) error { return wrap(KindTimeout, op, ch, err) }

// KindOf returns the classification of err. Context errors map to timeout
// and interrupt respectively.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var k Kinder
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindInterrupted
	}
	return KindUnknown
}

func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }
