package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/tarungka/opwire/channel"
)

type inputBinding struct {
	port   string
	reader channel.Reader
	// acked is the offset after the last record the logic accepted.
	acked int64
	ackOK bool
}

type outputBinding struct {
	port    string
	writers []channel.Writer
}

// Context is the per attempt runtime state of an operator. Plugins and logic
// reach channels only through it.
type Context struct {
	op      *Operator
	attempt string
	log     zerolog.Logger
	cfg     Config

	runCtx context.Context
	cancel context.CancelCauseFunc

	inputs  []*inputBinding
	outputs []*outputBinding
	status  channel.Writer
	opened  []channel.Channel

	// snapshot is the channel set once built, for readers off the run goroutine.
	snapshot atomic.Pointer[[]channel.Channel]

	levels  [][]Plugin
	monitor *StatusMonitor
	phase   atomic.Int32

	mu         sync.Mutex
	cause      error
	causePhase State
}

func (c *Context) Operator() *Operator     { return c.op }
func (c *Context) Name() string            { return c.op.Name }
func (c *Context) Pipeline() string        { return c.op.Pipeline }
func (c *Context) Attempt() string         { return c.attempt }
func (c *Context) Logger() *zerolog.Logger { return &c.log }
func (c *Context) Config() Config          { return c.cfg }
func (c *Context) Phase() State            { return State(c.phase.Load()) }

func (c *Context) Param(key string) (any, bool) {
	v, ok := c.op.Parameters[key]
	return v, ok
}

// Reader returns the channel of an input port once resources exist.
func (c *Context) Reader(port string) (channel.Reader, bool) {
	for _, in := range c.inputs {
		if in.port == port {
			return in.reader, true
		}
	}
	return nil, false
}

func (c *Context) Writers(port string) []channel.Writer {
	for _, out := range c.outputs {
		if out.port == port {
			return out.writers
		}
	}
	return nil
}

// Channels lists every data channel in declaration order, inputs first.
func (c *Context) Channels() []channel.Channel {
	var out []channel.Channel
	for _, in := range c.inputs {
		out = append(out, in.reader)
	}
	for _, o := range c.outputs {
		for _, w := range o.writers {
			out = append(out, w)
		}
	}
	return out
}

// Plugins lists plugins in dependency order.
func (c *Context) Plugins() []Plugin {
	return flatten(c.levels)
}

// StatusRecords returns the last records published by the status monitor.
func (c *Context) StatusRecords() []channel.StatusRecord {
	if c.monitor == nil {
		return nil
	}
	return c.monitor.Latest()
}

// Failure returns the first error of the attempt and the phase it happened
// in. err is nil while the attempt is healthy.
func (c *Context) Failure() (phase State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.causePhase, c.cause
}

func (c *Context) setFailure(err error, phase State) {
	c.mu.Lock()
	c.cause, c.causePhase = err, phase
	c.mu.Unlock()
}

// Interrupt asks the attempt to unwind. It is safe to call from any goroutine.
func (c *Context) Interrupt(cause error) {
	if cause == nil {
		cause = ErrInterrupted
	}
	c.cancel(cause)
}

func (c *Context) Interrupted() bool { return c.runCtx.Err() != nil }

func (c *Context) interruptCause() error {
	cause := context.Cause(c.runCtx)
	if cause == nil || errors.Is(cause, context.Canceled) {
		return &interruptedError{}
	}
	return &interruptedError{cause: cause}
}

// Emit implements Emitter for the operator logic.
func (c *Context) Emit(ctx context.Context, port string, records ...channel.Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, o := range c.outputs {
		if o.port != port {
			continue
		}
		for _, w := range o.writers {
			if _, err := w.Write(ctx, records); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownPort, port)
}
