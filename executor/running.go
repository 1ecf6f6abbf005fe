package executor

import (
	"context"
	"time"

	"github.com/tarungka/opwire/channel"
)

// operationRunning is the main loop. Records are acknowledged one by one
// after the logic accepted them and committed every CommitInterval, so a
// failure never commits past the last processed record.
func (e *Executor) operationRunning(ctx context.Context) (State, Signal) {
	gen, _ := e.op.Logic.(Generator)
	proc, _ := e.op.Logic.(Processor)
	lastCommit := time.Now()

	for {
		if ctx.Err() != nil {
			return e.interrupted(OperationRunning)
		}
		for _, ch := range e.c.Channels() {
			ch.Heartbeat(ctx)
		}
		if err := e.eachPlugin(false, func(p Plugin) error {
			if h, ok := p.(RunningHook); ok {
				return h.OnRunning(ctx, e.c)
			}
			return nil
		}); err != nil {
			return e.failRunning(ctx, processing(e.op.Name, "", 0, err))
		}

		var done bool
		var err error
		if len(e.c.inputs) == 0 {
			done, err = gen.Generate(ctx, e.c)
			if err != nil {
				err = processing(e.op.Name, "", 0, err)
			}
		} else {
			done, err = e.consume(ctx, proc)
		}
		if err != nil {
			return e.failRunning(ctx, err)
		}

		if done || time.Since(lastCommit) >= e.cfg.CommitInterval {
			if err := e.commitAcked(ctx); err != nil {
				return e.failRunning(ctx, err)
			}
			lastCommit = time.Now()
		}
		if done {
			e.log.Info().Msg("all work done")
			return OperationShutdown, SignalProceed
		}
	}
}

// consume reads one batch from every input that has not ended and hands the
// records to the logic. It reports true once every input reached end of
// stream.
func (e *Executor) consume(ctx context.Context, proc Processor) (bool, error) {
	for _, in := range e.c.inputs {
		if in.reader.EndOfStream() {
			continue
		}
		recs, err := in.reader.Read(ctx, e.cfg.ReadTimeout)
		if err != nil {
			return false, err
		}
		for _, rec := range recs {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			if err := proc.Process(ctx, in.port, rec, e.c); err != nil {
				return false, processing(e.op.Name, in.port, rec.Offset, err)
			}
			in.acked, in.ackOK = rec.Offset+1, true
		}
	}
	for _, in := range e.c.inputs {
		if !in.reader.EndOfStream() {
			return false, nil
		}
	}
	return true, nil
}

func (e *Executor) commitAcked(ctx context.Context) error {
	for _, in := range e.c.inputs {
		if !in.ackOK {
			continue
		}
		if err := in.reader.Commit(ctx, in.acked); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) failRunning(ctx context.Context, err error) (State, Signal) {
	if ctx.Err() != nil || channel.KindOf(err) == channel.KindInterrupted {
		return e.interrupted(OperationRunning)
	}
	e.fail(OperationRunning, err)
	return OperationShutdown, SignalError
}
