package channel

import (
	"context"
	"errors"
	"math"
	"sync/atomic"

	"github.com/avast/retry-go/v4"
	"golang.org/x/time/rate"
)

// WriterChannel enforces the writer side of the contract on top of a driver.
type WriterChannel struct {
	endpoint
	driver  WriterDriver
	limiter *rate.Limiter

	started atomic.Bool
	written atomic.Int64
}

var _ Writer = (*WriterChannel)(nil)

func NewWriterChannel(spec Spec, d WriterDriver) *WriterChannel {
	w := &WriterChannel{
		endpoint: newEndpoint(spec, Output, d),
		driver:   d,
	}
	if r := w.spec.Options.RateLimit; r > 0 {
		burst := int(math.Max(math.Ceil(r), float64(w.spec.Options.MaxBatch)))
		w.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
	return w
}

// Open fails with ErrNotReady while the reader side has not provisioned the
// channel yet.
func (w *WriterChannel) Open(ctx context.Context) error {
	if w.open.Load() {
		return nil
	}
	if err := w.driver.Open(ctx); err != nil {
		w.fail()
		return ChannelErr("open", w.spec.Name, err)
	}
	w.open.Store(true)
	w.sendStatus(ctx, StatusOpened, "")
	w.log.Info().Msg("writer opened")
	return nil
}

func (w *WriterChannel) Close(ctx context.Context) error {
	if !w.open.Load() {
		return nil
	}
	flushErr := w.Flush(ctx)
	w.open.Store(false)

	// an error already told the readers this writer is done
	if w.started.Load() && !w.errored.Load() {
		w.sendStatus(ctx, StatusStopped, "")
	}
	w.sendStatus(ctx, StatusClosed, "")
	var closeErr error
	if err := w.driver.Close(ctx); err != nil {
		w.fail()
		closeErr = ChannelErr("close", w.spec.Name, err)
	}
	w.log.Info().Int64("written", w.written.Load()).Msg("writer closed")
	return errors.Join(flushErr, closeErr)
}

// Write returns once the backend accepted every record. Timeouts are retried
// up to the configured bound before they fail the write.
func (w *WriterChannel) Write(ctx context.Context, records []Record) (OffsetsWritten, error) {
	if !w.open.Load() {
		return OffsetsWritten{}, ChannelErr("write", w.spec.Name, ErrNotOpen)
	}
	if len(records) == 0 {
		return OffsetsWritten{}, nil
	}
	if w.started.CompareAndSwap(false, true) {
		w.sendStatus(ctx, StatusStarted, "")
	}
	if err := w.throttle(ctx, len(records)); err != nil {
		return OffsetsWritten{}, err
	}

	res, err := retry.DoWithData(func() (OffsetsWritten, error) {
		wctx, cancel := context.WithTimeout(ctx, w.spec.Options.WriteTimeout)
		defer cancel()
		return w.classify("write", ctx)(w.driver.Write(wctx, records))
	}, w.retryOptions(ctx, "write")...)
	if err != nil {
		w.fail()
		if ctx.Err() != nil {
			return OffsetsWritten{}, ctx.Err()
		}
		return OffsetsWritten{}, ChannelErr("write", w.spec.Name, err)
	}

	if res.Count > 0 {
		storeMax(&w.written, res.Last+1)
	}
	w.io(len(records))
	return res, nil
}

func (w *WriterChannel) Flush(ctx context.Context) error {
	if !w.open.Load() {
		return nil
	}
	err := retry.Do(func() error {
		fctx, cancel := context.WithTimeout(ctx, w.spec.Options.WriteTimeout)
		defer cancel()
		_, err := w.classify("flush", ctx)(OffsetsWritten{}, w.driver.Flush(fctx))
		return err
	}, w.retryOptions(ctx, "flush")...)
	if err != nil {
		w.fail()
		return ChannelErr("flush", w.spec.Name, err)
	}
	return nil
}

// classify turns an attempt deadline into a retryable TimeoutError while
// leaving cancellation of the caller alone.
func (w *WriterChannel) classify(op string, parent context.Context) func(OffsetsWritten, error) (OffsetsWritten, error) {
	return func(res OffsetsWritten, err error) (OffsetsWritten, error) {
		if err != nil && parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = TimeoutErr(op, w.spec.Name, err)
		}
		return res, err
	}
}

func (w *WriterChannel) retryOptions(ctx context.Context, op string) []retry.Option {
	return append(w.spec.Options.WriteRetry.Options(),
		retry.Context(ctx),
		retry.RetryIf(IsTimeout),
		retry.OnRetry(func(n uint, err error) {
			w.log.Warn().Err(err).Uint("attempt", n+1).Str("op", op).Msg("retrying after timeout")
		}),
	)
}

func (w *WriterChannel) throttle(ctx context.Context, n int) error {
	if w.limiter == nil {
		return nil
	}
	burst := w.limiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := w.limiter.WaitN(ctx, step); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ChannelErr("write", w.spec.Name, err)
		}
		n -= step
	}
	return nil
}

// Heartbeat publishes liveness and picks up reader status.
func (w *WriterChannel) Heartbeat(ctx context.Context) {
	if w.heartbeatDue() {
		w.sendStatus(ctx, StatusHealthCheck, "")
		w.observe(ctx)
	}
}

func (w *WriterChannel) WrittenOffset() int64 { return w.written.Load() }

func (w *WriterChannel) ReportStatus() StatusRecord {
	rec := w.baseStatus()
	rec.Metrics.WrittenOffset = w.written.Load()
	return rec
}
