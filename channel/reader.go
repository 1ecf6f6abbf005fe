package channel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ReaderChannel enforces the reader side of the contract on top of a driver.
type ReaderChannel struct {
	endpoint
	driver ReaderDriver
	policy OffsetPolicy

	readOffset atomic.Int64
	committed  atomic.Int64
	eos        atomic.Bool
}

var _ Reader = (*ReaderChannel)(nil)

func NewReaderChannel(spec Spec, d ReaderDriver) *ReaderChannel {
	return &ReaderChannel{
		endpoint: newEndpoint(spec, Input, d),
		driver:   d,
	}
}

// SetInitialOffset applies immediately when open, otherwise on Open.
func (r *ReaderChannel) SetInitialOffset(ctx context.Context, policy OffsetPolicy) error {
	r.policy = policy
	if !r.open.Load() {
		return nil
	}
	return r.seek(ctx)
}

func (r *ReaderChannel) seek(ctx context.Context) error {
	off, err := r.driver.Seek(ctx, r.policy)
	if err != nil {
		return ChannelErr("seek", r.spec.Name, err)
	}
	r.readOffset.Store(off)
	storeMax(&r.committed, off)
	r.log.Debug().Str("policy", r.policy.String()).Int64("offset", off).Msg("initial offset set")
	return nil
}

func (r *ReaderChannel) Open(ctx context.Context) error {
	if r.open.Load() {
		return nil
	}
	if err := r.driver.Open(ctx); err != nil {
		r.fail()
		return ChannelErr("open", r.spec.Name, err)
	}
	if err := r.seek(ctx); err != nil {
		_ = r.driver.Close(ctx)
		return err
	}
	r.open.Store(true)
	r.sendStatus(ctx, StatusOpened, "")
	r.log.Info().Int64("offset", r.readOffset.Load()).Msg("reader opened")
	return nil
}

func (r *ReaderChannel) Close(ctx context.Context) error {
	if !r.open.CompareAndSwap(true, false) {
		return nil
	}
	r.sendStatus(ctx, StatusClosed, "")
	if err := r.driver.Close(ctx); err != nil {
		r.fail()
		return ChannelErr("close", r.spec.Name, err)
	}
	r.log.Info().Int64("committed", r.committed.Load()).Msg("reader closed")
	return nil
}

// Read returns at most one batch. A poll timeout yields an empty result.
// Counterpart status is checked before the data poll so that an empty poll
// after every writer stopped marks the end of the stream.
func (r *ReaderChannel) Read(ctx context.Context, timeout time.Duration) ([]Record, error) {
	if !r.open.Load() {
		return nil, ChannelErr("read", r.spec.Name, ErrNotOpen)
	}
	for _, name := range r.observe(ctx) {
		r.sendStatus(ctx, StatusAcknowledged, name)
	}
	if name, payload, failed := r.peers.Failed(); failed {
		r.fail()
		return nil, ChannelErr("read", r.spec.Name, fmt.Errorf("%w: %s: %s", ErrCounterpartFailed, name, payload))
	}
	done := r.peers.Done()

	pctx, cancel := context.WithTimeout(ctx, timeout)
	records, err := r.driver.Poll(pctx, r.spec.Options.MaxBatch)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, context.DeadlineExceeded) && !IsTimeout(err) {
			r.fail()
			return nil, ChannelErr("read", r.spec.Name, err)
		}
		records = nil
	}
	if len(records) == 0 {
		if done {
			r.eos.Store(true)
		}
		return nil, nil
	}

	storeMax(&r.readOffset, records[len(records)-1].Offset+1)
	r.io(len(records))
	return records, nil
}

// Commit moves the durable cursor to offset, the next offset to read on
// restart. Lower offsets are ignored.
func (r *ReaderChannel) Commit(ctx context.Context, offset int64) error {
	if !r.open.Load() {
		return ChannelErr("commit", r.spec.Name, ErrNotOpen)
	}
	if read := r.readOffset.Load(); offset > read {
		return ChannelErr("commit", r.spec.Name, fmt.Errorf("%w: %d > %d", ErrCommitAhead, offset, read))
	}
	cur := r.committed.Load()
	if offset < cur {
		r.log.Warn().Int64("offset", offset).Int64("committed", cur).Msg("ignoring commit below committed offset")
		return nil
	}
	if offset == cur {
		return nil
	}
	if err := r.driver.CommitOffset(ctx, offset); err != nil {
		r.fail()
		return ChannelErr("commit", r.spec.Name, err)
	}
	storeMax(&r.committed, offset)
	return nil
}

func (r *ReaderChannel) CommitCurrentOffset(ctx context.Context) error {
	return r.Commit(ctx, r.readOffset.Load())
}

func (r *ReaderChannel) ReadOffset() int64      { return r.readOffset.Load() }
func (r *ReaderChannel) CommittedOffset() int64 { return r.committed.Load() }
func (r *ReaderChannel) EndOfStream() bool      { return r.eos.Load() }

func (r *ReaderChannel) Heartbeat(ctx context.Context) {
	if r.heartbeatDue() {
		r.sendStatus(ctx, StatusHealthCheck, "")
	}
}

func (r *ReaderChannel) ReportStatus() StatusRecord {
	rec := r.baseStatus()
	rec.Metrics.ReadOffset = r.readOffset.Load()
	rec.Metrics.CommittedOffset = r.committed.Load()
	rec.Metrics.EndOfStream = r.eos.Load()
	return rec
}
