package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/opwire/channel"
)

// StatusMonitor periodically snapshots the channels of one operator and
// publishes the records. It never fails the operator: publish errors, and
// even panics while collecting, are logged and dropped.
type StatusMonitor struct {
	interval time.Duration
	collect  func() []channel.StatusRecord
	log      zerolog.Logger

	// pub serializes publishes with sink changes.
	pub    sync.Mutex
	mu     sync.RWMutex
	sink   channel.Writer
	latest []channel.StatusRecord

	published uint64
	failures  uint64

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewStatusMonitor(interval time.Duration, log zerolog.Logger, collect func() []channel.StatusRecord) *StatusMonitor {
	sampled := log.Sample(&zerolog.BurstSampler{Burst: 3, Period: time.Minute})
	return &StatusMonitor{
		interval: interval,
		collect:  collect,
		log:      sampled,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// SetSink starts publishing to w. A nil w keeps records in memory only.
// It waits for a publish in flight to finish.
func (m *StatusMonitor) SetSink(w channel.Writer) {
	m.pub.Lock()
	defer m.pub.Unlock()
	m.mu.Lock()
	m.sink = w
	m.mu.Unlock()
}

func (m *StatusMonitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		go m.loop(context.WithoutCancel(ctx))
	})
}

func (m *StatusMonitor) loop(ctx context.Context) {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.publish(ctx)
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.publish(ctx)
		}
	}
}

// Stop ends the loop and publishes one last time. It is idempotent.
func (m *StatusMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.startOnce.Do(func() { close(m.doneCh) })
		<-m.doneCh
		m.publish(context.Background())
	})
}

func (m *StatusMonitor) Latest() []channel.StatusRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]channel.StatusRecord(nil), m.latest...)
}

// Stats returns how many records were published and how many publishes failed.
func (m *StatusMonitor) Stats() (published, failures uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.published, m.failures
}

func (m *StatusMonitor) publish(ctx context.Context) {
	m.pub.Lock()
	defer m.pub.Unlock()
	records, err := m.safeCollect()
	if err != nil {
		m.fail(err, "status collection failed")
		return
	}

	m.mu.Lock()
	m.latest = records
	sink := m.sink
	m.mu.Unlock()
	if sink == nil || len(records) == 0 {
		return
	}

	out := make([]channel.Record, 0, len(records))
	for _, r := range records {
		v, err := json.Marshal(r)
		if err != nil {
			m.fail(err, "status encoding failed")
			continue
		}
		out = append(out, channel.Record{Key: []byte(r.Key()), Value: v, Timestamp: r.Timestamp})
	}

	pctx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	if _, err := sink.Write(pctx, out); err != nil {
		m.fail(err, "status publish failed")
		return
	}
	m.mu.Lock()
	m.published += uint64(len(out))
	m.mu.Unlock()
}

func (m *StatusMonitor) safeCollect() (records []channel.StatusRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m.collect(), nil
}

func (m *StatusMonitor) fail(err error, msg string) {
	m.mu.Lock()
	m.failures++
	m.mu.Unlock()
	m.log.Warn().Err(err).Msg(msg)
}
