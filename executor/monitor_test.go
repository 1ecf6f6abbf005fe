package executor

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/opwire/channel"
)

// sinkWriter captures what the monitor publishes.
type sinkWriter struct {
	channel.Writer
	mu   sync.Mutex
	recs []channel.Record
	err  error
}

func (s *sinkWriter) Write(_ context.Context, recs []channel.Record) (channel.OffsetsWritten, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return channel.OffsetsWritten{}, s.err
	}
	s.recs = append(s.recs, recs...)
	return channel.OffsetsWritten{Count: len(recs)}, nil
}

func (s *sinkWriter) Records() []channel.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]channel.Record(nil), s.recs...)
}

func TestStatusMonitor_Publishes(t *testing.T) {
	var n atomic.Uint64
	m := NewStatusMonitor(5*time.Millisecond, zerolog.Nop(), func() []channel.StatusRecord {
		return []channel.StatusRecord{{
			Pipeline:  "p",
			Operator:  "op",
			Port:      "in",
			Direction: channel.Input,
			Metrics:   channel.Metrics{Records: n.Add(1)},
		}}
	})
	sink := &sinkWriter{}
	m.SetSink(sink)
	m.Start(context.Background())

	require.Eventually(t, func() bool { return len(sink.Records()) >= 3 }, 2*time.Second, time.Millisecond)
	m.Stop()
	m.Stop()

	recs := sink.Records()
	assert.Equal(t, []byte("p.op.input.in.status"), recs[0].Key)
	var got channel.StatusRecord
	require.NoError(t, json.Unmarshal(recs[0].Value, &got))
	assert.Equal(t, "op", got.Operator)

	published, failures := m.Stats()
	assert.Equal(t, uint64(len(recs)), published)
	assert.Zero(t, failures)
	require.Len(t, m.Latest(), 1)
	assert.Equal(t, n.Load(), m.Latest()[0].Metrics.Records, "stop publishes a final snapshot")
}

func TestStatusMonitor_FailuresAreContained(t *testing.T) {
	var calls atomic.Int64
	m := NewStatusMonitor(time.Millisecond, zerolog.Nop(), func() []channel.StatusRecord {
		if calls.Add(1)%2 == 0 {
			panic("collector bug")
		}
		return []channel.StatusRecord{{Operator: "op"}}
	})
	m.SetSink(&sinkWriter{err: channel.ErrNotOpen})
	m.Start(context.Background())
	require.Eventually(t, func() bool { return calls.Load() > 4 }, 2*time.Second, time.Millisecond)
	m.Stop()

	published, failures := m.Stats()
	assert.Zero(t, published)
	assert.NotZero(t, failures)
}

func TestStatusMonitor_StopWithoutStart(t *testing.T) {
	m := NewStatusMonitor(time.Second, zerolog.Nop(), func() []channel.StatusRecord {
		return []channel.StatusRecord{{Operator: "op"}}
	})
	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked")
	}
	assert.Len(t, m.Latest(), 1)
}
