package channel

import (
	"fmt"
	"sync/atomic"
	"time"
)

// StatusRecord is a point in time health snapshot of one channel.
type StatusRecord struct {
	Pipeline  string    `json:"pipeline"`
	Operator  string    `json:"operator"`
	Channel   string    `json:"channel"`
	Port      string    `json:"port"`
	Direction Direction `json:"direction"`
	Phase     string    `json:"phase"`
	Open      bool      `json:"open"`
	Timestamp time.Time `json:"timestamp"`
	Metrics   Metrics   `json:"metrics"`
}

// Key follows <pipeline>.<operator>.<direction>.<port>.status.
func (r StatusRecord) Key() string {
	return fmt.Sprintf("%s.%s.%s.%s.status", r.Pipeline, r.Operator, r.Direction, r.Port)
}

type Metrics struct {
	Records         uint64    `json:"records"`
	Batches         uint64    `json:"batches"`
	Errors          uint64    `json:"errors"`
	ReadOffset      int64     `json:"read_offset,omitempty"`
	CommittedOffset int64     `json:"committed_offset,omitempty"`
	WrittenOffset   int64     `json:"written_offset,omitempty"`
	LastIO          time.Time `json:"last_io,omitempty"`
	Peers           int       `json:"peers"`
	HealthyPeers    int       `json:"healthy_peers"`
	EndOfStream     bool      `json:"end_of_stream,omitempty"`
}

type counters struct {
	records atomic.Uint64
	batches atomic.Uint64
	errors  atomic.Uint64
	lastIO  atomic.Int64
}

func (c *counters) io(n int) {
	c.records.Add(uint64(n))
	c.batches.Add(1)
	c.lastIO.Store(time.Now().UnixNano())
}

func (c *counters) fail() { c.errors.Add(1) }

func (c *counters) snapshot() Metrics {
	m := Metrics{
		Records: c.records.Load(),
		Batches: c.batches.Load(),
		Errors:  c.errors.Load(),
	}
	if ts := c.lastIO.Load(); ts > 0 {
		m.LastIO = time.Unix(0, ts)
	}
	return m
}
