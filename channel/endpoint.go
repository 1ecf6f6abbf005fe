package channel

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// endpoint holds what readers and writers share: resource and open state,
// the counterpart status protocol and metrics.
type endpoint struct {
	spec   Spec
	dir    Direction
	driver Driver
	log    zerolog.Logger
	peers  *PeerTracker

	created  atomic.Bool
	open     atomic.Bool
	errored  atomic.Bool
	lastBeat atomic.Int64

	counters
}

func newEndpoint(spec Spec, dir Direction, d Driver) endpoint {
	spec = spec.withDefaults()
	return endpoint{
		spec:   spec,
		dir:    dir,
		driver: d,
		log:    spec.Logger.With().Str("channel", spec.Name).Str("direction", string(dir)).Logger(),
		peers:  NewPeerTracker(spec.Options.PeerPatience, spec.Writers),
	}
}

func (e *endpoint) Name() string         { return e.spec.Name }
func (e *endpoint) Port() string         { return e.spec.Port }
func (e *endpoint) Direction() Direction { return e.dir }
func (e *endpoint) IsOpen() bool         { return e.open.Load() }

// Peers exposes the counterpart tracker.
func (e *endpoint) Peers() *PeerTracker { return e.peers }

func (e *endpoint) CreateResources(ctx context.Context) error {
	if e.created.Load() {
		return nil
	}
	if err := e.driver.CreateResources(ctx); err != nil {
		e.fail()
		return ResourceErr("create resources", e.spec.Name, err)
	}
	e.created.Store(true)
	e.log.Debug().Msg("resources created")
	return nil
}

// DeleteResources always reaches the backend since resources may be left
// over from an earlier attempt.
func (e *endpoint) DeleteResources(ctx context.Context) error {
	if err := e.driver.DeleteResources(ctx); err != nil {
		e.fail()
		return ResourceErr("delete resources", e.spec.Name, err)
	}
	e.created.Store(false)
	e.log.Debug().Msg("resources deleted")
	return nil
}

func (e *endpoint) sendStatus(ctx context.Context, status Status, payload string) {
	if e.spec.Standalone {
		return
	}
	msg := StatusMessage{
		ChannelName:        e.spec.Name,
		ChannelContextName: e.spec.Context,
		Status:             status,
		Payload:            payload,
		Timestamp:          time.Now().UnixNano(),
	}
	if err := e.driver.SendStatus(ctx, msg); err != nil {
		e.fail()
		e.log.Warn().Err(err).Str("status", string(status)).Msg("failed to send channel status")
	}
}

// ReportError tells the counterparts that this end failed with cause. It is
// sent once and only while open.
func (e *endpoint) ReportError(ctx context.Context, cause error) {
	if cause == nil || !e.open.Load() || !e.errored.CompareAndSwap(false, true) {
		return
	}
	e.sendStatus(ctx, StatusError, cause.Error())
	e.log.Debug().Err(cause).Msg("error reported to counterparts")
}

// observe pulls counterpart status messages. It returns the counterparts
// announced for the first time.
func (e *endpoint) observe(ctx context.Context) []string {
	if e.spec.Standalone {
		return nil
	}
	msgs, err := e.driver.PollStatus(ctx)
	if err != nil {
		e.fail()
		e.log.Debug().Err(err).Msg("failed to poll counterpart status")
		return nil
	}
	var fresh []string
	for _, m := range msgs {
		if m.UniqueName() == e.spec.UniqueName() {
			continue
		}
		if e.peers.Observe(m) {
			fresh = append(fresh, m.UniqueName())
			e.log.Debug().Str("peer", m.UniqueName()).Str("status", string(m.Status)).Msg("new counterpart")
		}
	}
	return fresh
}

func (e *endpoint) heartbeatDue() bool {
	if !e.open.Load() || e.spec.Standalone {
		return false
	}
	now := time.Now().UnixNano()
	last := e.lastBeat.Load()
	if now-last < e.spec.Options.HeartbeatInterval.Nanoseconds() {
		return false
	}
	return e.lastBeat.CompareAndSwap(last, now)
}

func (e *endpoint) baseStatus() StatusRecord {
	m := e.snapshot()
	m.Peers = e.peers.Seen()
	m.HealthyPeers = e.peers.Healthy()
	return StatusRecord{
		Pipeline:  e.spec.Pipeline,
		Operator:  e.spec.Context,
		Channel:   e.spec.Name,
		Port:      e.spec.Port,
		Direction: e.dir,
		Open:      e.open.Load(),
		Timestamp: time.Now(),
		Metrics:   m,
	}
}

func storeMax(v *atomic.Int64, n int64) {
	for {
		cur := v.Load()
		if n <= cur || v.CompareAndSwap(cur, n) {
			return
		}
	}
}
