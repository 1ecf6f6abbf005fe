package channel

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is a lifecycle signal exchanged between the two ends of a channel.
type Status string

const (
	StatusOpened       Status = "opened"
	StatusStarted      Status = "started"
	StatusStopped      Status = "stopped"
	StatusClosed       Status = "closed"
	StatusHealthCheck  Status = "health_check"
	StatusError        Status = "error"
	StatusAcknowledged Status = "acknowledged"
)

// StatusMessage is published on the status topics of a channel.
type StatusMessage struct {
	ChannelName        string `json:"channel_name"`
	ChannelContextName string `json:"channel_context_name"`
	Status             Status `json:"status"`
	Payload            string `json:"payload,omitempty"`
	// Timestamp in unix nanoseconds.
	Timestamp int64 `json:"timestamp"`
}

// UniqueName identifies one end of a channel across the pipeline.
func (m StatusMessage) UniqueName() string {
	return UniqueName(m.ChannelName, m.ChannelContextName)
}

func UniqueName(channel, context string) string {
	return fmt.Sprintf("%s@%s", channel, context)
}

func (m StatusMessage) Marshal() ([]byte, error) { return json.Marshal(m) }

func UnmarshalStatus(b []byte) (StatusMessage, error) {
	var m StatusMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

type peer struct {
	status  Status
	payload string
	updated int64 // ns
}

// PeerTracker keeps the last known status of every counterpart of a channel.
type PeerTracker struct {
	mu       sync.RWMutex
	patience time.Duration
	expected int
	now      func() time.Time
	peers    map[string]*peer
}

// NewPeerTracker tracks counterparts that go silent after patience. Done
// waits for at least expected counterparts; values below one mean one.
func NewPeerTracker(patience time.Duration, expected int) *PeerTracker {
	return &PeerTracker{
		patience: patience,
		expected: max(expected, 1),
		now:      time.Now,
		peers:    make(map[string]*peer),
	}
}

// Expected returns how many counterparts Done waits for.
func (t *PeerTracker) Expected() int { return t.expected }

// Observe records msg and reports whether it announced a counterpart not seen
// before. Messages older than the last one seen are ignored. An error status
// sticks until the counterpart opens or starts again.
func (t *PeerTracker) Observe(msg StatusMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	name := msg.UniqueName()
	p, ok := t.peers[name]
	if !ok {
		t.peers[name] = &peer{status: msg.Status, payload: msg.Payload, updated: msg.Timestamp}
		return true
	}
	if msg.Timestamp < p.updated {
		return false
	}
	p.updated = msg.Timestamp
	if p.status == StatusError && msg.Status != StatusOpened && msg.Status != StatusStarted {
		return false
	}
	// health checks refresh liveness only
	if msg.Status != StatusHealthCheck {
		p.status = msg.Status
		p.payload = msg.Payload
	}
	return false
}

func (t *PeerTracker) healthy(p *peer) bool {
	return t.now().UnixNano()-p.updated <= t.patience.Nanoseconds()
}

// Seen returns the number of counterparts ever observed.
func (t *PeerTracker) Seen() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

func (t *PeerTracker) Healthy() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, p := range t.peers {
		if t.healthy(p) {
			n++
		}
	}
	return n
}

// Done reports whether every expected counterpart was seen and none of them
// can produce anything anymore.
func (t *PeerTracker) Done() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.peers) < t.expected {
		return false
	}
	for _, p := range t.peers {
		switch p.status {
		case StatusStopped, StatusClosed, StatusError:
			continue
		}
		if t.healthy(p) {
			return false
		}
	}
	return true
}

// Failed returns the first counterpart, in name order, whose last status is
// an error, along with the payload it reported.
func (t *PeerTracker) Failed() (name, payload string, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for n, p := range t.peers {
		if p.status != StatusError {
			continue
		}
		if !ok || n < name {
			name, payload, ok = n, p.payload, true
		}
	}
	return name, payload, ok
}

// Status returns the last status of the named counterpart.
func (t *PeerTracker) Status(uniqueName string) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[uniqueName]
	if !ok {
		return "", false
	}
	return p.status, true
}

func (t *PeerTracker) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.peers))
	for n := range t.peers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
