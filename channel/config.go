package channel

import (
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
)

// RetryPolicy bounds a retried operation.
type RetryPolicy struct {
	Attempts uint          `koanf:"attempts" json:"attempts" validate:"min=1"`
	Delay    time.Duration `koanf:"delay" json:"delay"`
	MaxDelay time.Duration `koanf:"max_delay" json:"max_delay"`
}

func (p RetryPolicy) Options() []retry.Option {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	opts := []retry.Option{
		retry.Attempts(attempts),
		retry.Delay(p.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	}
	if p.MaxDelay > 0 {
		opts = append(opts, retry.MaxDelay(p.MaxDelay))
	}
	return opts
}

// Options tune the shared channel bookkeeping.
type Options struct {
	MaxBatch          int
	WriteTimeout      time.Duration
	WriteRetry        RetryPolicy
	RateLimit         float64 // records per second, 0 disables
	HeartbeatInterval time.Duration
	PeerPatience      time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxBatch:          100,
		WriteTimeout:      5 * time.Second,
		WriteRetry:        RetryPolicy{Attempts: 3, Delay: 100 * time.Millisecond, MaxDelay: 2 * time.Second},
		HeartbeatInterval: 2 * time.Second,
		PeerPatience:      2 * time.Minute,
	}
}

// Spec identifies one end of a channel and where its backend lives.
type Spec struct {
	// Name is shared by the reader and all writers of the channel.
	Name string
	// Context is the operator owning this end.
	Context  string
	Pipeline string
	Port     string
	Location string
	Config   map[string]any
	// Writers is the number of writers connected to a reader end. End of
	// stream waits until that many have been seen.
	Writers int
	// Standalone writers own their topic and skip the counterpart protocol.
	Standalone bool
	Options    Options
	Logger     zerolog.Logger
}

func (s Spec) UniqueName() string { return UniqueName(s.Name, s.Context) }

func (s Spec) withDefaults() Spec {
	d := DefaultOptions()
	if s.Options.MaxBatch <= 0 {
		s.Options.MaxBatch = d.MaxBatch
	}
	if s.Options.WriteTimeout <= 0 {
		s.Options.WriteTimeout = d.WriteTimeout
	}
	if s.Options.WriteRetry.Attempts == 0 {
		s.Options.WriteRetry = d.WriteRetry
	}
	if s.Options.HeartbeatInterval <= 0 {
		s.Options.HeartbeatInterval = d.HeartbeatInterval
	}
	if s.Options.PeerPatience <= 0 {
		s.Options.PeerPatience = d.PeerPatience
	}
	return s
}
