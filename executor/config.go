package executor

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tarungka/opwire/channel"
)

// Config tunes one operator attempt. Every timeout is configuration.
type Config struct {
	Mode           string        `koanf:"mode" json:"mode"`
	OffsetPolicy   string        `koanf:"offset_policy" json:"offset_policy" validate:"omitempty,oneof=stored earliest latest"`
	ReadTimeout    time.Duration `koanf:"read_timeout" json:"read_timeout" validate:"gt=0"`
	FlushTimeout   time.Duration `koanf:"flush_timeout" json:"flush_timeout" validate:"gt=0"`
	OpenTimeout    time.Duration `koanf:"open_timeout" json:"open_timeout" validate:"gt=0"`
	CleanupTimeout time.Duration `koanf:"cleanup_timeout" json:"cleanup_timeout" validate:"gt=0"`
	CommitInterval time.Duration `koanf:"commit_interval" json:"commit_interval" validate:"gte=0"`
	StatusInterval time.Duration `koanf:"status_interval" json:"status_interval" validate:"gt=0"`
	PeerPatience   time.Duration `koanf:"peer_patience" json:"peer_patience" validate:"gt=0"`
	MaxBatch       int           `koanf:"max_batch" json:"max_batch" validate:"min=1"`
	RateLimit      float64       `koanf:"rate_limit" json:"rate_limit" validate:"gte=0"`

	ResourceRetry channel.RetryPolicy `koanf:"resource_retry" json:"resource_retry"`
	WriteRetry    channel.RetryPolicy `koanf:"write_retry" json:"write_retry"`
}

func DefaultConfig() Config {
	return Config{
		Mode:           string(ModeStandard),
		OffsetPolicy:   "stored",
		ReadTimeout:    time.Second,
		FlushTimeout:   5 * time.Second,
		OpenTimeout:    30 * time.Second,
		CleanupTimeout: 30 * time.Second,
		CommitInterval: time.Second,
		StatusInterval: 2 * time.Second,
		PeerPatience:   2 * time.Minute,
		MaxBatch:       100,
		ResourceRetry:  channel.RetryPolicy{Attempts: 5, Delay: 500 * time.Millisecond, MaxDelay: 10 * time.Second},
		WriteRetry:     channel.RetryPolicy{Attempts: 3, Delay: 100 * time.Millisecond, MaxDelay: 2 * time.Second},
	}
}

var validate = validator.New()

func (c Config) Validate() error {
	if _, err := ParseMode(c.Mode); err != nil {
		return err
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid executor config: %w", err)
	}
	return nil
}

func (c Config) mode() Mode {
	m, _ := ParseMode(c.Mode)
	return m
}

func (c Config) offsetPolicy() channel.OffsetPolicy {
	p, _ := channel.ParseOffsetPolicy(c.OffsetPolicy)
	return p
}

// ChannelOptions derives the channel bookkeeping options.
func (c Config) ChannelOptions() channel.Options {
	return channel.Options{
		MaxBatch:          c.MaxBatch,
		WriteTimeout:      c.FlushTimeout,
		WriteRetry:        c.WriteRetry,
		RateLimit:         c.RateLimit,
		HeartbeatInterval: c.StatusInterval,
		PeerPatience:      c.PeerPatience,
	}
}
