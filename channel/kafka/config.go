package kafka

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/tarungka/opwire/channel"
	"github.com/tarungka/opwire/internal/logger"
)

// Config is decoded from the channel config block.
type Config struct {
	Brokers           []string `koanf:"brokers"`
	ClientID          string   `koanf:"client_id"`
	Partitions        int32    `koanf:"partitions"`
	ReplicationFactor int16    `koanf:"replication_factor"`
	PollRecords       int      `koanf:"poll_records"`
}

func defaultConfig() Config {
	return Config{
		ClientID:          "opwire",
		Partitions:        1,
		ReplicationFactor: 1,
	}
}

// parseConfig merges the channel config over the defaults. The location,
// a comma separated broker list, is used when no brokers are configured.
func parseConfig(spec channel.Spec) (Config, error) {
	cfg := defaultConfig()
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(spec.Config, "."), nil); err != nil {
		return cfg, fmt.Errorf("load kafka config: %w", err)
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return cfg, fmt.Errorf("decode kafka config: %w", err)
	}
	if len(cfg.Brokers) == 0 {
		cfg.Brokers = splitBrokers(spec.Location)
	}
	if len(cfg.Brokers) == 0 {
		return cfg, fmt.Errorf("no kafka brokers for channel %s", spec.Name)
	}
	if cfg.Partitions < 1 {
		cfg.Partitions = 1
	}
	if cfg.ReplicationFactor < 1 {
		cfg.ReplicationFactor = 1
	}
	if cfg.PollRecords <= 0 {
		cfg.PollRecords = spec.Options.MaxBatch
	}
	return cfg, nil
}

func splitBrokers(location string) []string {
	location = strings.TrimPrefix(location, "kafka://")
	var out []string
	for _, b := range strings.Split(location, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (c Config) clientOpts(l zerolog.Logger, extra ...kgo.Opt) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(c.Brokers...),
		kgo.ClientID(c.ClientID),
		kgo.WithLogger(logger.Kgo(l)),
	}
	return append(opts, extra...)
}
