package spec

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/tarungka/opwire/executor"
)

// EnvPrefix marks environment overrides, e.g. OPWIRE_EXECUTOR__MODE=skip
// sets executor.mode.
const EnvPrefix = "OPWIRE_"

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	}
	return nil, fmt.Errorf("unsupported file extension %q", filepath.Ext(path))
}

// LoadFiles merges the files in order, then environment overrides, and
// returns the validated pipeline.
func LoadFiles(paths ...string) (*Pipeline, error) {
	k := koanf.New(".")
	for _, path := range paths {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("error reading %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error reading environment: %w", err)
	}
	return FromKoanf(k)
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// FromKoanf decodes a pipeline from already loaded configuration. Executor
// settings missing from k keep their defaults.
func FromKoanf(k *koanf.Koanf) (*Pipeline, error) {
	p := &Pipeline{Executor: executor.DefaultConfig()}
	if err := k.Unmarshal("", p); err != nil {
		return nil, fmt.Errorf("error decoding pipeline: %w", err)
	}
	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
