// Package operators provides the built-in operator logics, resolved by name
// from a pipeline file.
package operators

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
	"github.com/tarungka/opwire/executor"
)

var ErrUnknownLogic = errors.New("unknown operator logic")

// Creator builds a fresh logic instance for one attempt.
type Creator func(params map[string]any) (executor.Logic, error)

type registry struct {
	mu       sync.RWMutex
	creators map[string]Creator
}

var defaultRegistry = &registry{creators: make(map[string]Creator)}

func init() {
	Register("generator", NewGenerator)
	Register("uppercase", NewUppercase)
	Register("passthrough", NewPassthrough)
	Register("counter", NewCounter)
	Register("failing", NewFailing)
}

// Register adds or replaces a logic.
func Register(name string, c Creator) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.creators[name] = c
}

func New(name string, params map[string]any) (executor.Logic, error) {
	defaultRegistry.mu.RLock()
	c, ok := defaultRegistry.creators[name]
	defaultRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLogic, name)
	}
	l, err := c(params)
	if err != nil {
		return nil, fmt.Errorf("logic %s: %w", name, err)
	}
	return l, nil
}

func Names() []string {
	defaultRegistry.mu.RLock()
	defer defaultRegistry.mu.RUnlock()
	out := make([]string, 0, len(defaultRegistry.creators))
	for n := range defaultRegistry.creators {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// decode fills out from free form parameters using koanf struct tags.
func decode(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(params, ""), nil); err != nil {
		return err
	}
	return k.Unmarshal("", out)
}
