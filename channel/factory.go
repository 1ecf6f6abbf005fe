package channel

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds the drivers of one backend. Backends register themselves
// from an init function.
type Factory interface {
	NewReader(spec Spec) (ReaderDriver, error)
	NewWriter(spec Spec) (WriterDriver, error)
}

type registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var defaultRegistry = &registry{
	factories: make(map[string]Factory),
}

// Register makes a backend available under name. Registering the same name
// twice replaces the earlier factory.
func Register(name string, f Factory) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.factories[name] = f
}

func lookup(name string) (Factory, error) {
	defaultRegistry.mu.RLock()
	f, ok := defaultRegistry.factories[name]
	defaultRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return f, nil
}

// NewReader builds a reader channel on the named backend.
func NewReader(backend string, spec Spec) (*ReaderChannel, error) {
	f, err := lookup(backend)
	if err != nil {
		return nil, err
	}
	d, err := f.NewReader(spec.withDefaults())
	if err != nil {
		return nil, fmt.Errorf("%s reader %s: %w", backend, spec.Name, err)
	}
	return NewReaderChannel(spec, d), nil
}

// NewWriter builds a writer channel on the named backend.
func NewWriter(backend string, spec Spec) (*WriterChannel, error) {
	f, err := lookup(backend)
	if err != nil {
		return nil, err
	}
	d, err := f.NewWriter(spec.withDefaults())
	if err != nil {
		return nil, fmt.Errorf("%s writer %s: %w", backend, spec.Name, err)
	}
	return NewWriterChannel(spec, d), nil
}

// Backends lists the registered backend names.
func Backends() []string {
	defaultRegistry.mu.RLock()
	defer defaultRegistry.mu.RUnlock()
	names := make([]string, 0, len(defaultRegistry.factories))
	for n := range defaultRegistry.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
