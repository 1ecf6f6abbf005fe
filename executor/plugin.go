package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Plugin is attached to an operator. What it does is decided by the hook
// interfaces below that it implements.
type Plugin interface {
	Name() string
}

type InitHook interface {
	OnInit(ctx context.Context, c *Context) error
}

// RunningHook is called once per iteration of the main loop.
type RunningHook interface {
	OnRunning(ctx context.Context, c *Context) error
}

type ShutdownHook interface {
	OnShutdown(ctx context.Context, c *Context) error
}

// ResourceHandler provisions external resources next to the channels.
type ResourceHandler interface {
	OnResourceCreation(ctx context.Context, c *Context) error
	OnResourceDeletion(ctx context.Context, c *Context) error
}

// ServiceHandler runs in-process services for the lifetime of the attempt.
type ServiceHandler interface {
	OnServiceStart(ctx context.Context, c *Context) error
	OnServiceShutdown(ctx context.Context, c *Context) error
}

// ErrorHandler is told about the cause of a failed attempt.
type ErrorHandler interface {
	OnError(ctx context.Context, c *Context, err error)
}

// TransitionObserver sees every state transition.
type TransitionObserver interface {
	OnTransition(c *Context, t Transition)
}

// LoggerPlugin configures the operator logger. Every operator has exactly one.
type LoggerPlugin interface {
	Plugin
	Logger(base zerolog.Logger) zerolog.Logger
}

// PluginEntry attaches a plugin together with the names of the plugins it
// depends on.
type PluginEntry struct {
	Plugin    Plugin
	DependsOn []string
}

// PluginFactory builds a plugin instance from its parameters.
type PluginFactory func(name string, params map[string]any) (Plugin, error)

var (
	pluginsMu sync.RWMutex
	plugins   = make(map[string]PluginFactory)
)

func RegisterPlugin(typ string, f PluginFactory) {
	pluginsMu.Lock()
	defer pluginsMu.Unlock()
	plugins[typ] = f
}

func NewPlugin(typ, name string, params map[string]any) (Plugin, error) {
	pluginsMu.RLock()
	f, ok := plugins[typ]
	pluginsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, typ)
	}
	return f(name, params)
}

func PluginTypes() []string {
	pluginsMu.RLock()
	defer pluginsMu.RUnlock()
	out := make([]string, 0, len(plugins))
	for t := range plugins {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// resolveLevels groups plugins so that every plugin comes after the ones it
// depends on. Plugins of the same level keep their declaration order.
func resolveLevels(entries []PluginEntry) ([][]Plugin, error) {
	index := make(map[string]int, len(entries))
	for i, e := range entries {
		name := e.Plugin.Name()
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("duplicate plugin %q", name)
		}
		index[name] = i
	}

	indegree := make([]int, len(entries))
	dependents := make([][]int, len(entries))
	for i, e := range entries {
		for _, dep := range e.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("plugin %q depends on unknown plugin %q", e.Plugin.Name(), dep)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var levels [][]Plugin
	var current []int
	for i := range entries {
		if indegree[i] == 0 {
			current = append(current, i)
		}
	}
	placed := 0
	for len(current) > 0 {
		level := make([]Plugin, 0, len(current))
		var next []int
		for _, i := range current {
			level = append(level, entries[i].Plugin)
			placed++
			for _, d := range dependents[i] {
				indegree[d]--
				if indegree[d] == 0 {
					next = append(next, d)
				}
			}
		}
		sort.Ints(next)
		levels = append(levels, level)
		current = next
	}
	if placed != len(entries) {
		return nil, fmt.Errorf("plugin dependency cycle")
	}
	return levels, nil
}

// defaultLogger is attached when an operator declares no logger plugin.
type defaultLogger struct{}

func (defaultLogger) Name() string { return "default-logger" }

func (defaultLogger) Logger(base zerolog.Logger) zerolog.Logger { return base }

func flatten(levels [][]Plugin) []Plugin {
	var out []Plugin
	for _, level := range levels {
		out = append(out, level...)
	}
	return out
}
