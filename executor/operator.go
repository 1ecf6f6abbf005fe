package executor

import (
	"fmt"

	"github.com/tarungka/opwire/channel"
)

// Operator is the read-only description of one operator instance that the
// executor runs. It is produced from the pipeline graph.
type Operator struct {
	Name       string
	Pipeline   string
	Parameters map[string]any
	Logic      Logic
	Inputs     []InputPort
	Outputs    []OutputPort
	Plugins    []PluginEntry
	// Status is optional. Without it status records are only kept in memory.
	Status *StatusTarget
}

// Endpoint locates a channel on a backend.
type Endpoint struct {
	Backend  string
	Location string
	Config   map[string]any
}

type InputPort struct {
	Name string
	Endpoint
	// Policy overrides the configured offset policy when set.
	Policy *channel.OffsetPolicy
	// Writers is how many output ports connect to this input across the
	// whole pipeline. Zero means one.
	Writers int
}

// OutputPort fans out to one channel per connected input port.
type OutputPort struct {
	Name    string
	Targets []Target
}

type Target struct {
	Operator string
	Port     string
	Endpoint
}

type StatusTarget struct {
	Endpoint
	// Retain keeps the status topic after the attempt, for external monitors.
	Retain bool
}

// ChannelName names the channel behind an input port.
func ChannelName(pipeline, operator, port string) string {
	return fmt.Sprintf("%s.%s.%s", pipeline, operator, port)
}

func StatusChannelName(pipeline, operator string) string {
	return fmt.Sprintf("%s.%s.status", pipeline, operator)
}

func (op *Operator) validate() error {
	if op.Name == "" {
		return fmt.Errorf("operator without name")
	}
	_, isProc := op.Logic.(Processor)
	_, isGen := op.Logic.(Generator)
	switch {
	case len(op.Inputs) > 0 && !isProc:
		return fmt.Errorf("%w: %s has inputs but no processor", ErrNoLogic, op.Name)
	case len(op.Inputs) == 0 && !isGen:
		return fmt.Errorf("%w: %s has no inputs and no generator", ErrNoLogic, op.Name)
	}
	seen := make(map[string]bool)
	for _, p := range op.Inputs {
		if seen[p.Name] {
			return fmt.Errorf("operator %s: duplicate port %q", op.Name, p.Name)
		}
		seen[p.Name] = true
	}
	for _, p := range op.Outputs {
		if seen[p.Name] {
			return fmt.Errorf("operator %s: duplicate port %q", op.Name, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
