// Package spec holds the read-only pipeline graph the executor runs.
package spec

import (
	"github.com/tarungka/opwire/executor"
)

// DefaultBackend is used by inputs that name no channel type.
const DefaultBackend = "local"

type Pipeline struct {
	Name      string          `koanf:"name" json:"name" validate:"required"`
	Executor  executor.Config `koanf:"executor" json:"executor"`
	Operators []Operator      `koanf:"operators" json:"operators" validate:"required,min=1,dive"`
}

type Operator struct {
	Name       string         `koanf:"name" json:"name" validate:"required,excludesall=.@ "`
	Logic      string         `koanf:"logic" json:"logic" validate:"required"`
	Parameters map[string]any `koanf:"parameters" json:"parameters,omitempty"`
	Inputs     []Input        `koanf:"inputs" json:"inputs,omitempty" validate:"dive"`
	Outputs    []Output       `koanf:"outputs" json:"outputs,omitempty" validate:"dive"`
	Plugins    []PluginSpec   `koanf:"plugins" json:"plugins,omitempty" validate:"dive"`
	Status     *Status        `koanf:"status" json:"status,omitempty"`
}

// Channel locates the backend of an input port. Writers connected to the
// port use the same backend and location.
type Channel struct {
	Type     string         `koanf:"type" json:"type"`
	Location string         `koanf:"location" json:"location,omitempty"`
	Config   map[string]any `koanf:"config" json:"config,omitempty"`
}

type Input struct {
	Name    string  `koanf:"name" json:"name" validate:"required,excludesall=.@ "`
	Channel Channel `koanf:"channel" json:"channel"`
	// Offset overrides the pipeline offset policy for this port.
	Offset string `koanf:"offset" json:"offset,omitempty" validate:"omitempty,oneof=stored earliest latest"`
}

type Output struct {
	Name string `koanf:"name" json:"name" validate:"required,excludesall=.@ "`
	// Connects lists input ports as <operator>.<port>.
	Connects []string `koanf:"connects" json:"connects" validate:"dive,required"`
}

type PluginSpec struct {
	Name       string         `koanf:"name" json:"name" validate:"required"`
	Type       string         `koanf:"type" json:"type" validate:"required"`
	DependsOn  []string       `koanf:"depends_on" json:"depends_on,omitempty"`
	Parameters map[string]any `koanf:"parameters" json:"parameters,omitempty"`
}

// Status enables the status channel of an operator.
type Status struct {
	Channel Channel `koanf:"channel" json:"channel"`
	// Retain keeps the status topic after the run. It defaults to true.
	Retain *bool `koanf:"retain" json:"retain,omitempty"`
}

func (s *Status) Retained() bool { return s.Retain == nil || *s.Retain }

func (p *Pipeline) Operator(name string) (*Operator, bool) {
	for i := range p.Operators {
		if p.Operators[i].Name == name {
			return &p.Operators[i], true
		}
	}
	return nil, false
}

func (o *Operator) Input(port string) (*Input, bool) {
	for i := range o.Inputs {
		if o.Inputs[i].Name == port {
			return &o.Inputs[i], true
		}
	}
	return nil, false
}

// Writers counts the output ports of the whole graph connected to the
// given input port, whichever process runs them.
func (p *Pipeline) Writers(operator, port string) int {
	target := operator + "." + port
	n := 0
	for _, op := range p.Operators {
		for _, out := range op.Outputs {
			for _, c := range out.Connects {
				if c == target {
					n++
				}
			}
		}
	}
	return n
}

// Names returns the operator names in declaration order.
func (p *Pipeline) Names() []string {
	out := make([]string, len(p.Operators))
	for i, o := range p.Operators {
		out[i] = o.Name
	}
	return out
}

func (p *Pipeline) applyDefaults() {
	for i := range p.Operators {
		op := &p.Operators[i]
		for j := range op.Inputs {
			if op.Inputs[j].Channel.Type == "" {
				op.Inputs[j].Channel.Type = DefaultBackend
			}
		}
		if op.Status != nil && op.Status.Channel.Type == "" {
			op.Status.Channel.Type = DefaultBackend
		}
	}
}
