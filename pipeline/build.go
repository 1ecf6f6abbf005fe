package pipeline

import (
	"fmt"

	"github.com/tarungka/opwire/channel"
	"github.com/tarungka/opwire/executor"
	"github.com/tarungka/opwire/operators"
	"github.com/tarungka/opwire/spec"
)

// bind turns the graph entry of an operator into what the executor runs.
// Writers take backend and location from the input port they feed.
func bind(p *spec.Pipeline, op *spec.Operator) (executor.Operator, error) {
	logic, err := operators.New(op.Logic, op.Parameters)
	if err != nil {
		return executor.Operator{}, fmt.Errorf("operator %s: %w", op.Name, err)
	}
	out := executor.Operator{
		Name:       op.Name,
		Pipeline:   p.Name,
		Parameters: op.Parameters,
		Logic:      logic,
	}

	for _, in := range op.Inputs {
		port := executor.InputPort{
			Name:     in.Name,
			Endpoint: endpoint(in.Channel),
			Writers:  p.Writers(op.Name, in.Name),
		}
		if in.Offset != "" {
			policy, err := channel.ParseOffsetPolicy(in.Offset)
			if err != nil {
				return executor.Operator{}, fmt.Errorf("operator %s input %s: %w", op.Name, in.Name, err)
			}
			port.Policy = &policy
		}
		out.Inputs = append(out.Inputs, port)
	}

	for _, o := range op.Outputs {
		port := executor.OutputPort{Name: o.Name}
		for _, c := range o.Connects {
			opName, portName, err := spec.SplitTarget(c)
			if err != nil {
				return executor.Operator{}, err
			}
			target, ok := p.Operator(opName)
			if !ok {
				return executor.Operator{}, fmt.Errorf("operator %s: unknown target %s", op.Name, c)
			}
			in, ok := target.Input(portName)
			if !ok {
				return executor.Operator{}, fmt.Errorf("operator %s: unknown target %s", op.Name, c)
			}
			port.Targets = append(port.Targets, executor.Target{
				Operator: opName,
				Port:     portName,
				Endpoint: endpoint(in.Channel),
			})
		}
		out.Outputs = append(out.Outputs, port)
	}

	for _, ps := range op.Plugins {
		pl, err := executor.NewPlugin(ps.Type, ps.Name, ps.Parameters)
		if err != nil {
			return executor.Operator{}, fmt.Errorf("operator %s plugin %s: %w", op.Name, ps.Name, err)
		}
		out.Plugins = append(out.Plugins, executor.PluginEntry{Plugin: pl, DependsOn: ps.DependsOn})
	}

	if op.Status != nil {
		out.Status = &executor.StatusTarget{Endpoint: endpoint(op.Status.Channel), Retain: op.Status.Retained()}
	}
	return out, nil
}

func endpoint(c spec.Channel) executor.Endpoint {
	backend := c.Type
	if backend == "" {
		backend = spec.DefaultBackend
	}
	return executor.Endpoint{Backend: backend, Location: c.Location, Config: c.Config}
}
