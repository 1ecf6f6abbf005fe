package spec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrInvalid = errors.New("invalid pipeline")

var validate = validator.New()

// Validate checks the fields and the graph. All problems are reported.
func (p *Pipeline) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := p.Executor.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	var errs []error
	seen := make(map[string]bool)
	for _, op := range p.Operators {
		if seen[op.Name] {
			errs = append(errs, fmt.Errorf("duplicate operator %q", op.Name))
		}
		seen[op.Name] = true

		ports := make(map[string]bool)
		// one operator feeds an input port through at most one output
		targets := make(map[string]bool)
		for _, in := range op.Inputs {
			if ports[in.Name] {
				errs = append(errs, fmt.Errorf("operator %s: duplicate port %q", op.Name, in.Name))
			}
			ports[in.Name] = true
		}
		for _, out := range op.Outputs {
			if ports[out.Name] {
				errs = append(errs, fmt.Errorf("operator %s: duplicate port %q", op.Name, out.Name))
			}
			ports[out.Name] = true
			for _, c := range out.Connects {
				if err := p.checkConnect(c); err != nil {
					errs = append(errs, fmt.Errorf("operator %s output %s: %w", op.Name, out.Name, err))
				}
				if targets[c] {
					errs = append(errs, fmt.Errorf("operator %s output %s: %s connected twice", op.Name, out.Name, c))
				}
				targets[c] = true
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func (p *Pipeline) checkConnect(target string) error {
	opName, port, err := SplitTarget(target)
	if err != nil {
		return err
	}
	op, ok := p.Operator(opName)
	if !ok {
		return fmt.Errorf("connects to unknown operator %q", opName)
	}
	if _, ok := op.Input(port); !ok {
		return fmt.Errorf("connects to unknown input port %q of %s", port, opName)
	}
	return nil
}

// SplitTarget parses <operator>.<port>.
func SplitTarget(target string) (operator, port string, err error) {
	operator, port, ok := strings.Cut(target, ".")
	if !ok || operator == "" || port == "" || strings.Contains(port, ".") {
		return "", "", fmt.Errorf("bad connection %q, want <operator>.<port>", target)
	}
	return operator, port, nil
}
