// Package pipeline runs the operators of a pipeline that are deployed in one
// process.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/tarungka/opwire/executor"
	"github.com/tarungka/opwire/internal/logger"
	"github.com/tarungka/opwire/spec"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxOperators bounds the operators run by one process.
const DefaultMaxOperators = 32

var (
	ErrTooManyOperators = errors.New("too many operators for one process")
	ErrUnknownOperator  = errors.New("unknown operator")
	ErrNoOperators      = errors.New("no operators selected")
	ErrAlreadyRun       = errors.New("pipeline already run")
)

type Options struct {
	// Operators selects a subset to run here. Empty runs all of them.
	Operators    []string
	MaxOperators int
	// Mode overrides the execution mode of the pipeline file.
	Mode     string
	Logger   *zerolog.Logger
	Observer func(operator string, t executor.Transition)
}

// Pipeline runs one executor per selected operator.
type Pipeline struct {
	name      string
	executors []*executor.Executor
	log       zerolog.Logger
	ran       bool
	mu        sync.Mutex
}

type Result struct {
	Pipeline  string
	Operators map[string]executor.Result
	// Err is the first failure. It is nil when every operator stopped ok.
	Err error
}

func (r Result) OK() bool { return r.Err == nil }

// ExitCode prefers the code of a genuine failure over the one of operators
// that were interrupted because of it.
func (r Result) ExitCode() int {
	if r.Err == nil {
		return executor.ExitOK
	}
	code := executor.ExitGeneralError
	for _, name := range r.names() {
		res := r.Operators[name]
		switch {
		case res.OK:
		case res.ExitCode != executor.ExitInterrupted:
			return res.ExitCode
		default:
			code = res.ExitCode
		}
	}
	return code
}

func (r Result) names() []string {
	out := make([]string, 0, len(r.Operators))
	for n := range r.Operators {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func New(p *spec.Pipeline, opts Options) (*Pipeline, error) {
	l := logger.GetLogger("opwire")
	if opts.Logger != nil {
		l = *opts.Logger
	}
	l = l.With().Str("pipeline", p.Name).Logger()
	limit := opts.MaxOperators
	if limit <= 0 {
		limit = DefaultMaxOperators
	}

	selected := opts.Operators
	if len(selected) == 0 {
		selected = p.Names()
	}
	if len(selected) == 0 {
		return nil, ErrNoOperators
	}
	if len(selected) > limit {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyOperators, len(selected), limit)
	}

	cfg := p.Executor
	if opts.Mode != "" {
		cfg.Mode = opts.Mode
	}

	pl := &Pipeline{name: p.Name, log: l}
	for _, name := range selected {
		op, ok := p.Operator(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, name)
		}
		bound, err := bind(p, op)
		if err != nil {
			return nil, err
		}
		eopts := []executor.Option{executor.WithLogger(l)}
		if opts.Observer != nil {
			obs, opName := opts.Observer, name
			eopts = append(eopts, executor.WithObserver(func(t executor.Transition) { obs(opName, t) }))
		}
		e, err := executor.New(bound, cfg, eopts...)
		if err != nil {
			return nil, err
		}
		pl.executors = append(pl.executors, e)
	}
	return pl, nil
}

func (p *Pipeline) Executors() []*executor.Executor { return p.executors }

func (p *Pipeline) Executor(name string) (*executor.Executor, bool) {
	for _, e := range p.executors {
		if e.Name() == name {
			return e, true
		}
	}
	return nil, false
}

// Run starts every operator and waits for all of them. The first operator
// that stops with an error interrupts the others.
func (p *Pipeline) Run(ctx context.Context) Result {
	res := Result{Pipeline: p.name, Operators: make(map[string]executor.Result)}
	p.mu.Lock()
	if p.ran {
		p.mu.Unlock()
		res.Err = ErrAlreadyRun
		return res
	}
	p.ran = true
	p.mu.Unlock()

	p.log.Info().Int("operators", len(p.executors)).Msg("starting pipeline")
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range p.executors {
		g.Go(func() error {
			r := e.Run(gctx)
			mu.Lock()
			res.Operators[e.Name()] = r
			mu.Unlock()
			if !r.OK {
				return fmt.Errorf("operator %s: %w", e.Name(), r.Err)
			}
			return nil
		})
	}
	res.Err = g.Wait()

	if res.Err != nil {
		p.log.Err(res.Err).Int("exit_code", res.ExitCode()).Msg("pipeline stopped with error")
	} else {
		p.log.Info().Msg("pipeline stopped")
	}
	return res
}

// RunWithSignals is Run interrupted by SIGINT or SIGTERM.
func (p *Pipeline) RunWithSignals(ctx context.Context) Result {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return p.Run(ctx)
}
