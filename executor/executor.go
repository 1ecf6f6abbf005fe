package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tarungka/opwire/channel"
	"github.com/tarungka/opwire/internal/logger"
)

// ErrAlreadyRun is returned by Run when the executor was used before. Each
// attempt needs a new executor.
var ErrAlreadyRun = errors.New("executor already run")

type Option func(*Executor)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.base = l }
}

// WithObserver registers fn for every transition. fn runs on the operator
// goroutine and must not block.
func WithObserver(fn func(Transition)) Option {
	return func(e *Executor) { e.observers = append(e.observers, fn) }
}

// Executor drives one operator attempt through its lifecycle.
type Executor struct {
	op        *Operator
	cfg       Config
	base      zerolog.Logger
	log       zerolog.Logger
	levels    [][]Plugin
	observers []func(Transition)

	c     *Context
	cur   atomic.Pointer[Context]
	built bool
	ran   atomic.Bool
	state atomic.Int32

	mu      sync.Mutex
	history []Transition

	cause      error
	causePhase State
	cleanup    []error
}

func New(op Operator, cfg Config, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := op.validate(); err != nil {
		return nil, err
	}

	entries := append([]PluginEntry(nil), op.Plugins...)
	loggers := 0
	for _, pe := range entries {
		if _, ok := pe.Plugin.(LoggerPlugin); ok {
			loggers++
		}
	}
	switch {
	case loggers > 1:
		return nil, fmt.Errorf("%w: %s has %d", ErrLoggerPlugins, op.Name, loggers)
	case loggers == 0:
		entries = append([]PluginEntry{{Plugin: defaultLogger{}}}, entries...)
	}
	levels, err := resolveLevels(entries)
	if err != nil {
		return nil, fmt.Errorf("operator %s: %w", op.Name, err)
	}
	op.Plugins = entries

	e := &Executor{
		op:     &op,
		cfg:    cfg,
		base:   logger.GetLogger("opwire"),
		levels: levels,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func (e *Executor) Name() string { return e.op.Name }

func (e *Executor) State() State { return State(e.state.Load()) }

// Context returns the execution context of the attempt once Run started.
func (e *Executor) Context() *Context { return e.cur.Load() }

// Interrupt unwinds a running attempt. It does nothing before Run.
func (e *Executor) Interrupt(cause error) {
	if c := e.cur.Load(); c != nil {
		c.Interrupt(cause)
	}
}

func (e *Executor) Transitions() []Transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Transition(nil), e.history...)
}

// Run blocks until the attempt reached Stopped. Cancelling ctx interrupts it;
// cleanup phases still run.
func (e *Executor) Run(ctx context.Context) Result {
	if !e.ran.CompareAndSwap(false, true) {
		return Result{Operator: e.op.Name, State: e.State(), Err: ErrAlreadyRun, ExitCode: ExitGeneralError}
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	e.c = e.newContext(runCtx, cancel)
	e.cur.Store(e.c)
	e.c.monitor = NewStatusMonitor(e.cfg.StatusInterval, logger.Component(e.log, "status"), e.collect)

	mode := e.cfg.mode()
	if mode == ModeSkip {
		e.transition(Created, Stopped, SignalMode)
		return e.finish()
	}

	next, sig := ResourceCreation, SignalProceed
	if err := e.startServices(runCtx); err != nil {
		e.fail(Created, err)
		next, sig = ServiceShutdown, SignalError
	} else if mode == ModeResourceDeletionOnly {
		next, sig = ResourceDeletion, SignalMode
	}
	e.c.monitor.Start(runCtx)

	cur := Created
	for cur != Stopped {
		e.transition(cur, next, sig)
		cur = next
		next, sig = e.step(runCtx, cur)
	}
	return e.finish()
}

func (e *Executor) newContext(runCtx context.Context, cancel context.CancelCauseFunc) *Context {
	attempt := uuid.NewString()
	if id, err := uuid.NewV7(); err == nil {
		attempt = id.String()
	}
	base := e.base
	for _, p := range flatten(e.levels) {
		if lp, ok := p.(LoggerPlugin); ok {
			base = lp.Logger(base)
		}
	}
	e.log = base.With().
		Str("pipeline", e.op.Pipeline).
		Str("operator", e.op.Name).
		Str("attempt", attempt).
		Logger()
	return &Context{
		op:      e.op,
		attempt: attempt,
		log:     e.log,
		cfg:     e.cfg,
		runCtx:  runCtx,
		cancel:  cancel,
		levels:  e.levels,
	}
}

func (e *Executor) step(ctx context.Context, s State) (State, Signal) {
	switch s {
	case ResourceCreation:
		return e.resourceCreation(ctx)
	case OperationInit:
		return e.operationInit(ctx)
	case OperationRunning:
		return e.operationRunning(ctx)
	case OperationShutdown:
		return e.operationShutdown(ctx)
	case ResourceDeletion:
		return e.resourceDeletion(ctx)
	case ServiceShutdown:
		return e.serviceShutdown(ctx)
	}
	return Stopped, SignalProceed
}

func (e *Executor) transition(from, to State, sig Signal) {
	t := Transition{From: from, To: to, Signal: sig, At: time.Now()}
	if sig == SignalError || sig == SignalInterrupt {
		t.Err = e.cause
	}
	e.mu.Lock()
	e.history = append(e.history, t)
	e.mu.Unlock()
	e.state.Store(int32(to))
	e.c.phase.Store(int32(to))

	e.log.Info().Str("from", from.String()).Str("to", to.String()).Str("signal", string(sig)).Msg(t.String())
	for _, fn := range e.observers {
		fn(t)
	}
	for _, p := range e.c.Plugins() {
		if o, ok := p.(TransitionObserver); ok {
			o.OnTransition(e.c, t)
		}
	}
}

// fail records the first error as the cause of the attempt. Later errors
// come from cleanup steps and are kept alongside.
func (e *Executor) fail(phase State, err error) {
	if err == nil {
		return
	}
	if e.cause != nil {
		e.cleanup = append(e.cleanup, err)
		e.log.Warn().Err(err).Str("phase", phase.String()).Msg("cleanup step failed")
		return
	}
	e.cause, e.causePhase = err, phase
	e.c.setFailure(err, phase)
	if channel.KindOf(err) == channel.KindInterrupted {
		e.log.Warn().Err(err).Str("phase", phase.String()).Msg("operator interrupted")
	} else {
		e.log.Err(err).Str("phase", phase.String()).Str("kind", channel.KindOf(err).String()).Msg("operator failed")
	}

	ctx, cancel := e.cleanupCtx()
	defer cancel()
	if channel.KindOf(err) != channel.KindInterrupted {
		for _, ch := range e.c.Channels() {
			if r, ok := ch.(channel.ErrorReporter); ok {
				r.ReportError(ctx, err)
			}
		}
	}
	for _, p := range e.c.Plugins() {
		if h, ok := p.(ErrorHandler); ok {
			h.OnError(ctx, e.c, err)
		}
	}
}

func (e *Executor) interrupted(phase State) (State, Signal) {
	e.fail(phase, e.c.interruptCause())
	switch phase {
	case ResourceCreation:
		return ResourceDeletion, SignalInterrupt
	default:
		return OperationShutdown, SignalInterrupt
	}
}

// cleanupCtx survives interruption so teardown can finish.
func (e *Executor) cleanupCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(e.c.runCtx), e.cfg.CleanupTimeout)
}

func (e *Executor) finish() Result {
	res := Result{
		Operator: e.op.Name,
		Attempt:  e.c.attempt,
		State:    e.State(),
		ExitCode: ExitOK,
		OK:       e.cause == nil,
	}
	if e.cause != nil {
		res.Kind = channel.KindOf(e.cause)
		res.Phase = e.causePhase
		res.Err = errors.Join(append([]error{e.cause}, e.cleanup...)...)
		res.ExitCode = ExitCodeOf(e.cause, e.causePhase)
		e.log.Error().Err(res.Err).Int("exit_code", res.ExitCode).Msg(res.String())
	} else {
		e.log.Info().Msg(res.String())
	}
	return res
}

func (e *Executor) startServices(ctx context.Context) error {
	for _, level := range e.levels {
		for _, p := range level {
			if s, ok := p.(ServiceHandler); ok {
				if err := s.OnServiceStart(ctx, e.c); err != nil {
					return &ProcessingError{Operator: e.op.Name, Err: fmt.Errorf("plugin %s: service start: %w", p.Name(), err)}
				}
			}
		}
	}
	return nil
}

// eachPlugin calls fn for every plugin, level by level, or in reverse.
func (e *Executor) eachPlugin(reverse bool, fn func(Plugin) error) error {
	plugins := e.c.Plugins()
	var errs []error
	for i := range plugins {
		p := plugins[i]
		if reverse {
			p = plugins[len(plugins)-1-i]
		}
		if err := fn(p); err != nil {
			if !reverse {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Executor) channelSpec(name, port string, ep Endpoint) channel.Spec {
	return channel.Spec{
		Name:     name,
		Context:  e.op.Name,
		Pipeline: e.op.Pipeline,
		Port:     port,
		Location: ep.Location,
		Config:   ep.Config,
		Options:  e.cfg.ChannelOptions(),
		Logger:   e.log,
	}
}

// buildChannels realizes one channel instance per port and target.
func (e *Executor) buildChannels() error {
	if e.built {
		return nil
	}
	c := e.c
	for _, in := range e.op.Inputs {
		name := ChannelName(e.op.Pipeline, e.op.Name, in.Name)
		spec := e.channelSpec(name, in.Name, in.Endpoint)
		spec.Writers = in.Writers
		r, err := channel.NewReader(in.Backend, spec)
		if err != nil {
			return channel.ResourceErr("build", name, err)
		}
		c.inputs = append(c.inputs, &inputBinding{port: in.Name, reader: r})
	}
	for _, out := range e.op.Outputs {
		b := &outputBinding{port: out.Name}
		for _, t := range out.Targets {
			name := ChannelName(e.op.Pipeline, t.Operator, t.Port)
			w, err := channel.NewWriter(t.Backend, e.channelSpec(name, out.Name, t.Endpoint))
			if err != nil {
				return channel.ResourceErr("build", name, err)
			}
			b.writers = append(b.writers, w)
		}
		c.outputs = append(c.outputs, b)
	}
	if st := e.op.Status; st != nil {
		name := StatusChannelName(e.op.Pipeline, e.op.Name)
		spec := e.channelSpec(name, "status", st.Endpoint)
		spec.Standalone = true
		w, err := channel.NewWriter(st.Backend, spec)
		if err != nil {
			return channel.ResourceErr("build", name, err)
		}
		c.status = w
	}
	chs := c.Channels()
	c.snapshot.Store(&chs)
	e.built = true
	return nil
}

func (e *Executor) resourceCreation(ctx context.Context) (State, Signal) {
	if err := e.buildChannels(); err != nil {
		e.fail(ResourceCreation, err)
		return ResourceDeletion, SignalError
	}

	targets := e.c.Channels()
	if e.c.status != nil {
		targets = append(targets, e.c.status)
	}
	for _, ch := range targets {
		err := retry.Do(func() error {
			return ch.CreateResources(ctx)
		}, append(e.cfg.ResourceRetry.Options(),
			retry.Context(ctx),
			retry.RetryIf(func(error) bool { return ctx.Err() == nil }),
			retry.OnRetry(func(n uint, err error) {
				e.log.Warn().Err(err).Str("channel", ch.Name()).Uint("attempt", n+1).Msg("retrying resource creation")
			}),
		)...)
		if ctx.Err() != nil {
			return e.interrupted(ResourceCreation)
		}
		if err != nil {
			e.fail(ResourceCreation, channel.ResourceErr("create resources", ch.Name(), err))
			return ResourceDeletion, SignalError
		}
	}

	err := e.eachPlugin(false, func(p Plugin) error {
		if h, ok := p.(ResourceHandler); ok {
			if err := h.OnResourceCreation(ctx, e.c); err != nil {
				return channel.ResourceErr("plugin "+p.Name(), e.op.Name, err)
			}
		}
		return nil
	})
	if ctx.Err() != nil {
		return e.interrupted(ResourceCreation)
	}
	if err != nil {
		e.fail(ResourceCreation, err)
		return ResourceDeletion, SignalError
	}

	if e.cfg.mode() == ModeResourceCreationOnly {
		return ServiceShutdown, SignalMode
	}
	return OperationInit, SignalProceed
}

// open retries a channel whose counterpart has not provisioned yet, until
// the open timeout.
func (e *Executor) open(ctx context.Context, ch channel.Channel) error {
	octx, cancel := context.WithTimeout(ctx, e.cfg.OpenTimeout)
	defer cancel()
	err := retry.Do(func() error {
		return ch.Open(octx)
	},
		retry.Context(octx),
		retry.Attempts(0),
		retry.Delay(20*time.Millisecond),
		retry.MaxDelay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.WrapContextErrorWithLastError(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, channel.ErrNotReady) }),
	)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if octx.Err() != nil {
		return &channel.Error{
			Kind:    channel.KindTimeout,
			Op:      "open",
			Channel: ch.Name(),
			Err:     fmt.Errorf("resources not ready after %s: %w", e.cfg.OpenTimeout, err),
		}
	}
	return err
}

func (e *Executor) operationInit(ctx context.Context) (State, Signal) {
	c := e.c
	err := func() error {
		for i, in := range c.inputs {
			policy := e.cfg.offsetPolicy()
			if p := e.op.Inputs[i].Policy; p != nil {
				policy = *p
			}
			if err := in.reader.SetInitialOffset(ctx, policy); err != nil {
				return err
			}
			if err := e.open(ctx, in.reader); err != nil {
				return err
			}
			c.opened = append(c.opened, in.reader)
		}
		for _, out := range c.outputs {
			for _, w := range out.writers {
				if err := e.open(ctx, w); err != nil {
					return err
				}
				c.opened = append(c.opened, w)
			}
		}

		if c.status != nil {
			if err := c.status.Open(ctx); err != nil {
				e.log.Warn().Err(err).Msg("status channel unavailable, keeping status in memory")
			} else {
				c.monitor.SetSink(c.status)
			}
		}

		if err := e.eachPlugin(false, func(p Plugin) error {
			if h, ok := p.(InitHook); ok {
				if err := h.OnInit(ctx, c); err != nil {
					return &ProcessingError{Operator: e.op.Name, Err: fmt.Errorf("plugin %s: init: %w", p.Name(), err)}
				}
			}
			return nil
		}); err != nil {
			return err
		}
		if l, ok := e.op.Logic.(Initializer); ok {
			if err := l.Init(ctx, c); err != nil {
				return processing(e.op.Name, "", 0, err)
			}
		}
		return nil
	}()
	if err == nil && ctx.Err() == nil {
		return OperationRunning, SignalProceed
	}

	// leave no channel open behind a failed init
	e.closeOpened()
	if ctx.Err() != nil {
		return e.interrupted(OperationInit)
	}
	e.fail(OperationInit, err)
	return OperationShutdown, SignalError
}

// closeOpened closes channels in reverse of open order, best effort.
func (e *Executor) closeOpened() []error {
	var errs []error
	for i := len(e.c.opened) - 1; i >= 0; i-- {
		ch := e.c.opened[i]
		cctx, cancel := e.cleanupCtx()
		if err := ch.Close(cctx); err != nil {
			e.log.Warn().Err(err).Str("channel", ch.Name()).Msg("close failed")
			errs = append(errs, err)
		}
		cancel()
	}
	e.c.opened = nil
	return errs
}

func (e *Executor) operationShutdown(ctx context.Context) (State, Signal) {
	// final commit of what the logic acknowledged
	for _, in := range e.c.inputs {
		if !in.ackOK || !in.reader.IsOpen() {
			continue
		}
		cctx, cancel := e.cleanupCtx()
		err := in.reader.Commit(cctx, in.acked)
		cancel()
		e.fail(OperationShutdown, err)
	}
	for _, err := range e.closeOpened() {
		e.fail(OperationShutdown, err)
	}

	cctx, cancel := e.cleanupCtx()
	defer cancel()
	err := e.eachPlugin(true, func(p Plugin) error {
		if h, ok := p.(ShutdownHook); ok {
			if err := h.OnShutdown(cctx, e.c); err != nil {
				return fmt.Errorf("plugin %s: shutdown: %w", p.Name(), err)
			}
		}
		return nil
	})
	e.fail(OperationShutdown, err)
	if l, ok := e.op.Logic.(Finalizer); ok {
		if err := l.Finalize(cctx, e.c); err != nil {
			e.fail(OperationShutdown, processing(e.op.Name, "", 0, err))
		}
	}

	if e.cfg.mode() == ModeWithoutResourceDeletion {
		return ServiceShutdown, SignalMode
	}
	return ResourceDeletion, SignalProceed
}

// resourceDeletion always runs, whatever happened before.
func (e *Executor) resourceDeletion(ctx context.Context) (State, Signal) {
	if err := e.buildChannels(); err != nil {
		e.fail(ResourceDeletion, err)
	}
	targets := e.c.Channels()
	if st := e.op.Status; st != nil && !st.Retain && e.c.status != nil {
		// nothing may be published to a topic about to go away
		e.c.monitor.SetSink(nil)
		targets = append(targets, e.c.status)
	}
	for _, ch := range targets {
		cctx, cancel := e.cleanupCtx()
		e.fail(ResourceDeletion, ch.DeleteResources(cctx))
		cancel()
	}

	cctx, cancel := e.cleanupCtx()
	defer cancel()
	e.fail(ResourceDeletion, e.eachPlugin(true, func(p Plugin) error {
		if h, ok := p.(ResourceHandler); ok {
			if err := h.OnResourceDeletion(cctx, e.c); err != nil {
				return channel.ResourceErr("plugin "+p.Name(), e.op.Name, err)
			}
		}
		return nil
	}))
	return ServiceShutdown, SignalProceed
}

func (e *Executor) serviceShutdown(ctx context.Context) (State, Signal) {
	e.c.monitor.Stop()
	if e.c.status != nil {
		cctx, cancel := e.cleanupCtx()
		if err := e.c.status.Close(cctx); err != nil {
			e.log.Warn().Err(err).Msg("status channel close failed")
		}
		cancel()
	}

	cctx, cancel := e.cleanupCtx()
	defer cancel()
	e.fail(ServiceShutdown, e.eachPlugin(true, func(p Plugin) error {
		if h, ok := p.(ServiceHandler); ok {
			if err := h.OnServiceShutdown(cctx, e.c); err != nil {
				return fmt.Errorf("plugin %s: service shutdown: %w", p.Name(), err)
			}
		}
		return nil
	}))
	return Stopped, SignalProceed
}

// collect feeds the status monitor from its own goroutine, so it only sees
// the channel set published by buildChannels.
func (e *Executor) collect() []channel.StatusRecord {
	phase := e.State().String()
	var out []channel.StatusRecord
	chs := e.c.snapshot.Load()
	if chs == nil {
		return nil
	}
	for _, ch := range *chs {
		rec := ch.ReportStatus()
		rec.Phase = phase
		out = append(out, rec)
	}
	return out
}
