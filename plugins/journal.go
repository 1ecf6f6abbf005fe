package plugins

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tarungka/opwire/channel"
	"github.com/tarungka/opwire/executor"
	"github.com/tarungka/opwire/internal/journal"
)

type journalParams struct {
	Path string `koanf:"path"`
}

var (
	journalsMu sync.Mutex
	journals   = make(map[string]*sharedJournal)
)

// sharedJournal lets operators of one process write to the same bbolt file,
// which only one handle may hold.
type sharedJournal struct {
	j    *journal.Journal
	refs int
}

func acquireJournal(path string, l zerolog.Logger) (*journal.Journal, error) {
	journalsMu.Lock()
	defer journalsMu.Unlock()
	if s, ok := journals[path]; ok {
		s.refs++
		return s.j, nil
	}
	j, err := journal.Open(path, l)
	if err != nil {
		return nil, err
	}
	journals[path] = &sharedJournal{j: j, refs: 1}
	return j, nil
}

func releaseJournal(path string) error {
	journalsMu.Lock()
	defer journalsMu.Unlock()
	s, ok := journals[path]
	if !ok {
		return nil
	}
	if s.refs--; s.refs > 0 {
		return nil
	}
	delete(journals, path)
	return s.j.Close()
}

// Journal records every transition and the final result of the attempt.
// Journal writes never fail the operator.
type Journal struct {
	name string
	path string
	j    *journal.Journal
	log  zerolog.Logger
}

func NewJournal(name string, params map[string]any) (executor.Plugin, error) {
	p := journalParams{Path: "opwire-journal.db"}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return &Journal{name: name, path: p.Path}, nil
}

func (p *Journal) Name() string { return p.name }

func (p *Journal) OnServiceStart(_ context.Context, c *executor.Context) error {
	p.log = c.Logger().With().Str("component", "journal").Logger()
	j, err := acquireJournal(p.path, p.log)
	if err != nil {
		return fmt.Errorf("journal %s: %w", p.name, err)
	}
	p.j = j
	return j.Start(journal.Attempt{ID: c.Attempt(), Pipeline: c.Pipeline(), Operator: c.Name()})
}

func (p *Journal) OnTransition(c *executor.Context, t executor.Transition) {
	if p.j == nil {
		return
	}
	entry := journal.Transition{From: t.From.String(), To: t.To.String(), Signal: string(t.Signal), At: t.At.UnixNano()}
	if t.Err != nil {
		entry.Error = t.Err.Error()
	}
	if err := p.j.AddTransition(c.Attempt(), entry); err != nil {
		p.log.Warn().Err(err).Msg("journal write failed")
	}
}

// OnServiceShutdown runs last, so the first failure of the attempt is known.
func (p *Journal) OnServiceShutdown(_ context.Context, c *executor.Context) error {
	if p.j == nil {
		return nil
	}
	a := journal.Attempt{ID: c.Attempt(), Pipeline: c.Pipeline(), Operator: c.Name(), State: executor.Stopped.String(), OK: true}
	if phase, err := c.Failure(); err != nil {
		a.OK = false
		a.Kind = channel.KindOf(err).String()
		a.Error = err.Error()
		a.ExitCode = executor.ExitCodeOf(err, phase)
	}
	if err := p.j.Finish(a); err != nil {
		p.log.Warn().Err(err).Msg("journal write failed")
	}
	p.j = nil
	return releaseJournal(p.path)
}
