package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/opwire/channel"
	"github.com/tarungka/opwire/channel/local"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReadTimeout = 20 * time.Millisecond
	cfg.OpenTimeout = 5 * time.Second
	cfg.CleanupTimeout = 2 * time.Second
	cfg.CommitInterval = 10 * time.Millisecond
	cfg.StatusInterval = 20 * time.Millisecond
	cfg.ResourceRetry = channel.RetryPolicy{Attempts: 2, Delay: time.Millisecond, MaxDelay: time.Millisecond}
	return cfg
}

func setupLocation(t *testing.T) (string, *local.Broker) {
	t.Helper()
	location := "mem://" + uuid.NewString()
	b, err := local.OpenBroker(location, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { local.CloseBroker(location) })
	return location, b
}

// countingFactory wraps the local backend and counts lifecycle calls per
// channel and direction.
type countingFactory struct {
	inner channel.Factory

	mu         sync.Mutex
	calls      map[string]int
	failCreate bool
}

func registerCounting(t *testing.T) (string, *countingFactory) {
	t.Helper()
	name := "counting-" + uuid.NewString()
	f := &countingFactory{inner: local.Factory{}, calls: make(map[string]int)}
	channel.Register(name, f)
	return name, f
}

func (f *countingFactory) count(dir, op, ch string) {
	f.mu.Lock()
	f.calls[dir+":"+op+":"+ch]++
	f.mu.Unlock()
}

func (f *countingFactory) Calls(dir, op, ch string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[dir+":"+op+":"+ch]
}

func (f *countingFactory) NewReader(spec channel.Spec) (channel.ReaderDriver, error) {
	d, err := f.inner.NewReader(spec)
	if err != nil {
		return nil, err
	}
	return &countingReader{ReaderDriver: d, f: f, name: spec.Name}, nil
}

func (f *countingFactory) NewWriter(spec channel.Spec) (channel.WriterDriver, error) {
	d, err := f.inner.NewWriter(spec)
	if err != nil {
		return nil, err
	}
	return &countingWriter{WriterDriver: d, f: f, name: spec.Name}, nil
}

var errBrokenResources = errors.New("broken resources")

type countingReader struct {
	channel.ReaderDriver
	f    *countingFactory
	name string
}

func (r *countingReader) CreateResources(ctx context.Context) error {
	r.f.count("reader", "create", r.name)
	err := r.ReaderDriver.CreateResources(ctx)
	if err == nil && r.f.failCreate {
		// the topics now exist, so deletion has something to clean up
		return errBrokenResources
	}
	return err
}

func (r *countingReader) DeleteResources(ctx context.Context) error {
	r.f.count("reader", "delete", r.name)
	return r.ReaderDriver.DeleteResources(ctx)
}

func (r *countingReader) Open(ctx context.Context) error {
	r.f.count("reader", "open", r.name)
	return r.ReaderDriver.Open(ctx)
}

func (r *countingReader) Close(ctx context.Context) error {
	r.f.count("reader", "close", r.name)
	return r.ReaderDriver.Close(ctx)
}

type countingWriter struct {
	channel.WriterDriver
	f    *countingFactory
	name string
}

func (w *countingWriter) Open(ctx context.Context) error {
	w.f.count("writer", "open", w.name)
	return w.WriterDriver.Open(ctx)
}

func (w *countingWriter) Close(ctx context.Context) error {
	w.f.count("writer", "close", w.name)
	return w.WriterDriver.Close(ctx)
}

func (w *countingWriter) DeleteResources(ctx context.Context) error {
	w.f.count("writer", "delete", w.name)
	return w.WriterDriver.DeleteResources(ctx)
}

// generator emits n numbered records in batches on port "out".
type generator struct {
	n, batch, next int
}

func (g *generator) Generate(ctx context.Context, out Emitter) (bool, error) {
	if g.next >= g.n {
		return true, nil
	}
	end := min(g.next+g.batch, g.n)
	recs := make([]channel.Record, 0, end-g.next)
	for i := g.next; i < end; i++ {
		recs = append(recs, channel.Record{Value: []byte(strconv.Itoa(i))})
	}
	if err := out.Emit(ctx, "out", recs...); err != nil {
		return false, err
	}
	g.next = end
	return g.next >= g.n, nil
}

// collector records what it processed. It fails on failAt when set and
// calls onRecord after every accepted record.
type collector struct {
	mu       sync.Mutex
	values   []string
	offsets  []int64
	failAt   int64
	onRecord func(rec channel.Record)
}

func newCollector() *collector { return &collector{failAt: -1} }

func (c *collector) Process(_ context.Context, _ string, rec channel.Record, _ Emitter) error {
	if rec.Offset == c.failAt {
		return fmt.Errorf("cannot process offset %d", rec.Offset)
	}
	c.mu.Lock()
	c.values = append(c.values, string(rec.Value))
	c.offsets = append(c.offsets, rec.Offset)
	c.mu.Unlock()
	if c.onRecord != nil {
		c.onRecord(rec)
	}
	return nil
}

func (c *collector) Values() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.values...)
}

func (c *collector) Offsets() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.offsets...)
}

// idle never produces anything.
type idle struct{}

func (idle) Generate(ctx context.Context, _ Emitter) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}
	return false, nil
}

type finished struct{}

func (finished) Generate(context.Context, Emitter) (bool, error) { return true, nil }

func producerOp(pipeline, name, backend, location, target string, g *generator) Operator {
	return Operator{
		Name:     name,
		Pipeline: pipeline,
		Logic:    g,
		Outputs: []OutputPort{{
			Name: "out",
			Targets: []Target{{
				Operator: target,
				Port:     "in",
				Endpoint: Endpoint{Backend: backend, Location: location},
			}},
		}},
	}
}

func consumerOp(pipeline, name, backend, location string, logic Logic) Operator {
	return Operator{
		Name:     name,
		Pipeline: pipeline,
		Logic:    logic,
		Inputs: []InputPort{{
			Name:     "in",
			Endpoint: Endpoint{Backend: backend, Location: location},
		}},
	}
}

func states(ts []Transition) []State {
	out := []State{Created}
	for _, t := range ts {
		out = append(out, t.To)
	}
	return out
}

func runBoth(t *testing.T, ctx context.Context, a, b *Executor) (Result, Result) {
	t.Helper()
	var wg sync.WaitGroup
	var ra, rb Result
	wg.Add(2)
	go func() { defer wg.Done(); ra = a.Run(ctx) }()
	go func() { defer wg.Done(); rb = b.Run(ctx) }()
	wg.Wait()
	return ra, rb
}
