package operators

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/tarungka/opwire/channel"
	"github.com/tarungka/opwire/executor"
)

// DefaultPort is the output port built-in logics emit to.
const DefaultPort = "out"

type generatorParams struct {
	Count  int    `koanf:"count"`
	Batch  int    `koanf:"batch"`
	Prefix string `koanf:"prefix"`
	Port   string `koanf:"port"`
}

// Generator emits count records "<prefix><n>" keyed by n. A count of zero
// or less never finishes.
type Generator struct {
	p    generatorParams
	next int
}

func NewGenerator(params map[string]any) (executor.Logic, error) {
	p := generatorParams{Count: 10, Batch: 10, Prefix: "record-", Port: DefaultPort}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Batch <= 0 {
		return nil, fmt.Errorf("batch must be positive, got %d", p.Batch)
	}
	return &Generator{p: p}, nil
}

func (g *Generator) Generate(ctx context.Context, out executor.Emitter) (bool, error) {
	n := g.p.Batch
	if g.p.Count > 0 {
		if g.next >= g.p.Count {
			return true, nil
		}
		n = min(n, g.p.Count-g.next)
	}
	recs := make([]channel.Record, n)
	for i := range recs {
		id := strconv.Itoa(g.next + i)
		recs[i] = channel.Record{Key: []byte(id), Value: []byte(g.p.Prefix + id)}
	}
	if err := out.Emit(ctx, g.p.Port, recs...); err != nil {
		return false, err
	}
	g.next += n
	return g.p.Count > 0 && g.next >= g.p.Count, nil
}

type portParams struct {
	Port string `koanf:"port"`
}

func outPort(params map[string]any) (string, error) {
	p := portParams{Port: DefaultPort}
	if err := decode(params, &p); err != nil {
		return "", err
	}
	return p.Port, nil
}

// forward copies the payload of rec into a new record for the output port.
func forward(rec channel.Record, value []byte) channel.Record {
	return channel.Record{Key: rec.Key, Value: value, Headers: rec.Headers}
}

// Uppercase upper-cases record values.
type Uppercase struct{ port string }

func NewUppercase(params map[string]any) (executor.Logic, error) {
	port, err := outPort(params)
	if err != nil {
		return nil, err
	}
	return &Uppercase{port: port}, nil
}

func (u *Uppercase) Process(ctx context.Context, _ string, rec channel.Record, out executor.Emitter) error {
	return out.Emit(ctx, u.port, forward(rec, bytes.ToUpper(rec.Value)))
}

// Passthrough forwards records unchanged.
type Passthrough struct{ port string }

func NewPassthrough(params map[string]any) (executor.Logic, error) {
	port, err := outPort(params)
	if err != nil {
		return nil, err
	}
	return &Passthrough{port: port}, nil
}

func (p *Passthrough) Process(ctx context.Context, _ string, rec channel.Record, out executor.Emitter) error {
	return out.Emit(ctx, p.port, forward(rec, rec.Value))
}

// Counter is a sink that counts records and logs the total when it stops.
type Counter struct {
	n atomic.Int64
}

func NewCounter(map[string]any) (executor.Logic, error) { return &Counter{}, nil }

func (c *Counter) Process(context.Context, string, channel.Record, executor.Emitter) error {
	c.n.Add(1)
	return nil
}

func (c *Counter) Count() int64 { return c.n.Load() }

func (c *Counter) Finalize(_ context.Context, ec *executor.Context) error {
	ec.Logger().Info().Int64("records", c.Count()).Msg("counter finished")
	return nil
}

type failingParams struct {
	FailAfter int    `koanf:"fail_after"`
	Message   string `koanf:"message"`
	Port      string `koanf:"port"`
}

// Failing accepts fail_after records and then fails. Accepted records are
// forwarded when port is set. Without inputs it fails while generating.
type Failing struct {
	p    failingParams
	seen int
}

func NewFailing(params map[string]any) (executor.Logic, error) {
	p := failingParams{Message: "injected failure"}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return &Failing{p: p}, nil
}

func (f *Failing) Process(ctx context.Context, _ string, rec channel.Record, out executor.Emitter) error {
	if f.seen >= f.p.FailAfter {
		return fmt.Errorf("%s at offset %d", f.p.Message, rec.Offset)
	}
	f.seen++
	if f.p.Port == "" {
		return nil
	}
	return out.Emit(ctx, f.p.Port, forward(rec, rec.Value))
}

func (f *Failing) Generate(context.Context, executor.Emitter) (bool, error) {
	return false, errors.New(f.p.Message)
}
