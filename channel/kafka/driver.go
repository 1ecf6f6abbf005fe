// Package kafka implements the channel backend on Kafka with franz-go.
//
// A channel maps to three single partition topics: the data topic and one
// status topic per direction. The reader side owns all of them.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/tarungka/opwire/channel"
)

const Backend = "kafka"

// statusPollWait bounds a status poll; status I/O stays off the data path.
const statusPollWait = 20 * time.Millisecond

func init() {
	channel.Register(Backend, Factory{})
}

type Factory struct{}

func (Factory) NewReader(spec channel.Spec) (channel.ReaderDriver, error) {
	cfg, err := parseConfig(spec)
	if err != nil {
		return nil, err
	}
	return &readerDriver{base: base{spec: spec, cfg: cfg}, group: spec.UniqueName()}, nil
}

func (Factory) NewWriter(spec channel.Spec) (channel.WriterDriver, error) {
	cfg, err := parseConfig(spec)
	if err != nil {
		return nil, err
	}
	return &writerDriver{base: base{spec: spec, cfg: cfg}}, nil
}

// base holds the clients both ends need: admin, producer of outgoing status
// and consumer of incoming status.
type base struct {
	spec channel.Spec
	cfg  Config

	admin  *admin
	status *kgo.Client // consumes the counterpart status topic
	out    *kgo.Client // produces to our side's status topic, or data for writers
}

func (b *base) log() zerolog.Logger { return b.spec.Logger }

func (b *base) withAdmin(ctx context.Context, fn func(*admin) error) error {
	if b.admin != nil {
		return fn(b.admin)
	}
	a, err := newAdmin(b.cfg, b.cfg.clientOpts(b.log()))
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func (b *base) openClients(inTopic, outTopic string) error {
	a, err := newAdmin(b.cfg, b.cfg.clientOpts(b.log()))
	if err != nil {
		return err
	}
	out, err := kgo.NewClient(b.cfg.clientOpts(b.log(),
		kgo.DefaultProduceTopic(outTopic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)...)
	if err != nil {
		a.close()
		return err
	}
	status, err := kgo.NewClient(b.cfg.clientOpts(b.log(),
		kgo.ConsumeTopics(inTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)...)
	if err != nil {
		a.close()
		out.Close()
		return err
	}
	b.admin, b.out, b.status = a, out, status
	return nil
}

func (b *base) closeClients() {
	for _, cl := range []*kgo.Client{b.status, b.out} {
		if cl != nil {
			cl.Close()
		}
	}
	if b.admin != nil {
		b.admin.close()
	}
	b.admin, b.out, b.status = nil, nil, nil
}

func (b *base) sendStatus(ctx context.Context, topic string, msg channel.StatusMessage) error {
	if b.out == nil {
		return channel.ErrNotOpen
	}
	v, err := msg.Marshal()
	if err != nil {
		return err
	}
	rec := &kgo.Record{Topic: topic, Key: []byte(msg.UniqueName()), Value: v}
	return b.out.ProduceSync(ctx, rec).FirstErr()
}

func (b *base) pollStatus(ctx context.Context) ([]channel.StatusMessage, error) {
	if b.status == nil {
		return nil, channel.ErrNotOpen
	}
	pctx, cancel := context.WithTimeout(ctx, statusPollWait)
	defer cancel()
	fetches := b.status.PollRecords(pctx, 0)
	// an expired wait only means nothing new arrived
	if err := fetchErr(fetches); err != nil && (ctx.Err() != nil || !errors.Is(err, context.DeadlineExceeded)) {
		return nil, err
	}
	var out []channel.StatusMessage
	fetches.EachRecord(func(r *kgo.Record) {
		m, err := channel.UnmarshalStatus(r.Value)
		if err != nil {
			l := b.log()
			l.Debug().Err(err).Msg("skipping malformed status message")
			return
		}
		out = append(out, m)
	})
	return out, nil
}

// fetchErr returns the first real fetch error. Context expiry is reported
// as such so callers can tell a timeout from a failure.
func fetchErr(fetches kgo.Fetches) error {
	if fetches.IsClientClosed() {
		return kgo.ErrClientClosed
	}
	var ctxErr error
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled) {
			ctxErr = fe.Err
			continue
		}
		return fmt.Errorf("fetch %s[%d]: %w", fe.Topic, fe.Partition, fe.Err)
	}
	return ctxErr
}

type readerDriver struct {
	base
	group string
	data  *kgo.Client
}

func (d *readerDriver) topics() []string {
	return []string{
		channel.DataTopic(d.spec.Name),
		channel.WriterStatusTopic(d.spec.Name),
		channel.ReaderStatusTopic(d.spec.Name),
	}
}

func (d *readerDriver) CreateResources(ctx context.Context) error {
	return d.withAdmin(ctx, func(a *admin) error {
		return a.createTopics(ctx, d.topics()...)
	})
}

func (d *readerDriver) DeleteResources(ctx context.Context) error {
	return d.withAdmin(ctx, func(a *admin) error {
		return a.deleteTopics(ctx, d.topics()...)
	})
}

func (d *readerDriver) Open(ctx context.Context) error {
	if err := d.openClients(channel.WriterStatusTopic(d.spec.Name), channel.ReaderStatusTopic(d.spec.Name)); err != nil {
		return err
	}
	ok, err := d.admin.topicsExist(ctx, d.topics()...)
	if err == nil && !ok {
		err = fmt.Errorf("%w: %s", channel.ErrTopicNotFound, d.spec.Name)
	}
	if err != nil {
		d.closeClients()
		return err
	}
	return nil
}

func (d *readerDriver) Close(context.Context) error {
	if d.data != nil {
		d.data.Close()
		d.data = nil
	}
	d.closeClients()
	return nil
}

// Seek resolves the policy to an absolute offset and restarts the data
// consumer there.
func (d *readerDriver) Seek(ctx context.Context, policy channel.OffsetPolicy) (int64, error) {
	if d.admin == nil {
		return 0, channel.ErrNotOpen
	}
	topic := channel.DataTopic(d.spec.Name)
	start, err := d.admin.startOffset(ctx, topic)
	if err != nil {
		return 0, err
	}
	var off int64
	switch policy {
	case channel.Earliest:
		off = start
	case channel.Latest:
		if off, err = d.admin.endOffset(ctx, topic); err != nil {
			return 0, err
		}
	default:
		stored, ok, err := d.admin.committed(ctx, d.group, topic)
		if err != nil {
			return 0, err
		}
		off = start
		if ok && stored > start {
			off = stored
		}
	}

	data, err := kgo.NewClient(d.cfg.clientOpts(d.log(),
		kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
			topic: {0: kgo.NewOffset().At(off)},
		}),
	)...)
	if err != nil {
		return 0, err
	}
	if d.data != nil {
		d.data.Close()
	}
	d.data = data
	return off, nil
}

func (d *readerDriver) Poll(ctx context.Context, max int) ([]channel.Record, error) {
	if d.data == nil {
		return nil, channel.ErrNotOpen
	}
	if max <= 0 || max > d.cfg.PollRecords {
		max = d.cfg.PollRecords
	}
	fetches := d.data.PollRecords(ctx, max)
	var out []channel.Record
	fetches.EachRecord(func(r *kgo.Record) {
		out = append(out, fromKgo(r))
	})
	if len(out) > 0 {
		return out, nil
	}
	return nil, fetchErr(fetches)
}

func (d *readerDriver) CommitOffset(ctx context.Context, offset int64) error {
	if d.admin == nil {
		return channel.ErrNotOpen
	}
	return d.admin.commit(ctx, d.group, channel.DataTopic(d.spec.Name), offset)
}

func (d *readerDriver) SendStatus(ctx context.Context, msg channel.StatusMessage) error {
	return d.sendStatus(ctx, channel.ReaderStatusTopic(d.spec.Name), msg)
}

func (d *readerDriver) PollStatus(ctx context.Context) ([]channel.StatusMessage, error) {
	return d.pollStatus(ctx)
}

// writerDriver provisions its data topic only when standalone.
type writerDriver struct {
	base
	data *kgo.Client
}

func (d *writerDriver) CreateResources(ctx context.Context) error {
	if !d.spec.Standalone {
		return nil
	}
	return d.withAdmin(ctx, func(a *admin) error {
		return a.createTopics(ctx, channel.DataTopic(d.spec.Name))
	})
}

func (d *writerDriver) DeleteResources(ctx context.Context) error {
	if !d.spec.Standalone {
		return nil
	}
	return d.withAdmin(ctx, func(a *admin) error {
		return a.deleteTopics(ctx, channel.DataTopic(d.spec.Name))
	})
}

// Open reports ErrNotReady until the reader side created the topics.
func (d *writerDriver) Open(ctx context.Context) error {
	topics := []string{channel.DataTopic(d.spec.Name)}
	if !d.spec.Standalone {
		topics = append(topics, channel.WriterStatusTopic(d.spec.Name), channel.ReaderStatusTopic(d.spec.Name))
	}
	if err := d.openClients(channel.ReaderStatusTopic(d.spec.Name), channel.WriterStatusTopic(d.spec.Name)); err != nil {
		return err
	}
	ok, err := d.admin.topicsExist(ctx, topics...)
	if err == nil && !ok {
		err = fmt.Errorf("%w: %s", channel.ErrNotReady, d.spec.Name)
	}
	if err != nil {
		d.closeClients()
		return err
	}

	data, err := kgo.NewClient(d.cfg.clientOpts(d.log(),
		kgo.DefaultProduceTopic(channel.DataTopic(d.spec.Name)),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)...)
	if err != nil {
		d.closeClients()
		return err
	}
	d.data = data
	return nil
}

func (d *writerDriver) Close(ctx context.Context) error {
	var err error
	if d.data != nil {
		err = d.data.Flush(ctx)
		d.data.Close()
		d.data = nil
	}
	d.closeClients()
	return err
}

// Write uses synchronous produce so a nil error means every record was
// acknowledged by the brokers.
func (d *writerDriver) Write(ctx context.Context, records []channel.Record) (channel.OffsetsWritten, error) {
	if d.data == nil {
		return channel.OffsetsWritten{}, channel.ErrNotOpen
	}
	topic := channel.DataTopic(d.spec.Name)
	krs := make([]*kgo.Record, 0, len(records))
	for _, r := range records {
		krs = append(krs, toKgo(topic, r))
	}
	results := d.data.ProduceSync(ctx, krs...)
	if err := results.FirstErr(); err != nil {
		return channel.OffsetsWritten{}, err
	}
	return offsetsOf(results), nil
}

func (d *writerDriver) Flush(ctx context.Context) error {
	if d.data == nil {
		return nil
	}
	return d.data.Flush(ctx)
}

func (d *writerDriver) SendStatus(ctx context.Context, msg channel.StatusMessage) error {
	return d.sendStatus(ctx, channel.WriterStatusTopic(d.spec.Name), msg)
}

func (d *writerDriver) PollStatus(ctx context.Context) ([]channel.StatusMessage, error) {
	return d.pollStatus(ctx)
}
