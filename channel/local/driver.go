package local

import (
	"context"
	"fmt"
	"time"

	"github.com/tarungka/opwire/channel"
)

// Backend is the registry name of the embedded broker.
const Backend = "local"

// pollFallback bounds a wait in case a notification is missed.
const pollFallback = 50 * time.Millisecond

func init() {
	channel.Register(Backend, Factory{})
}

type Factory struct{}

func (Factory) NewReader(spec channel.Spec) (channel.ReaderDriver, error) {
	b, err := OpenBroker(spec.Location, spec.Logger)
	if err != nil {
		return nil, err
	}
	return &readerDriver{b: b, spec: spec, group: spec.UniqueName()}, nil
}

func (Factory) NewWriter(spec channel.Spec) (channel.WriterDriver, error) {
	b, err := OpenBroker(spec.Location, spec.Logger)
	if err != nil {
		return nil, err
	}
	return &writerDriver{b: b, spec: spec}, nil
}

// statusCursor reads a status topic from its beginning.
type statusCursor struct {
	pos int64
}

func (c *statusCursor) poll(b *Broker, topic string) ([]channel.StatusMessage, error) {
	recs, err := b.ReadFrom(topic, c.pos, 0)
	if err != nil {
		return nil, err
	}
	out := make([]channel.StatusMessage, 0, len(recs))
	for _, r := range recs {
		c.pos = r.Offset + 1
		m, err := channel.UnmarshalStatus(r.Value)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func sendStatus(b *Broker, topic string, msg channel.StatusMessage) error {
	v, err := msg.Marshal()
	if err != nil {
		return err
	}
	_, err = b.Append(topic, []channel.Record{{Key: []byte(msg.UniqueName()), Value: v}})
	return err
}

// readerDriver owns the data topic and both status topics of a channel.
type readerDriver struct {
	b      *Broker
	spec   channel.Spec
	group  string
	pos    int64
	status statusCursor
}

func (d *readerDriver) topics() []string {
	return []string{
		channel.DataTopic(d.spec.Name),
		channel.WriterStatusTopic(d.spec.Name),
		channel.ReaderStatusTopic(d.spec.Name),
	}
}

func (d *readerDriver) CreateResources(context.Context) error {
	for _, t := range d.topics() {
		if err := d.b.CreateTopic(t); err != nil {
			return err
		}
	}
	return nil
}

func (d *readerDriver) DeleteResources(context.Context) error {
	for _, t := range d.topics() {
		if err := d.b.DeleteTopic(t); err != nil {
			return err
		}
	}
	return nil
}

func (d *readerDriver) Open(context.Context) error {
	for _, t := range d.topics() {
		ok, err := d.b.TopicExists(t)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", channel.ErrTopicNotFound, t)
		}
	}
	d.status = statusCursor{}
	return nil
}

func (d *readerDriver) Close(context.Context) error { return nil }

func (d *readerDriver) Seek(_ context.Context, policy channel.OffsetPolicy) (int64, error) {
	topic := channel.DataTopic(d.spec.Name)
	switch policy {
	case channel.Earliest:
		d.pos = 0
	case channel.Latest:
		end, err := d.b.EndOffset(topic)
		if err != nil {
			return 0, err
		}
		d.pos = end
	default:
		off, _, err := d.b.Committed(topic, d.group)
		if err != nil {
			return 0, err
		}
		d.pos = off
	}
	return d.pos, nil
}

func (d *readerDriver) Poll(ctx context.Context, max int) ([]channel.Record, error) {
	topic := channel.DataTopic(d.spec.Name)
	for {
		changed := d.b.wait(topic)
		recs, err := d.b.ReadFrom(topic, d.pos, max)
		if err != nil {
			return nil, err
		}
		if len(recs) > 0 {
			d.pos = recs[len(recs)-1].Offset + 1
			return recs, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		case <-time.After(pollFallback):
		}
	}
}

func (d *readerDriver) CommitOffset(_ context.Context, offset int64) error {
	return d.b.Commit(channel.DataTopic(d.spec.Name), d.group, offset)
}

func (d *readerDriver) SendStatus(_ context.Context, msg channel.StatusMessage) error {
	return sendStatus(d.b, channel.ReaderStatusTopic(d.spec.Name), msg)
}

func (d *readerDriver) PollStatus(context.Context) ([]channel.StatusMessage, error) {
	return d.status.poll(d.b, channel.WriterStatusTopic(d.spec.Name))
}

// writerDriver provisions nothing unless it is standalone. Its Open waits
// for the reader side to create the topics.
type writerDriver struct {
	b      *Broker
	spec   channel.Spec
	status statusCursor
}

func (d *writerDriver) CreateResources(context.Context) error {
	if d.spec.Standalone {
		return d.b.CreateTopic(channel.DataTopic(d.spec.Name))
	}
	return nil
}

func (d *writerDriver) DeleteResources(context.Context) error {
	if d.spec.Standalone {
		return d.b.DeleteTopic(channel.DataTopic(d.spec.Name))
	}
	return nil
}

func (d *writerDriver) Open(context.Context) error {
	topics := []string{channel.DataTopic(d.spec.Name)}
	if !d.spec.Standalone {
		topics = append(topics, channel.WriterStatusTopic(d.spec.Name), channel.ReaderStatusTopic(d.spec.Name))
	}
	for _, t := range topics {
		ok, err := d.b.TopicExists(t)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", channel.ErrNotReady, t)
		}
	}
	d.status = statusCursor{}
	return nil
}

func (d *writerDriver) Close(context.Context) error { return nil }

// Write is durable once the badger transaction commits.
func (d *writerDriver) Write(ctx context.Context, records []channel.Record) (channel.OffsetsWritten, error) {
	if err := ctx.Err(); err != nil {
		return channel.OffsetsWritten{}, err
	}
	return d.b.Append(channel.DataTopic(d.spec.Name), records)
}

func (d *writerDriver) Flush(context.Context) error { return nil }

func (d *writerDriver) SendStatus(_ context.Context, msg channel.StatusMessage) error {
	return sendStatus(d.b, channel.WriterStatusTopic(d.spec.Name), msg)
}

func (d *writerDriver) PollStatus(context.Context) ([]channel.StatusMessage, error) {
	return d.status.poll(d.b, channel.ReaderStatusTopic(d.spec.Name))
}
