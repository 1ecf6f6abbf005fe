package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// admin wraps the kadm calls shared by readers and writers.
type admin struct {
	cfg Config
	cl  *kgo.Client
	adm *kadm.Client
}

func newAdmin(cfg Config, opts []kgo.Opt) (*admin, error) {
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return &admin{cfg: cfg, cl: cl, adm: kadm.NewClient(cl)}, nil
}

func (a *admin) close() { a.cl.Close() }

// createTopics treats existing topics as created.
func (a *admin) createTopics(ctx context.Context, topics ...string) error {
	resps, err := a.adm.CreateTopics(ctx, a.cfg.Partitions, a.cfg.ReplicationFactor, nil, topics...)
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range resps {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			errs = append(errs, fmt.Errorf("create topic %s: %w", r.Topic, r.Err))
		}
	}
	return errors.Join(errs...)
}

// deleteTopics treats missing topics as deleted.
func (a *admin) deleteTopics(ctx context.Context, topics ...string) error {
	resps, err := a.adm.DeleteTopics(ctx, topics...)
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range resps {
		if r.Err != nil && !errors.Is(r.Err, kerr.UnknownTopicOrPartition) {
			errs = append(errs, fmt.Errorf("delete topic %s: %w", r.Topic, r.Err))
		}
	}
	return errors.Join(errs...)
}

// topicsExist reports whether every topic is known to the cluster.
func (a *admin) topicsExist(ctx context.Context, topics ...string) (bool, error) {
	details, err := a.adm.ListTopics(ctx, topics...)
	if err != nil {
		return false, err
	}
	for _, t := range topics {
		d, ok := details[t]
		if !ok || errors.Is(d.Err, kerr.UnknownTopicOrPartition) {
			return false, nil
		}
		if d.Err != nil {
			return false, d.Err
		}
	}
	return true, nil
}

func (a *admin) startOffset(ctx context.Context, topic string) (int64, error) {
	listed, err := a.adm.ListStartOffsets(ctx, topic)
	if err != nil {
		return 0, err
	}
	return lookupListed(listed, topic)
}

func (a *admin) endOffset(ctx context.Context, topic string) (int64, error) {
	listed, err := a.adm.ListEndOffsets(ctx, topic)
	if err != nil {
		return 0, err
	}
	return lookupListed(listed, topic)
}

func lookupListed(listed kadm.ListedOffsets, topic string) (int64, error) {
	o, ok := listed.Lookup(topic, 0)
	if !ok {
		return 0, fmt.Errorf("no offsets listed for %s", topic)
	}
	if o.Err != nil {
		return 0, o.Err
	}
	return o.Offset, nil
}

// committed returns the stored offset of group, if any.
func (a *admin) committed(ctx context.Context, group, topic string) (int64, bool, error) {
	resps, err := a.adm.FetchOffsets(ctx, group)
	if err != nil {
		return 0, false, err
	}
	return committedOffset(resps, topic)
}

func committedOffset(resps kadm.OffsetResponses, topic string) (int64, bool, error) {
	r, ok := resps.Lookup(topic, 0)
	if !ok {
		return 0, false, nil
	}
	if r.Err != nil {
		return 0, false, r.Err
	}
	if r.Offset.At < 0 {
		return 0, false, nil
	}
	return r.Offset.At, true, nil
}

func (a *admin) commit(ctx context.Context, group, topic string, offset int64) error {
	offs := make(kadm.Offsets)
	offs.Add(kadm.Offset{Topic: topic, Partition: 0, At: offset, LeaderEpoch: -1})
	resps, err := a.adm.CommitOffsets(ctx, group, offs)
	if err != nil {
		return err
	}
	return resps.Error()
}
