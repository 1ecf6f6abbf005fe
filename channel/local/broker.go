// Package local is an embedded channel backend for operators running in the
// same process. Topics live in badger, in memory or on disk.
package local

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/tarungka/opwire/channel"
	"github.com/tarungka/opwire/internal/kv"
	"github.com/tarungka/opwire/internal/utils"
)

const memScheme = "mem://"

// DefaultLocation is used when a channel names no location.
const DefaultLocation = memScheme + "default"

var (
	brokersMu sync.Mutex
	brokers   = make(map[string]*Broker)
)

// Broker stores topics as ordered record logs with per group cursors.
type Broker struct {
	location string
	db       *kv.DB
	log      zerolog.Logger

	mu      sync.Mutex
	waiters map[string]chan struct{}
}

type envelope struct {
	Offset  int64
	Key     []byte
	Value   []byte
	Headers map[string]string
	Time    int64
}

func normalize(location string) string {
	if location == "" {
		return DefaultLocation
	}
	return location
}

// OpenBroker returns the broker for location, opening it on first use.
// Locations starting with mem:// are kept in memory.
func OpenBroker(location string, l zerolog.Logger) (*Broker, error) {
	location = normalize(location)

	brokersMu.Lock()
	defer brokersMu.Unlock()
	if b, ok := brokers[location]; ok {
		return b, nil
	}

	cfg := &kv.Config{Logger: l}
	if strings.HasPrefix(location, memScheme) {
		cfg.InMemory = true
	} else {
		cfg.Dir = location
	}
	db := kv.New(cfg)
	if err := db.Open(); err != nil {
		return nil, fmt.Errorf("open broker %s: %w", location, err)
	}

	b := &Broker{
		location: location,
		db:       db,
		log:      l.With().Str("component", "local-broker").Str("location", location).Logger(),
		waiters:  make(map[string]chan struct{}),
	}
	brokers[location] = b
	b.log.Debug().Msg("broker opened")
	return b, nil
}

// CloseBroker closes the broker at location. In-memory topics are lost.
func CloseBroker(location string) error {
	location = normalize(location)
	brokersMu.Lock()
	b, ok := brokers[location]
	delete(brokers, location)
	brokersMu.Unlock()
	if !ok {
		return nil
	}
	return b.db.Close()
}

// CloseAll closes every open broker.
func CloseAll() error {
	brokersMu.Lock()
	all := brokers
	brokers = make(map[string]*Broker)
	brokersMu.Unlock()

	var errs []error
	for _, b := range all {
		errs = append(errs, b.db.Close())
	}
	return errors.Join(errs...)
}

func markerKey(topic string) []byte { return []byte("m/" + topic) }
func nextKey(topic string) []byte   { return []byte("n/" + topic) }

func recordPrefix(topic string) []byte { return []byte("r/" + topic + "/") }

func recordKey(topic string, offset int64) []byte {
	return []byte(fmt.Sprintf("r/%s/%020d", topic, offset))
}

func commitPrefix(topic string) []byte { return []byte("c/" + topic + "/") }

func commitKey(topic, group string) []byte { return []byte("c/" + topic + "/" + group) }

func (b *Broker) Location() string { return b.location }

// CreateTopic succeeds when the topic already exists.
func (b *Broker) CreateTopic(topic string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(markerKey(topic))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(markerKey(topic), []byte{1}); err != nil {
			return err
		}
		return txn.Set(nextKey(topic), utils.ConvertUint64ToBytes(0))
	})
}

// DeleteTopic drops the topic and its cursors. Missing topics are ignored.
func (b *Broker) DeleteTopic(topic string) error {
	if err := b.db.DeletePrefix(recordPrefix(topic)); err != nil {
		return err
	}
	if err := b.db.DeletePrefix(commitPrefix(topic)); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(markerKey(topic)); err != nil {
			return err
		}
		return txn.Delete(nextKey(topic))
	})
	b.notify(topic)
	return err
}

func (b *Broker) TopicExists(topic string) (bool, error) {
	return b.db.Has(markerKey(topic))
}

// Topics lists existing topic names.
func (b *Broker) Topics() ([]string, error) {
	var out []string
	err := b.db.Scan([]byte("m/"), nil, 0, func(key, _ []byte) error {
		out = append(out, strings.TrimPrefix(string(key), "m/"))
		return nil
	})
	return out, err
}

// Append adds records to the end of topic in one transaction.
func (b *Broker) Append(topic string, records []channel.Record) (channel.OffsetsWritten, error) {
	if len(records) == 0 {
		return channel.OffsetsWritten{}, nil
	}
	now := time.Now()
	var res channel.OffsetsWritten
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(nextKey(topic))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", channel.ErrTopicNotFound, topic)
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		next := int64(utils.ConvertBytesToUint64(raw))

		res = channel.OffsetsWritten{First: next, Count: len(records)}
		for _, r := range records {
			ts := r.Timestamp
			if ts.IsZero() {
				ts = now
			}
			buf, err := utils.EncodeMsgPack(envelope{
				Offset:  next,
				Key:     r.Key,
				Value:   r.Value,
				Headers: r.Headers,
				Time:    ts.UnixNano(),
			})
			if err != nil {
				return err
			}
			if err := txn.Set(recordKey(topic, next), buf.Bytes()); err != nil {
				return err
			}
			next++
		}
		res.Last = next - 1
		return txn.Set(nextKey(topic), utils.ConvertUint64ToBytes(uint64(next)))
	})
	if err != nil {
		return channel.OffsetsWritten{}, err
	}
	b.notify(topic)
	return res, nil
}

// ReadFrom returns up to max records starting at offset.
func (b *Broker) ReadFrom(topic string, offset int64, max int) ([]channel.Record, error) {
	ok, err := b.TopicExists(topic)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", channel.ErrTopicNotFound, topic)
	}

	var out []channel.Record
	err = b.db.Scan(recordPrefix(topic), recordKey(topic, offset), max, func(_, val []byte) error {
		var e envelope
		if err := utils.DecodeMsgPack(val, &e); err != nil {
			return err
		}
		out = append(out, channel.Record{
			Key:       e.Key,
			Value:     e.Value,
			Headers:   e.Headers,
			Timestamp: time.Unix(0, e.Time),
			Offset:    e.Offset,
		})
		return nil
	})
	return out, err
}

// EndOffset is the offset the next appended record will get.
func (b *Broker) EndOffset(topic string) (int64, error) {
	n, err := b.db.GetUint64(nextKey(topic))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return 0, fmt.Errorf("%w: %s", channel.ErrTopicNotFound, topic)
	}
	return int64(n), err
}

func (b *Broker) Commit(topic, group string, offset int64) error {
	ok, err := b.TopicExists(topic)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", channel.ErrTopicNotFound, topic)
	}
	return b.db.SetUint64(commitKey(topic, group), uint64(offset))
}

// Committed returns the stored cursor of group and whether one exists.
func (b *Broker) Committed(topic, group string) (int64, bool, error) {
	n, err := b.db.GetUint64(commitKey(topic, group))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return int64(n), true, nil
}

// wait returns a channel closed on the next change to topic.
func (b *Broker) wait(topic string) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.waiters[topic]
	if !ok {
		ch = make(chan struct{})
		b.waiters[topic] = ch
	}
	return ch
}

func (b *Broker) notify(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.waiters[topic]; ok {
		close(ch)
		delete(b.waiters, topic)
	}
}
