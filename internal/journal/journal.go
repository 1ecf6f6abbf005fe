// Package journal keeps a durable history of operator attempts in bbolt.
package journal

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/opwire/internal/utils"
	bolt "go.etcd.io/bbolt"
)

var (
	// ErrNotFound is returned for an unknown attempt.
	ErrNotFound = errors.New("attempt not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("journal closed")
)

var (
	attemptsBucket    = []byte("attempts")
	transitionsBucket = []byte("transitions")
)

// Attempt is the summary of one operator attempt. Times are unix nanos so
// the encoding stays stable.
type Attempt struct {
	ID       string
	Pipeline string
	Operator string
	Started  int64
	Finished int64
	State    string
	OK       bool
	Kind     string
	Error    string
	ExitCode int
}

func (a Attempt) StartedAt() time.Time { return time.Unix(0, a.Started) }

func (a Attempt) Done() bool { return a.Finished != 0 }

type Transition struct {
	From   string
	To     string
	Signal string
	Error  string
	At     int64
}

type Journal struct {
	db  *bolt.DB
	log zerolog.Logger
}

func Open(path string, l zerolog.Logger) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{attemptsBucket, transitionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, log: l.With().Str("component", "journal").Logger()}, nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

func put(b *bolt.Bucket, key []byte, v any) error {
	buf, err := utils.EncodeMsgPack(v)
	if err != nil {
		return err
	}
	return b.Put(key, buf.Bytes())
}

// Start records a new attempt.
func (j *Journal) Start(a Attempt) error {
	if j.db == nil {
		return ErrClosed
	}
	if a.Started == 0 {
		a.Started = time.Now().UnixNano()
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.Bucket(transitionsBucket).CreateBucketIfNotExists([]byte(a.ID)); err != nil {
			return err
		}
		return put(tx.Bucket(attemptsBucket), []byte(a.ID), a)
	})
}

// AddTransition appends to the history of an attempt.
func (j *Journal) AddTransition(id string, t Transition) error {
	if j.db == nil {
		return ErrClosed
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(transitionsBucket).Bucket([]byte(id))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return put(b, utils.ConvertUint64ToBytes(seq), t)
	})
}

// Finish stores the final state of an attempt.
func (j *Journal) Finish(a Attempt) error {
	if j.db == nil {
		return ErrClosed
	}
	if a.Finished == 0 {
		a.Finished = time.Now().UnixNano()
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(attemptsBucket)
		v := b.Get([]byte(a.ID))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, a.ID)
		}
		var prev Attempt
		if err := utils.DecodeMsgPack(v, &prev); err != nil {
			return err
		}
		if a.Started == 0 {
			a.Started = prev.Started
		}
		return put(b, []byte(a.ID), a)
	})
}

func (j *Journal) Attempt(id string) (Attempt, error) {
	var a Attempt
	if j.db == nil {
		return a, ErrClosed
	}
	err := j.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(attemptsBucket).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return utils.DecodeMsgPack(v, &a)
	})
	return a, err
}

// Attempts lists attempts oldest first. Empty filters match everything.
func (j *Journal) Attempts(pipeline, operator string) ([]Attempt, error) {
	if j.db == nil {
		return nil, ErrClosed
	}
	var out []Attempt
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(attemptsBucket).ForEach(func(_, v []byte) error {
			var a Attempt
			if err := utils.DecodeMsgPack(v, &a); err != nil {
				j.log.Warn().Err(err).Msg("skipping undecodable attempt")
				return nil
			}
			if (pipeline == "" || a.Pipeline == pipeline) && (operator == "" || a.Operator == operator) {
				out = append(out, a)
			}
			return nil
		})
	})
	sort.SliceStable(out, func(i, k int) bool { return out[i].Started < out[k].Started })
	return out, err
}

func (j *Journal) Transitions(id string) ([]Transition, error) {
	if j.db == nil {
		return nil, ErrClosed
	}
	var out []Transition
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(transitionsBucket).Bucket([]byte(id))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return b.ForEach(func(_, v []byte) error {
			var t Transition
			if err := utils.DecodeMsgPack(v, &t); err != nil {
				return err
			}
			out = append(out, t)
			return nil
		})
	})
	return out, err
}

// Prune drops finished attempts that started before cutoff.
func (j *Journal) Prune(cutoff time.Time) (int, error) {
	if j.db == nil {
		return 0, ErrClosed
	}
	n := 0
	err := j.db.Update(func(tx *bolt.Tx) error {
		attempts := tx.Bucket(attemptsBucket)
		var ids [][]byte
		err := attempts.ForEach(func(k, v []byte) error {
			var a Attempt
			if err := utils.DecodeMsgPack(v, &a); err != nil {
				return err
			}
			if a.Done() && a.Started < cutoff.UnixNano() {
				ids = append(ids, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := attempts.Delete(id); err != nil {
				return err
			}
			if err := tx.Bucket(transitionsBucket).DeleteBucket(id); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}
