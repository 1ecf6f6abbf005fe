// Package kv wraps badger for the embedded broker.
package kv

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/avast/retry-go/v4"
	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/tarungka/opwire/internal/logger"
	"github.com/tarungka/opwire/internal/utils"
)

type Config struct {
	Dir      string
	InMemory bool
	Logger   zerolog.Logger
	// ConflictRetries bounds how often a conflicting update is replayed.
	ConflictRetries uint
}

type DB struct {
	open atomic.Bool

	cfg    Config
	logger zerolog.Logger

	db *badger.DB
	mu sync.RWMutex
}

func New(c *Config) *DB {
	cfg := *c
	if cfg.ConflictRetries == 0 {
		cfg.ConflictRetries = 16
	}
	return &DB{
		cfg:    cfg,
		logger: logger.Component(cfg.Logger, "kv"),
	}
}

func (db *DB) Open() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.open.Load() {
		return ErrDBOpen
	}

	opts := badger.DefaultOptions(db.cfg.Dir)
	if db.cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithMemTableSize(16 << 20)
	}
	opts = opts.WithLogger(logger.Badger(db.cfg.Logger))

	bdb, err := badger.Open(opts)
	if err != nil {
		return err
	}
	db.db = bdb
	db.open.Store(true)
	if db.cfg.InMemory {
		db.logger.Debug().Msg("opened an in-memory database")
	} else {
		db.logger.Debug().Msgf("opened a file-based database at %s", db.cfg.Dir)
	}
	return nil
}

func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.open.CompareAndSwap(true, false) {
		return nil
	}
	return db.db.Close()
}

func (db *DB) IsOpen() bool { return db.open.Load() }

func (db *DB) Set(key, val []byte) error {
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

// Get returns the value for key, or ErrKeyNotFound.
func (db *DB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	return val, err
}

func (db *DB) SetUint64(key []byte, val uint64) error {
	return db.Set(key, utils.ConvertUint64ToBytes(val))
}

// GetUint64 returns the uint64 value for key, or ErrKeyNotFound.
func (db *DB) GetUint64(key []byte) (uint64, error) {
	b, err := db.Get(key)
	if err != nil {
		return 0, err
	}
	return utils.ConvertBytesToUint64(b), nil
}

func (db *DB) Has(key []byte) (bool, error) {
	_, err := db.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Update runs fn in a read-write transaction. Transactions that lose a
// conflict are replayed.
func (db *DB) Update(fn func(txn *badger.Txn) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if !db.open.Load() {
		return ErrDBNotOpen
	}
	err := retry.Do(func() error {
		return db.db.Update(fn)
	},
		retry.Attempts(db.cfg.ConflictRetries),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, badger.ErrConflict) }),
	)
	return mapErr(err)
}

func (db *DB) View(fn func(txn *badger.Txn) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if !db.open.Load() {
		return ErrDBNotOpen
	}
	return mapErr(db.db.View(fn))
}

// Scan visits keys under prefix starting at start, at most max of them
// when max > 0.
func (db *DB) Scan(prefix, start []byte, max int, fn func(key, val []byte) error) error {
	return db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := start
		if seek == nil {
			seek = prefix
		}
		n := 0
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if max > 0 && n >= max {
				return nil
			}
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), val); err != nil {
				return err
			}
			n++
		}
		return nil
	})
}

// DeletePrefix removes every key under prefix.
func (db *DB) DeletePrefix(prefix []byte) error {
	var keys [][]byte
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	// stay below badger's transaction size limits
	const chunk = 1000
	for len(keys) > 0 {
		n := min(chunk, len(keys))
		batch := keys[:n]
		keys = keys[n:]
		if err := db.Update(func(txn *badger.Txn) error {
			for _, k := range batch {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func mapErr(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrKeyNotFound
	}
	return err
}
