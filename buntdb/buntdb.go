// Package buntdb adapts tidwall/buntdb as a stash engine. Records live in
// a single append-only file inside the store directory, which makes it
// the default engine for file-backed stores.
package buntdb

import (
	"encoding/json"
	"errors"
	"io/fs"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/tidwall/buntdb"

	"git.tcp.direct/tcp.direct/stash"
)

// Datafile is the name of the append-only file inside the store directory.
const Datafile = "stash.db"

// Store is a stash.Docs over a buntdb database.
type Store struct {
	db     *buntdb.DB
	closed *atomic.Bool
}

// Open opens or creates the datastore inside the given directory. An
// empty path keeps the whole database in memory. Options must be
// buntdb.Config values; they are applied in order via SetConfig.
func Open(path string, opts ...any) (*Store, error) {
	target := ":memory:"
	if path != "" {
		target = filepath.Join(path, Datafile)
	}
	db, err := buntdb.Open(target)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		cfg, ok := opt.(buntdb.Config)
		if !ok {
			_ = db.Close()
			return nil, ErrBadOptions
		}
		if err = db.SetConfig(cfg); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &Store{db: db, closed: &atomic.Bool{}}, nil
}

// Backend returns the underlying buntdb instance.
func (s *Store) Backend() any {
	return s.db
}

func encodeRecord(r *stash.Record) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeRecord(raw string) (*stash.Record, error) {
	rec := &stash.Record{}
	if err := json.Unmarshal([]byte(raw), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// FindOne retrieves the record stored at the given key.
func (s *Store) FindOne(key string) (*stash.Record, error) {
	if s.closed.Load() {
		return nil, fs.ErrClosed
	}
	var raw string
	err := s.db.View(func(tx *buntdb.Tx) error {
		var txErr error
		raw, txErr = tx.Get(key)
		return txErr
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, stash.ErrNoDocument
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(raw)
}

// Find returns every record matching the filter. The scan walks the whole
// keyspace and filters in Go: keys are caller data and may contain
// characters buntdb's match patterns would treat as wildcards.
func (s *Store) Find(f stash.Filter) ([]*stash.Record, error) {
	if s.closed.Load() {
		return nil, fs.ErrClosed
	}
	var recs []*stash.Record
	err := s.db.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		iterErr := tx.AscendKeys("*", func(key, value string) bool {
			if !f.Match(key) {
				return true
			}
			var rec *stash.Record
			if rec, decodeErr = decodeRecord(value); decodeErr != nil {
				return false
			}
			recs = append(recs, rec)
			return true
		})
		if decodeErr != nil {
			return decodeErr
		}
		return iterErr
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// Insert stores a new record, refusing to replace an existing one.
func (s *Store) Insert(r *stash.Record) error {
	if s.closed.Load() {
		return fs.ErrClosed
	}
	raw, err := encodeRecord(r)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, getErr := tx.Get(r.Key)
		if getErr == nil {
			return stash.ErrDuplicate
		}
		if !errors.Is(getErr, buntdb.ErrNotFound) {
			return getErr
		}
		_, _, setErr := tx.Set(r.Key, raw, nil)
		return setErr
	})
}

// Upsert stores the record, replacing any previous one at the same key.
func (s *Store) Upsert(r *stash.Record) error {
	if s.closed.Load() {
		return fs.ErrClosed
	}
	raw, err := encodeRecord(r)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, setErr := tx.Set(r.Key, raw, nil)
		return setErr
	})
}

// Remove deletes matching records inside one transaction and reports how
// many went away. Keys are collected first; buntdb forbids mutating the
// keyspace mid-iteration.
func (s *Store) Remove(f stash.Filter, multi bool) (int, error) {
	if s.closed.Load() {
		return 0, fs.ErrClosed
	}
	removed := 0
	err := s.db.Update(func(tx *buntdb.Tx) error {
		var keys []string
		iterErr := tx.AscendKeys("*", func(key, _ string) bool {
			if !f.Match(key) {
				return true
			}
			keys = append(keys, key)
			return multi
		})
		if iterErr != nil {
			return iterErr
		}
		for _, key := range keys {
			if _, delErr := tx.Delete(key); delErr != nil {
				return delErr
			}
			removed++
		}
		return nil
	})
	if err != nil {
		// the transaction rolled back, nothing was removed
		return 0, err
	}
	return removed, nil
}

// Sweep removes every record whose expiry deadline has passed at now.
func (s *Store) Sweep(now time.Time) (int, error) {
	if s.closed.Load() {
		return 0, fs.ErrClosed
	}
	removed := 0
	err := s.db.Update(func(tx *buntdb.Tx) error {
		var keys []string
		var decodeErr error
		iterErr := tx.AscendKeys("*", func(key, value string) bool {
			var rec *stash.Record
			if rec, decodeErr = decodeRecord(value); decodeErr != nil {
				return false
			}
			if rec.Expired(now) {
				keys = append(keys, key)
			}
			return true
		})
		if decodeErr != nil {
			return decodeErr
		}
		if iterErr != nil {
			return iterErr
		}
		for _, key := range keys {
			if _, delErr := tx.Delete(key); delErr != nil {
				return delErr
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// EnsureIndex accepts the primary key index, which buntdb's keyspace is.
func (s *Store) EnsureIndex(field string, unique bool) error {
	if field != stash.KeyField || !unique {
		return stash.ErrUnsupportedIndex
	}
	return nil
}

// Compact rewrites the append-only file without its dead entries. A
// shrink already in flight counts as done.
func (s *Store) Compact() error {
	if s.closed.Load() {
		return fs.ErrClosed
	}
	err := s.db.Shrink()
	if errors.Is(err, buntdb.ErrShrinkInProcess) {
		return nil
	}
	return err
}

// Sync is a no-op: buntdb flushes according to its own SyncPolicy, which
// callers tune through Open's options.
func (s *Store) Sync() error {
	if s.closed.Load() {
		return fs.ErrClosed
	}
	return nil
}

// Close releases the database. Further calls fail with fs.ErrClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return fs.ErrClosed
	}
	return s.db.Close()
}
