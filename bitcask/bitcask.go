// Package bitcask adapts the bitcask log-structured store as a stash
// engine.
package bitcask

import (
	"encoding/json"
	"errors"
	"io/fs"
	"path/filepath"
	"sync/atomic"
	"time"

	"git.tcp.direct/Mirrors/bitcask-mirror"

	"git.tcp.direct/tcp.direct/stash"
)

// Subdir holds the bitcask datafiles inside the store directory.
const Subdir = "bitcask"

// Stock bitcask caps keys at 64 bytes and values at 64KB. Physical keys
// carry namespace prefixes and values carry whole JSON documents, so both
// are raised here. Caller options are applied afterwards and win.
var defaultOptions = []bitcask.Option{
	bitcask.WithMaxKeySize(4096),
	bitcask.WithMaxValueSize(1 << 24),
}

// Store is a stash.Docs over a bitcask datastore.
type Store struct {
	db     *bitcask.Bitcask
	closed *atomic.Bool
}

// Open opens or creates the datastore inside the given directory.
// Options must be bitcask.Option values.
func Open(path string, opts ...any) (*Store, error) {
	if path == "" {
		return nil, ErrPathRequired
	}
	bopts := make([]bitcask.Option, 0, len(defaultOptions)+len(opts))
	bopts = append(bopts, defaultOptions...)
	for _, opt := range opts {
		bopt, ok := opt.(bitcask.Option)
		if !ok {
			return nil, ErrBadOptions
		}
		bopts = append(bopts, bopt)
	}
	db, err := bitcask.Open(filepath.Join(path, Subdir), bopts...)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, closed: &atomic.Bool{}}, nil
}

// WithMaxDatafileSize is a shim for bitcask's WithMaxDatafileSize function.
func WithMaxDatafileSize(size int) bitcask.Option {
	return bitcask.WithMaxDatafileSize(size)
}

// WithMaxKeySize is a shim for bitcask's WithMaxKeySize function.
func WithMaxKeySize(size uint32) bitcask.Option {
	return bitcask.WithMaxKeySize(size)
}

// WithMaxValueSize is a shim for bitcask's WithMaxValueSize function.
func WithMaxValueSize(size uint64) bitcask.Option {
	return bitcask.WithMaxValueSize(size)
}

// Backend returns the underlying bitcask instance.
func (s *Store) Backend() any {
	return s.db
}

func decodeRecord(raw []byte) (*stash.Record, error) {
	rec := &stash.Record{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// FindOne retrieves the record stored at the given key.
func (s *Store) FindOne(key string) (*stash.Record, error) {
	if s.closed.Load() {
		return nil, fs.ErrClosed
	}
	raw, err := s.db.Get([]byte(key))
	if errors.Is(err, bitcask.ErrKeyNotFound) {
		return nil, stash.ErrNoDocument
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(raw)
}

// matchKeys drains the keyspace and filters it in Go. The key channel is
// always consumed to the end; bitcask holds a read lock until it closes,
// and abandoning it mid-stream would wedge the next writer.
func (s *Store) matchKeys(f stash.Filter) ([][]byte, error) {
	var keys [][]byte
	if f.Key != "" && !f.Exact {
		err := s.db.Scan([]byte(f.Key), func(key []byte) error {
			keys = append(keys, append([]byte(nil), key...))
			return nil
		})
		if err != nil {
			return nil, err
		}
		return keys, nil
	}
	for key := range s.db.Keys() {
		if f.Match(string(key)) {
			keys = append(keys, append([]byte(nil), key...))
		}
	}
	return keys, nil
}

// Find returns every record matching the filter.
func (s *Store) Find(f stash.Filter) ([]*stash.Record, error) {
	if s.closed.Load() {
		return nil, fs.ErrClosed
	}
	if f.Exact {
		rec, err := s.FindOne(f.Key)
		if errors.Is(err, stash.ErrNoDocument) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []*stash.Record{rec}, nil
	}
	keys, err := s.matchKeys(f)
	if err != nil {
		return nil, err
	}
	recs := make([]*stash.Record, 0, len(keys))
	for _, key := range keys {
		raw, getErr := s.db.Get(key)
		if errors.Is(getErr, bitcask.ErrKeyNotFound) {
			continue
		}
		if getErr != nil {
			return nil, getErr
		}
		rec, decErr := decodeRecord(raw)
		if decErr != nil {
			return nil, decErr
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Insert stores a new record, refusing to replace an existing one.
func (s *Store) Insert(r *stash.Record) error {
	if s.closed.Load() {
		return fs.ErrClosed
	}
	if s.db.Has([]byte(r.Key)) {
		return stash.ErrDuplicate
	}
	return s.put(r)
}

// Upsert stores the record, replacing any previous one at the same key.
func (s *Store) Upsert(r *stash.Record) error {
	if s.closed.Load() {
		return fs.ErrClosed
	}
	return s.put(r)
}

func (s *Store) put(r *stash.Record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(r.Key), raw)
}

// Remove deletes matching records and reports how many went away.
func (s *Store) Remove(f stash.Filter, multi bool) (int, error) {
	if s.closed.Load() {
		return 0, fs.ErrClosed
	}
	if f.Exact {
		if !s.db.Has([]byte(f.Key)) {
			return 0, nil
		}
		if err := s.db.Delete([]byte(f.Key)); err != nil {
			return 0, err
		}
		return 1, nil
	}
	keys, err := s.matchKeys(f)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		if err = s.db.Delete(key); err != nil {
			return removed, err
		}
		removed++
		if !multi {
			break
		}
	}
	return removed, nil
}

// Sweep removes every record whose expiry deadline has passed at now.
func (s *Store) Sweep(now time.Time) (int, error) {
	if s.closed.Load() {
		return 0, fs.ErrClosed
	}
	keys, err := s.matchKeys(stash.Filter{})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		raw, getErr := s.db.Get(key)
		if errors.Is(getErr, bitcask.ErrKeyNotFound) {
			continue
		}
		if getErr != nil {
			return removed, getErr
		}
		rec, decErr := decodeRecord(raw)
		if decErr != nil {
			return removed, decErr
		}
		if !rec.Expired(now) {
			continue
		}
		if err = s.db.Delete(key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// EnsureIndex accepts the primary key index, which bitcask's keyspace
// trie is.
func (s *Store) EnsureIndex(field string, unique bool) error {
	if field != stash.KeyField || !unique {
		return stash.ErrUnsupportedIndex
	}
	return nil
}

// Compact merges the datafiles, dropping superseded and deleted entries.
func (s *Store) Compact() error {
	if s.closed.Load() {
		return fs.ErrClosed
	}
	return s.db.Merge()
}

// Sync flushes pending writes to disk.
func (s *Store) Sync() error {
	if s.closed.Load() {
		return fs.ErrClosed
	}
	return s.db.Sync()
}

// Close syncs and releases the datastore. Further calls fail with
// fs.ErrClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return fs.ErrClosed
	}
	return s.db.Close()
}
