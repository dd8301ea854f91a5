// Package pogreb adapts the pogreb hash store as a stash engine.
package pogreb

import (
	"encoding/json"
	"errors"
	"io/fs"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/akrylysov/pogreb"

	"git.tcp.direct/tcp.direct/stash"
)

// Subdir holds the pogreb datafiles inside the store directory.
const Subdir = "pogreb"

// Store is a stash.Docs over a pogreb datastore.
type Store struct {
	db     *pogreb.DB
	closed *atomic.Bool
}

// Open opens or creates the datastore inside the given directory. At most
// one option is accepted, a pogreb.Options value or pointer.
func Open(path string, opts ...any) (*Store, error) {
	if path == "" {
		return nil, ErrPathRequired
	}
	popts, err := normalizeOptions(opts...)
	if err != nil {
		return nil, err
	}
	db, err := pogreb.Open(filepath.Join(path, Subdir), popts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, closed: &atomic.Bool{}}, nil
}

func normalizeOptions(opts ...any) (*pogreb.Options, error) {
	switch len(opts) {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, ErrBadOptions
	}
	switch t := opts[0].(type) {
	case pogreb.Options:
		return &t, nil
	case *pogreb.Options:
		return t, nil
	default:
		return nil, ErrBadOptions
	}
}

// Backend returns the underlying pogreb instance.
func (s *Store) Backend() any {
	return s.db
}

// Len reports how many records are held, expired ones included.
func (s *Store) Len() int {
	return int(s.db.Count())
}

func decodeRecord(raw []byte) (*stash.Record, error) {
	rec := &stash.Record{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// FindOne retrieves the record stored at the given key. pogreb reports a
// missing key as a nil value with a nil error, which is regularized here
// into ErrNoDocument.
func (s *Store) FindOne(key string) (*stash.Record, error) {
	if s.closed.Load() {
		return nil, fs.ErrClosed
	}
	raw, err := s.db.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, stash.ErrNoDocument
	}
	return decodeRecord(raw)
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
	var recs []*stash.Record
	it := s.db.Items()
	for {
		key, val, err := it.Next()
		if errors.Is(err, pogreb.ErrIterationDone) {
			break
		}
		if err != nil {
			return nil, err
		}
		if !f.Match(string(key)) {
			continue
		}
		rec, decErr := decodeRecord(val)
		if decErr != nil {
			return nil, decErr
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// matchKeys collects matching keys up front. Mutating pogreb during
// iteration is not safe, so removal is always a second pass.
func (s *Store) matchKeys(f stash.Filter) ([][]byte, error) {
	var keys [][]byte
	it := s.db.Items()
	for {
		key, _, err := it.Next()
		if errors.Is(err, pogreb.ErrIterationDone) {
			break
		}
		if err != nil {
			return nil, err
		}
		if f.Match(string(key)) {
			keys = append(keys, append([]byte(nil), key...))
		}
	}
	return keys, nil
}

// Insert stores a new record, refusing to replace an existing one.
func (s *Store) Insert(r *stash.Record) error {
	if s.closed.Load() {
		return fs.ErrClosed
	}
	has, err := s.db.Has([]byte(r.Key))
	if err != nil {
		return err
	}
	if has {
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
		has, err := s.db.Has([]byte(f.Key))
		if err != nil {
			return 0, err
		}
		if !has {
			return 0, nil
		}
		if err = s.db.Delete([]byte(f.Key)); err != nil {
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
	var expired [][]byte
	it := s.db.Items()
	for {
		key, val, err := it.Next()
		if errors.Is(err, pogreb.ErrIterationDone) {
			break
		}
		if err != nil {
			return 0, err
		}
		rec, decErr := decodeRecord(val)
		if decErr != nil {
			return 0, decErr
		}
		if rec.Expired(now) {
			expired = append(expired, append([]byte(nil), key...))
		}
	}
	removed := 0
	for _, key := range expired {
		if err := s.db.Delete(key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// EnsureIndex accepts the primary key index, which pogreb's hash table is.
func (s *Store) EnsureIndex(field string, unique bool) error {
	if field != stash.KeyField || !unique {
		return stash.ErrUnsupportedIndex
	}
	return nil
}

// Compact reclaims space held by deleted and superseded records.
func (s *Store) Compact() error {
	if s.closed.Load() {
		return fs.ErrClosed
	}
	_, err := s.db.Compact()
	return err
}

// Sync commits the datastore to stable storage.
func (s *Store) Sync() error {
	if s.closed.Load() {
		return fs.ErrClosed
	}
	return s.db.Sync()
}

// Close releases the datastore. Further calls fail with fs.ErrClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return fs.ErrClosed
	}
	return s.db.Close()
}
