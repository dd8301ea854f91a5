package stash

import (
	"errors"
	"io/fs"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Store is a namespaced, expiring key-value view over a single document
// datastore. Multiple stores with distinct namespaces can share one
// datastore without ever observing each other's records.
//
// The store adds no locking of its own: per-operation consistency is the
// engine's, and read-modify-write races between operations resolve by
// last write wins.
type Store struct {
	docs  Docs
	ns    string
	ser   Serializer
	log   zerolog.Logger
	path  string
	owned bool

	ready    chan struct{}
	readyErr error

	closed atomic.Bool
}

// Namespace returns the configured namespace, which may be empty.
func (s *Store) Namespace() string {
	return s.ns
}

// physicalKey resolves a logical key to its stored form. The delimiter is
// part of the prefix, so namespace "app" can never match records written
// under "app2".
func (s *Store) physicalKey(key string) string {
	if s.ns == "" {
		return key
	}
	return s.ns + ":" + key
}

// scope is the filter covering everything this store owns: the namespace
// prefix, or the whole datastore when no namespace is configured.
func (s *Store) scope() Filter {
	if s.ns == "" {
		return Filter{}
	}
	return ByPrefix(s.ns + ":")
}

// Get retrieves the value stored at key. Absent and expired keys both
// come back as found == false with a nil error; a record found expired is
// evicted on the way out, best effort.
func (s *Store) Get(key string) (any, bool, error) {
	if s.closed.Load() {
		return nil, false, fs.ErrClosed
	}
	pk := s.physicalKey(key)
	rec, err := s.docs.FindOne(pk)
	if errors.Is(err, ErrNoDocument) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if rec.Expired(time.Now()) {
		if _, evictErr := s.docs.Remove(ByKey(pk), false); evictErr != nil {
			s.log.Warn().Err(evictErr).Str("key", key).Msg("failed to evict expired record")
		}
		return nil, false, nil
	}
	val, err := s.ser.Deserialize(rec.Value)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// GetMany retrieves several keys at once. The result always has the same
// length and order as keys, with a nil hole wherever a key was absent or
// expired; the first lookup error aborts the whole batch.
func (s *Store) GetMany(keys ...string) ([]any, error) {
	if s.closed.Load() {
		return nil, fs.ErrClosed
	}
	vals := make([]any, len(keys))
	for i, key := range keys {
		val, ok, err := s.Get(key)
		if err != nil {
			return nil, err
		}
		if ok {
			vals[i] = val
		}
	}
	return vals, nil
}

// Set stores value at key, replacing any previous record there. A ttl
// greater than zero sets an expiry deadline; anything else stores the
// record permanently, clearing whatever deadline an earlier Set left.
func (s *Store) Set(key string, value any, ttl time.Duration) error {
	if s.closed.Load() {
		return fs.ErrClosed
	}
	val, err := s.ser.Serialize(value)
	if err != nil {
		return err
	}
	now := time.Now()
	rec := &Record{
		Key:       s.physicalKey(key),
		Value:     val,
		UpdatedAt: now.UnixMilli(),
	}
	if ttl > 0 {
		deadline := now.Add(ttl).UnixMilli()
		rec.ExpiredAt = &deadline
	}
	return s.docs.Upsert(rec)
}

// Delete removes the record at key and reports whether one was there.
// Deleting an expired record that has not been evicted yet still counts.
func (s *Store) Delete(key string) (bool, error) {
	if s.closed.Load() {
		return false, fs.ErrClosed
	}
	n, err := s.docs.Remove(ByKey(s.physicalKey(key)), false)
	return n > 0, err
}

// Clear removes every record belonging to this store and compacts the
// datafile. With no namespace configured that is the entire datastore.
func (s *Store) Clear() error {
	if s.closed.Load() {
		return fs.ErrClosed
	}
	if _, err := s.docs.Remove(s.scope(), true); err != nil {
		return err
	}
	return s.docs.Compact()
}

// Iterate enumerates this store's live records as they exist right now.
// Records found expired are skipped without being evicted. The returned
// Seq replays a snapshot: writes made after Iterate returns are not
// reflected, and a second pass needs a fresh call.
func (s *Store) Iterate() (Seq, error) {
	if s.closed.Load() {
		return nil, fs.ErrClosed
	}
	recs, err := s.docs.Find(s.scope())
	if err != nil {
		return nil, err
	}
	now := time.Now()
	items := make([]Item, 0, len(recs))
	for _, rec := range recs {
		if rec.Expired(now) {
			continue
		}
		val, serErr := s.ser.Deserialize(rec.Value)
		if serErr != nil {
			return nil, serErr
		}
		key := rec.Key
		if s.ns != "" {
			key = strings.TrimPrefix(key, s.ns+":")
		}
		items = append(items, Item{Key: key, Value: val})
	}
	return func(yield func(Item) bool) {
		for _, item := range items {
			if !yield(item) {
				return
			}
		}
	}, nil
}

// On exists for callers that expect an event-emitter shaped store. The
// store surfaces failures through return values instead, so On registers
// nothing, never invokes handler, and returns the store for chaining.
func (s *Store) On(event string, handler func(error)) *Store {
	return s
}

// Ready blocks until the startup sweep and compaction have finished and
// returns their first error, if any. Waiting is optional: operations
// issued before readiness are still correct.
func (s *Store) Ready() error {
	<-s.ready
	return s.readyErr
}

// Close waits out startup housekeeping and releases the datastore when
// this store owns it. Stores built with Wrap leave the datastore open.
// A second Close fails with fs.ErrClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return fs.ErrClosed
	}
	<-s.ready
	if !s.owned {
		return nil
	}
	return s.docs.Close()
}

// Docs exposes the underlying datastore. Mutating it directly bypasses
// namespacing, serialization, and expiry.
func (s *Store) Docs() Docs {
	return s.docs
}
