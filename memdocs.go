package stash

import (
	"encoding/json"
	"io/fs"
	"sync"
	"time"
)

// MemoryEngine is the name the built-in in-memory engine registers under.
const MemoryEngine = "memory"

func init() {
	RegisterEngine(MemoryEngine, func(string, ...any) (Docs, error) {
		return NewMemDocs(), nil
	})
}

// MemDocs is the in-memory engine: records live in a mutex-guarded map
// with no file persistence. Records are held JSON-encoded so values round
// trip through exactly the same types as the file engines and never alias
// caller memory.
type MemDocs struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemDocs returns an empty in-memory datastore.
func NewMemDocs() *MemDocs {
	return &MemDocs{data: make(map[string][]byte)}
}

// Len reports how many records are held, expired ones included.
func (m *MemDocs) Len() int {
	m.mu.RLock()
	l := len(m.data)
	m.mu.RUnlock()
	return l
}

func (m *MemDocs) get(key string) (*Record, error) {
	raw, ok := m.data[key]
	if !ok {
		return nil, ErrNoDocument
	}
	rec := &Record{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (m *MemDocs) put(r *Record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	m.data[r.Key] = raw
	return nil
}

// FindOne retrieves the record stored at the given key.
func (m *MemDocs) FindOne(key string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fs.ErrClosed
	}
	return m.get(key)
}

// Find returns every record matching the filter.
func (m *MemDocs) Find(f Filter) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fs.ErrClosed
	}
	var recs []*Record
	for key := range m.data {
		if !f.Match(key) {
			continue
		}
		rec, err := m.get(key)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Insert stores a new record, refusing to replace an existing one.
func (m *MemDocs) Insert(r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fs.ErrClosed
	}
	if _, ok := m.data[r.Key]; ok {
		return ErrDuplicate
	}
	return m.put(r)
}

// Upsert stores the record, replacing any previous one at the same key.
func (m *MemDocs) Upsert(r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fs.ErrClosed
	}
	return m.put(r)
}

// Remove deletes matching records and reports how many went away.
func (m *MemDocs) Remove(f Filter, multi bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, fs.ErrClosed
	}
	removed := 0
	for key := range m.data {
		if !f.Match(key) {
			continue
		}
		delete(m.data, key)
		removed++
		if !multi {
			break
		}
	}
	return removed, nil
}

// Sweep drops every record already expired at now.
func (m *MemDocs) Sweep(now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, fs.ErrClosed
	}
	removed := 0
	for key := range m.data {
		rec, err := m.get(key)
		if err != nil {
			return removed, err
		}
		if rec.Expired(now) {
			delete(m.data, key)
			removed++
		}
	}
	return removed, nil
}

// EnsureIndex accepts the primary key index, which the backing map
// provides natively.
func (m *MemDocs) EnsureIndex(field string, unique bool) error {
	if field != KeyField || !unique {
		return ErrUnsupportedIndex
	}
	return nil
}

// Compact is a no-op, there is no datafile to shrink.
func (m *MemDocs) Compact() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fs.ErrClosed
	}
	return nil
}

// Sync is a no-op.
func (m *MemDocs) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fs.ErrClosed
	}
	return nil
}

// Close drops every record and marks the datastore closed.
func (m *MemDocs) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fs.ErrClosed
	}
	m.closed = true
	m.data = nil
	return nil
}
