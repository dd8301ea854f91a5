// Package metadata maintains the meta.json sidecar that records which
// engine owns a store directory. This is what lets a directory be
// reopened later without naming the engine again, and what stops a
// different engine from trampling datafiles it does not understand.
package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
)

// Filename is the sidecar file kept next to the engine's datafiles.
const Filename = "meta.json"

// ErrEngineMismatch means the directory's sidecar names a different
// engine than the one trying to claim it.
var ErrEngineMismatch = errors.New("store directory belongs to a different engine")

// Metadata identifies the engine that owns a store directory. The Engine
// field is the only absolute requirement; everything else is bookkeeping.
type Metadata struct {
	Engine     string    `json:"engine"`
	ID         string    `json:"id,omitempty"`
	Created    time.Time `json:"created,omitempty"`
	LastOpened time.Time `json:"last_opened,omitempty"`

	path string
}

// New returns metadata for a fresh store directory without writing it.
func New(dir, engine string) *Metadata {
	now := time.Now()
	return &Metadata{
		Engine:     engine,
		ID:         uuid.NewString(),
		Created:    now,
		LastOpened: now,
		path:       filepath.Join(dir, Filename),
	}
}

// Create writes a fresh sidecar into dir and returns it.
func Create(dir, engine string) (*Metadata, error) {
	m := New(dir, engine)
	if err := m.Sync(); err != nil {
		return nil, err
	}
	return m, nil
}

// Open reads the sidecar found in dir. A missing sidecar is reported
// through os.ErrNotExist; a sidecar with no engine name is an error, as
// the directory cannot be claimed by anyone.
func Open(dir string) (*Metadata, error) {
	path := filepath.Join(dir, Filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := &Metadata{}
	if err = json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", Filename, err)
	}
	if m.Engine == "" {
		return nil, fmt.Errorf("%s has no engine type", Filename)
	}
	m.path = path
	return m, nil
}

// OpenOrCreate opens an existing sidecar, failing when it belongs to a
// different engine, or creates a fresh one for the named engine.
func OpenOrCreate(dir, engine string) (*Metadata, error) {
	m, err := Open(dir)
	if errors.Is(err, os.ErrNotExist) {
		return Create(dir, engine)
	}
	if err != nil {
		return nil, err
	}
	if m.Engine != engine {
		return nil, fmt.Errorf("%w: %s holds %q", ErrEngineMismatch, dir, m.Engine)
	}
	return m, nil
}

// Path returns where the sidecar lives on disk.
func (m *Metadata) Path() string {
	return m.path
}

// Touch stamps LastOpened and writes the sidecar out.
func (m *Metadata) Touch() error {
	m.LastOpened = time.Now()
	return m.Sync()
}

// Sync writes the sidecar atomically. A torn meta.json would strand the
// datafiles beside it with no engine to claim them.
func (m *Metadata) Sync() error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return atomic.WriteFile(m.path, bytes.NewReader(data))
}
