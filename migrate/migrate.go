// Package migrate implements the migration of records from one stash
// engine to another.
package migrate

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"git.tcp.direct/tcp.direct/stash"
)

// ErrDupKeys is wrapped by ErrDuplicateKeys and matchable with errors.Is.
var ErrDupKeys = errors.New(
	"duplicate keys found in destination, enable skipping or clobbering of existing data to continue migration",
)

// ErrDuplicateKeys carries the colliding keys found by CheckDupes.
type ErrDuplicateKeys struct {
	Keys []string
}

func (e *ErrDuplicateKeys) Error() string {
	return fmt.Sprintf("%v: %v", ErrDupKeys, e.Keys)
}

func (e *ErrDuplicateKeys) Unwrap() error {
	return ErrDupKeys
}

// Migrator copies every live record from one datastore to another.
// Records that have already expired are treated as absent and never
// copied; the destination keeps its own records unless clobbering is
// enabled.
type Migrator struct {
	From stash.Docs
	To   stash.Docs

	clobber      bool
	skipExisting bool
}

// New prepares a migration between two open datastores.
func New(from, to stash.Docs) *Migrator {
	return &Migrator{From: from, To: to}
}

// WithClobber allows the migration to overwrite existing records in the
// destination.
func (m *Migrator) WithClobber() *Migrator {
	m.clobber = true
	return m
}

// WithSkipExisting keeps existing destination records and skips their
// source counterparts.
func (m *Migrator) WithSkipExisting() *Migrator {
	m.skipExisting = true
	return m
}

// CheckDupes reports the destination keys that would collide with live
// source records. With clobbering or skipping enabled collisions are
// resolvable, so nil comes back regardless.
func (m *Migrator) CheckDupes() error {
	recs, err := m.From.Find(stash.Filter{})
	if err != nil {
		return fmt.Errorf("error listing source records: %w", err)
	}
	now := time.Now()
	var dupes []string
	for _, rec := range recs {
		if rec.Expired(now) {
			continue
		}
		_, findErr := m.To.FindOne(rec.Key)
		if errors.Is(findErr, stash.ErrNoDocument) {
			continue
		}
		if findErr != nil {
			return fmt.Errorf("error probing destination: %w", findErr)
		}
		dupes = append(dupes, rec.Key)
	}
	if len(dupes) == 0 || m.skipExisting || m.clobber {
		return nil
	}
	slices.Sort(dupes)
	return &ErrDuplicateKeys{Keys: dupes}
}

// Run copies the records and reports how many landed in the destination.
// Both datastores are synced on the way out.
func (m *Migrator) Run() (int, error) {
	if err := m.CheckDupes(); err != nil {
		return 0, err
	}
	recs, err := m.From.Find(stash.Filter{})
	if err != nil {
		return 0, fmt.Errorf("error listing source records: %w", err)
	}
	now := time.Now()
	copied := 0
	for _, rec := range recs {
		if rec.Expired(now) {
			continue
		}
		_, findErr := m.To.FindOne(rec.Key)
		exists := findErr == nil
		if findErr != nil && !errors.Is(findErr, stash.ErrNoDocument) {
			return copied, fmt.Errorf("error probing destination: %w", findErr)
		}
		if exists && m.skipExisting {
			continue
		}
		if exists && !m.clobber {
			// the destination gained the key after CheckDupes passed
			return copied, &ErrDuplicateKeys{Keys: []string{rec.Key}}
		}
		if err = m.To.Upsert(rec); err != nil {
			return copied, fmt.Errorf("error copying %s: %w", rec.Key, err)
		}
		copied++
	}
	return copied, errors.Join(m.From.Sync(), m.To.Sync())
}
