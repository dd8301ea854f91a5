// Package stash implements a namespaced, expiring key-value store on top
// of pluggable embedded document datastores.
package stash

import "time"

// KeyField is the name of the primary key field in stored documents.
// It is the only field engines are expected to index.
const KeyField = "key"

// Docs is the contract between the store layer and an embedded document
// datastore. One document is persisted per unique primary key, and these
// functions should be plug and play with most of the popular embedded
// storage engines.
type Docs interface {
	// FindOne retrieves the record stored at the given physical key.
	// A missing key is reported as ErrNoDocument, never as a nil record.
	FindOne(key string) (*Record, error)
	// Find returns every record matching the filter. Order is unspecified.
	Find(f Filter) ([]*Record, error)
	// Insert stores a new record, failing with ErrDuplicate when a record
	// already exists at the same key.
	Insert(r *Record) error
	// Upsert stores the record, replacing any existing record at the key.
	Upsert(r *Record) error
	// Remove deletes records matching the filter and reports how many went
	// away. When multi is false at most one record is removed.
	Remove(f Filter, multi bool) (int, error)
	// Sweep removes every record whose expiry deadline has passed at now.
	Sweep(now time.Time) (int, error)
	// EnsureIndex guarantees a unique index over the given field. Engines
	// index their native keyspace only, so anything other than a unique
	// index on KeyField yields ErrUnsupportedIndex.
	EnsureIndex(field string, unique bool) error
	// Compact reclaims space held by deleted and superseded records.
	Compact() error
	// Sync should take any volatile data and solidify it somehow if
	// relevant. (ram to disk in most cases)
	Sync() error
	// Close releases the datastore. Further calls fail with fs.ErrClosed.
	Close() error
}

// Opener constructs a Docs rooted at the given directory. Additional opts
// are engine-specific and are normalized by each engine; passing an option
// of the wrong type is an error, never a silent default.
type Opener func(path string, opts ...any) (Docs, error)
