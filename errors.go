package stash

import "errors"

//goland:noinspection GoExportedElementShouldHaveComment
var (
	// ErrNoDocument is the regularized miss. Every engine reports an absent
	// key this way no matter how its native lookup behaves.
	ErrNoDocument = errors.New("no document at key")
	// ErrDuplicate is returned by Insert when the key is already taken.
	ErrDuplicate = errors.New("document already exists at key")

	ErrNoEngine        = errors.New("no storage engine registered")
	ErrAmbiguousEngine = errors.New("multiple storage engines registered, select one explicitly")
	ErrUnknownEngine   = errors.New("unknown storage engine")

	ErrUnsupportedIndex = errors.New("engines only index the primary key")
	ErrNoPath           = errors.New("store has no backing path")
)
