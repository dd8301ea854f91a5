package stash

import (
	"errors"
	"fmt"
	"os"
	"time"

	"git.tcp.direct/tcp.direct/stash/metadata"
)

// Open creates or reopens a file-backed store rooted at the given
// directory. The engine comes from WithEngine when given, then from the
// directory's meta.json sidecar, and finally defaults to the sole
// registered file engine.
func Open(path string, opts ...Option) (*Store, error) {
	return New(append([]Option{WithPath(path)}, opts...)...)
}

// New constructs a Store from options alone. Without a path the store
// keeps its records in memory, the same as WithInMemoryOnly.
func New(opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.memOnly || cfg.path == "" {
		return newStore(NewMemDocs(), &cfg, true)
	}

	name, err := resolveEngine(&cfg)
	if err != nil {
		return nil, err
	}
	open := LookupEngine(name)
	if open == nil {
		return nil, fmt.Errorf("%w: %s (missing engine import?)", ErrUnknownEngine, name)
	}
	if err = os.MkdirAll(cfg.path, 0700); err != nil {
		return nil, fmt.Errorf("error creating store directory: %w", err)
	}
	meta, err := metadata.OpenOrCreate(cfg.path, name)
	if err != nil {
		return nil, err
	}
	docs, err := open(cfg.path, cfg.engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("error opening %s engine: %w", name, err)
	}
	if err = meta.Touch(); err != nil {
		cfg.log.Warn().Err(err).Str("path", cfg.path).Msg("failed to stamp meta.json")
	}
	return newStore(docs, &cfg, true)
}

// Wrap adopts an already-open datastore. Only the layer options apply
// (namespace, serializer, logger); the store does not own the datastore
// and Close will not close it.
func Wrap(docs Docs, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newStore(docs, &cfg, false)
}

// resolveEngine decides which engine a file-backed store uses. An explicit
// WithEngine wins, then the engine recorded in an existing meta.json, then
// the sole registered file engine. Anything else is refused rather than
// guessed: picking the wrong engine over existing datafiles is how stores
// get corrupted.
func resolveEngine(cfg *config) (string, error) {
	if cfg.engine != "" {
		return cfg.engine, nil
	}
	meta, err := metadata.Open(cfg.path)
	switch {
	case err == nil:
		return meta.Engine, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", err
	}
	file := FileEngines()
	switch len(file) {
	case 1:
		return file[0], nil
	case 0:
		return "", ErrNoEngine
	default:
		return "", fmt.Errorf("%w: %v", ErrAmbiguousEngine, file)
	}
}

func newStore(docs Docs, cfg *config, owned bool) (*Store, error) {
	if err := docs.EnsureIndex(KeyField, true); err != nil {
		return nil, fmt.Errorf("error ensuring primary key index: %w", err)
	}
	s := &Store{
		docs:  docs,
		ns:    cfg.namespace,
		ser:   cfg.ser,
		log:   cfg.log,
		path:  cfg.path,
		owned: owned,
		ready: make(chan struct{}),
	}
	go s.housekeep()
	return s, nil
}

// housekeep drops already-expired records and compacts the datafile once,
// right after construction. Reads re-check expiry on every lookup, so
// nothing waits on this to be correct; Ready exists for callers that want
// the sweep's outcome.
func (s *Store) housekeep() {
	defer close(s.ready)
	n, err := s.docs.Sweep(time.Now())
	if err != nil {
		s.readyErr = fmt.Errorf("error sweeping expired records: %w", err)
		s.log.Warn().Err(err).Msg("startup sweep failed")
		return
	}
	if n > 0 {
		s.log.Debug().Int("removed", n).Msg("swept expired records")
	}
	if err = s.docs.Compact(); err != nil {
		s.readyErr = fmt.Errorf("error compacting datafile: %w", err)
		s.log.Warn().Err(err).Msg("startup compaction failed")
	}
}
