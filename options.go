package stash

import "github.com/rs/zerolog"

// Option configures a Store at construction.
type Option func(*config)

type config struct {
	path       string
	engine     string
	engineOpts []any
	memOnly    bool

	namespace string
	ser       Serializer
	log       zerolog.Logger
}

func defaultConfig() config {
	return config{
		ser: DefaultSerializer(),
		log: zerolog.Nop(),
	}
}

// WithPath roots the store's datafiles at the given directory. The
// directory is created if it does not exist.
func WithPath(path string) Option {
	return func(c *config) {
		c.path = path
	}
}

// WithEngine selects a registered storage engine by name, overriding
// whatever an existing store directory was created with.
func WithEngine(name string) Option {
	return func(c *config) {
		c.engine = name
	}
}

// WithEngineOptions passes engine-native options through to the engine's
// Opener untouched.
func WithEngineOptions(opts ...any) Option {
	return func(c *config) {
		c.engineOpts = append(c.engineOpts, opts...)
	}
}

// WithInMemoryOnly keeps every record in memory with no file persistence,
// even when a path is configured.
func WithInMemoryOnly() Option {
	return func(c *config) {
		c.memOnly = true
	}
}

// WithNamespace prefixes every key with the given namespace, isolating
// this store's records from other stores sharing the same datastore.
func WithNamespace(ns string) Option {
	return func(c *config) {
		c.namespace = ns
	}
}

// WithSerializer replaces the default escape/unescape value transform.
// A nil serializer is ignored.
func WithSerializer(s Serializer) Option {
	return func(c *config) {
		if s != nil {
			c.ser = s
		}
	}
}

// WithLogger sets the logger used for best-effort failures, like an
// expired record that could not be evicted. The default logger discards
// everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) {
		c.log = logger
	}
}
