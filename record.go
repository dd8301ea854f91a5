package stash

import (
	"iter"
	"strings"
	"time"
)

// Record is a single stored document. One Record exists per physical key,
// and a write replaces the whole document rather than merging into it.
type Record struct {
	// Key is the physical key: the logical key, prefixed with the store's
	// namespace when one is configured.
	Key string `json:"key"`
	// Value holds the serialized form of the caller's value.
	Value any `json:"value"`
	// UpdatedAt is the moment of the last write, in epoch milliseconds.
	UpdatedAt int64 `json:"updatedAt"`
	// ExpiredAt is the expiry deadline in epoch milliseconds. A nil
	// deadline means the record never expires.
	ExpiredAt *int64 `json:"expiredAt"`
}

// Expired reports whether the record's deadline has passed at now.
// A record is live up to and including its deadline.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiredAt != nil && now.UnixMilli() > *r.ExpiredAt
}

// Filter selects records by physical key. Key is matched exactly when
// Exact is set and as a prefix otherwise; the zero Filter matches every
// record.
type Filter struct {
	Key   string
	Exact bool
}

// ByKey matches exactly one physical key.
func ByKey(key string) Filter {
	return Filter{Key: key, Exact: true}
}

// ByPrefix matches every physical key beginning with prefix.
func ByPrefix(prefix string) Filter {
	return Filter{Key: prefix}
}

// Match reports whether the given physical key satisfies the filter.
func (f Filter) Match(key string) bool {
	if f.Exact {
		return key == f.Key
	}
	return strings.HasPrefix(key, f.Key)
}

// Item is one key/value pair yielded during iteration. Key is the logical
// key, with any namespace prefix already stripped.
type Item struct {
	Key   string
	Value any
}

// Seq is the single-use iterator returned by Store.Iterate. It can be
// ranged over directly or collected with slices.Collect.
type Seq = iter.Seq[Item]
