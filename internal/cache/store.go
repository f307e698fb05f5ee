package cache

import (
	"context"
	"strings"
	"time"
)

// Category selects the expiration policy applied to an entry.
type Category string

const (
	CategoryCity     Category = "city"
	CategoryDistrict Category = "district"
	CategoryStreet   Category = "street"
	CategoryDefault  Category = "default"
)

// ParseCategory maps a free-form label onto a known category. Unknown labels
// keep their spelling; Policy.TTL resolves them to the default TTL.
func ParseCategory(label string) Category {
	trimmed := strings.TrimSpace(strings.ToLower(label))
	if trimmed == "" {
		return CategoryDefault
	}
	return Category(trimmed)
}

// Policy holds the per-category time-to-live used for lazy expiry.
type Policy struct {
	City     time.Duration
	District time.Duration
	Street   time.Duration
	Default  time.Duration
}

// DefaultPolicy returns the production TTLs: administrative units change
// rarely, street-level results are refreshed hourly.
func DefaultPolicy() Policy {
	return Policy{
		City:     12 * time.Hour,
		District: 12 * time.Hour,
		Street:   time.Hour,
		Default:  time.Hour,
	}
}

// TTL returns the lifetime for the category, falling back to Default for any
// category the policy does not recognise or leaves unset.
func (p Policy) TTL(category Category) time.Duration {
	var ttl time.Duration
	switch category {
	case CategoryCity:
		ttl = p.City
	case CategoryDistrict:
		ttl = p.District
	case CategoryStreet:
		ttl = p.Street
	}
	if ttl <= 0 {
		ttl = p.Default
	}
	if ttl <= 0 {
		ttl = DefaultPolicy().Default
	}
	return ttl
}

// Entry is the unit persisted by every backend.
type Entry[V any] struct {
	Value    V         `json:"value"`
	Category Category  `json:"category"`
	StoredAt time.Time `json:"storedAt"`
}

// Expired reports whether the entry has outlived its category TTL. An entry is
// stale from the instant its age reaches the TTL.
func (e Entry[V]) Expired(now time.Time, policy Policy) bool {
	return now.Sub(e.StoredAt) >= policy.TTL(e.Category)
}

// Store is a key/value cache with category-aware lazy expiry. Lookup removes
// an expired entry as part of the same atomic read.
type Store[V any] interface {
	Lookup(ctx context.Context, key string) (V, bool, error)
	Store(ctx context.Context, key string, value V, category Category) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int64, error)
	SetPolicy(policy Policy)
	Close(ctx context.Context) error
}

// Option tunes a Store at construction time.
type Option func(*options)

type options struct {
	now        func() time.Time
	policy     Policy
	maxEntries int
	namespace  string
}

const (
	defaultMaxEntries = 10000
	defaultNamespace  = "addrnorm:"
)

func buildOptions(opts []Option) options {
	o := options{
		now:        time.Now,
		policy:     DefaultPolicy(),
		maxEntries: defaultMaxEntries,
		namespace:  defaultNamespace,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithClock replaces time.Now; tests use it to step across TTL boundaries.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithPolicy sets the initial expiration policy.
func WithPolicy(policy Policy) Option {
	return func(o *options) { o.policy = policy }
}

// WithMaxEntries bounds the memory store. Zero or negative disables the bound.
func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

// WithNamespace prefixes every key written to a shared backend.
func WithNamespace(ns string) Option {
	return func(o *options) {
		if strings.TrimSpace(ns) != "" {
			o.namespace = ns
		}
	}
}
