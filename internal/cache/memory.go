package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryItem[V any] struct {
	key   string
	entry Entry[V]
}

type memoryStore[V any] struct {
	now        func() time.Time
	maxEntries int

	mu      sync.Mutex
	policy  Policy
	order   *list.List
	entries map[string]*list.Element
}

// NewMemory returns an in-process store. Entries are evicted lazily when a
// lookup finds them expired, and least-recently-used entries are dropped once
// the configured bound is exceeded.
func NewMemory[V any](opts ...Option) Store[V] {
	o := buildOptions(opts)
	return &memoryStore[V]{
		now:        o.now,
		maxEntries: o.maxEntries,
		policy:     o.policy,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

func (c *memoryStore[V]) Lookup(_ context.Context, key string) (V, bool, error) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return zero, false, nil
	}
	item := el.Value.(*memoryItem[V])
	if item.entry.Expired(c.now(), c.policy) {
		c.removeElement(el)
		return zero, false, nil
	}
	c.order.MoveToFront(el)
	return item.entry.Value, true, nil
}

func (c *memoryStore[V]) Store(_ context.Context, key string, value V, category Category) error {
	entry := Entry[V]{Value: value, Category: category, StoredAt: c.now()}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*memoryItem[V]).entry = entry
		c.order.MoveToFront(el)
		return nil
	}
	c.entries[key] = c.order.PushFront(&memoryItem[V]{key: key, entry: entry})
	if c.maxEntries > 0 {
		for c.order.Len() > c.maxEntries {
			c.removeElement(c.order.Back())
		}
	}
	return nil
}

func (c *memoryStore[V]) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
	return nil
}

func (c *memoryStore[V]) Len(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(c.order.Len()), nil
}

func (c *memoryStore[V]) SetPolicy(policy Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = policy
}

func (c *memoryStore[V]) Close(context.Context) error {
	return nil
}

// removeElement must be called with c.mu held.
func (c *memoryStore[V]) removeElement(el *list.Element) {
	if el == nil {
		return
	}
	item := c.order.Remove(el).(*memoryItem[V])
	delete(c.entries, item.key)
}
