// Package cache holds a small in-memory TTL cache.
package cache

import (
	"sync"
	"time"
)

type entry[T any] struct {
	val T
	exp time.Time
}

// TTL maps string keys to values that expire ttl after they were set.
// Expired entries are dropped lazily on access and swept on Set once the map
// has grown past sweepAt.
type TTL[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	m       map[string]entry[T]
	sweepAt int
	now     func() time.Time
}

func New[T any](ttl time.Duration) *TTL[T] {
	return &TTL[T]{
		ttl:     ttl,
		m:       make(map[string]entry[T]),
		sweepAt: 256,
		now:     time.Now,
	}
}

func (c *TTL[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	ent, ok := c.m[key]
	if !ok {
		return zero, false
	}
	if c.now().After(ent.exp) {
		delete(c.m, key)
		return zero, false
	}
	return ent.val, true
}

func (c *TTL[T]) Set(key string, val T) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if len(c.m) >= c.sweepAt {
		for k, e := range c.m {
			if now.After(e.exp) {
				delete(c.m, k)
			}
		}
		if len(c.m) >= c.sweepAt {
			c.sweepAt *= 2
		}
	}
	c.m[key] = entry[T]{val: val, exp: now.Add(c.ttl)}
}

func (c *TTL[T]) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

// Len counts entries, expired ones included until they are swept.
func (c *TTL[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
