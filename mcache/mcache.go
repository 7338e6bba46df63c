// Package mcache is a short-lived metadata cache keyed by canonical media
// id, so re-submitting a URL inside the TTL window never re-spawns the
// metadata probe.
package mcache

import (
	"time"

	"github.com/patrickmn/go-cache"
)

type Entry struct {
	Title     string
	Thumbnail string
	Qualities []string
	FetchedAt time.Time
}

type Cache struct {
	c *cache.Cache
	// sweepSize triggers an opportunistic purge of expired entries on
	// write; there is no janitor goroutine.
	sweepSize int
}

func New(ttl time.Duration, sweepSize int) *Cache {
	return &Cache{
		c:         cache.New(ttl, 0),
		sweepSize: sweepSize,
	}
}

func (m *Cache) Get(mediaID string) (*Entry, bool) {
	v, ok := m.c.Get(mediaID)
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

func (m *Cache) Put(mediaID string, e *Entry) {
	if e.FetchedAt.IsZero() {
		e.FetchedAt = time.Now()
	}
	if m.c.ItemCount() >= m.sweepSize {
		m.c.DeleteExpired()
	}
	m.c.SetDefault(mediaID, e)
}

func (m *Cache) Len() int {
	return m.c.ItemCount()
}
