package mcache

import (
	"fmt"
	"testing"
	"time"
)

func TestCacheHitWithinTTL(t *testing.T) {
	c := New(time.Minute, 100)
	c.Put("vid1", &Entry{Title: "First"})
	got, ok := c.Get("vid1")
	if !ok || got.Title != "First" {
		t.Fatalf("Get() = (%v, %v)", got, ok)
	}
	if got.FetchedAt.IsZero() {
		t.Error("FetchedAt not stamped")
	}
}

func TestCacheExpiry(t *testing.T) {
	c := New(10*time.Millisecond, 100)
	c.Put("vid1", &Entry{Title: "First"})
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("vid1"); ok {
		t.Error("entry survived past TTL")
	}
}

func TestCacheSweepOnThreshold(t *testing.T) {
	c := New(10*time.Millisecond, 5)
	for i := 0; i < 5; i++ {
		c.Put(fmt.Sprintf("old%d", i), &Entry{Title: "old"})
	}
	time.Sleep(30 * time.Millisecond)
	// This write crosses the threshold and should purge the expired five.
	c.Put("fresh", &Entry{Title: "fresh"})
	if c.Len() != 1 {
		t.Errorf("Len() = %v after sweep, want 1", c.Len())
	}
}
