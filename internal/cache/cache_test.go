package cache

import (
	"testing"
	"time"
)

type fakeClock struct {
	current time.Time
}

func (f *fakeClock) now() time.Time {
	return f.current
}

func newTestCache(ttl time.Duration) (*Cache, *fakeClock) {
	clock := &fakeClock{current: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(ttl)
	c.now = clock.now
	return c, clock
}

func TestCache_SetAndGet(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	c.Set("listing", []string{"a"})

	got, found := c.Get("listing")
	if !found {
		t.Fatal("expected listing to be found")
	}
	if values, ok := got.([]string); !ok || len(values) != 1 {
		t.Errorf("unexpected cached value %v", got)
	}
}

func TestCache_GetMissing(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	if _, found := c.Get("nonexistent"); found {
		t.Error("expected nonexistent key to not be found")
	}
}

func TestCache_Expiration(t *testing.T) {
	c, clock := newTestCache(time.Minute)

	c.Set("key1", "value1")
	clock.current = clock.current.Add(2 * time.Minute)

	if _, found := c.Get("key1"); found {
		t.Error("expected key1 to be expired")
	}
}

func TestCache_InvalidateMany(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	c.Set("key1", "value1")
	c.Set("key2", "value2")
	c.Set("key3", "value3")
	c.Invalidate("key1", "key2")

	if _, found := c.Get("key1"); found {
		t.Error("expected key1 to be invalidated")
	}
	if _, found := c.Get("key2"); found {
		t.Error("expected key2 to be invalidated")
	}
	if _, found := c.Get("key3"); !found {
		t.Error("expected key3 to remain")
	}
}

func TestCache_Clear(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	c.Set("key1", "value1")
	c.Set("key2", "value2")
	c.Clear()

	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d entries", c.Len())
	}
}

func TestCache_Cleanup(t *testing.T) {
	c, clock := newTestCache(time.Minute)

	c.Set("key1", "value1")
	c.Set("key2", "value2")
	clock.current = clock.current.Add(2 * time.Minute)
	c.Set("key3", "value3")

	c.Cleanup()

	if c.Len() != 1 {
		t.Fatalf("expected 1 entry after cleanup, got %d", c.Len())
	}
	if _, found := c.Get("key3"); !found {
		t.Error("expected fresh key to remain after cleanup")
	}
}

func TestCache_RunJanitorStops(t *testing.T) {
	c := New(time.Millisecond)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		c.RunJanitor(time.Millisecond, stop)
		close(done)
	}()
	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestCache_SetIfGeneration(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	generation := c.Generation()
	c.Invalidate("listing")
	if c.SetIfGeneration("listing", "stale", generation) {
		t.Fatal("expected write from an older generation to be rejected")
	}
	if _, found := c.Get("listing"); found {
		t.Error("expected stale value not to be cached")
	}

	if !c.SetIfGeneration("listing", "fresh", c.Generation()) {
		t.Fatal("expected write from the current generation to succeed")
	}
	if got, _ := c.Get("listing"); got != "fresh" {
		t.Errorf("expected fresh value, got %v", got)
	}

	generation = c.Generation()
	c.Clear()
	if c.Generation() == generation {
		t.Error("expected Clear to advance the generation")
	}
}
