package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sqldesk/sqldesk/pkg/cache"
)

func newTestCache(t *testing.T, capacity int, ttl time.Duration) *Cache {
	t.Helper()
	c, err := New(capacity, ttl)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGenerateIDUnique(t *testing.T) {
	c := newTestCache(t, 10000, 0)
	ctx := context.Background()

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 250 {
				id, err := c.GenerateID(ctx, "How many rows?")
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %s", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 2000 {
		t.Errorf("expected 2000 ids, got %d", len(seen))
	}
}

func TestSetGetDelete(t *testing.T) {
	c := newTestCache(t, 10, 0)
	ctx := context.Background()
	id, _ := c.GenerateID(ctx, "q")

	if err := cache.Put(ctx, c, id, cache.FieldSQL, "SELECT 1"); err != nil {
		t.Fatal(err)
	}
	sql, ok, err := cache.Lookup[string](ctx, c, id, cache.FieldSQL)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if sql != "SELECT 1" {
		t.Errorf("expected SELECT 1, got %q", sql)
	}

	if err := c.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{cache.FieldSQL, cache.FieldQuestion} {
		if _, ok, _ := c.Get(ctx, id, f); ok {
			t.Errorf("expected %s absent after delete", f)
		}
	}

	// deleting twice is a no-op
	if err := c.Delete(ctx, id); err != nil {
		t.Errorf("expected no error deleting missing id, got %v", err)
	}
}

func TestNullDistinguishableFromAbsent(t *testing.T) {
	c := newTestCache(t, 10, 0)
	ctx := context.Background()

	if err := c.Set(ctx, "abc", cache.FieldSummary, json.RawMessage("null")); err != nil {
		t.Fatal(err)
	}
	v, ok, _ := c.Get(ctx, "abc", cache.FieldSummary)
	if !ok {
		t.Fatal("stored null should be present")
	}
	if !cache.IsNull(v) {
		t.Errorf("expected null, got %s", v)
	}
	if _, ok, _ := c.Get(ctx, "abc", cache.FieldDF); ok {
		t.Error("unset field should be absent")
	}
}

func TestSetEmptyID(t *testing.T) {
	c := newTestCache(t, 10, 0)
	if err := c.Set(context.Background(), "", cache.FieldSQL, json.RawMessage(`"x"`)); err != cache.ErrEmptyID {
		t.Errorf("expected ErrEmptyID, got %v", err)
	}
}

func TestLRUEviction(t *testing.T) {
	c := newTestCache(t, 2, 0)
	ctx := context.Background()

	_ = cache.Put(ctx, c, "a", cache.FieldQuestion, "qa")
	_ = cache.Put(ctx, c, "b", cache.FieldQuestion, "qb")
	c.Get(ctx, "a", cache.FieldQuestion) // a is now most recent
	_ = cache.Put(ctx, c, "c", cache.FieldQuestion, "qc")

	if _, ok, _ := c.Get(ctx, "b", cache.FieldQuestion); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok, _ := c.Get(ctx, "a", cache.FieldQuestion); !ok {
		t.Error("expected a to survive")
	}

	stats, _ := c.Stats(ctx)
	if stats.Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", stats.Evictions)
	}
	if stats.Entries != 2 {
		t.Errorf("expected 2 entries, got %d", stats.Entries)
	}
}

func TestIdleTTL(t *testing.T) {
	c := newTestCache(t, 10, time.Minute)
	ctx := context.Background()
	now := time.Now()
	c.now = func() time.Time { return now }

	_ = cache.Put(ctx, c, "idle", cache.FieldSQL, "SELECT 1")
	_ = cache.Put(ctx, c, "busy", cache.FieldSQL, "SELECT 2")

	now = now.Add(45 * time.Second)
	c.Get(ctx, "busy", cache.FieldSQL) // touch

	now = now.Add(30 * time.Second)
	if _, ok, _ := c.Get(ctx, "idle", cache.FieldSQL); ok {
		t.Error("expected idle entry to expire")
	}
	if _, ok, _ := c.Get(ctx, "busy", cache.FieldSQL); !ok {
		t.Error("expected recently touched entry to survive")
	}
}

func TestGetAll(t *testing.T) {
	c := newTestCache(t, 10, 0)
	ctx := context.Background()

	_ = cache.Put(ctx, c, "one", cache.FieldQuestion, "first")
	_ = cache.Put(ctx, c, "one", cache.FieldSQL, "SELECT 1")
	_ = cache.Put(ctx, c, "two", cache.FieldQuestion, "second")

	entries, err := c.GetAll(ctx, []string{cache.FieldQuestion, cache.FieldSQL})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	byID := map[string]cache.Entry{}
	for _, e := range entries {
		byID[e.ID] = e
	}
	if _, ok := byID["two"].Fields[cache.FieldSQL]; ok {
		t.Error("expected sql missing on entry two")
	}
	if string(byID["one"].Fields[cache.FieldSQL]) != `"SELECT 1"` {
		t.Errorf("unexpected sql on entry one: %s", byID["one"].Fields[cache.FieldSQL])
	}
}

func TestStatsHitsMisses(t *testing.T) {
	c := newTestCache(t, 10, 0)
	ctx := context.Background()

	_ = cache.Put(ctx, c, "h1", cache.FieldSQL, "x")
	c.Get(ctx, "h1", cache.FieldSQL) // hit
	c.Get(ctx, "h2", cache.FieldSQL) // miss

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("expected 1 hit and 1 miss, got %+v", stats)
	}
}
