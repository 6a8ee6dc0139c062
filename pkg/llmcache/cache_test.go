package llmcache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sqldesk/sqldesk/pkg/models"
)

func newTestCache(t *testing.T, policy Policy) *Cache {
	t.Helper()
	c, err := New(filepath.Join(t.TempDir(), "replies.db"), policy)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func prompt(q string) []models.ChatMessage {
	return []models.ChatMessage{models.SystemMessage("You are a SQL expert."), models.UserMessage(q)}
}

func TestPromptKey(t *testing.T) {
	a := PromptKey(prompt("How many customers?"))
	if a != PromptKey(prompt("How many customers?")) {
		t.Error("same prompt should produce the same key")
	}
	if a == PromptKey(prompt("How many orders?")) {
		t.Error("different questions should produce different keys")
	}

	moved := []models.ChatMessage{models.SystemMessage("You are a SQL expert.How many customers?")}
	if a == PromptKey(moved) {
		t.Error("turn boundaries must be part of the key")
	}
}

func TestLookupIsPerOperation(t *testing.T) {
	c := newTestCache(t, Policy{Default: time.Hour})
	ctx := context.Background()
	msgs := prompt("Revenue by month")

	if err := c.Store(ctx, "generate_sql", "gpt-4o-mini", msgs, "SELECT month, SUM(total) FROM orders GROUP BY month"); err != nil {
		t.Fatal(err)
	}

	got, ok, err := c.Lookup(ctx, "generate_sql", "gpt-4o-mini", msgs)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got != "SELECT month, SUM(total) FROM orders GROUP BY month" {
		t.Errorf("unexpected reply %q", got)
	}

	if _, ok, _ := c.Lookup(ctx, "generate_summary", "gpt-4o-mini", msgs); ok {
		t.Error("a reply of one operation must not answer another")
	}
	if _, ok, _ := c.Lookup(ctx, "generate_sql", "gpt-4o", msgs); ok {
		t.Error("expected miss for a different model")
	}
}

func TestPerOperationTTL(t *testing.T) {
	c := newTestCache(t, Policy{
		Default:    24 * time.Hour,
		Operations: map[string]time.Duration{"generate_summary": time.Minute, "create_function": 0},
	})
	ctx := context.Background()
	now := time.Now()
	c.now = func() time.Time { return now }
	msgs := prompt("Top customers")

	_ = c.Store(ctx, "generate_sql", "m", msgs, "SELECT 1")
	_ = c.Store(ctx, "generate_summary", "m", msgs, "Acme leads.")
	_ = c.Store(ctx, "create_function", "m", msgs, `{"name":"top"}`)

	if c.Cacheable("create_function") {
		t.Error("a zero lifetime should disable caching")
	}
	if _, ok, _ := c.Lookup(ctx, "create_function", "m", msgs); ok {
		t.Error("disabled operation should never hit")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Lookup(ctx, "generate_summary", "m", msgs); ok {
		t.Error("summary should expire after its own lifetime")
	}
	if _, ok, _ := c.Lookup(ctx, "generate_sql", "m", msgs); !ok {
		t.Error("generated SQL should still be live under the default lifetime")
	}
}

func TestStoreReplacesAndResetsHits(t *testing.T) {
	c := newTestCache(t, Policy{Default: time.Hour})
	ctx := context.Background()
	msgs := prompt("q")

	_ = c.Store(ctx, "generate_sql", "m", msgs, "SELECT 1")
	c.Lookup(ctx, "generate_sql", "m", msgs)
	_ = c.Store(ctx, "generate_sql", "m", msgs, "SELECT 2")

	got, _, _ := c.Lookup(ctx, "generate_sql", "m", msgs)
	if got != "SELECT 2" {
		t.Errorf("expected replaced reply, got %q", got)
	}
	stats, _ := c.Stats(ctx)
	if len(stats) != 1 || stats[0].Hits != 1 {
		t.Errorf("expected one hit after replacement, got %+v", stats)
	}
	if err := c.Store(ctx, "generate_sql", "m", prompt("empty"), ""); err != nil {
		t.Fatal(err)
	}
	if stats, _ = c.Stats(ctx); stats[0].Entries != 1 {
		t.Errorf("empty replies should not be stored, got %d entries", stats[0].Entries)
	}
}

func TestStatsByOperation(t *testing.T) {
	c := newTestCache(t, Policy{Default: time.Hour, Operations: map[string]time.Duration{"generate_summary": time.Minute}})
	ctx := context.Background()
	now := time.Now()
	c.now = func() time.Time { return now }

	_ = c.Store(ctx, "generate_sql", "m", prompt("a"), "SELECT 1")
	_ = c.Store(ctx, "generate_sql", "m", prompt("b"), "SELECT 2")
	_ = c.Store(ctx, "generate_summary", "m", prompt("a"), "sum")
	c.Lookup(ctx, "generate_sql", "m", prompt("a"))
	c.Lookup(ctx, "generate_sql", "m", prompt("a"))

	now = now.Add(5 * time.Minute)
	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 operations, got %+v", stats)
	}
	sqlStats, sumStats := stats[0], stats[1]
	if sqlStats.Operation != "generate_sql" || sqlStats.Entries != 2 || sqlStats.Hits != 2 || sqlStats.Expired != 0 {
		t.Errorf("unexpected generate_sql stats %+v", sqlStats)
	}
	if sqlStats.LastHit.IsZero() {
		t.Error("expected last hit time")
	}
	if sumStats.Operation != "generate_summary" || sumStats.Expired != 1 {
		t.Errorf("unexpected generate_summary stats %+v", sumStats)
	}
}

func TestPurge(t *testing.T) {
	c := newTestCache(t, Policy{Default: time.Hour, Operations: map[string]time.Duration{"generate_summary": time.Minute}})
	ctx := context.Background()
	now := time.Now()
	c.now = func() time.Time { return now }

	_ = c.Store(ctx, "generate_sql", "m", prompt("a"), "SELECT 1")
	_ = c.Store(ctx, "generate_sql", "m", prompt("b"), "SELECT 2")
	_ = c.Store(ctx, "generate_summary", "m", prompt("a"), "sum")
	now = now.Add(5 * time.Minute)

	n, err := c.Purge(ctx, Filter{ExpiredOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected the expired summary removed, got %d", n)
	}

	n, _ = c.Purge(ctx, Filter{Operation: "generate_sql"})
	if n != 2 {
		t.Errorf("expected 2 generate_sql replies removed, got %d", n)
	}
	if stats, _ := c.Stats(ctx); len(stats) != 0 {
		t.Errorf("expected empty cache, got %+v", stats)
	}
}
