package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sqldesk/sqldesk/pkg/cache"
	"github.com/sqldesk/sqldesk/pkg/models"
)

// Cache is an in-process conversation cache bounded by entry count, with
// least-recently-used eviction and an idle TTL.
type Cache struct {
	entries   *lru.Cache[string, *entry]
	idleTTL   time.Duration
	now       func() time.Time
	genMu     sync.Mutex
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type entry struct {
	mu          sync.Mutex
	fields      map[string]json.RawMessage
	lastTouched time.Time
}

var _ cache.Cache = (*Cache)(nil)

// New creates a Cache holding at most capacity entries. An idleTTL of zero
// disables idle expiry.
func New(capacity int, idleTTL time.Duration) (*Cache, error) {
	c := &Cache{idleTTL: idleTTL, now: time.Now}
	l, err := lru.New[string, *entry](capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c.entries = l
	return c, nil
}

// GenerateID reserves a fresh UUID. Generation holds a lock so two callers can
// never reserve the same id between the collision check and the insert.
func (c *Cache) GenerateID(_ context.Context, _ string) (string, error) {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	for {
		id := uuid.NewString()
		if c.entries.Contains(id) {
			continue
		}
		c.add(id, &entry{fields: map[string]json.RawMessage{}, lastTouched: c.now()})
		return id, nil
	}
}

func (c *Cache) Set(_ context.Context, id, field string, value json.RawMessage) error {
	if id == "" {
		return cache.ErrEmptyID
	}
	e := c.live(id)
	if e == nil {
		c.genMu.Lock()
		e = c.live(id)
		if e == nil {
			e = &entry{fields: map[string]json.RawMessage{}, lastTouched: c.now()}
			c.add(id, e)
		}
		c.genMu.Unlock()
	}

	stored := make(json.RawMessage, len(value))
	copy(stored, value)

	e.mu.Lock()
	e.fields[field] = stored
	e.lastTouched = c.now()
	e.mu.Unlock()
	return nil
}

func (c *Cache) Get(_ context.Context, id, field string) (json.RawMessage, bool, error) {
	e := c.live(id)
	if e == nil {
		c.misses.Add(1)
		return nil, false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.fields[field]
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}
	e.lastTouched = c.now()
	c.hits.Add(1)
	return v, true, nil
}

func (c *Cache) GetAll(_ context.Context, fields []string) ([]cache.Entry, error) {
	var out []cache.Entry
	for _, id := range c.entries.Keys() {
		e := c.peekLive(id)
		if e == nil {
			continue
		}
		snap := cache.Entry{ID: id, Fields: make(map[string]json.RawMessage, len(fields))}
		e.mu.Lock()
		for _, f := range fields {
			if v, ok := e.fields[f]; ok {
				snap.Fields[f] = v
			}
		}
		e.mu.Unlock()
		out = append(out, snap)
	}
	return out, nil
}

func (c *Cache) Delete(_ context.Context, id string) error {
	c.entries.Remove(id)
	return nil
}

func (c *Cache) Stats(_ context.Context) (models.CacheStats, error) {
	return models.CacheStats{
		Entries:   int64(c.entries.Len()),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}, nil
}

func (c *Cache) Close() error {
	c.entries.Purge()
	return nil
}

func (c *Cache) add(id string, e *entry) {
	if c.entries.Add(id, e) {
		c.evictions.Add(1)
	}
}

// live returns the entry for id, promoting it in LRU order, or nil when it is
// missing or idle past the TTL (in which case it is dropped).
func (c *Cache) live(id string) *entry {
	e, ok := c.entries.Get(id)
	if !ok {
		return nil
	}
	if c.expired(e) {
		c.entries.Remove(id)
		return nil
	}
	return e
}

// peekLive is live without touching LRU order.
func (c *Cache) peekLive(id string) *entry {
	e, ok := c.entries.Peek(id)
	if !ok || c.expired(e) {
		return nil
	}
	return e
}

func (c *Cache) expired(e *entry) bool {
	if c.idleTTL <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return c.now().Sub(e.lastTouched) > c.idleTTL
}
