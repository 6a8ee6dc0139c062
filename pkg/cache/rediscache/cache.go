package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sqldesk/sqldesk/pkg/cache"
	"github.com/sqldesk/sqldesk/pkg/config"
	"github.com/sqldesk/sqldesk/pkg/logx"
	"github.com/sqldesk/sqldesk/pkg/models"
)

const (
	keyPrefix    = "sqldesk:conv:"
	createdField = "_created"
)

// Cache stores each conversation as a redis hash; the key's TTL is refreshed
// whenever the conversation is touched, so only idle conversations expire.
type Cache struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

var _ cache.Cache = (*Cache)(nil)

// Dial parses cfg.URL, applies timeouts and pings the server.
func Dial(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.DialTimeout = cfg.DialTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// New wraps an existing client. A ttl of zero keeps conversations until deleted.
func New(rdb redis.UniversalClient, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func key(id string) string {
	return keyPrefix + id
}

// GenerateID reserves a fresh UUID with HSETNX so concurrent processes sharing
// the server never hand out the same id.
func (c *Cache) GenerateID(ctx context.Context, _ string) (string, error) {
	for {
		id := uuid.NewString()
		ok, err := c.rdb.HSetNX(ctx, key(id), createdField, time.Now().UTC().Format(time.RFC3339Nano)).Result()
		if err != nil {
			return "", fmt.Errorf("reserve id: %w", err)
		}
		if !ok {
			logx.Warn().Str("id", id).Msg("generated id already taken, retrying")
			continue
		}
		if err := c.touch(ctx, key(id)); err != nil {
			return "", err
		}
		return id, nil
	}
}

func (c *Cache) Set(ctx context.Context, id, field string, value json.RawMessage) error {
	if id == "" {
		return cache.ErrEmptyID
	}
	k := key(id)
	if err := c.rdb.HSet(ctx, k, field, []byte(value)).Err(); err != nil {
		logx.Error().Err(err).Str("key", k).Str("field", field).Msg("failed to set cache field")
		return fmt.Errorf("set %s: %w", field, err)
	}
	return c.touch(ctx, k)
}

func (c *Cache) Get(ctx context.Context, id, field string) (json.RawMessage, bool, error) {
	k := key(id)
	val, err := c.rdb.HGet(ctx, k, field).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		logx.Error().Err(err).Str("key", k).Str("field", field).Msg("failed to get cache field")
		return nil, false, fmt.Errorf("get %s: %w", field, err)
	}
	c.hits.Add(1)
	if err := c.touch(ctx, k); err != nil {
		return nil, false, err
	}
	return json.RawMessage(val), true, nil
}

func (c *Cache) GetAll(ctx context.Context, fields []string) ([]cache.Entry, error) {
	var out []cache.Entry
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		entry := cache.Entry{ID: strings.TrimPrefix(k, keyPrefix), Fields: map[string]json.RawMessage{}}
		if len(fields) > 0 {
			vals, err := c.rdb.HMGet(ctx, k, fields...).Result()
			if err != nil {
				return nil, fmt.Errorf("get all %s: %w", k, err)
			}
			for i, v := range vals {
				if s, ok := v.(string); ok {
					entry.Fields[fields[i]] = json.RawMessage(s)
				}
			}
		}
		out = append(out, entry)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan conversations: %w", err)
	}
	return out, nil
}

func (c *Cache) Delete(ctx context.Context, id string) error {
	if err := c.rdb.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	var n int64
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{Entries: n, Hits: c.hits.Load(), Misses: c.misses.Load()}, nil
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

func (c *Cache) touch(ctx context.Context, k string) error {
	if c.ttl <= 0 {
		return nil
	}
	if err := c.rdb.Expire(ctx, k, c.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", k).Dur("ttl", c.ttl).Msg("failed to set expire")
		return fmt.Errorf("expire %s: %w", k, err)
	}
	return nil
}
