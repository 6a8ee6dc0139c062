// Package llmcache keeps LLM replies per assistant operation so asking the
// same thing twice does not reach a provider twice. Each operation has its own
// lifetime: a generated query can live for a day while a summary of live data
// is kept briefly or not at all.
package llmcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sqldesk/sqldesk/pkg/models"
)

// Policy decides how long replies of each operation are kept. Operations
// overrides Default per operation; a non-positive lifetime disables caching.
type Policy struct {
	Default    time.Duration
	Operations map[string]time.Duration
}

// TTL returns the lifetime of replies for operation.
func (p Policy) TTL(operation string) time.Duration {
	if ttl, ok := p.Operations[operation]; ok {
		return ttl
	}
	return p.Default
}

// OperationStats summarises the stored replies of one operation.
type OperationStats struct {
	Operation string
	Entries   int64
	Expired   int64
	Hits      int64
	LastHit   time.Time
}

// Filter selects replies for Purge. Zero values match everything.
type Filter struct {
	Operation   string
	ExpiredOnly bool
}

// Cache stores replies in SQLite keyed by operation, model and prompt.
// Times are unix nanoseconds.
type Cache struct {
	db     *sql.DB
	policy Policy
	now    func() time.Time
}

const createRepliesTable = `
CREATE TABLE IF NOT EXISTS llm_replies (
	operation TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_key TEXT NOT NULL,
	reply TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	hits INTEGER NOT NULL DEFAULT 0,
	last_hit_at INTEGER,
	PRIMARY KEY (operation, model, prompt_key)
);
CREATE INDEX IF NOT EXISTS idx_llm_replies_expiry ON llm_replies(expires_at);
`

// New opens the reply cache stored at dbPath.
func New(dbPath string, policy Policy) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open reply cache db: %w", err)
	}
	if _, err := db.Exec(createRepliesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate reply cache db: %w", err)
	}
	return &Cache{db: db, policy: policy, now: time.Now}, nil
}

// Cacheable reports whether replies of operation are kept at all.
func (c *Cache) Cacheable(operation string) bool {
	return c.policy.TTL(operation) > 0
}

// PromptKey fingerprints a conversation turn by turn, so moving text between
// the system prompt and a user message changes the key.
func PromptKey(messages []models.ChatMessage) string {
	h := sha256.New()
	for _, m := range messages {
		fmt.Fprintf(h, "%s\x00%d\x00%s\x00", m.Role, len(m.Content), m.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup returns a live reply for the prompt and counts the hit.
func (c *Cache) Lookup(ctx context.Context, operation, model string, messages []models.ChatMessage) (string, bool, error) {
	if !c.Cacheable(operation) {
		return "", false, nil
	}
	key := PromptKey(messages)
	now := c.now().UnixNano()

	var reply string
	err := c.db.QueryRowContext(ctx,
		`SELECT reply FROM llm_replies
		 WHERE operation = ? AND model = ? AND prompt_key = ? AND expires_at > ?`,
		operation, model, key, now,
	).Scan(&reply)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reply cache lookup: %w", err)
	}

	if _, err := c.db.ExecContext(ctx,
		`UPDATE llm_replies SET hits = hits + 1, last_hit_at = ?
		 WHERE operation = ? AND model = ? AND prompt_key = ?`,
		now, operation, model, key,
	); err != nil {
		return "", false, fmt.Errorf("reply cache hit: %w", err)
	}
	return reply, true, nil
}

// Store keeps reply for the operation's lifetime. Empty replies and
// operations without a lifetime are skipped.
func (c *Cache) Store(ctx context.Context, operation, model string, messages []models.ChatMessage, reply string) error {
	ttl := c.policy.TTL(operation)
	if ttl <= 0 || reply == "" {
		return nil
	}
	now := c.now()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO llm_replies (operation, model, prompt_key, reply, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (operation, model, prompt_key) DO UPDATE SET
		   reply = excluded.reply, created_at = excluded.created_at,
		   expires_at = excluded.expires_at, hits = 0, last_hit_at = NULL`,
		operation, model, PromptKey(messages), reply, now.UnixNano(), now.Add(ttl).UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("reply cache store: %w", err)
	}
	return nil
}

// Stats groups stored replies by operation.
func (c *Cache) Stats(ctx context.Context) ([]OperationStats, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT operation, COUNT(*),
		        COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(hits), 0), MAX(last_hit_at)
		 FROM llm_replies GROUP BY operation ORDER BY operation`,
		c.now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("reply cache stats: %w", err)
	}
	defer rows.Close()

	var out []OperationStats
	for rows.Next() {
		var s OperationStats
		var last sql.NullInt64
		if err := rows.Scan(&s.Operation, &s.Entries, &s.Expired, &s.Hits, &last); err != nil {
			return nil, fmt.Errorf("scan reply cache stats: %w", err)
		}
		if last.Valid {
			s.LastHit = time.Unix(0, last.Int64)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Purge deletes the replies matching f and reports how many went.
func (c *Cache) Purge(ctx context.Context, f Filter) (int64, error) {
	query := `DELETE FROM llm_replies WHERE 1 = 1`
	var args []any
	if f.Operation != "" {
		query += ` AND operation = ?`
		args = append(args, f.Operation)
	}
	if f.ExpiredOnly {
		query += ` AND expires_at <= ?`
		args = append(args, c.now().UnixNano())
	}
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reply cache purge: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
