// Package cache defines the conversation cache: per-question entries keyed by an
// opaque id, each holding named JSON fields that accumulate as a question moves
// through generate SQL, run SQL, chart and summary.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sqldesk/sqldesk/pkg/models"
)

// Field names stored on a conversation entry.
const (
	FieldQuestion          = "question"
	FieldSQL               = "sql"
	FieldDF                = "df"
	FieldPlotlyCode        = "plotly_code"
	FieldFigJSON           = "fig_json"
	FieldFollowupQuestions = "followup_questions"
	FieldSummary           = "summary"
	FieldParentID          = "parent_id"
)

// ErrEmptyID is returned when an operation is called with an empty id.
var ErrEmptyID = errors.New("cache: empty id")

// Entry is a snapshot of one conversation projected onto a set of fields.
// Fields that were never set are missing from the map.
type Entry struct {
	ID     string
	Fields map[string]json.RawMessage
}

// Cache stores conversation state. Implementations must be safe for concurrent use.
type Cache interface {
	// GenerateID returns a fresh id that collides with no live entry. The hint
	// (usually the question text) is informational.
	GenerateID(ctx context.Context, hint string) (string, error)
	// Set upserts one field, creating the entry if needed.
	Set(ctx context.Context, id, field string, value json.RawMessage) error
	// Get returns the stored value; ok is false when the field was never set.
	Get(ctx context.Context, id, field string) (value json.RawMessage, ok bool, err error)
	// GetAll returns every live entry projected onto fields.
	GetAll(ctx context.Context, fields []string) ([]Entry, error)
	// Delete removes an entry. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	// Stats reports entry count and hit/miss counters.
	Stats(ctx context.Context) (models.CacheStats, error)
	// Close releases resources.
	Close() error
}

// Put marshals v and stores it under field.
func Put(ctx context.Context, c Cache, id, field string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", field, err)
	}
	return c.Set(ctx, id, field, data)
}

// Lookup reads field and decodes it into a T.
func Lookup[T any](ctx context.Context, c Cache, id, field string) (T, bool, error) {
	var out T
	raw, ok, err := c.Get(ctx, id, field)
	if err != nil || !ok {
		return out, ok, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, true, fmt.Errorf("decode %s: %w", field, err)
	}
	return out, true, nil
}

// IsNull reports whether a stored value is the JSON null literal.
func IsNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}
