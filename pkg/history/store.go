package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/sqldesk/sqldesk/pkg/logx"
	"github.com/sqldesk/sqldesk/pkg/models"
)

// ErrNotFound is returned by LoadQuestion for an unknown id.
var ErrNotFound = errors.New("question not found")

// Store persists asked questions and their rewritten follow-ups.
type Store interface {
	// RecordQuestion stores a top-level question.
	RecordQuestion(ctx context.Context, rec models.QuestionRecord) error
	// RecordFollowUp stores a rewritten question under its parent and returns the new follow-up id.
	RecordFollowUp(ctx context.Context, rec models.FollowUpRecord) (int64, error)
	// ListFollowUps returns follow-ups of a question, oldest first.
	ListFollowUps(ctx context.Context, questionID string) ([]models.FollowUpRecord, error)
	// ListHistory returns a user's questions, newest first.
	ListHistory(ctx context.Context, username string) ([]models.QuestionRecord, error)
	// ClearHistory hard-deletes a user's questions and returns how many were removed.
	ClearHistory(ctx context.Context, username string) (int64, error)
	// LoadQuestion returns one question by id.
	LoadQuestion(ctx context.Context, id string) (models.QuestionRecord, error)
	// Close releases resources.
	Close() error
}

const createSQLiteTables = `
CREATE TABLE IF NOT EXISTS question_history (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	question TEXT NOT NULL,
	sql TEXT NOT NULL,
	timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_history_user_time ON question_history(username, timestamp);
CREATE TABLE IF NOT EXISTS follow_up_questions (
	follow_up_id INTEGER PRIMARY KEY AUTOINCREMENT,
	question_id TEXT NOT NULL,
	follow_up_question TEXT NOT NULL,
	username TEXT NOT NULL,
	sql TEXT NOT NULL,
	timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_followup_question ON follow_up_questions(question_id);
`

const createPostgresTables = `
CREATE TABLE IF NOT EXISTS question_history (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	question TEXT NOT NULL,
	sql TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_history_user_time ON question_history(username, timestamp);
CREATE TABLE IF NOT EXISTS follow_up_questions (
	follow_up_id BIGSERIAL PRIMARY KEY,
	question_id TEXT NOT NULL,
	follow_up_question TEXT NOT NULL,
	username TEXT NOT NULL,
	sql TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_followup_question ON follow_up_questions(question_id);
`

// Options tunes retries of transient connection failures.
type Options struct {
	RetryAttempts int
	RetryBackoff  time.Duration
}

// SQLStore implements Store on database/sql for the sqlite and postgres drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
	opts   Options
}

var _ Store = (*SQLStore)(nil)

// New opens the history database and runs auto-migration.
func New(driverName, dsn string, opts Options) (*SQLStore, error) {
	schema := createSQLiteTables
	switch driverName {
	case "sqlite":
	case "postgres":
		schema = createPostgresTables
	default:
		return nil, fmt.Errorf("unsupported history driver %q", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if driverName == "sqlite" {
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, driver: driverName, opts: opts}
	err = s.retry(context.Background(), "migrate", func(ctx context.Context) error {
		_, err := db.ExecContext(ctx, schema)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return s, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) RecordQuestion(ctx context.Context, rec models.QuestionRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	return s.retry(ctx, "record question", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, s.rebind(
			`INSERT INTO question_history (id, username, question, sql, timestamp) VALUES (?, ?, ?, ?, ?)`),
			rec.ID, rec.Username, rec.Question, rec.SQL, rec.Timestamp,
		)
		return err
	})
}

func (s *SQLStore) RecordFollowUp(ctx context.Context, rec models.FollowUpRecord) (int64, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	var id int64
	err := s.retry(ctx, "record follow-up", func(ctx context.Context) error {
		q := s.rebind(`INSERT INTO follow_up_questions (question_id, follow_up_question, username, sql, timestamp)
			VALUES (?, ?, ?, ?, ?)`)
		if s.driver == "postgres" {
			return s.db.QueryRowContext(ctx, q+" RETURNING follow_up_id",
				rec.QuestionID, rec.FollowUpQuestion, rec.Username, rec.SQL, rec.Timestamp,
			).Scan(&id)
		}
		res, err := s.db.ExecContext(ctx, q,
			rec.QuestionID, rec.FollowUpQuestion, rec.Username, rec.SQL, rec.Timestamp)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

func (s *SQLStore) ListFollowUps(ctx context.Context, questionID string) ([]models.FollowUpRecord, error) {
	var out []models.FollowUpRecord
	err := s.retry(ctx, "list follow-ups", func(ctx context.Context) error {
		out = nil
		rows, err := s.db.QueryContext(ctx, s.rebind(
			`SELECT follow_up_id, question_id, follow_up_question, username, sql, timestamp
			 FROM follow_up_questions WHERE question_id = ? ORDER BY timestamp ASC, follow_up_id ASC`),
			questionID,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r models.FollowUpRecord
			if err := rows.Scan(&r.FollowUpID, &r.QuestionID, &r.FollowUpQuestion, &r.Username, &r.SQL, &r.Timestamp); err != nil {
				return fmt.Errorf("scan follow-up: %w", err)
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

func (s *SQLStore) ListHistory(ctx context.Context, username string) ([]models.QuestionRecord, error) {
	var out []models.QuestionRecord
	err := s.retry(ctx, "list history", func(ctx context.Context) error {
		out = nil
		rows, err := s.db.QueryContext(ctx, s.rebind(
			`SELECT id, username, question, sql, timestamp FROM question_history
			 WHERE username = ? ORDER BY timestamp DESC`),
			username,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r models.QuestionRecord
			if err := rows.Scan(&r.ID, &r.Username, &r.Question, &r.SQL, &r.Timestamp); err != nil {
				return fmt.Errorf("scan question: %w", err)
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

func (s *SQLStore) ClearHistory(ctx context.Context, username string) (int64, error) {
	var n int64
	err := s.retry(ctx, "clear history", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM question_history WHERE username = ?`), username)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (s *SQLStore) LoadQuestion(ctx context.Context, id string) (models.QuestionRecord, error) {
	var r models.QuestionRecord
	err := s.retry(ctx, "load question", func(ctx context.Context) error {
		err := s.db.QueryRowContext(ctx, s.rebind(
			`SELECT id, username, question, sql, timestamp FROM question_history WHERE id = ?`), id,
		).Scan(&r.ID, &r.Username, &r.Question, &r.SQL, &r.Timestamp)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return r, err
}

// Close releases the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// retry runs fn, retrying transient connection failures with exponential backoff.
func (s *SQLStore) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := max(s.opts.RetryAttempts, 1)
	backoff := s.opts.RetryBackoff

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !isTransient(err) || attempt == attempts {
			break
		}
		logx.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", backoff).Msg("transient history db error, retrying")
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 08: connection exception, 57P01..03: server shutting down
		return pqErr.Code.Class() == "08" || strings.HasPrefix(string(pqErr.Code), "57P")
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
