package history

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/sqldesk/sqldesk/pkg/models"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New("sqlite", dbPath, Options{RetryAttempts: 3, RetryBackoff: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndListHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	recs := []models.QuestionRecord{
		{ID: "q1", Username: "alice", Question: "How many customers?", SQL: "SELECT COUNT(*) FROM customers", Timestamp: base},
		{ID: "q2", Username: "alice", Question: "Top products?", SQL: "SELECT * FROM products LIMIT 5", Timestamp: base.Add(time.Minute)},
		{ID: "q3", Username: "bob", Question: "Revenue?", SQL: "SELECT SUM(total) FROM orders", Timestamp: base},
	}
	for _, r := range recs {
		if err := s.RecordQuestion(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListHistory(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records for alice, got %d", len(got))
	}
	if got[0].ID != "q2" {
		t.Errorf("expected newest first, got %s", got[0].ID)
	}
}

func TestFollowUps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordQuestion(ctx, models.QuestionRecord{ID: "p", Username: "alice", Question: "Sales by region", SQL: "SELECT 1"}); err != nil {
		t.Fatal(err)
	}
	id1, err := s.RecordFollowUp(ctx, models.FollowUpRecord{QuestionID: "p", FollowUpQuestion: "Sales by region in 2024", Username: "alice", SQL: "SELECT 2"})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.RecordFollowUp(ctx, models.FollowUpRecord{QuestionID: "p", FollowUpQuestion: "Only EMEA", Username: "alice", SQL: "SELECT 3"})
	if err != nil {
		t.Fatal(err)
	}
	if id2 <= id1 {
		t.Errorf("expected increasing follow-up ids, got %d then %d", id1, id2)
	}

	ups, err := s.ListFollowUps(ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	if len(ups) != 2 {
		t.Fatalf("expected 2 follow-ups, got %d", len(ups))
	}
	if ups[0].FollowUpQuestion != "Sales by region in 2024" {
		t.Errorf("unexpected first follow-up %q", ups[0].FollowUpQuestion)
	}

	none, err := s.ListFollowUps(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("expected no follow-ups, got %d", len(none))
	}
}

func TestClearHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := range 3 {
		_ = s.RecordQuestion(ctx, models.QuestionRecord{ID: fmt.Sprintf("a%d", i), Username: "alice", Question: "q", SQL: "SELECT 1"})
	}
	_ = s.RecordQuestion(ctx, models.QuestionRecord{ID: "b0", Username: "bob", Question: "q", SQL: "SELECT 1"})

	n, err := s.ClearHistory(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("expected 3 deleted, got %d", n)
	}
	left, _ := s.ListHistory(ctx, "bob")
	if len(left) != 1 {
		t.Errorf("expected bob's history untouched, got %d", len(left))
	}
}

func TestLoadQuestion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.RecordQuestion(ctx, models.QuestionRecord{ID: "x", Username: "alice", Question: "What?", SQL: "SELECT 42"})
	r, err := s.LoadQuestion(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if r.SQL != "SELECT 42" {
		t.Errorf("expected SELECT 42, got %q", r.SQL)
	}

	if _, err := s.LoadQuestion(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRebind(t *testing.T) {
	s := &SQLStore{driver: "postgres"}
	got := s.rebind("SELECT * FROM t WHERE a = ? AND b = ?")
	if got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Errorf("unexpected rebind: %s", got)
	}
	s.driver = "sqlite"
	if s.rebind("a = ?") != "a = ?" {
		t.Error("sqlite queries should not be rewritten")
	}
}

func TestRetryTransient(t *testing.T) {
	s := &SQLStore{opts: Options{RetryAttempts: 3, RetryBackoff: time.Millisecond}}

	calls := 0
	err := s.retry(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return driver.ErrBadConn
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}

	calls = 0
	err = s.retry(context.Background(), "op", func(context.Context) error {
		calls++
		return &pq.Error{Code: "08006"}
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryPermanent(t *testing.T) {
	s := &SQLStore{opts: Options{RetryAttempts: 5, RetryBackoff: time.Millisecond}}
	calls := 0
	err := s.retry(context.Background(), "op", func(context.Context) error {
		calls++
		return &pq.Error{Code: "42601"} // syntax error
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent errors must not be retried, got %d calls", calls)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New("mysql", "", Options{}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
