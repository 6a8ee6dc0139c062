package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sqldesk/sqldesk/pkg/auth"
	"github.com/sqldesk/sqldesk/pkg/budget"
	"github.com/sqldesk/sqldesk/pkg/config"
	"github.com/sqldesk/sqldesk/pkg/llmcache"
	"github.com/sqldesk/sqldesk/pkg/models"
	"github.com/sqldesk/sqldesk/pkg/usage"
)

// completionServer replies with text and counts calls.
func completionServer(t *testing.T, text string, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req models.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(models.ChatCompletionResponse{
			Model:   req.Model,
			Choices: []models.Choice{{Message: models.AssistantMessage(text)}},
			Usage:   &models.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func statusServer(t *testing.T, status int, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTracker(t *testing.T) *usage.SQLiteTracker {
	t.Helper()
	tr, err := usage.New(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func llmConfig(urls ...string) config.LLMConfig {
	cfg := config.LLMConfig{Model: "gpt-4o-mini", Timeout: 5 * time.Second}
	for i, u := range urls {
		cfg.Providers = append(cfg.Providers, config.ProviderConfig{
			Name: string(rune('a' + i)), URL: u, APIKey: "sk-test",
		})
	}
	return cfg
}

func TestCompleteRecordsUsage(t *testing.T) {
	var calls atomic.Int64
	srv := completionServer(t, "SELECT 1", &calls)
	tr := newTracker(t)

	c, err := New(llmConfig(srv.URL), Options{Tracker: tr})
	if err != nil {
		t.Fatal(err)
	}
	ctx := auth.WithUser(context.Background(), "alice")
	got, err := c.Complete(ctx, "generate_sql", []models.ChatMessage{models.UserMessage("q")})
	if err != nil {
		t.Fatal(err)
	}
	if got != "SELECT 1" {
		t.Errorf("expected SELECT 1, got %q", got)
	}

	total, _ := tr.TotalByUser(context.Background(), "alice", time.Now().Add(-time.Minute))
	if total != 15 {
		t.Errorf("expected 15 tokens recorded for alice, got %d", total)
	}
}

func TestCompleteFallsBackOn5xx(t *testing.T) {
	var bad, good atomic.Int64
	failing := statusServer(t, http.StatusServiceUnavailable, &bad)
	working := completionServer(t, "ok", &good)

	c, err := New(llmConfig(failing.URL, working.URL), Options{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Complete(context.Background(), "summary", []models.ChatMessage{models.UserMessage("q")})
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok" || bad.Load() != 1 || good.Load() != 1 {
		t.Errorf("unexpected fallback: got=%q bad=%d good=%d", got, bad.Load(), good.Load())
	}
}

func TestCompleteDoesNotRetry4xx(t *testing.T) {
	var bad, good atomic.Int64
	failing := statusServer(t, http.StatusBadRequest, &bad)
	working := completionServer(t, "ok", &good)

	c, _ := New(llmConfig(failing.URL, working.URL), Options{})
	if _, err := c.Complete(context.Background(), "summary", nil); err == nil {
		t.Fatal("expected error")
	}
	if good.Load() != 0 {
		t.Error("client errors must not fall through to the next provider")
	}
}

func TestCompleteAllFail(t *testing.T) {
	var calls atomic.Int64
	a := statusServer(t, http.StatusInternalServerError, &calls)
	b := statusServer(t, http.StatusBadGateway, &calls)

	c, _ := New(llmConfig(a.URL, b.URL), Options{})
	_, err := c.Complete(context.Background(), "summary", nil)
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Errorf("expected ErrAllProvidersFailed, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected both providers tried, got %d", calls.Load())
	}
}

func TestCompleteUsesPromptCache(t *testing.T) {
	var calls atomic.Int64
	srv := completionServer(t, "SELECT 2", &calls)
	pc, err := llmcache.New(filepath.Join(t.TempDir(), "pc.db"), llmcache.Policy{
		Default:    time.Hour,
		Operations: map[string]time.Duration{"create_function": 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })

	c, _ := New(llmConfig(srv.URL), Options{Cache: pc})
	msgs := []models.ChatMessage{models.UserMessage("same question")}
	for range 2 {
		got, err := c.Complete(context.Background(), "generate_sql", msgs)
		if err != nil {
			t.Fatal(err)
		}
		if got != "SELECT 2" {
			t.Errorf("expected SELECT 2, got %q", got)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("expected one upstream call, got %d", calls.Load())
	}

	// same prompt, different operation: not answered from generate_sql's reply
	if _, err := c.Complete(context.Background(), "generate_summary", msgs); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected a fresh call for another operation, got %d", calls.Load())
	}

	for range 2 {
		_, _ = c.Complete(context.Background(), "create_function", msgs)
	}
	if calls.Load() != 4 {
		t.Errorf("uncached operation should always reach the provider, got %d calls", calls.Load())
	}
}

func TestCompleteBudgetExceeded(t *testing.T) {
	var calls atomic.Int64
	srv := completionServer(t, "x", &calls)
	tr := newTracker(t)
	_ = tr.Record(context.Background(), models.UsageRecord{Username: "alice", Model: "m", TotalTokens: 100})

	enf := budget.New([]models.BudgetPolicy{{Username: "*", MaxTokens: 50, Period: models.BudgetDaily}}, tr)
	c, _ := New(llmConfig(srv.URL), Options{Tracker: tr, Enforcer: enf})

	_, err := c.Complete(auth.WithUser(context.Background(), "alice"), "generate_sql", nil)
	if !errors.Is(err, budget.ErrBudgetExceeded) {
		t.Fatalf("expected budget error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Error("provider must not be called once the budget is spent")
	}
}

func TestResolve(t *testing.T) {
	cfg := config.LLMConfig{
		Model: "gpt-4o-mini",
		Providers: []config.ProviderConfig{
			{Name: "openai", URL: "https://api.openai.com"},
			{Name: "local", URL: "http://localhost:11434", Model: "llama3"},
		},
	}
	routes, err := Resolve(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(routes))
	}
	if routes[0].Model != "gpt-4o-mini" || routes[1].Model != "llama3" {
		t.Errorf("unexpected models: %s, %s", routes[0].Model, routes[1].Model)
	}

	if _, err := Resolve(config.LLMConfig{}); err == nil {
		t.Error("expected error with no providers")
	}
}
