// Package llm is an OpenAI-compatible chat completion client that walks an
// ordered provider chain, consults the prompt cache, enforces per-user budgets
// and records token usage.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sqldesk/sqldesk/pkg/auth"
	"github.com/sqldesk/sqldesk/pkg/budget"
	"github.com/sqldesk/sqldesk/pkg/config"
	"github.com/sqldesk/sqldesk/pkg/llmcache"
	"github.com/sqldesk/sqldesk/pkg/logx"
	"github.com/sqldesk/sqldesk/pkg/models"
	"github.com/sqldesk/sqldesk/pkg/usage"
)

// ErrAllProvidersFailed is returned when no provider produced a usable response.
var ErrAllProvidersFailed = errors.New("all upstream providers failed")

// Completer produces one assistant reply for a prompt.
type Completer interface {
	Complete(ctx context.Context, operation string, messages []models.ChatMessage) (string, error)
}

// Options carries the optional collaborators of a Client.
type Options struct {
	HTTPClient *http.Client
	Cache      *llmcache.Cache
	Tracker    usage.Tracker
	Enforcer   *budget.Enforcer
}

// Client implements Completer against OpenAI-compatible providers.
type Client struct {
	routes      []Route
	temperature float64
	timeout     time.Duration
	http        *http.Client
	cache       *llmcache.Cache
	tracker     usage.Tracker
	enforcer    *budget.Enforcer
}

var _ Completer = (*Client)(nil)

// New resolves the provider chain from cfg.
func New(cfg config.LLMConfig, opts Options) (*Client, error) {
	routes, err := Resolve(cfg)
	if err != nil {
		return nil, err
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		routes:      routes,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		http:        hc,
		cache:       opts.Cache,
		tracker:     opts.Tracker,
		enforcer:    opts.Enforcer,
	}, nil
}

// Complete sends messages down the provider chain and returns the first
// successful reply. operation labels the usage record.
func (c *Client) Complete(ctx context.Context, operation string, messages []models.ChatMessage) (string, error) {
	user := auth.UserFrom(ctx)

	model := c.routes[0].Model
	if c.cache != nil {
		cached, ok, err := c.cache.Lookup(ctx, operation, model, messages)
		if err != nil {
			logx.Warn().Err(err).Str("operation", operation).Msg("reply cache lookup failed")
		}
		if ok {
			logx.Debug().Str("operation", operation).Msg("reply cache hit")
			return cached, nil
		}
	}

	if c.enforcer != nil {
		if err := c.enforcer.Check(ctx, user); err != nil {
			return "", err
		}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var lastErr error
	for _, route := range c.routes {
		resp, err := c.do(ctx, route, messages)
		if err != nil {
			lastErr = err
			if isRetryable(err) && ctx.Err() == nil {
				logx.Warn().Err(err).Str("provider", route.Provider.Name).Msg("upstream failed, trying next")
				continue
			}
			return "", err
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("provider %s returned no choices", route.Provider.Name)
			continue
		}
		text := resp.Choices[0].Message.Content
		c.record(ctx, user, operation, route, resp)
		if c.cache != nil {
			if err := c.cache.Store(ctx, operation, model, messages, text); err != nil {
				logx.Warn().Err(err).Str("operation", operation).Msg("reply cache store failed")
			}
		}
		return text, nil
	}
	return "", fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

// upstreamError is a non-2xx provider response.
type upstreamError struct {
	provider   string
	statusCode int
	body       string
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("provider %s returned %d: %s", e.provider, e.statusCode, e.body)
}

// isRetryable returns true if the error warrants trying the next route.
func isRetryable(err error) bool {
	var ue *upstreamError
	if errors.As(err, &ue) {
		return ue.statusCode >= 500 || ue.statusCode == http.StatusTooManyRequests
	}
	return true
}

func (c *Client) do(ctx context.Context, route Route, messages []models.ChatMessage) (*models.ChatCompletionResponse, error) {
	temp := c.temperature
	body, err := json.Marshal(models.ChatCompletionRequest{
		Model:       route.Model,
		Messages:    messages,
		Temperature: &temp,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := strings.TrimRight(route.Provider.URL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if route.Provider.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+route.Provider.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		msg := string(respBody)
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, &upstreamError{provider: route.Provider.Name, statusCode: resp.StatusCode, body: msg}
	}

	var out models.ChatCompletionResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", route.Provider.Name, err)
	}
	return &out, nil
}

func (c *Client) record(ctx context.Context, user, operation string, route Route, resp *models.ChatCompletionResponse) {
	if c.tracker == nil || resp.Usage == nil {
		return
	}
	model := resp.Model
	if model == "" {
		model = route.Model
	}
	err := c.tracker.Record(context.WithoutCancel(ctx), models.UsageRecord{
		Username:         user,
		Model:            model,
		Operation:        operation,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		logx.Error().Err(err).Str("user", user).Msg("record usage failed")
	}
}
