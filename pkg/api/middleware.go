package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/sqldesk/sqldesk/pkg/apperr"
	"github.com/sqldesk/sqldesk/pkg/cache"
	"github.com/sqldesk/sqldesk/pkg/logx"
	"github.com/sqldesk/sqldesk/pkg/models"
)

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logx.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}

// cors allows the listed origins ("*" for any) with credentials so the auth
// cookie travels.
func cors(origins []string) func(http.Handler) http.Handler {
	anyOrigin := slices.Contains(origins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (anyOrigin || slices.Contains(origins, origin)) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Accept, Content-Type")
				h.Add("Vary", "Origin")
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// conversation is the cache entry a gated handler works on.
type conversation struct {
	ID     string
	Fields map[string]json.RawMessage
}

type conversationKey struct{}

func conversationFrom(ctx context.Context) *conversation {
	c, _ := ctx.Value(conversationKey{}).(*conversation)
	return c
}

// Text returns a string field, or "" when absent or not a string.
func (c *conversation) Text(field string) string {
	var s string
	if raw, ok := c.Fields[field]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// Frame decodes the cached df. Numbers stay json.Number so large integers
// survive the round trip.
func (c *conversation) Frame() (*models.Frame, error) {
	var f models.Frame
	dec := json.NewDecoder(bytes.NewReader(c.Fields[cache.FieldDF]))
	dec.UseNumber()
	if err := dec.Decode(&f); err != nil {
		return nil, apperr.Cache(err)
	}
	return &f, nil
}

// requireFields resolves the conversation id from the query or the JSON body
// and loads the named fields. A missing required field stops the request with
// missing_field before the handler runs. A stored null counts as missing.
func (s *Server) requireFields(required []string, optional ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.URL.Query().Get("id")
			if id == "" {
				var err error
				if id, err = bodyID(w, r); err != nil {
					writeError(w, r, err)
					return
				}
			}
			if id == "" {
				writeError(w, r, apperr.NoID())
				return
			}

			conv := &conversation{ID: id, Fields: make(map[string]json.RawMessage, len(required)+len(optional))}
			for _, f := range required {
				v, ok, err := s.cache.Get(r.Context(), id, f)
				if err != nil {
					writeError(w, r, apperr.Cache(err))
					return
				}
				if !ok || cache.IsNull(v) {
					writeError(w, r, apperr.NoField(f))
					return
				}
				conv.Fields[f] = v
			}
			for _, f := range optional {
				v, ok, err := s.cache.Get(r.Context(), id, f)
				if err != nil {
					writeError(w, r, apperr.Cache(err))
					return
				}
				if ok {
					conv.Fields[f] = v
				}
			}

			ctx := context.WithValue(r.Context(), conversationKey{}, conv)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// bodyID peeks at a JSON body for "id" and restores the body for the handler.
func bodyID(w http.ResponseWriter, r *http.Request) (string, error) {
	if r.Body == nil {
		return "", nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", apperr.TooLarge(err)
		}
		return "", nil
	}
	var body struct {
		ID string `json:"id"`
	}
	if len(data) == 0 || json.Unmarshal(data, &body) != nil {
		return "", nil
	}
	return body.ID, nil
}
