package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/sqldesk/sqldesk/pkg/apperr"
	"github.com/sqldesk/sqldesk/pkg/assistant"
	"github.com/sqldesk/sqldesk/pkg/budget"
	"github.com/sqldesk/sqldesk/pkg/logx"
)

type errorBody struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Error().Err(err).Msg("encode response")
	}
}

// writeError maps err onto the apperr taxonomy, logs it and writes
// {type, code, error}.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *apperr.Error
	switch {
	case errors.Is(err, budget.ErrBudgetExceeded):
		e = apperr.Budget(err)
	case errors.Is(err, assistant.ErrNoDataSource):
		e = apperr.New(apperr.BackendError, http.StatusServiceUnavailable, assistant.ErrNoDataSource.Error(), err)
	default:
		e = apperr.From(err)
	}

	ev := logx.Warn()
	if e.Status >= http.StatusInternalServerError {
		ev = logx.Error()
	}
	ev.Err(err).
		Str("code", string(e.Code)).
		Str("path", r.URL.Path).
		Str("request_id", middleware.GetReqID(r.Context())).
		Msg("request failed")

	typ := "error"
	if e.Code == apperr.SQLExecutionError {
		typ = "sql_error"
	}
	respondJSON(w, e.Status, errorBody{Type: typ, Code: string(e.Code), Error: e.Message})
}

// decodeBody reads a JSON request body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(v)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperr.TooLarge(err)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return apperr.New(apperr.MissingParameter, http.StatusBadRequest, "invalid JSON body", err)
	}
	return nil
}
