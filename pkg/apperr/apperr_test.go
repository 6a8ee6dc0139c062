package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestFromWrapped(t *testing.T) {
	base := NoField("sql")
	wrapped := fmt.Errorf("gate: %w", base)

	got := From(wrapped)
	if got != base {
		t.Fatalf("expected original error, got %v", got)
	}
	if got.Status != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", got.Status)
	}
	if !IsCode(wrapped, MissingField) {
		t.Error("expected missing_field code")
	}
}

func TestFromPlainError(t *testing.T) {
	got := From(errors.New(`upstream 500: {"error":"key sk-live-123 revoked"}`))
	if got.Code != BackendError {
		t.Errorf("expected backend_error, got %s", got.Code)
	}
	if got.Status != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", got.Status)
	}
	if got.Message != "backend request failed" {
		t.Errorf("upstream detail leaked into the client message: %q", got.Message)
	}
	if !strings.Contains(got.Error(), "sk-live-123") {
		t.Errorf("expected the cause kept for logging, got %q", got.Error())
	}
	if From(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Database("Database query error", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if err.Error() != "Database query error: connection refused" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}
