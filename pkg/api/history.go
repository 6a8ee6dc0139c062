package api

import (
	"errors"
	"net/http"

	"github.com/sqldesk/sqldesk/pkg/apperr"
	"github.com/sqldesk/sqldesk/pkg/auth"
	"github.com/sqldesk/sqldesk/pkg/cache"
	"github.com/sqldesk/sqldesk/pkg/history"
	"github.com/sqldesk/sqldesk/pkg/models"
)

func (s *Server) handleGetFollowups(w http.ResponseWriter, r *http.Request) {
	questionID := r.URL.Query().Get("question_id")
	if questionID == "" {
		writeError(w, r, apperr.MissingParam("question_id"))
		return
	}
	ups, err := s.history.ListFollowUps(r.Context(), questionID)
	if err != nil {
		writeError(w, r, apperr.Database("Error fetching follow-up questions", err))
		return
	}
	if ups == nil {
		ups = []models.FollowUpRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"type": "followup_questions", "followups": ups})
}

// handleLoadQuestion reopens a stored question. Its question and sql are put
// back in the cache under the same id so the pipeline can continue from it.
func (s *Server) handleLoadQuestion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, r, apperr.MissingParam("id"))
		return
	}
	rec, err := s.history.LoadQuestion(ctx, id)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, r, apperr.NotFoundf("Question not found"))
		return
	}
	if err != nil {
		writeError(w, r, apperr.Database("Database query error", err))
		return
	}

	for field, v := range map[string]string{cache.FieldQuestion: rec.Question, cache.FieldSQL: rec.SQL} {
		if err := cache.Put(ctx, s.cache, rec.ID, field, v); err != nil {
			writeError(w, r, apperr.Cache(err))
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"type":     "question_cache",
		"id":       rec.ID,
		"question": rec.Question,
		"sql":      rec.SQL,
	})
}

func (s *Server) handleQuestionHistory(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())
	recs, err := s.history.ListHistory(r.Context(), user)
	if err != nil {
		writeError(w, r, apperr.Database("Database query error", err))
		return
	}
	questions := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		questions = append(questions, map[string]any{
			"id":        rec.ID,
			"question":  rec.Question,
			"sql":       rec.SQL,
			"timestamp": rec.Timestamp,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"type":      "question_history",
		"user":      map[string]string{"username": user},
		"questions": questions,
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())
	n, err := s.history.ClearHistory(r.Context(), user)
	if err != nil {
		writeError(w, r, apperr.Database("Database query error", err))
		return
	}
	s.parents.Clear(user)
	msg := "Question history cleared successfully"
	if n == 0 {
		msg = "No history found for the user, nothing was deleted."
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"type":    "clear_history",
		"user":    map[string]string{"username": user},
		"message": msg,
	})
}
