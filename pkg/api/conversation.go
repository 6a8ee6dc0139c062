package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sqldesk/sqldesk/pkg/apperr"
	"github.com/sqldesk/sqldesk/pkg/auth"
	"github.com/sqldesk/sqldesk/pkg/cache"
	"github.com/sqldesk/sqldesk/pkg/history"
	"github.com/sqldesk/sqldesk/pkg/logx"
	"github.com/sqldesk/sqldesk/pkg/models"
)

const previewRows = 10

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	ui := s.cfg.UI
	ui.Debug = s.cfg.Debug
	ui.AllowLLMToSeeData = s.cfg.AllowSee
	ui = s.auth.OverrideConfig(auth.UserFrom(r.Context()), ui)
	respondJSON(w, http.StatusOK, map[string]any{"type": "config", "config": ui})
}

// handleGenerateSQL starts a conversation. Top-level questions become the
// caller's parent question; type=rewritten questions are filed as follow-ups of
// parent_id or, failing that, of the caller's last top-level question.
func (s *Server) handleGenerateSQL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	question := q.Get("question")
	if question == "" {
		writeError(w, r, apperr.MissingParam("question"))
		return
	}
	user := auth.UserFrom(ctx)

	rewritten := q.Get("type") == "rewritten"
	var parentID string
	if rewritten {
		parentID = q.Get("parent_id")
		if parentID == "" {
			parentID, _ = s.parents.Get(user)
		}
		if err := s.checkParent(r, user, parentID); err != nil {
			writeError(w, r, err)
			return
		}
	}

	sql, err := s.backend.GenerateSQL(ctx, question, s.cfg.AllowSee)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sql == "" {
		writeError(w, r, apperr.New(apperr.BackendError, http.StatusBadRequest, "SQL generation failed", nil))
		return
	}

	id, err := s.cache.GenerateID(ctx, question)
	if err != nil {
		writeError(w, r, apperr.Cache(err))
		return
	}

	fields := map[string]string{cache.FieldQuestion: question, cache.FieldSQL: sql}
	if rewritten {
		fields[cache.FieldParentID] = parentID
	}
	for field, v := range fields {
		if err := cache.Put(ctx, s.cache, id, field, v); err != nil {
			s.discard(r, id)
			writeError(w, r, apperr.Cache(err))
			return
		}
	}

	if rewritten {
		_, err = s.history.RecordFollowUp(ctx, models.FollowUpRecord{
			QuestionID: parentID, FollowUpQuestion: question, Username: user, SQL: sql,
		})
	} else {
		err = s.history.RecordQuestion(ctx, models.QuestionRecord{ID: id, Username: user, Question: question, SQL: sql})
	}
	if err != nil {
		s.discard(r, id)
		writeError(w, r, apperr.Database("Database insertion error", err))
		return
	}
	if !rewritten {
		s.parents.Set(user, id)
	}
	logx.Debug().Str("id", id).Str("user", user).Bool("rewritten", rewritten).Msg("question recorded")

	typ := "text"
	if s.backend.IsSQLValid(sql) {
		typ = "sql"
	}
	respondJSON(w, http.StatusOK, map[string]any{"type": typ, "id": id, "text": sql})
}

// discard drops a half-built conversation so a failed request leaves no entry behind.
func (s *Server) discard(r *http.Request, id string) {
	if err := s.cache.Delete(r.Context(), id); err != nil {
		logx.Warn().Err(err).Str("id", id).Msg("discard conversation")
	}
}

// checkParent accepts only a recorded question that belongs to user.
func (s *Server) checkParent(r *http.Request, user, parentID string) error {
	if parentID == "" {
		return apperr.NoParent()
	}
	rec, err := s.history.LoadQuestion(r.Context(), parentID)
	if errors.Is(err, history.ErrNotFound) {
		s.parents.Forget(user, parentID)
		return apperr.NoParent()
	}
	if err != nil {
		return apperr.Database("Database query error", err)
	}
	if rec.Username != user {
		logx.Warn().Str("user", user).Str("parent_id", parentID).Msg("rewritten question names a foreign parent")
		return apperr.NoParent()
	}
	return nil
}

func (s *Server) handleRewrittenQuestion(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	next := q.Get("new_question")
	if next == "" {
		writeError(w, r, apperr.MissingParam("new_question"))
		return
	}
	rewritten, err := s.backend.GenerateRewrittenQuestion(r.Context(), q.Get("last_question"), next)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"type": "rewritten_question", "question": rewritten})
}

func (s *Server) handleRunSQL(w http.ResponseWriter, r *http.Request) {
	conv := conversationFrom(r.Context())
	f, err := s.backend.RunSQL(r.Context(), conv.Text(cache.FieldSQL))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := cache.Put(r.Context(), s.cache, conv.ID, cache.FieldDF, f); err != nil {
		writeError(w, r, apperr.Cache(err))
		return
	}
	s.respondFrame(w, r, conv.ID, f)
}

func (s *Server) handleRunSQLDirect(w http.ResponseWriter, r *http.Request) {
	sql := r.URL.Query().Get("sql")
	if sql == "" {
		writeError(w, r, apperr.MissingParam("sql"))
		return
	}
	f, err := s.backend.RunSQL(r.Context(), sql)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.respondFrame(w, r, "", f)
}

// respondFrame sends the first rows as a JSON string of records, the form the
// front end parses.
func (s *Server) respondFrame(w http.ResponseWriter, r *http.Request, id string, f *models.Frame) {
	records, err := f.Head(previewRows).Records()
	if err != nil {
		writeError(w, r, err)
		return
	}
	body := map[string]any{
		"type":                  "df",
		"df":                    string(records),
		"should_generate_chart": s.cfg.UI.Chart && s.backend.ShouldGenerateChart(f),
	}
	if id != "" {
		body["id"] = id
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleFixSQL(w http.ResponseWriter, r *http.Request) {
	conv := conversationFrom(r.Context())
	var body struct {
		Error string `json:"error"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Error == "" {
		writeError(w, r, apperr.MissingParam("error"))
		return
	}

	prompt := fmt.Sprintf("I have an error: %s\n\nHere is the SQL I tried to run: %s\n\n"+
		"This is the question I was trying to answer: %s\n\nCan you rewrite the SQL to fix the error?",
		body.Error, conv.Text(cache.FieldSQL), conv.Text(cache.FieldQuestion))
	fixed, err := s.backend.GenerateSQL(r.Context(), prompt, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := cache.Put(r.Context(), s.cache, conv.ID, cache.FieldSQL, fixed); err != nil {
		writeError(w, r, apperr.Cache(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"type": "sql", "id": conv.ID, "text": fixed})
}

func (s *Server) handleUpdateSQL(w http.ResponseWriter, r *http.Request) {
	conv := conversationFrom(r.Context())
	var body struct {
		SQL string `json:"sql"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.SQL == "" {
		writeError(w, r, apperr.MissingParam("sql"))
		return
	}
	if err := cache.Put(r.Context(), s.cache, conv.ID, cache.FieldSQL, body.SQL); err != nil {
		writeError(w, r, apperr.Cache(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"type": "sql", "id": conv.ID, "text": body.SQL})
}

func (s *Server) handleDownloadCSV(w http.ResponseWriter, r *http.Request) {
	conv := conversationFrom(r.Context())
	f, err := conv.Frame()
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+conv.ID+".csv")
	if err := f.WriteCSV(w); err != nil {
		logx.Error().Err(err).Str("id", conv.ID).Msg("write csv")
	}
}

func (s *Server) handleGetJSON(w http.ResponseWriter, r *http.Request) {
	conv := conversationFrom(r.Context())
	f, err := conv.Frame()
	if err != nil {
		writeError(w, r, err)
		return
	}
	records, err := f.Records()
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": conv.ID, "data": json.RawMessage(records)})
}
