package api

import (
	"net/http"

	"github.com/sqldesk/sqldesk/pkg/apperr"
	"github.com/sqldesk/sqldesk/pkg/cache"
	"github.com/sqldesk/sqldesk/pkg/models"
)

// handleGetFunction matches a question to a stored function and opens a
// conversation primed with the instantiated SQL.
func (s *Server) handleGetFunction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	question := r.URL.Query().Get("question")
	if question == "" {
		writeError(w, r, apperr.MissingParam("question"))
		return
	}
	fn, err := s.backend.GetFunction(ctx, question)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if fn == nil {
		writeError(w, r, apperr.NotFoundf("No function found"))
		return
	}
	if fn.InstantiatedSQL == "" {
		writeError(w, r, apperr.NotFoundf("No instantiated SQL found"))
		return
	}

	id, err := s.cache.GenerateID(ctx, question)
	if err != nil {
		writeError(w, r, apperr.Cache(err))
		return
	}
	fields := map[string]string{cache.FieldQuestion: question, cache.FieldSQL: fn.InstantiatedSQL}
	if fn.InstantiatedPostProcessing != "" {
		fields[cache.FieldPlotlyCode] = fn.InstantiatedPostProcessing
	}
	for field, v := range fields {
		if err := cache.Put(ctx, s.cache, id, field, v); err != nil {
			writeError(w, r, apperr.Cache(err))
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"type": "function", "id": id, "function": fn})
}

func (s *Server) handleGetAllFunctions(w http.ResponseWriter, r *http.Request) {
	fns, err := s.backend.GetAllFunctions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if fns == nil {
		fns = []models.Function{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"type": "functions", "functions": fns})
}

func (s *Server) handleCreateFunction(w http.ResponseWriter, r *http.Request) {
	conv := conversationFrom(r.Context())
	fn, err := s.backend.CreateFunction(r.Context(),
		conv.Text(cache.FieldQuestion), conv.Text(cache.FieldSQL), conv.Text(cache.FieldPlotlyCode))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"type": "function_template", "id": conv.ID, "function_template": fn})
}

func (s *Server) handleUpdateFunction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OldName string           `json:"old_function_name"`
		Updated *models.Function `json:"updated_function"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.OldName == "" {
		writeError(w, r, apperr.MissingParam("old_function_name"))
		return
	}
	if body.Updated == nil {
		writeError(w, r, apperr.MissingParam("updated_function"))
		return
	}
	ok, err := s.backend.UpdateFunction(r.Context(), body.OldName, *body.Updated)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

func (s *Server) handleDeleteFunction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"function_name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Name == "" {
		writeError(w, r, apperr.MissingParam("function_name"))
		return
	}
	ok, err := s.backend.DeleteFunction(r.Context(), body.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": ok})
}
