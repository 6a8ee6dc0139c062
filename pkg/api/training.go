package api

import (
	"encoding/json"
	"net/http"

	"github.com/sqldesk/sqldesk/pkg/apperr"
	"github.com/sqldesk/sqldesk/pkg/models"
)

func (s *Server) handleGetTrainingData(w http.ResponseWriter, r *http.Request) {
	items, err := s.backend.GetTrainingData(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(items) == 0 {
		writeError(w, r, apperr.NotFoundf("No training data found. Please add some training data first."))
		return
	}
	records, err := json.Marshal(items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"type": "df", "id": "training_data", "df": string(records)})
}

func (s *Server) handleRemoveTrainingData(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.ID == "" {
		writeError(w, r, apperr.NoID())
		return
	}
	ok, err := s.backend.RemoveTrainingData(r.Context(), body.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, apperr.NotFoundf("Couldn't remove training data"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	var req models.TrainingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := s.backend.Train(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id})
}
