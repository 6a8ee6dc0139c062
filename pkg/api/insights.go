package api

import (
	"net/http"

	"github.com/sqldesk/sqldesk/pkg/apperr"
	"github.com/sqldesk/sqldesk/pkg/cache"
)

const maxFollowups = 5

// handlePlotlyFigure reuses the cached plotly_code unless chart_instructions
// ask for a different chart, in which case the code is regenerated and replaced.
func (s *Server) handlePlotlyFigure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conv := conversationFrom(ctx)
	f, err := conv.Frame()
	if err != nil {
		writeError(w, r, err)
		return
	}

	instructions := r.URL.Query().Get("chart_instructions")
	code := conv.Text(cache.FieldPlotlyCode)
	if instructions != "" || code == "" {
		question := conv.Text(cache.FieldQuestion)
		if instructions != "" {
			question += ". When generating the chart, use these special instructions: " + instructions
		}
		code, err = s.backend.GeneratePlotlyCode(ctx, question, conv.Text(cache.FieldSQL), f.Dtypes())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := cache.Put(ctx, s.cache, conv.ID, cache.FieldPlotlyCode, code); err != nil {
			writeError(w, r, apperr.Cache(err))
			return
		}
	}

	fig, err := s.backend.GetPlotlyFigure(code, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := cache.Put(ctx, s.cache, conv.ID, cache.FieldFigJSON, string(fig)); err != nil {
		writeError(w, r, apperr.Cache(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"type": "plotly_figure", "id": conv.ID, "fig": string(fig)})
}

func (s *Server) handleFollowupQuestions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conv := conversationFrom(ctx)

	questions := []string{}
	header := "Followup Questions can be enabled if you set allow_llm_to_see_data=True"
	if s.cfg.AllowSee {
		f, err := conv.Frame()
		if err != nil {
			writeError(w, r, err)
			return
		}
		generated, err := s.backend.GenerateFollowupQuestions(ctx, conv.Text(cache.FieldQuestion), conv.Text(cache.FieldSQL), f, maxFollowups)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if len(generated) > maxFollowups {
			generated = generated[:maxFollowups]
		}
		questions = append(questions, generated...)
		header = "Here are some potential followup questions:"
	}

	if err := cache.Put(ctx, s.cache, conv.ID, cache.FieldFollowupQuestions, questions); err != nil {
		writeError(w, r, apperr.Cache(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"type":      "question_list",
		"id":        conv.ID,
		"questions": questions,
		"header":    header,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conv := conversationFrom(ctx)

	if !s.cfg.AllowSee {
		respondJSON(w, http.StatusOK, map[string]any{
			"type": "text",
			"id":   conv.ID,
			"text": "Summarization can be enabled if you set allow_llm_to_see_data=True",
		})
		return
	}

	f, err := conv.Frame()
	if err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := s.backend.GenerateSummary(ctx, conv.Text(cache.FieldQuestion), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := cache.Put(ctx, s.cache, conv.ID, cache.FieldSummary, summary); err != nil {
		writeError(w, r, apperr.Cache(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"type": "text", "id": conv.ID, "text": summary})
}
