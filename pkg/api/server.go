// Package api serves the sqldesk HTTP JSON API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sqldesk/sqldesk/pkg/apperr"
	"github.com/sqldesk/sqldesk/pkg/assistant"
	"github.com/sqldesk/sqldesk/pkg/auth"
	"github.com/sqldesk/sqldesk/pkg/cache"
	"github.com/sqldesk/sqldesk/pkg/config"
	"github.com/sqldesk/sqldesk/pkg/history"
	"github.com/sqldesk/sqldesk/pkg/logx"
)

// Deps are the collaborators of a Server. Hub is optional and only mounted
// when the config enables debug.
type Deps struct {
	Config  *config.Config
	Cache   cache.Cache
	Auth    auth.Strategy
	History history.Store
	Backend assistant.Backend
	Hub     *LogHub
}

// Server is the sqldesk HTTP API.
type Server struct {
	cfg     *config.Config
	cache   cache.Cache
	auth    auth.Strategy
	history history.Store
	backend assistant.Backend
	hub     *LogHub
	parents *parents
	router  chi.Router
}

// New wires a Server and its routes.
func New(d Deps) (*Server, error) {
	if d.Config == nil || d.Cache == nil || d.Auth == nil || d.History == nil || d.Backend == nil {
		return nil, errors.New("api: config, cache, auth, history and backend are required")
	}
	p, err := newParents(d.Config.Cache.Capacity)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:     d.Config,
		cache:   d.Cache,
		auth:    d.Auth,
		history: d.History,
		backend: d.Backend,
		hub:     d.Hub,
		parents: p,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors(s.cfg.CORS.Origins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.auth.Login)
		r.Get("/callback", s.auth.Callback)
		r.Get("/logout", s.auth.Logout)
		r.Get("/check-session", s.auth.CheckSession)
	})

	r.Route("/api/v0", func(r chi.Router) {
		r.Use(auth.Require(s.auth))

		r.Get("/get_config", s.handleGetConfig)

		r.Get("/generate_sql", s.handleGenerateSQL)
		r.Get("/get_followup_questions", s.handleGetFollowups)
		r.Get("/generate_rewritten_question", s.handleRewrittenQuestion)
		r.With(s.requireFields([]string{cache.FieldSQL})).Get("/run_sql", s.handleRunSQL)
		r.Get("/run_sql_direct", s.handleRunSQLDirect)
		r.With(s.requireFields([]string{cache.FieldQuestion, cache.FieldSQL})).Post("/fix_sql", s.handleFixSQL)
		r.With(s.requireFields(nil)).Post("/update_sql", s.handleUpdateSQL)
		r.With(s.requireFields([]string{cache.FieldDF})).Get("/download_csv", s.handleDownloadCSV)
		r.With(s.requireFields([]string{cache.FieldDF})).Get("/get_json", s.handleGetJSON)

		r.With(s.requireFields([]string{cache.FieldDF, cache.FieldQuestion, cache.FieldSQL}, cache.FieldPlotlyCode)).
			Get("/generate_plotly_figure", s.handlePlotlyFigure)
		r.With(s.requireFields([]string{cache.FieldDF, cache.FieldQuestion, cache.FieldSQL})).
			Get("/generate_followup_questions", s.handleFollowupQuestions)
		r.With(s.requireFields([]string{cache.FieldDF, cache.FieldQuestion})).
			Get("/generate_summary", s.handleSummary)

		r.Get("/get_function", s.handleGetFunction)
		r.Get("/get_all_functions", s.handleGetAllFunctions)
		r.With(s.requireFields([]string{cache.FieldQuestion, cache.FieldSQL}, cache.FieldPlotlyCode)).
			Get("/create_function", s.handleCreateFunction)
		r.Post("/update_function", s.handleUpdateFunction)
		r.Post("/delete_function", s.handleDeleteFunction)

		r.Get("/get_training_data", s.handleGetTrainingData)
		r.Post("/remove_training_data", s.handleRemoveTrainingData)
		r.Post("/train", s.handleTrain)

		r.Get("/load_question", s.handleLoadQuestion)
		r.Get("/get_question_history", s.handleQuestionHistory)
		r.Delete("/clear_question_history", s.handleClearHistory)

		if s.cfg.Debug && s.hub != nil {
			r.Get("/log", s.hub.ServeHTTP)
		}

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, apperr.NotFoundf("not found"))
		})
	})

	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the server and shuts it down gracefully when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logx.Info().Str("addr", s.cfg.Listen).Msg("sqldesk listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if s.hub != nil {
			s.hub.Close()
		}
		if err := srv.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
