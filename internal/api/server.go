// Package api serves the operator HTTP API of the sync service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"catalogsync/internal/config"
	"catalogsync/internal/events"
	"catalogsync/internal/logging"
	"catalogsync/internal/models"
	"catalogsync/internal/scheduler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// TaskService is the queue surface the API manages.
type TaskService interface {
	Enqueue(ctx context.Context, req scheduler.NewTask) (*models.SyncTask, error)
	Get(ctx context.Context, id int64) (*models.SyncTask, error)
	List(ctx context.Context, filter models.TaskFilter) ([]models.SyncTask, error)
	Stats(ctx context.Context) (*models.TaskStats, error)
	Retry(ctx context.Context, id int64) (*models.SyncTask, error)
	Delete(ctx context.Context, id int64) error
}

// BudgetSource reports the cached request budget of a tenant.
type BudgetSource interface {
	Budget(ctx context.Context, tenantKey string) (*models.RateBudget, error)
	UsagePercent(ctx context.Context, tenantKey string) (*float64, error)
	IsCritical(ctx context.Context, tenantKey string) (bool, error)
}

type DeadLetterSource interface {
	DeadLetters(ctx context.Context, limit int64) ([]events.TaskEventPayload, error)
}

type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// Deps are the collaborators behind the API. DeadLetters, Health and ExportDir are optional.
type Deps struct {
	Tasks       TaskService
	Budgets     BudgetSource
	DeadLetters DeadLetterSource
	Health      HealthChecker
	// ExportDir receives workbooks saved on the server side.
	ExportDir string
}

// HTTPServer exposes task management and budget inspection over HTTP.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	router *chi.Mux
	server *http.Server
	logger zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{cfg: cfg, deps: deps, logger: logging.Component(logger, "api")}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(loggingMiddleware(srv.logger))
	r.Use(middleware.Recoverer)
	r.Use(newRateLimiter(cfg.RateLimit).Wrap)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", srv.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tasks", srv.handleListTasks)
		r.Post("/tasks", srv.handleEnqueue)
		r.Get("/tasks/stats", srv.handleStats)
		r.Get("/tasks/failed.xlsx", srv.handleExportFailed)
		r.Post("/tasks/failed.xlsx", srv.handleSaveFailed)
		r.Get("/tasks/{id}", srv.handleGetTask)
		r.Post("/tasks/{id}/retry", srv.handleRetry)
		r.Delete("/tasks/{id}", srv.handleDelete)
		r.Get("/budgets/{tenant}", srv.handleBudget)
		r.Get("/deadletters", srv.handleDeadLetters)
	})
	srv.router = r

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

// Handler exposes the router for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrConfiguration):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Str("request_id", RequestIDFrom(r.Context())).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
