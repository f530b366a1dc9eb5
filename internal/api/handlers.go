package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"catalogsync/internal/export"
	"catalogsync/internal/models"
	"catalogsync/internal/scheduler"

	"github.com/go-chi/chi/v5"
)

const (
	defaultListLimit   = 100
	maxListLimit       = 1000
	defaultExportLimit = 5000
)

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health.Healthy(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTaskFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tasks, err := s.deps.Tasks.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []models.SyncTask{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *HTTPServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req scheduler.NewTask
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	task, err := s.deps.Tasks.Enqueue(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Tasks.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := s.deps.Tasks.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *HTTPServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := s.deps.Tasks.Retry(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Tasks.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) failedTasks(w http.ResponseWriter, r *http.Request) ([]models.SyncTask, bool) {
	filter, err := parseTaskFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	filter.Status = models.TaskFailed
	if r.URL.Query().Get("limit") == "" {
		filter.Limit = defaultExportLimit
	}

	tasks, err := s.deps.Tasks.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return nil, false
	}
	return tasks, true
}

func (s *HTTPServer) handleExportFailed(w http.ResponseWriter, r *http.Request) {
	tasks, ok := s.failedTasks(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=failed_tasks_%s.xlsx", time.Now().Format("2006-01-02")))
	if err := export.Write(w, tasks); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write export")
	}
}

func (s *HTTPServer) handleSaveFailed(w http.ResponseWriter, r *http.Request) {
	if s.deps.ExportDir == "" {
		writeError(w, http.StatusNotFound, "server side export is disabled")
		return
	}
	tasks, ok := s.failedTasks(w, r)
	if !ok {
		return
	}

	path, err := export.Save(s.deps.ExportDir, tasks, time.Now())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.Info().Str("file_path", path).Int("tasks", len(tasks)).Msg("Failed tasks exported")
	writeJSON(w, http.StatusCreated, map[string]any{"path": path, "tasks": len(tasks)})
}

type budgetResponse struct {
	TenantKey    string             `json:"tenant_key"`
	Known        bool               `json:"known"`
	Budget       *models.RateBudget `json:"budget,omitempty"`
	UsagePercent *float64           `json:"usage_percent"`
	Critical     bool               `json:"critical"`
}

func (s *HTTPServer) handleBudget(w http.ResponseWriter, r *http.Request) {
	tenant := strings.TrimSpace(chi.URLParam(r, "tenant"))
	ctx := r.Context()

	budget, err := s.deps.Budgets.Budget(ctx, tenant)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	usage, err := s.deps.Budgets.UsagePercent(ctx, tenant)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	critical, err := s.deps.Budgets.IsCritical(ctx, tenant)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, budgetResponse{
		TenantKey:    tenant,
		Known:        budget != nil,
		Budget:       budget,
		UsagePercent: usage,
		Critical:     critical,
	})
}

func (s *HTTPServer) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := int64(defaultListLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	var letters any = []any{}
	if s.deps.DeadLetters != nil {
		items, err := s.deps.DeadLetters.DeadLetters(r.Context(), limit)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		if items != nil {
			letters = items
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": letters})
}

func taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return 0, false
	}
	return id, true
}

func parseTaskFilter(r *http.Request) (models.TaskFilter, error) {
	q := r.URL.Query()
	filter := models.TaskFilter{
		TenantKey:  strings.TrimSpace(q.Get("tenant")),
		Status:     strings.TrimSpace(q.Get("status")),
		EntityType: strings.TrimSpace(q.Get("entity_type")),
		Operation:  strings.TrimSpace(q.Get("operation")),
		Limit:      defaultListLimit,
	}

	switch filter.Status {
	case "", models.TaskPending, models.TaskProcessing, models.TaskCompleted, models.TaskFailed:
	default:
		return filter, fmt.Errorf("invalid status %q", filter.Status)
	}

	if raw := q.Get("priority"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid priority")
		}
		filter.Priority = &p
	}

	var err error
	if filter.ScheduledOnly, err = parseBool(q.Get("scheduled")); err != nil {
		return filter, fmt.Errorf("invalid scheduled flag")
	}
	if filter.ErrorsOnly, err = parseBool(q.Get("errors")); err != nil {
		return filter, fmt.Errorf("invalid errors flag")
	}

	if filter.CreatedFrom, err = parseTime(q.Get("created_from")); err != nil {
		return filter, fmt.Errorf("invalid created_from; expected RFC3339 or YYYY-MM-DD")
	}
	if filter.CreatedTo, err = parseTime(q.Get("created_to")); err != nil {
		return filter, fmt.Errorf("invalid created_to; expected RFC3339 or YYYY-MM-DD")
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return filter, fmt.Errorf("invalid limit")
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid offset")
		}
		filter.Offset = n
	}
	return filter, nil
}

func parseBool(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

func parseTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
