// Package scheduler admits queued sync tasks against the tenant rate budgets
// and drives their state machine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalogsync/internal/domain"
	"catalogsync/internal/events"
	"catalogsync/internal/logging"
	"catalogsync/internal/metrics"
	"catalogsync/internal/models"
	"catalogsync/internal/ratelimit"
	"catalogsync/internal/registry"

	"github.com/rs/zerolog"
)

// NewTask is an enqueue request.
type NewTask struct {
	TenantKey    string             `json:"tenant_key" yaml:"tenant_key"`
	SourceTenant string             `json:"source_tenant,omitempty" yaml:"source_tenant,omitempty"`
	EntityType   string             `json:"entity_type" yaml:"entity_type"`
	EntityID     string             `json:"entity_id" yaml:"entity_id"`
	Operation    string             `json:"operation" yaml:"operation"`
	Payload      models.TaskPayload `json:"payload,omitempty" yaml:"payload,omitempty"`
	Priority     int                `json:"priority" yaml:"priority"`
	MaxAttempts  int                `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	ScheduledAt  *time.Time         `json:"scheduled_at,omitempty" yaml:"scheduled_at,omitempty"`
}

// DefaultLease bounds how long a claimed task may stay in processing.
const DefaultLease = 10 * time.Minute

// Options tune a Scheduler.
type Options struct {
	// SourceTenant is stored in the payload when a task does not name one.
	SourceTenant string
	// Tenants lists the accepted destination tenant keys. Empty accepts any.
	Tenants     []string
	MaxAttempts int
	Retry       RetryPolicy
	// Lease is how long a claim stays valid. Recover releases only claims
	// older than the lease and workers abort executions that outlive it.
	Lease time.Duration
}

type Scheduler struct {
	repo         domain.TaskRepository
	coordinator  *ratelimit.Coordinator
	registry     *registry.Registry
	events       domain.EventPublisher
	sourceTenant string
	tenants      map[string]struct{}
	maxAttempts  int
	retry        RetryPolicy
	lease        time.Duration
	now          func() time.Time
	logger       zerolog.Logger
}

func New(repo domain.TaskRepository, coordinator *ratelimit.Coordinator, reg *registry.Registry, publisher domain.EventPublisher, opts Options, logger *zerolog.Logger) *Scheduler {
	s := &Scheduler{
		repo:         repo,
		coordinator:  coordinator,
		registry:     reg,
		events:       publisher,
		sourceTenant: opts.SourceTenant,
		tenants:      make(map[string]struct{}, len(opts.Tenants)),
		maxAttempts:  opts.MaxAttempts,
		retry:        opts.Retry,
		lease:        opts.Lease,
		now:          time.Now,
		logger:       logging.Component(logger, "scheduler"),
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = models.DefaultMaxAttempts
	}
	if s.lease <= 0 {
		s.lease = DefaultLease
	}
	for _, t := range opts.Tenants {
		s.tenants[t] = struct{}{}
	}
	return s
}

// WithClock replaces the time source.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Lease returns how long a claimed task may run.
func (s *Scheduler) Lease() time.Duration {
	return s.lease
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("invalid task: "+format+": %w", append(args, models.ErrConfiguration)...)
}

// Enqueue validates and stores a new pending task.
func (s *Scheduler) Enqueue(ctx context.Context, req NewTask) (*models.SyncTask, error) {
	req.TenantKey = strings.TrimSpace(req.TenantKey)
	req.EntityID = strings.TrimSpace(req.EntityID)

	if req.TenantKey == "" {
		return nil, invalid("tenant_key is required")
	}
	if len(s.tenants) > 0 {
		if _, ok := s.tenants[req.TenantKey]; !ok {
			return nil, invalid("unknown tenant %q", req.TenantKey)
		}
	}
	et, err := s.registry.Lookup(req.EntityType)
	if err != nil {
		return nil, err
	}
	if !et.SupportsOperation(req.Operation) {
		return nil, invalid("operation %q is not supported for %s", req.Operation, req.EntityType)
	}
	if req.EntityID == "" {
		return nil, invalid("entity_id is required")
	}

	payload := models.TaskPayload{}
	for k, v := range req.Payload {
		payload[k] = v
	}
	source := req.SourceTenant
	if source == "" {
		source = s.sourceTenant
	}
	if source != "" {
		payload[models.PayloadSourceTenant] = source
	}
	raw, err := payload.Encode()
	if err != nil {
		return nil, err
	}

	task := &models.SyncTask{
		TenantKey:   req.TenantKey,
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		Operation:   req.Operation,
		Payload:     raw,
		Priority:    req.Priority,
		Status:      models.TaskPending,
		MaxAttempts: req.MaxAttempts,
		ScheduledAt: s.now(),
	}
	if task.MaxAttempts <= 0 {
		task.MaxAttempts = s.maxAttempts
	}
	if req.ScheduledAt != nil {
		task.ScheduledAt = *req.ScheduledAt
	}

	if err := s.repo.CreateSyncTask(ctx, task); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Int64("task_id", task.ID).
		Str("tenant", task.TenantKey).
		Str("entity_type", task.EntityType).
		Str("entity_id", task.EntityID).
		Msg("Task enqueued")
	s.publish(events.EventTaskEnqueued, task)
	return task, nil
}

// Admit claims the next eligible task of the tenant and checks its cost against
// the tenant budget. It returns nil, nil when nothing is due. When the budget is
// short the task goes back to pending at the budget reset without counting an
// attempt, and the error wraps models.ErrThrottled. A task that costs more than
// the tenant limit can ever allow fails with models.ErrConfiguration.
func (s *Scheduler) Admit(ctx context.Context, tenantKey string) (*models.SyncTask, error) {
	task, err := s.repo.ClaimNextSyncTask(ctx, tenantKey, s.now())
	if err != nil || task == nil {
		return nil, err
	}

	payload, err := models.DecodePayload(task.Payload)
	if err != nil {
		if failErr := s.FailPermanently(ctx, task, fmt.Errorf("%v: %w", err, models.ErrConfiguration)); failErr != nil {
			return nil, failErr
		}
		return nil, err
	}
	count := int(payload.GetInt64(models.PayloadCount))
	if count < 1 {
		count = 1
	}
	cost := s.coordinator.EstimateCost(task.EntityType, count, payload.GetBool(models.PayloadSubresource))

	avail, err := s.coordinator.CheckAvailability(ctx, tenantKey, cost)
	if err != nil {
		// budget unknown; admit optimistically
		s.logger.Warn().Err(err).Str("tenant", tenantKey).Msg("Budget check failed")
		return task, nil
	}
	if avail.Available {
		return task, nil
	}
	if avail.Known && avail.Limit > 0 && cost+models.SafetyThreshold > avail.Limit {
		cause := fmt.Errorf("task cost %d exceeds tenant %s limit %d: %w", cost, tenantKey, avail.Limit, models.ErrConfiguration)
		if err := s.FailPermanently(ctx, task, cause); err != nil {
			return nil, err
		}
		return nil, cause
	}

	if err := s.reschedule(ctx, task, avail.RetryAfterSeconds); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("tenant %s: remaining %d below cost %d: %w", tenantKey, avail.Remaining, cost, models.ErrThrottled)
}

func (s *Scheduler) reschedule(ctx context.Context, task *models.SyncTask, retryAfterSeconds int) error {
	at := s.now().Add(time.Duration(retryAfterSeconds) * time.Second)
	if err := s.repo.RescheduleSyncTask(ctx, task.ID, at); err != nil {
		return err
	}
	task.Status = models.TaskPending
	task.ScheduledAt = at

	metrics.IncThrottled(task.TenantKey)
	metrics.IncTask(task.EntityType, "throttled")
	s.logger.Info().
		Int64("task_id", task.ID).
		Str("tenant", task.TenantKey).
		Int("retry_after_seconds", retryAfterSeconds).
		Msg("Task throttled")
	s.publish(events.EventTaskThrottled, task)
	return nil
}

// Throttle returns a task whose execution hit the rate limit to pending.
func (s *Scheduler) Throttle(ctx context.Context, task *models.SyncTask) error {
	retryAfter, err := s.coordinator.ThrottleDelay(ctx, task.TenantKey)
	if err != nil {
		s.logger.Warn().Err(err).Str("tenant", task.TenantKey).Msg("Budget lookup failed")
	}
	return s.reschedule(ctx, task, retryAfter)
}

// Release returns an interrupted task to pending without counting an attempt.
func (s *Scheduler) Release(ctx context.Context, task *models.SyncTask) error {
	if err := s.repo.RescheduleSyncTask(ctx, task.ID, s.now()); err != nil {
		return err
	}
	task.Status = models.TaskPending
	return nil
}

// Recover returns tasks whose claim is older than the lease to pending.
func (s *Scheduler) Recover(ctx context.Context) (int64, error) {
	n, err := s.repo.ReleaseStaleSyncTasks(ctx, s.now().Add(-s.lease))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn().Int64("tasks", n).Msg("Released tasks left in processing")
	}
	return n, nil
}

// Complete marks a processing task as done.
func (s *Scheduler) Complete(ctx context.Context, task *models.SyncTask) error {
	if err := s.repo.CompleteSyncTask(ctx, task.ID); err != nil {
		return err
	}
	task.Status = models.TaskCompleted
	metrics.IncTask(task.EntityType, "completed")
	s.publish(events.EventTaskCompleted, task)
	return nil
}

// FailAttempt counts a failed execution. The task is requeued with backoff until
// it reaches its attempt limit and then fails. failed reports the latter.
func (s *Scheduler) FailAttempt(ctx context.Context, task *models.SyncTask, cause error) (failed bool, err error) {
	attempts := task.Attempts + 1
	if attempts >= task.MaxAttempts {
		return true, s.fail(ctx, task, attempts, cause)
	}

	at := s.now().Add(s.retry.NextDelay(attempts))
	if err := s.repo.RequeueSyncTask(ctx, task.ID, cause.Error(), at); err != nil {
		return false, err
	}
	task.Attempts = attempts
	task.Status = models.TaskPending
	task.ScheduledAt = at
	msg := cause.Error()
	task.Error = &msg

	metrics.IncTask(task.EntityType, "retried")
	s.logger.Warn().
		Err(cause).
		Int64("task_id", task.ID).
		Int("attempt", attempts).
		Time("next_attempt", at).
		Msg("Task attempt failed")
	return false, nil
}

// FailPermanently fails a task without further attempts.
func (s *Scheduler) FailPermanently(ctx context.Context, task *models.SyncTask, cause error) error {
	return s.fail(ctx, task, task.Attempts+1, cause)
}

func (s *Scheduler) fail(ctx context.Context, task *models.SyncTask, attempts int, cause error) error {
	msg := cause.Error()
	if err := s.repo.FailSyncTask(ctx, task.ID, attempts, msg); err != nil {
		return err
	}
	task.Attempts = attempts
	task.Status = models.TaskFailed
	task.Error = &msg

	metrics.IncTask(task.EntityType, "failed")
	s.logger.Error().
		Err(cause).
		Int64("task_id", task.ID).
		Str("tenant", task.TenantKey).
		Str("entity_type", task.EntityType).
		Str("entity_id", task.EntityID).
		Int("attempts", attempts).
		Msg("Task failed")
	s.publish(events.EventTaskFailed, task)
	return nil
}

// Settle applies the outcome of an execution to a processing task.
func (s *Scheduler) Settle(ctx context.Context, task *models.SyncTask, execErr error) error {
	switch {
	case execErr == nil:
		return s.Complete(ctx, task)
	case errors.Is(execErr, models.ErrThrottled):
		return s.Throttle(ctx, task)
	case !models.IsRetryable(execErr):
		return s.FailPermanently(ctx, task, execErr)
	default:
		_, err := s.FailAttempt(ctx, task, execErr)
		return err
	}
}

// Delete removes a pending or failed task.
func (s *Scheduler) Delete(ctx context.Context, id int64) error {
	return s.repo.DeleteSyncTask(ctx, id)
}

// Retry clones a failed task into a new pending task that references it.
func (s *Scheduler) Retry(ctx context.Context, id int64) (*models.SyncTask, error) {
	original, err := s.repo.GetSyncTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if original.Status != models.TaskFailed {
		return nil, fmt.Errorf("retry of %s task %d: %w", original.Status, id, models.ErrInvalidTransition)
	}

	retryOf := original.ID
	clone := &models.SyncTask{
		TenantKey:   original.TenantKey,
		EntityType:  original.EntityType,
		EntityID:    original.EntityID,
		Operation:   original.Operation,
		Payload:     original.Payload,
		Priority:    original.Priority,
		Status:      models.TaskPending,
		MaxAttempts: original.MaxAttempts,
		ScheduledAt: s.now(),
		RetryOf:     &retryOf,
	}
	if err := s.repo.CreateSyncTask(ctx, clone); err != nil {
		return nil, err
	}

	s.logger.Info().Int64("task_id", clone.ID).Int64("retry_of", id).Msg("Task retried")
	s.publish(events.EventTaskEnqueued, clone)
	return clone, nil
}

func (s *Scheduler) Get(ctx context.Context, id int64) (*models.SyncTask, error) {
	return s.repo.GetSyncTask(ctx, id)
}

func (s *Scheduler) List(ctx context.Context, filter models.TaskFilter) ([]models.SyncTask, error) {
	return s.repo.ListSyncTasks(ctx, filter, s.now())
}

func (s *Scheduler) Stats(ctx context.Context) (*models.TaskStats, error) {
	return s.repo.SyncTaskStats(ctx, s.now())
}

// Tenants lists tenants with due pending tasks.
func (s *Scheduler) Tenants(ctx context.Context) ([]string, error) {
	return s.repo.DueTenants(ctx, s.now())
}

func (s *Scheduler) publish(eventType string, task *models.SyncTask) {
	if s.events == nil {
		return
	}
	payload := events.TaskEventPayload{
		TaskID:      task.ID,
		TenantKey:   task.TenantKey,
		EntityType:  task.EntityType,
		EntityID:    task.EntityID,
		Operation:   task.Operation,
		Attempts:    task.Attempts,
		ScheduledAt: task.ScheduledAt,
	}
	if task.Error != nil {
		payload.Error = *task.Error
	}
	if err := s.events.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to publish task event")
	}
}
