package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalogsync/internal/models"
)

const taskColumns = `id, tenant_key, entity_type, entity_id, operation, payload, priority, status,
              attempts, max_attempts, scheduled_at, error, retry_of, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.SyncTask, error) {
	var t models.SyncTask
	err := row.Scan(
		&t.ID, &t.TenantKey, &t.EntityType, &t.EntityID, &t.Operation, &t.Payload, &t.Priority, &t.Status,
		&t.Attempts, &t.MaxAttempts, &t.ScheduledAt, &t.Error, &t.RetryOf, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (db *DB) CreateSyncTask(ctx context.Context, task *models.SyncTask) error {
	now := utc(time.Now())
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	if task.MaxAttempts <= 0 {
		task.MaxAttempts = models.DefaultMaxAttempts
	}
	if task.ScheduledAt.IsZero() {
		task.ScheduledAt = now
	}

	query := `INSERT INTO sync_tasks (tenant_key, entity_type, entity_id, operation, payload, priority, status,
                attempts, max_attempts, scheduled_at, error, retry_of, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		task.TenantKey,
		task.EntityType,
		task.EntityID,
		task.Operation,
		task.Payload,
		task.Priority,
		task.Status,
		task.Attempts,
		task.MaxAttempts,
		utc(task.ScheduledAt),
		task.Error,
		task.RetryOf,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	task.UpdatedAt = now

	return nil
}

func (db *DB) GetSyncTask(ctx context.Context, id int64) (*models.SyncTask, error) {
	row := db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM sync_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sync task %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync task: %w", err)
	}
	return task, nil
}

// ClaimNextSyncTask atomically moves the best eligible pending task of a tenant to
// processing: highest priority first, then oldest. Returns nil when nothing is due.
func (db *DB) ClaimNextSyncTask(ctx context.Context, tenantKey string, now time.Time) (*models.SyncTask, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM sync_tasks
              WHERE tenant_key = ? AND status = ? AND scheduled_at <= ?
              ORDER BY priority DESC, created_at ASC, id ASC
              LIMIT 1`,
		tenantKey, models.TaskPending, utc(now)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select sync task in tx: %w", err)
	}

	result, err := tx.ExecContext(ctx, `UPDATE sync_tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.TaskProcessing, utc(now), id, models.TaskPending)
	if err != nil {
		return nil, fmt.Errorf("failed to claim sync task in tx: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n == 0 {
		return nil, nil
	}

	task, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM sync_tasks WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed sync task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return task, nil
}

// transition updates a processing task and reports ErrInvalidTransition when the
// task is not processing anymore.
func (db *DB) transition(ctx context.Context, id int64, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update sync task %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sync task %d is not processing: %w", id, models.ErrInvalidTransition)
	}
	return nil
}

// RescheduleSyncTask returns a processing task to pending without counting an attempt.
func (db *DB) RescheduleSyncTask(ctx context.Context, id int64, scheduledAt time.Time) error {
	return db.transition(ctx, id,
		`UPDATE sync_tasks SET status = ?, scheduled_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.TaskPending, utc(scheduledAt), utc(time.Now()), id, models.TaskProcessing)
}

// RequeueSyncTask counts a failed attempt and returns the task to pending.
func (db *DB) RequeueSyncTask(ctx context.Context, id int64, errMsg string, scheduledAt time.Time) error {
	return db.transition(ctx, id,
		`UPDATE sync_tasks SET status = ?, attempts = attempts + 1, error = ?, scheduled_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		models.TaskPending, errMsg, utc(scheduledAt), utc(time.Now()), id, models.TaskProcessing)
}

func (db *DB) CompleteSyncTask(ctx context.Context, id int64) error {
	return db.transition(ctx, id,
		`UPDATE sync_tasks SET status = ?, error = NULL, updated_at = ? WHERE id = ? AND status = ?`,
		models.TaskCompleted, utc(time.Now()), id, models.TaskProcessing)
}

// FailSyncTask marks a processing task as terminally failed.
func (db *DB) FailSyncTask(ctx context.Context, id int64, attempts int, errMsg string) error {
	return db.transition(ctx, id,
		`UPDATE sync_tasks SET status = ?, attempts = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.TaskFailed, attempts, errMsg, utc(time.Now()), id, models.TaskProcessing)
}

// DeleteSyncTask removes a pending or failed task.
func (db *DB) DeleteSyncTask(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM sync_tasks WHERE id = ? AND status IN (?, ?)`,
		id, models.TaskPending, models.TaskFailed)
	if err != nil {
		return fmt.Errorf("failed to delete sync task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	task, err := db.GetSyncTask(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("cannot delete %s task %d: %w", task.Status, id, models.ErrInvalidTransition)
}

// ReleaseStaleSyncTasks returns tasks stuck in processing since before olderThan to
// pending. Used at startup after an unclean shutdown.
func (db *DB) ReleaseStaleSyncTasks(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE sync_tasks SET status = ?, updated_at = ? WHERE status = ? AND updated_at < ?`,
		models.TaskPending, utc(time.Now()), models.TaskProcessing, utc(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to release stale sync tasks: %w", err)
	}
	return result.RowsAffected()
}

func buildTaskWhere(filter models.TaskFilter, now time.Time) (string, []any) {
	var conds []string
	var args []any

	if filter.TenantKey != "" {
		conds = append(conds, "tenant_key = ?")
		args = append(args, filter.TenantKey)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.EntityType != "" {
		conds = append(conds, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.Operation != "" {
		conds = append(conds, "operation = ?")
		args = append(args, filter.Operation)
	}
	if filter.Priority != nil {
		conds = append(conds, "priority = ?")
		args = append(args, *filter.Priority)
	}
	if filter.ScheduledOnly {
		conds = append(conds, "status = ? AND scheduled_at > ?")
		args = append(args, models.TaskPending, utc(now))
	}
	if filter.ErrorsOnly {
		conds = append(conds, "error IS NOT NULL AND error <> ''")
	}
	if filter.CreatedFrom != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, utc(*filter.CreatedFrom))
	}
	if filter.CreatedTo != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, utc(*filter.CreatedTo))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListSyncTasks returns tasks matching every set filter field, newest first.
func (db *DB) ListSyncTasks(ctx context.Context, filter models.TaskFilter, now time.Time) ([]models.SyncTask, error) {
	where, args := buildTaskWhere(filter, now)

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + taskColumns + ` FROM sync_tasks` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.SyncTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (db *DB) countBy(ctx context.Context, column string) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+column+`, COUNT(*) FROM sync_tasks GROUP BY `+column)
	if err != nil {
		return nil, fmt.Errorf("failed to count sync tasks by %s: %w", column, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// SyncTaskStats aggregates the queue for operators.
func (db *DB) SyncTaskStats(ctx context.Context, now time.Time) (*models.TaskStats, error) {
	stats := &models.TaskStats{}
	var err error

	if stats.ByStatus, err = db.countBy(ctx, "status"); err != nil {
		return nil, err
	}
	if stats.ByTenant, err = db.countBy(ctx, "tenant_key"); err != nil {
		return nil, err
	}
	if stats.ByEntityType, err = db.countBy(ctx, "entity_type"); err != nil {
		return nil, err
	}

	stats.RecentFailures, err = db.ListSyncTasks(ctx, models.TaskFilter{
		Status: models.TaskFailed,
		Limit:  models.RecentFailuresLimit,
	}, now)
	if err != nil {
		return nil, err
	}

	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_tasks WHERE status = ? AND scheduled_at > ?`,
		models.TaskPending, utc(now)).Scan(&stats.ScheduledCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count scheduled sync tasks: %w", err)
	}
	return stats, nil
}

// DueTenants lists tenants that have at least one pending task due at now.
func (db *DB) DueTenants(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT tenant_key FROM sync_tasks WHERE status = ? AND scheduled_at <= ? ORDER BY tenant_key`,
		models.TaskPending, utc(now))
	if err != nil {
		return nil, fmt.Errorf("failed to get due tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, key)
	}
	return tenants, rows.Err()
}
