package models

import "time"

// SyncTask is a queued synchronization job for one destination tenant.
type SyncTask struct {
	ID          int64     `json:"id"`
	TenantKey   string    `json:"tenant_key"`
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	Operation   string    `json:"operation"`
	Payload     string    `json:"payload"`
	Priority    int       `json:"priority"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Error       *string   `json:"error"`
	RetryOf     *int64    `json:"retry_of"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsDeletable reports whether the task may be removed from the queue.
func (t *SyncTask) IsDeletable() bool {
	return t.Status == TaskPending || t.Status == TaskFailed
}

// IsScheduled reports whether the task is pending but not yet due.
func (t *SyncTask) IsScheduled(now time.Time) bool {
	return t.Status == TaskPending && t.ScheduledAt.After(now)
}

// TaskFilter narrows task queries. Every non-zero field is ANDed.
type TaskFilter struct {
	TenantKey     string
	Status        string
	EntityType    string
	Operation     string
	Priority      *int
	ScheduledOnly bool
	ErrorsOnly    bool
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
	Limit         int
	Offset        int
}

// TaskStats aggregates the queue state for operators.
type TaskStats struct {
	ByStatus       map[string]int `json:"by_status"`
	ByTenant       map[string]int `json:"by_tenant"`
	ByEntityType   map[string]int `json:"by_entity_type"`
	RecentFailures []SyncTask     `json:"recent_failures"`
	ScheduledCount int            `json:"scheduled_count"`
}
