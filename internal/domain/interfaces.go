package domain

import (
	"context"
	"time"

	"catalogsync/internal/models"
)

// Cache is a TTL-capable key-value cache. Get returns nil, nil for a missing key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Forget(ctx context.Context, key string) error
}

// TaskRepository persists SyncTask rows.
type TaskRepository interface {
	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
	GetSyncTask(ctx context.Context, id int64) (*models.SyncTask, error)
	ClaimNextSyncTask(ctx context.Context, tenantKey string, now time.Time) (*models.SyncTask, error)
	RescheduleSyncTask(ctx context.Context, id int64, scheduledAt time.Time) error
	RequeueSyncTask(ctx context.Context, id int64, errMsg string, scheduledAt time.Time) error
	CompleteSyncTask(ctx context.Context, id int64) error
	FailSyncTask(ctx context.Context, id int64, attempts int, errMsg string) error
	DeleteSyncTask(ctx context.Context, id int64) error
	ReleaseStaleSyncTasks(ctx context.Context, olderThan time.Time) (int64, error)
	ListSyncTasks(ctx context.Context, filter models.TaskFilter, now time.Time) ([]models.SyncTask, error)
	SyncTaskStats(ctx context.Context, now time.Time) (*models.TaskStats, error)
	DueTenants(ctx context.Context, now time.Time) ([]string, error)
}

// MappingRepository persists EntityMapping rows.
type MappingRepository interface {
	GetMapping(ctx context.Context, key models.MappingKey) (*models.EntityMapping, error)
	CreateMapping(ctx context.Context, mapping *models.EntityMapping) error
	FindMappingByName(ctx context.Context, source, destination, entityType, name string) (*models.EntityMapping, error)
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
