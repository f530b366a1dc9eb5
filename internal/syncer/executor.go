// Package syncer executes admitted sync tasks against the remote platform.
package syncer

import (
	"context"
	"fmt"

	"catalogsync/internal/identity"
	"catalogsync/internal/logging"
	"catalogsync/internal/models"
	"catalogsync/internal/registry"
	"catalogsync/internal/resolver"

	"github.com/rs/zerolog"
)

// Job is one task execution.
type Job struct {
	Task        *models.SyncTask
	Payload     models.TaskPayload
	Source      string
	Destination string
}

// Handler applies one (entity type, operation) combination.
type Handler func(ctx context.Context, job Job) error

// Executor dispatches tasks to handlers while holding the tenant pair lock.
type Executor struct {
	handlers      map[string]Handler
	defaultSource string
	registry      *registry.Registry
	clients       resolver.Clients
	store         *identity.Store
	resolver      *resolver.Resolver
	names         *identity.NameLookup
	locks         *identity.PairLocks
	logger        zerolog.Logger
}

// Deps groups the collaborators of an Executor.
type Deps struct {
	Registry *registry.Registry
	Clients  resolver.Clients
	Store    *identity.Store
	Resolver *resolver.Resolver
	Names    *identity.NameLookup
	Locks    *identity.PairLocks
}

func NewExecutor(defaultSource string, deps Deps, logger *zerolog.Logger) *Executor {
	e := &Executor{
		handlers:      make(map[string]Handler),
		defaultSource: defaultSource,
		registry:      deps.Registry,
		clients:       deps.Clients,
		store:         deps.Store,
		resolver:      deps.Resolver,
		names:         deps.Names,
		locks:         deps.Locks,
		logger:        logging.Component(logger, "syncer"),
	}
	if e.locks == nil {
		e.locks = identity.NewPairLocks()
	}

	e.Register(models.EntityProductFolder, models.OperationUpsert, e.upsertFolder)
	e.Register(models.EntityCustomEntity, models.OperationUpsert, e.upsertList)
	e.Register(models.EntityProduct, models.OperationUpsert, e.upsertProduct)
	e.Register(models.EntityProduct, models.OperationDelete, e.deleteProduct)
	return e
}

func handlerKey(entityType, operation string) string {
	return entityType + "/" + operation
}

// Register installs or replaces a handler.
func (e *Executor) Register(entityType, operation string, h Handler) {
	e.handlers[handlerKey(entityType, operation)] = h
}

// Execute runs the handler of a processing task.
func (e *Executor) Execute(ctx context.Context, task *models.SyncTask) error {
	if _, err := e.registry.Lookup(task.EntityType); err != nil {
		return err
	}
	h, ok := e.handlers[handlerKey(task.EntityType, task.Operation)]
	if !ok {
		return fmt.Errorf("no handler for %s/%s: %w", task.EntityType, task.Operation, models.ErrConfiguration)
	}

	payload, err := models.DecodePayload(task.Payload)
	if err != nil {
		return fmt.Errorf("%v: %w", err, models.ErrConfiguration)
	}
	job := Job{
		Task:        task,
		Payload:     payload,
		Source:      payload.GetString(models.PayloadSourceTenant),
		Destination: task.TenantKey,
	}
	if job.Source == "" {
		job.Source = e.defaultSource
	}
	if job.Source == job.Destination {
		return fmt.Errorf("task %d synchronizes tenant %s onto itself: %w", task.ID, job.Source, models.ErrConfiguration)
	}

	return e.locks.WithPair(ctx, job.Source, job.Destination, func(ctx context.Context) error {
		log := e.logger.With().
			Int64("task_id", task.ID).
			Str("source_tenant", job.Source).
			Str("destination_tenant", job.Destination).
			Str("entity_type", task.EntityType).
			Str("entity_id", task.EntityID).
			Logger()
		log.Debug().Str("operation", task.Operation).Msg("Executing task")
		return h(log.WithContext(ctx), job)
	})
}

func (e *Executor) upsertFolder(ctx context.Context, job Job) error {
	_, err := e.resolver.ResolveFolder(ctx, job.Source, job.Destination, job.Task.EntityID)
	return err
}

func (e *Executor) upsertList(ctx context.Context, job Job) error {
	_, err := e.resolver.ResolveList(ctx, job.Source, job.Destination, job.Task.EntityID)
	return err
}
