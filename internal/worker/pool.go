// Package worker runs the sync tasks admitted by the scheduler.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"catalogsync/internal/events"
	"catalogsync/internal/logging"
	"catalogsync/internal/models"
	"catalogsync/internal/scheduler"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Executor performs one claimed task.
type Executor interface {
	Execute(ctx context.Context, task *models.SyncTask) error
}

// Options tune a Pool.
type Options struct {
	Workers      int
	PollInterval time.Duration
	// BatchSize caps the tasks one worker runs for a tenant per round.
	BatchSize     int
	WakeupKey     string
	DeadLetterKey string
}

// Pool shards tenants across workers so every tenant has a single writer.
// Polling the database is the source of truth; the Redis wakeup list only
// shortens the wait after an enqueue.
type Pool struct {
	scheduler     *scheduler.Scheduler
	executor      Executor
	redis         *redis.Client
	workers       int
	pollInterval  time.Duration
	batchSize     int
	wakeupKey     string
	deadLetterKey string
	wake          []chan struct{}
	logger        zerolog.Logger
}

func NewPool(sched *scheduler.Scheduler, executor Executor, redisClient *redis.Client, opts Options, logger *zerolog.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.WakeupKey == "" {
		opts.WakeupKey = "catalogsync:wakeup"
	}
	if opts.DeadLetterKey == "" {
		opts.DeadLetterKey = "catalogsync:deadletter"
	}

	p := &Pool{
		scheduler:     sched,
		executor:      executor,
		redis:         redisClient,
		workers:       opts.Workers,
		pollInterval:  opts.PollInterval,
		batchSize:     opts.BatchSize,
		wakeupKey:     opts.WakeupKey,
		deadLetterKey: opts.DeadLetterKey,
		wake:          make([]chan struct{}, opts.Workers),
		logger:        logging.Component(logger, "worker"),
	}
	for i := range p.wake {
		p.wake[i] = make(chan struct{}, 1)
	}
	return p
}

// Subscribe wires the pool to task events: enqueues wake the owning worker and
// terminal failures go to the dead letter list.
func (p *Pool) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventTaskEnqueued, p.onEnqueued)
	bus.Subscribe(events.EventTaskFailed, p.onFailed)
}

func (p *Pool) shard(tenantKey string) int {
	return int(xxhash.Sum64String(tenantKey) % uint64(p.workers))
}

// Start runs the workers until ctx is done.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info().Int("workers", p.workers).Msg("Worker pool started")
	defer p.logger.Info().Msg("Worker pool stopped")

	if _, err := p.scheduler.Recover(ctx); err != nil {
		p.logger.Error().Err(err).Msg("Failed to release stale tasks")
	}

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			p.run(ctx, idx)
		}(i)
	}
	if p.redis != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.listen(ctx)
		}()
	}
	wg.Wait()
}

func (p *Pool) run(ctx context.Context, idx int) {
	for {
		if ctx.Err() != nil {
			return
		}
		if p.RunOnce(ctx, idx) > 0 {
			continue
		}

		timer := time.NewTimer(p.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.wake[idx]:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// RunOnce gives worker idx one pass over its due tenants and returns the
// number of tasks executed.
func (p *Pool) RunOnce(ctx context.Context, idx int) int {
	tenants, err := p.scheduler.Tenants(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to fetch due tenants")
		return 0
	}

	processed := 0
	for _, tenant := range tenants {
		if p.shard(tenant) != idx {
			continue
		}
		processed += p.drainTenant(ctx, tenant)
	}
	return processed
}

func (p *Pool) drainTenant(ctx context.Context, tenant string) int {
	processed := 0
	for processed < p.batchSize && ctx.Err() == nil {
		task, err := p.scheduler.Admit(ctx, tenant)
		if errors.Is(err, models.ErrThrottled) {
			p.logger.Debug().Str("tenant", tenant).Msg("Tenant throttled")
			return processed
		}
		if err != nil {
			p.logger.Error().Err(err).Str("tenant", tenant).Msg("Admission failed")
			return processed
		}
		if task == nil {
			return processed
		}

		p.process(ctx, task)
		processed++
	}
	return processed
}

func (p *Pool) process(ctx context.Context, task *models.SyncTask) {
	lease := p.scheduler.Lease()
	execCtx, cancel := context.WithTimeout(ctx, lease)
	execErr := p.executor.Execute(execCtx, task)
	if execErr != nil && ctx.Err() == nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		execErr = fmt.Errorf("task %d ran past its %s lease: %v: %w", task.ID, lease, execErr, models.ErrTransient)
	}
	cancel()

	// state changes must land even when shutdown cancelled the execution
	settleCtx := context.WithoutCancel(ctx)
	var err error
	if execErr != nil && ctx.Err() != nil && errors.Is(execErr, ctx.Err()) {
		err = p.scheduler.Release(settleCtx, task)
	} else {
		err = p.scheduler.Settle(settleCtx, task, execErr)
	}
	if err != nil {
		p.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to record task outcome")
	}
}

func (p *Pool) notify(tenant string) {
	select {
	case p.wake[p.shard(tenant)] <- struct{}{}:
	default:
	}
}

func (p *Pool) onEnqueued(event *events.Event) error {
	var payload events.TaskEventPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}
	if p.redis == nil {
		p.notify(payload.TenantKey)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.redis.LPush(ctx, p.wakeupKey, payload.TenantKey).Err(); err != nil {
		p.logger.Warn().Err(err).Msg("Redis wakeup push failed, waking locally")
		p.notify(payload.TenantKey)
	}
	return nil
}

func (p *Pool) listen(ctx context.Context) {
	for ctx.Err() == nil {
		res, err := p.redis.BRPop(ctx, time.Second, p.wakeupKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			p.logger.Warn().Err(err).Msg("Redis BRPOP failed")
			select {
			case <-ctx.Done():
			case <-time.After(p.pollInterval):
			}
			continue
		}
		if len(res) == 2 {
			p.notify(res[1])
		}
	}
}

func (p *Pool) onFailed(event *events.Event) error {
	if p.redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.redis.LPush(ctx, p.deadLetterKey, event.Payload).Err(); err != nil {
		p.logger.Error().Err(err).Msg("Dead letter push failed")
		return err
	}
	return nil
}

// DeadLetters returns the newest terminal failures recorded in Redis.
func (p *Pool) DeadLetters(ctx context.Context, limit int64) ([]events.TaskEventPayload, error) {
	if p.redis == nil {
		return nil, nil
	}
	raw, err := p.redis.LRange(ctx, p.deadLetterKey, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]events.TaskEventPayload, 0, len(raw))
	for _, item := range raw {
		var payload events.TaskEventPayload
		if err := json.Unmarshal([]byte(item), &payload); err != nil {
			p.logger.Warn().Err(err).Msg("Skipping malformed dead letter")
			continue
		}
		out = append(out, payload)
	}
	return out, nil
}
