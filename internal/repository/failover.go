package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"catalogsync/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverCache routes to the primary cache and switches to the fallback on error,
// probing the primary again after recoverAfter.
type FailoverCache struct {
	primary      domain.Cache
	fallback     domain.Cache
	logger       *zerolog.Logger
	isDown       atomic.Bool
	mu           sync.Mutex
	lastCheck    time.Time
	recoverAfter time.Duration
}

func NewFailoverCache(primary, fallback domain.Cache, logger *zerolog.Logger) *FailoverCache {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverCache{
		primary:      primary,
		fallback:     fallback,
		logger:       logger,
		recoverAfter: time.Minute,
	}
}

func (r *FailoverCache) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary cache failed, falling back to memory")
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

// usePrimary reports whether the primary should be tried for this call.
func (r *FailoverCache) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) > r.recoverAfter {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

func (r *FailoverCache) Get(ctx context.Context, key string) ([]byte, error) {
	if r.usePrimary() {
		val, err := r.primary.Get(ctx, key)
		if err == nil {
			r.isDown.Store(false)
			return val, nil
		}
		r.markDown(err)
	}

	return r.fallback.Get(ctx, key)
}

func (r *FailoverCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if r.usePrimary() {
		err := r.primary.Put(ctx, key, value, ttl)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Put(ctx, key, value, ttl)
}

func (r *FailoverCache) Forget(ctx context.Context, key string) error {
	// Entries are always removed from the fallback as well.
	_ = r.fallback.Forget(ctx, key)
	if r.usePrimary() {
		err := r.primary.Forget(ctx, key)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.markDown(err)
	}
	return nil
}
