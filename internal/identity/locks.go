package identity

import (
	"context"
	"sync"
)

// PairLocks serializes writers per (source, destination) tenant pair.
type PairLocks struct {
	mu    sync.Mutex
	locks map[string]*pairLock
}

type pairLock struct {
	ch   chan struct{}
	refs int
}

func NewPairLocks() *PairLocks {
	return &PairLocks{locks: make(map[string]*pairLock)}
}

func pairKey(source, destination string) string {
	return source + "\x00" + destination
}

// Lock blocks until the pair is free or ctx is done.
func (p *PairLocks) Lock(ctx context.Context, source, destination string) (func(), error) {
	key := pairKey(source, destination)

	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &pairLock{ch: make(chan struct{}, 1)}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		p.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			p.release(key, l)
		})
	}, nil
}

func (p *PairLocks) release(key string, l *pairLock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(p.locks, key)
	}
}

// WithPair runs fn while holding the pair lock.
func (p *PairLocks) WithPair(ctx context.Context, source, destination string, fn func(ctx context.Context) error) error {
	unlock, err := p.Lock(ctx, source, destination)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

func (p *PairLocks) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
