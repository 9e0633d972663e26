package planner

import (
	"context"
	"sync"
)

// projectLocks serializes writers per project id.
//
// Each key owns a one-token channel semaphore, so acquisition can give up
// when ctx ends. Entries are reference counted and dropped once nobody holds
// or waits for them.
type projectLocks struct {
	mu    sync.Mutex
	locks map[string]*projectLock
}

type projectLock struct {
	ch   chan struct{}
	refs int
}

func newProjectLocks() *projectLocks {
	return &projectLocks{locks: map[string]*projectLock{}}
}

// acquire blocks until the lock for key is held or ctx is done. On success
// the returned func releases it.
func (p *projectLocks) acquire(ctx context.Context, key string) (func(), error) {
	p.mu.Lock()
	l := p.locks[key]
	if l == nil {
		l = &projectLock{ch: make(chan struct{}, 1)}
		l.ch <- struct{}{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	select {
	case <-l.ch:
		var once sync.Once
		return func() {
			once.Do(func() {
				l.ch <- struct{}{}
				p.unref(key, l)
			})
		}, nil
	case <-ctx.Done():
		p.unref(key, l)
		return nil, ctx.Err()
	}
}

func (p *projectLocks) unref(key string, l *projectLock) {
	p.mu.Lock()
	l.refs--
	if l.refs == 0 && p.locks[key] == l {
		delete(p.locks, key)
	}
	p.mu.Unlock()
}

func (p *projectLocks) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
