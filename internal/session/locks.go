package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// turnLocks serialises turns per conversation. Entries are dropped when no
// one holds or waits for them.
type turnLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*turnLock
}

type turnLock struct {
	ch   chan struct{}
	refs int
}

func newTurnLocks() *turnLocks {
	return &turnLocks{locks: make(map[uuid.UUID]*turnLock)}
}

// acquire blocks until the conversation is free or ctx ends. The returned
// func releases it.
func (t *turnLocks) acquire(ctx context.Context, id uuid.UUID) (func(), error) {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &turnLock{ch: make(chan struct{}, 1)}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			t.release(id, l)
		}, nil
	case <-ctx.Done():
		t.release(id, l)
		return nil, ctx.Err()
	}
}

func (t *turnLocks) release(id uuid.UUID, l *turnLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, id)
	}
}

func (t *turnLocks) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
