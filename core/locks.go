package core

import (
	"context"
	"sync"
)

// fileLockTable tracks files held by external editors. A run that wants
// to touch a held file waits in PhaseWaitingForFileLock until release.
type fileLockTable struct {
	mu      sync.Mutex
	held    map[string]struct{}
	waiters map[string][]chan struct{}
}

func newFileLockTable() *fileLockTable {
	return &fileLockTable{
		held:    make(map[string]struct{}),
		waiters: make(map[string][]chan struct{}),
	}
}

// Lock marks path as held. Returns false if it was already held.
func (t *fileLockTable) Lock(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.held[path]; ok {
		return false
	}
	t.held[path] = struct{}{}
	return true
}

// Unlock releases path and wakes all waiters.
func (t *fileLockTable) Unlock(path string) {
	t.mu.Lock()
	delete(t.held, path)
	waiters := t.waiters[path]
	delete(t.waiters, path)
	t.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

// Held reports whether path is currently locked.
func (t *fileLockTable) Held(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.held[path]
	return ok
}

// Wait blocks until path is released or ctx ends.
func (t *fileLockTable) Wait(ctx context.Context, path string) error {
	t.mu.Lock()
	if _, ok := t.held[path]; !ok {
		t.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	t.waiters[path] = append(t.waiters[path], ch)
	t.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
