package engine

import (
	"context"
	"time"

	"steward/core/internal/fault"
)

// acquire serializes mutating operations per project. The wait is bounded;
// callers get Busy instead of queuing indefinitely.
func (e *Engine) acquire(ctx context.Context, projectKey string) (func(), error) {
	lock := e.projectLock(projectKey)
	timer := time.NewTimer(e.lockWait())
	defer timer.Stop()

	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fault.Newf(fault.CodeBusy, "project %s is busy, try again", projectKey)
	}
}

func (e *Engine) projectLock(projectKey string) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[projectKey]
	if !ok {
		lock = make(chan struct{}, 1)
		e.locks[projectKey] = lock
	}
	return lock
}
