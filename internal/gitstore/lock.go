package gitstore

import (
	"context"
	"time"

	"steward/core/internal/fault"
)

// acquire takes the project's write lock with a bounded wait. Writers queue;
// a caller that cannot get the lock within LockWait fails with Busy instead
// of queuing unboundedly.
func (s *Store) acquire(ctx context.Context, projectKey string) (func(), error) {
	lock := s.projectLock(projectKey)

	timer := time.NewTimer(s.opts.LockWait)
	defer timer.Stop()

	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-timer.C:
		return nil, fault.Newf(fault.CodeBusy, "project %s write lock held too long", projectKey)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) projectLock(projectKey string) chan struct{} {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[projectKey]
	if !ok {
		lock = make(chan struct{}, 1)
		s.locks[projectKey] = lock
	}
	return lock
}
