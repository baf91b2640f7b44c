package engine

import (
	"context"
	"log"

	"steward/core/internal/gitstore"
)

// ReadArtifact returns the artifact's current content and the revision it
// was read at, as one consistent pair.
func (e *Engine) ReadArtifact(ctx context.Context, projectKey, path string) ([]byte, string, error) {
	return e.git.Read(ctx, projectKey, path)
}

// CurrentRevision is the project's head. The cache short-circuits the lookup
// when enabled; every commit refreshes it, so a hit is as good as the store.
func (e *Engine) CurrentRevision(ctx context.Context, projectKey string) (string, error) {
	if e.cache != nil {
		revision, ok, err := e.cache.Head(ctx, projectKey)
		if err != nil {
			log.Printf("engine: head cache read for %s: %v", projectKey, err)
		} else if ok {
			return revision, nil
		}
	}

	revision, err := e.git.CurrentRevision(ctx, projectKey)
	if err != nil {
		return "", err
	}
	if e.cache != nil {
		if err := e.cache.SetHead(ctx, projectKey, revision); err != nil {
			log.Printf("engine: head cache write for %s: %v", projectKey, err)
		}
	}
	return revision, nil
}

// Compare diffs one path between two revisions.
func (e *Engine) Compare(ctx context.Context, projectKey, path, fromRevision, toRevision string) (string, error) {
	return e.git.Diff(ctx, projectKey, path, fromRevision, toRevision)
}

// History lists the project's commits, newest first.
func (e *Engine) History(ctx context.Context, projectKey string, limit int) ([]gitstore.CommitInfo, error) {
	return e.git.History(ctx, projectKey, limit)
}

// setHead refreshes the cached head after a successful commit. Failures are
// logged, not surfaced; the cache self-heals via TTL.
func (e *Engine) setHead(ctx context.Context, projectKey, revision string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.SetHead(ctx, projectKey, revision); err != nil {
		log.Printf("engine: head cache refresh for %s: %v", projectKey, err)
		if err := e.cache.Invalidate(ctx, projectKey); err != nil {
			log.Printf("engine: head cache invalidate for %s: %v", projectKey, err)
		}
	}
}
