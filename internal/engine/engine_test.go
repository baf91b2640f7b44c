package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"steward/core/internal/config"
	"steward/core/internal/fault"
	"steward/core/internal/store"
)

// fakeStore is an in-memory dataStore with the same state guards as the
// Postgres implementation: unique project keys, conditional phase updates,
// pending-only proposal decisions.
type fakeStore struct {
	mu          sync.Mutex
	projects    map[string]store.Project
	proposals   map[string]store.Proposal
	transitions map[string][]store.Transition
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:    make(map[string]store.Project),
		proposals:   make(map[string]store.Proposal),
		transitions: make(map[string][]store.Transition),
	}
}

func (f *fakeStore) InsertProject(_ context.Context, p store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[p.Key]; ok {
		return fault.Newf(fault.CodeInvalidState, "project %s already exists", p.Key)
	}
	p.CreatedAt = time.Now().UTC()
	p.PhaseAt = p.CreatedAt
	f.projects[p.Key] = p
	return nil
}

func (f *fakeStore) GetProject(_ context.Context, key string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[key]
	if !ok {
		return store.Project{}, fault.Newf(fault.CodeNotFound, "project %s not found", key)
	}
	return p, nil
}

func (f *fakeStore) ListProjects(_ context.Context) ([]store.ProjectSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.projects))
	for k := range f.projects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]store.ProjectSummary, 0, len(keys))
	for _, k := range keys {
		summary := store.ProjectSummary{Project: f.projects[k]}
		for _, prop := range f.proposals {
			if prop.ProjectKey != k {
				continue
			}
			switch prop.Status {
			case store.StatusPending:
				summary.PendingProposals++
			case store.StatusApplied:
				summary.AppliedProposals++
			}
		}
		out = append(out, summary)
	}
	return out, nil
}

func (f *fakeStore) UpdateProjectPhase(_ context.Context, key, fromPhase, toPhase, actor, reason string, terminal bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[key]
	if !ok {
		return fault.Newf(fault.CodeNotFound, "project %s not found", key)
	}
	if p.Phase != fromPhase {
		return fault.Newf(fault.CodeInvalidState, "project %s is in phase %s, not %s", key, p.Phase, fromPhase)
	}
	now := time.Now().UTC()
	p.Phase = toPhase
	p.PhaseReason = reason
	p.PhaseAt = now
	if terminal {
		p.ClosedAt = &now
	}
	f.projects[key] = p
	f.transitions[key] = append(f.transitions[key], store.Transition{
		ID:         int64(len(f.transitions[key]) + 1),
		ProjectKey: key,
		FromPhase:  fromPhase,
		ToPhase:    toPhase,
		Actor:      actor,
		Reason:     reason,
		CreatedAt:  now,
	})
	return nil
}

func (f *fakeStore) ListTransitions(_ context.Context, key string) ([]store.Transition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Transition(nil), f.transitions[key]...), nil
}

func (f *fakeStore) InsertProposal(_ context.Context, p store.Proposal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.proposals[p.ID]; ok {
		return fmt.Errorf("duplicate proposal id %s", p.ID)
	}
	p.CreatedAt = time.Now().UTC()
	f.proposals[p.ID] = p
	return nil
}

func (f *fakeStore) GetProposal(_ context.Context, id string) (store.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok {
		return store.Proposal{}, fault.Newf(fault.CodeNotFound, "proposal %s not found", id)
	}
	return p, nil
}

func (f *fakeStore) ListProposals(_ context.Context, projectKey, status string, limit int) ([]store.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Proposal
	for _, p := range f.proposals {
		if projectKey != "" && p.ProjectKey != projectKey {
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) DecideProposal(_ context.Context, id, toStatus, decidedBy, appliedRevision string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok {
		return fault.Newf(fault.CodeNotFound, "proposal %s not found", id)
	}
	if p.Status != store.StatusPending {
		return fault.Newf(fault.CodeInvalidState, "proposal %s is %s, not pending", id, p.Status)
	}
	now := time.Now().UTC()
	p.Status = toStatus
	p.DecidedBy = decidedBy
	p.DecidedAt = &now
	p.AppliedRevision = appliedRevision
	f.proposals[id] = p
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

var _ dataStore = (*fakeStore)(nil)
var _ dataStore = (*store.PostgresStore)(nil)

func testConfig() config.Config {
	return config.Config{
		LockWait:      2 * time.Second,
		CommitRetries: 3,
		RetryBackoff:  5 * time.Millisecond,
	}
}
