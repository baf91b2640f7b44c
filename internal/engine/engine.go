// Package engine is the governance core: it owns proposal lifecycle,
// workflow transitions and audit emission, and serializes every mutating
// operation per project. All artifact content flows through here; nothing
// else writes the artifact store or the ledger.
package engine

import (
	"context"
	"sync"
	"time"

	"steward/core/internal/audit"
	"steward/core/internal/config"
	"steward/core/internal/contentgen"
	"steward/core/internal/gitstore"
	"steward/core/internal/store"
)

type dataStore interface {
	InsertProject(ctx context.Context, p store.Project) error
	GetProject(ctx context.Context, key string) (store.Project, error)
	ListProjects(ctx context.Context) ([]store.ProjectSummary, error)
	UpdateProjectPhase(ctx context.Context, key, fromPhase, toPhase, actor, reason string, terminal bool) error
	ListTransitions(ctx context.Context, key string) ([]store.Transition, error)
	InsertProposal(ctx context.Context, p store.Proposal) error
	GetProposal(ctx context.Context, id string) (store.Proposal, error)
	ListProposals(ctx context.Context, projectKey, status string, limit int) ([]store.Proposal, error)
	DecideProposal(ctx context.Context, id, toStatus, decidedBy, appliedRevision string) error
	Ping(ctx context.Context) error
}

type artifactStore interface {
	EnsureProjectRepo(ctx context.Context, projectKey, author string) error
	Read(ctx context.Context, projectKey, path string) ([]byte, string, error)
	CurrentRevision(ctx context.Context, projectKey string) (string, error)
	Commit(ctx context.Context, projectKey string, changes map[string][]byte, message, author, baseRevision string) (string, error)
	Diff(ctx context.Context, projectKey, path, fromRevision, toRevision string) (string, error)
	History(ctx context.Context, projectKey string, limit int) ([]gitstore.CommitInfo, error)
	Snapshot(ctx context.Context, projectKey string) (map[string][]byte, string, error)
}

type headCache interface {
	Head(ctx context.Context, projectKey string) (string, bool, error)
	SetHead(ctx context.Context, projectKey, revision string) error
	Invalidate(ctx context.Context, projectKey string) error
}

type searchIndex interface {
	IndexEvent(ev audit.Event)
}

type projectArchiver interface {
	ArchiveProject(ctx context.Context, projectKey string, files map[string][]byte, ledgerPath string) (string, error)
}

type Engine struct {
	cfg       config.Config
	store     dataStore
	git       artifactStore
	ledger    *audit.Ledger
	cache     headCache
	search    searchIndex
	archiver  projectArchiver
	generator contentgen.Generator

	mu    sync.Mutex
	locks map[string]chan struct{}
}

func New(cfg config.Config, dataStore *store.PostgresStore, git *gitstore.Store, ledger *audit.Ledger) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  dataStore,
		git:    git,
		ledger: ledger,
		locks:  make(map[string]chan struct{}),
	}
}

// AttachCache enables the head-revision cache. Optional; the artifact store
// stays authoritative.
func (e *Engine) AttachCache(c headCache) { e.cache = c }

// AttachSearch enables best-effort indexing of audit events.
func (e *Engine) AttachSearch(s searchIndex) { e.search = s }

// AttachArchiver enables bundling of closed projects to object storage.
func (e *Engine) AttachArchiver(a projectArchiver) { e.archiver = a }

// AttachGenerator enables generated-draft proposals.
func (e *Engine) AttachGenerator(g contentgen.Generator) { e.generator = g }

// Ledger exposes the audit ledger for read-side consumers (search fallback).
func (e *Engine) Ledger() *audit.Ledger { return e.ledger }

func (e *Engine) lockWait() time.Duration {
	if e.cfg.LockWait > 0 {
		return e.cfg.LockWait
	}
	return 5 * time.Second
}

func (e *Engine) indexEvent(ev audit.Event) {
	if e.search != nil {
		e.search.IndexEvent(ev)
	}
}
