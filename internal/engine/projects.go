package engine

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"time"

	"steward/core/internal/audit"
	"steward/core/internal/fault"
	"steward/core/internal/store"
	"steward/core/internal/workflow"
)

// Project keys are short, uppercase, alphanumeric with dash separators,
// e.g. "P-100" or "WEBSITE-2026".
var projectKeyPattern = regexp.MustCompile(`^[A-Z0-9]+(?:-[A-Z0-9]+)*$`)

const (
	minProjectKeyLen = 2
	maxProjectKeyLen = 20
)

func validateProjectKey(key string) error {
	if len(key) < minProjectKeyLen || len(key) > maxProjectKeyLen {
		return fault.Newf(fault.CodeInvalidInput, "project key must be %d-%d characters", minProjectKeyLen, maxProjectKeyLen)
	}
	if !projectKeyPattern.MatchString(key) {
		return fault.Newf(fault.CodeInvalidInput, "project key %q must be uppercase alphanumeric with dash separators", key)
	}
	return nil
}

// CreateProject registers a project in the initiating phase and initializes
// its artifact repository.
func (e *Engine) CreateProject(ctx context.Context, key, actor string) (store.Project, error) {
	if err := validateProjectKey(key); err != nil {
		return store.Project{}, err
	}
	if actor == "" {
		return store.Project{}, fault.New(fault.CodeInvalidInput, "actor is required")
	}

	// Repo init runs before the insert: it is idempotent, so a failure here
	// leaves no project row behind and the create can simply be retried.
	if err := e.git.EnsureProjectRepo(ctx, key, actor); err != nil {
		return store.Project{}, fmt.Errorf("initialize artifact repo for %s: %w", key, err)
	}

	if err := e.store.InsertProject(ctx, store.Project{
		Key:         key,
		Phase:       string(workflow.Initial()),
		PhaseReason: "project created",
		CreatedBy:   actor,
	}); err != nil {
		return store.Project{}, err
	}

	return e.store.GetProject(ctx, key)
}

func (e *Engine) GetProject(ctx context.Context, key string) (store.Project, error) {
	return e.store.GetProject(ctx, key)
}

func (e *Engine) ListProjects(ctx context.Context) ([]store.ProjectSummary, error) {
	return e.store.ListProjects(ctx)
}

// AllowedTransitions returns the phases the project may move to next. Pure
// function of the current phase.
func (e *Engine) AllowedTransitions(ctx context.Context, key string) ([]workflow.Phase, error) {
	project, err := e.store.GetProject(ctx, key)
	if err != nil {
		return nil, err
	}
	return workflow.AllowedTransitions(workflow.Phase(project.Phase)), nil
}

// Transition moves the project to a new phase. The edge must exist and the
// reason must meet the governance minimum; a rejected transition leaves no
// trace in the audit ledger.
func (e *Engine) Transition(ctx context.Context, key string, to workflow.Phase, actor, reason string) error {
	if actor == "" {
		return fault.New(fault.CodeInvalidInput, "actor is required")
	}

	release, err := e.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	project, err := e.store.GetProject(ctx, key)
	if err != nil {
		return err
	}
	current := workflow.Phase(project.Phase)
	if err := workflow.ValidateTransition(current, to, reason); err != nil {
		return err
	}

	terminal := workflow.Terminal(to)
	if err := e.store.UpdateProjectPhase(ctx, key, string(current), string(to), actor, reason, terminal); err != nil {
		return err
	}

	ev, err := e.ledger.Append(ctx, audit.Record{
		EventType:  audit.EventWorkflowTransitioned,
		ProjectKey: key,
		Actor:      actor,
		Detail:     fmt.Sprintf("%s -> %s: %s", current, to, reason),
	})
	if err != nil {
		return fmt.Errorf("record transition of %s: %w", key, err)
	}
	e.indexEvent(ev)

	if terminal && e.archiver != nil {
		go e.archiveClosed(key)
	}
	return nil
}

// Transitions returns the project's transition history, oldest first.
func (e *Engine) Transitions(ctx context.Context, key string) ([]store.Transition, error) {
	return e.store.ListTransitions(ctx, key)
}

// archiveClosed bundles the final artifact tree and the audit ledger to
// object storage. Best effort; the close itself has already committed.
func (e *Engine) archiveClosed(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	files, revision, err := e.git.Snapshot(ctx, key)
	if err != nil {
		log.Printf("engine: snapshot %s for archive: %v", key, err)
		return
	}
	object, err := e.archiver.ArchiveProject(ctx, key, files, e.ledger.FilePath(key))
	if err != nil {
		log.Printf("engine: archive %s: %v", key, err)
		return
	}
	log.Printf("engine: archived %s at revision %s to %s", key, revision, object)
}
