package engine

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"steward/core/internal/audit"
	"steward/core/internal/fault"
	"steward/core/internal/store"
	"steward/core/internal/textdiff"
	"steward/core/internal/util"
	"steward/core/internal/workflow"
)

// CreateProposalInput is one intended change: new content for one or more
// artifact paths, against the base revision the proposer observed.
type CreateProposalInput struct {
	ProjectKey   string
	Contents     map[string]string // path -> desired content
	BaseRevision string
	Rationale    string
	Actor        string
	PromptHash   string // set for generated drafts
	RawOptIn     bool   // store raw content in the audit ledger
}

// CreateProposal validates the base, freezes the diff and persists the
// proposal as pending. A stale base fails fast with InvalidBase instead of
// deferring the conflict to apply time.
func (e *Engine) CreateProposal(ctx context.Context, in CreateProposalInput) (store.Proposal, error) {
	if in.Actor == "" {
		return store.Proposal{}, fault.New(fault.CodeInvalidInput, "actor is required")
	}
	if len(in.Contents) == 0 {
		return store.Proposal{}, fault.New(fault.CodeInvalidInput, "proposal has no content changes")
	}
	paths := sortedKeys(in.Contents)
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			return store.Proposal{}, fault.New(fault.CodeInvalidInput, "artifact path is empty")
		}
	}

	project, err := e.store.GetProject(ctx, in.ProjectKey)
	if err != nil {
		return store.Proposal{}, err
	}
	if err := workflow.CheckProposable(workflow.Phase(project.Phase), paths); err != nil {
		return store.Proposal{}, err
	}

	// The base check reads git directly rather than the cached head; a stale
	// cache entry must never admit a stale base.
	head, err := e.git.CurrentRevision(ctx, in.ProjectKey)
	if err != nil {
		return store.Proposal{}, err
	}
	if in.BaseRevision != head {
		return store.Proposal{}, fault.Newf(fault.CodeInvalidBase,
			"base revision %s is stale, current head is %s", util.ShortRef(in.BaseRevision), util.ShortRef(head))
	}

	diff, err := e.frozenDiff(ctx, in.ProjectKey, paths, in.Contents)
	if err != nil {
		return store.Proposal{}, err
	}

	proposal := store.Proposal{
		ID:           util.NewID("prop"),
		ProjectKey:   in.ProjectKey,
		Paths:        paths,
		BaseRevision: in.BaseRevision,
		Contents:     in.Contents,
		Diff:         diff,
		ContentHash:  contentHash(paths, in.Contents),
		PromptHash:   in.PromptHash,
		Status:       store.StatusPending,
		Rationale:    in.Rationale,
		CreatedBy:    in.Actor,
	}
	if err := e.store.InsertProposal(ctx, proposal); err != nil {
		return store.Proposal{}, err
	}

	ev, err := e.ledger.Append(ctx, audit.Record{
		EventType:    audit.EventProposalCreated,
		ProjectKey:   in.ProjectKey,
		Actor:        in.Actor,
		ProposalID:   proposal.ID,
		ContentHash:  proposal.ContentHash,
		PromptHash:   in.PromptHash,
		FilesChanged: paths,
		Detail:       in.Rationale,
		RawContent:   rawContent(paths, in.Contents),
		RawOptIn:     in.RawOptIn,
	})
	if err != nil {
		return store.Proposal{}, fmt.Errorf("record proposal %s: %w", proposal.ID, err)
	}
	e.indexEvent(ev)

	return e.store.GetProposal(ctx, proposal.ID)
}

// GenerateProposalInput requests a generated draft for one artifact path.
type GenerateProposalInput struct {
	ProjectKey   string
	Path         string
	TemplateID   string
	Params       map[string]any
	BaseRevision string
	Rationale    string
	Actor        string
	RawOptIn     bool
}

// CreateGeneratedProposal renders a draft through the content generator and
// proposes it like any hand-written change, carrying the prompt hash into
// the proposal and the audit trail.
func (e *Engine) CreateGeneratedProposal(ctx context.Context, in GenerateProposalInput) (store.Proposal, error) {
	if e.generator == nil {
		return store.Proposal{}, fault.New(fault.CodeInvalidState, "content generation is not configured")
	}
	content, promptHash, err := e.generator.Generate(ctx, in.TemplateID, in.Params)
	if err != nil {
		return store.Proposal{}, fault.Wrap(fault.CodeInvalidInput, "generate draft content", err)
	}
	return e.CreateProposal(ctx, CreateProposalInput{
		ProjectKey:   in.ProjectKey,
		Contents:     map[string]string{in.Path: string(content)},
		BaseRevision: in.BaseRevision,
		Rationale:    in.Rationale,
		Actor:        in.Actor,
		PromptHash:   promptHash,
		RawOptIn:     in.RawOptIn,
	})
}

// Preview returns the frozen diff. It is byte-identical to what Apply will
// produce; it is never recomputed.
func (e *Engine) Preview(ctx context.Context, proposalID string) (string, error) {
	proposal, err := e.store.GetProposal(ctx, proposalID)
	if err != nil {
		return "", err
	}
	return proposal.Diff, nil
}

func (e *Engine) GetProposal(ctx context.Context, proposalID string) (store.Proposal, error) {
	return e.store.GetProposal(ctx, proposalID)
}

func (e *Engine) ListProposals(ctx context.Context, projectKey, status string, limit int) ([]store.Proposal, error) {
	return e.store.ListProposals(ctx, projectKey, status, limit)
}

// Apply commits a pending proposal if its base is still the head. A drifted
// base marks the proposal conflicted and surfaces Conflict; the artifact
// tree is untouched and recovery is a fresh proposal against the new head.
func (e *Engine) Apply(ctx context.Context, proposalID, actor string) (string, error) {
	if actor == "" {
		return "", fault.New(fault.CodeInvalidInput, "actor is required")
	}

	proposal, err := e.store.GetProposal(ctx, proposalID)
	if err != nil {
		return "", err
	}

	release, err := e.acquire(ctx, proposal.ProjectKey)
	if err != nil {
		return "", err
	}
	defer release()

	// Re-read under the lock; the first read only located the project.
	proposal, err = e.store.GetProposal(ctx, proposalID)
	if err != nil {
		return "", err
	}
	if proposal.Status != store.StatusPending {
		return "", fault.Newf(fault.CodeInvalidState, "proposal %s is %s, not pending", proposalID, proposal.Status)
	}

	head, err := e.git.CurrentRevision(ctx, proposal.ProjectKey)
	if err != nil {
		return "", err
	}
	if head != proposal.BaseRevision {
		return "", e.markConflicted(ctx, proposal, actor, head)
	}

	changes := make(map[string][]byte, len(proposal.Contents))
	for path, content := range proposal.Contents {
		changes[path] = []byte(content)
	}
	message := fmt.Sprintf("Apply proposal %s", proposal.ID)
	if proposal.Rationale != "" {
		message += ": " + proposal.Rationale
	}

	revision, err := e.git.Commit(ctx, proposal.ProjectKey, changes, message, actor, proposal.BaseRevision)
	if fault.IsCode(err, fault.CodeStaleBase) {
		// Lost a race with a writer outside this process.
		current, headErr := e.git.CurrentRevision(ctx, proposal.ProjectKey)
		if headErr != nil {
			current = ""
		}
		return "", e.markConflicted(ctx, proposal, actor, current)
	}
	if err != nil {
		return "", err
	}

	if err := e.store.DecideProposal(ctx, proposalID, store.StatusApplied, actor, revision); err != nil {
		return "", err
	}
	e.setHead(ctx, proposal.ProjectKey, revision)

	ev, err := e.ledger.Append(ctx, audit.Record{
		EventType:    audit.EventProposalApplied,
		ProjectKey:   proposal.ProjectKey,
		Actor:        actor,
		ProposalID:   proposal.ID,
		ContentHash:  proposal.ContentHash,
		PromptHash:   proposal.PromptHash,
		Revision:     revision,
		CommitHash:   revision,
		FilesChanged: proposal.Paths,
	})
	if err != nil {
		return "", fmt.Errorf("record apply of %s: %w", proposalID, err)
	}
	e.indexEvent(ev)

	return revision, nil
}

// Reject closes a pending proposal without touching artifact content.
func (e *Engine) Reject(ctx context.Context, proposalID, actor, reason string) error {
	if actor == "" {
		return fault.New(fault.CodeInvalidInput, "actor is required")
	}

	proposal, err := e.store.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}

	release, err := e.acquire(ctx, proposal.ProjectKey)
	if err != nil {
		return err
	}
	defer release()

	if err := e.store.DecideProposal(ctx, proposalID, store.StatusRejected, actor, ""); err != nil {
		return err
	}

	ev, err := e.ledger.Append(ctx, audit.Record{
		EventType:  audit.EventProposalRejected,
		ProjectKey: proposal.ProjectKey,
		Actor:      actor,
		ProposalID: proposal.ID,
		Detail:     reason,
	})
	if err != nil {
		return fmt.Errorf("record rejection of %s: %w", proposalID, err)
	}
	e.indexEvent(ev)
	return nil
}

// markConflicted is the drifted-base terminal path. The conflicted status is
// recorded so the next apply attempt fails InvalidState instead of racing
// again; the caller gets Conflict with the head to re-propose against.
func (e *Engine) markConflicted(ctx context.Context, proposal store.Proposal, actor, head string) error {
	if err := e.store.DecideProposal(ctx, proposal.ID, store.StatusConflicted, actor, ""); err != nil {
		return err
	}
	conflict := fault.Newf(fault.CodeConflict,
		"base revision %s has been superseded, recreate the proposal against %s",
		util.ShortRef(proposal.BaseRevision), util.ShortRef(head))
	conflict.Details = map[string]string{"current_revision": head}
	return conflict
}

// frozenDiff renders the unified diff per path against the current content,
// concatenated in path order. Pure function of (current content, new
// content); repeated calls are byte-identical.
func (e *Engine) frozenDiff(ctx context.Context, projectKey string, paths []string, contents map[string]string) (string, error) {
	var out strings.Builder
	for _, path := range paths {
		current, _, err := e.git.Read(ctx, projectKey, path)
		if fault.IsCode(err, fault.CodeNotFound) {
			current = nil
		} else if err != nil {
			return "", err
		}
		diff, err := textdiff.Unified(path, current, []byte(contents[path]))
		if err != nil {
			return "", fmt.Errorf("diff %s: %w", path, err)
		}
		out.WriteString(diff)
	}
	return out.String(), nil
}

// contentHash canonically hashes the proposed contents: paths in sorted
// order, each path and content NUL-delimited.
func contentHash(paths []string, contents map[string]string) string {
	var buf bytes.Buffer
	for _, path := range paths {
		buf.WriteString(path)
		buf.WriteByte(0)
		buf.WriteString(contents[path])
		buf.WriteByte(0)
	}
	return textdiff.Hash(buf.Bytes())
}

func rawContent(paths []string, contents map[string]string) string {
	var out strings.Builder
	for i, path := range paths {
		if i > 0 {
			out.WriteString("\n")
		}
		out.WriteString("=== " + path + " ===\n")
		out.WriteString(contents[path])
	}
	return out.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
