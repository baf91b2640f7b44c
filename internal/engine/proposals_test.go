package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"steward/core/internal/audit"
	"steward/core/internal/fault"
	"steward/core/internal/gitstore"
	"steward/core/internal/store"
	"steward/core/internal/workflow"
)

func newTestEngine(t *testing.T) (*Engine, *fakeStore) {
	t.Helper()
	ledger, err := audit.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	fs := newFakeStore()
	e := &Engine{
		cfg:    testConfig(),
		store:  fs,
		git:    gitstore.New(t.TempDir(), gitstore.Options{}),
		ledger: ledger,
		locks:  make(map[string]chan struct{}),
	}
	return e, fs
}

func mustCreateProject(t *testing.T, e *Engine, key string) store.Project {
	t.Helper()
	project, err := e.CreateProject(context.Background(), key, "alice")
	if err != nil {
		t.Fatalf("create project %s: %v", key, err)
	}
	return project
}

func mustHead(t *testing.T, e *Engine, key string) string {
	t.Helper()
	head, err := e.CurrentRevision(context.Background(), key)
	if err != nil {
		t.Fatalf("current revision: %v", err)
	}
	return head
}

func mustPropose(t *testing.T, e *Engine, key, path, content, base string) store.Proposal {
	t.Helper()
	proposal, err := e.CreateProposal(context.Background(), CreateProposalInput{
		ProjectKey:   key,
		Contents:     map[string]string{path: content},
		BaseRevision: base,
		Rationale:    "update " + path,
		Actor:        "alice",
	})
	if err != nil {
		t.Fatalf("create proposal for %s: %v", path, err)
	}
	return proposal
}

func TestHappyPath(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	project := mustCreateProject(t, e, "P-100")
	if project.Phase != string(workflow.Initiating) {
		t.Fatalf("new project phase = %s, want initiating", project.Phase)
	}

	base := mustHead(t, e, "P-100")
	proposal := mustPropose(t, e, "P-100", "artifacts/charter.md", "Charter v1", base)
	if proposal.Status != store.StatusPending {
		t.Fatalf("new proposal status = %s, want pending", proposal.Status)
	}
	if proposal.Diff == "" {
		t.Fatal("proposal diff is empty")
	}

	revision, err := e.Apply(ctx, proposal.ID, "bob")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if revision == base {
		t.Fatal("apply did not advance the revision")
	}

	content, readRev, err := e.ReadArtifact(ctx, "P-100", "artifacts/charter.md")
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(content) != "Charter v1" {
		t.Fatalf("artifact content = %q, want %q", content, "Charter v1")
	}
	if readRev != revision {
		t.Fatalf("read revision = %s, want %s", readRev, revision)
	}

	applied, err := e.GetProposal(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	if applied.Status != store.StatusApplied || applied.AppliedRevision != revision {
		t.Fatalf("proposal after apply: status=%s revision=%s", applied.Status, applied.AppliedRevision)
	}

	events, err := e.AuditList(ctx, "P-100", audit.Filter{Types: []audit.EventType{audit.EventProposalApplied}})
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d proposal_applied events, want 1", len(events))
	}
	if events[0].Revision != revision || events[0].ProposalID != proposal.ID {
		t.Fatalf("applied event = %+v", events[0])
	}
}

func TestApplyConflictMarksProposalConflicted(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	mustCreateProject(t, e, "P-100")
	base := mustHead(t, e, "P-100")
	first := mustPropose(t, e, "P-100", "artifacts/charter.md", "Charter v1", base)
	r1, err := e.Apply(ctx, first.ID, "alice")
	if err != nil {
		t.Fatalf("apply first: %v", err)
	}

	// Two competing proposals against r1 for the same path.
	p2 := mustPropose(t, e, "P-100", "artifacts/charter.md", "Charter v2 by p2", r1)
	p3 := mustPropose(t, e, "P-100", "artifacts/charter.md", "Charter v2 by p3", r1)

	if _, err := e.Apply(ctx, p3.ID, "bob"); err != nil {
		t.Fatalf("apply p3: %v", err)
	}

	_, err = e.Apply(ctx, p2.ID, "carol")
	if fault.Code(err) != fault.CodeConflict {
		t.Fatalf("apply p2 error = %v, want CONFLICT", err)
	}

	conflicted, err := e.GetProposal(ctx, p2.ID)
	if err != nil {
		t.Fatalf("get p2: %v", err)
	}
	if conflicted.Status != store.StatusConflicted {
		t.Fatalf("p2 status = %s, want conflicted", conflicted.Status)
	}

	content, _, err := e.ReadArtifact(ctx, "P-100", "artifacts/charter.md")
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(content) != "Charter v2 by p3" {
		t.Fatalf("final content = %q, want p3's content intact", content)
	}

	// Conflicted is terminal; a retry is an InvalidState, not another race.
	if _, err := e.Apply(ctx, p2.ID, "carol"); fault.Code(err) != fault.CodeInvalidState {
		t.Fatalf("re-apply conflicted error = %v, want INVALID_STATE", err)
	}
}

func TestApplyIdenticalContentAdvancesRevision(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	mustCreateProject(t, e, "P-100")
	base := mustHead(t, e, "P-100")
	seed := mustPropose(t, e, "P-100", "artifacts/charter.md", "Charter v1", base)
	r1, err := e.Apply(ctx, seed.ID, "alice")
	if err != nil {
		t.Fatalf("apply seed: %v", err)
	}

	// Re-proposing the current content yields an empty diff but is still a
	// valid approval; it must commit and leave the proposal applied.
	same := mustPropose(t, e, "P-100", "artifacts/charter.md", "Charter v1", r1)
	if same.Diff != "" {
		t.Fatalf("identical-content diff = %q, want empty", same.Diff)
	}

	r2, err := e.Apply(ctx, same.ID, "bob")
	if err != nil {
		t.Fatalf("apply identical content: %v", err)
	}
	if r2 == r1 {
		t.Fatal("apply did not advance the revision")
	}

	applied, err := e.GetProposal(ctx, same.ID)
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	if applied.Status != store.StatusApplied {
		t.Fatalf("status = %s, want applied", applied.Status)
	}

	content, _, err := e.ReadArtifact(ctx, "P-100", "artifacts/charter.md")
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(content) != "Charter v1" {
		t.Fatalf("content = %q", content)
	}
}

func TestCreateProposalStaleBase(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	mustCreateProject(t, e, "P-100")
	base := mustHead(t, e, "P-100")
	first := mustPropose(t, e, "P-100", "artifacts/charter.md", "Charter v1", base)
	if _, err := e.Apply(ctx, first.ID, "alice"); err != nil {
		t.Fatalf("apply: %v", err)
	}

	_, err := e.CreateProposal(ctx, CreateProposalInput{
		ProjectKey:   "P-100",
		Contents:     map[string]string{"artifacts/charter.md": "Charter v2"},
		BaseRevision: base,
		Actor:        "bob",
	})
	if fault.Code(err) != fault.CodeInvalidBase {
		t.Fatalf("create against stale base error = %v, want INVALID_BASE", err)
	}
}

// pinnedCache always serves the same head, the way a cache that missed an
// invalidation would.
type pinnedCache struct {
	head string
}

func (c *pinnedCache) Head(ctx context.Context, projectKey string) (string, bool, error) {
	return c.head, true, nil
}
func (c *pinnedCache) SetHead(ctx context.Context, projectKey, revision string) error { return nil }
func (c *pinnedCache) Invalidate(ctx context.Context, projectKey string) error        { return nil }

func TestCreateProposalIgnoresStaleCachedHead(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	mustCreateProject(t, e, "P-100")
	base := mustHead(t, e, "P-100")
	first := mustPropose(t, e, "P-100", "artifacts/charter.md", "Charter v1", base)
	if _, err := e.Apply(ctx, first.ID, "alice"); err != nil {
		t.Fatalf("apply: %v", err)
	}

	e.AttachCache(&pinnedCache{head: base})

	_, err := e.CreateProposal(ctx, CreateProposalInput{
		ProjectKey:   "P-100",
		Contents:     map[string]string{"artifacts/charter.md": "Charter v2"},
		BaseRevision: base,
		Actor:        "bob",
	})
	if fault.Code(err) != fault.CodeInvalidBase {
		t.Fatalf("create against stale cached head error = %v, want INVALID_BASE", err)
	}
}

func TestPreviewApplyEquality(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	mustCreateProject(t, e, "P-100")
	base := mustHead(t, e, "P-100")
	seed := mustPropose(t, e, "P-100", "artifacts/charter.md", "line one\nline two\nline three\n", base)
	r1, err := e.Apply(ctx, seed.ID, "alice")
	if err != nil {
		t.Fatalf("apply seed: %v", err)
	}

	proposal := mustPropose(t, e, "P-100", "artifacts/charter.md", "line one\nline 2\nline three\n", r1)
	preview, err := e.Preview(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}

	r2, err := e.Apply(ctx, proposal.ID, "alice")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	applied, err := e.Compare(ctx, "P-100", "artifacts/charter.md", r1, r2)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if preview != applied {
		t.Fatalf("preview diff differs from applied diff:\n--- preview ---\n%s\n--- applied ---\n%s", preview, applied)
	}
}

func TestCreateProposalDiffDeterministic(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	mustCreateProject(t, e, "P-100")
	advance(t, e, "P-100", workflow.Planning)
	base := mustHead(t, e, "P-100")

	content := "alpha\nbeta\ngamma\n"
	var diffs []string
	for i := 0; i < 5; i++ {
		p, err := e.CreateProposal(ctx, CreateProposalInput{
			ProjectKey:   "P-100",
			Contents:     map[string]string{"artifacts/plan.md": content},
			BaseRevision: base,
			Actor:        "alice",
		})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		diffs = append(diffs, p.Diff)
	}
	for i := 1; i < len(diffs); i++ {
		if diffs[i] != diffs[0] {
			t.Fatalf("diff %d differs from diff 0", i)
		}
	}
}

func TestRejectProposal(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	mustCreateProject(t, e, "P-100")
	base := mustHead(t, e, "P-100")
	proposal := mustPropose(t, e, "P-100", "artifacts/charter.md", "Charter v1", base)

	if err := e.Reject(ctx, proposal.ID, "bob", "needs sponsor sign-off"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	rejected, err := e.GetProposal(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rejected.Status != store.StatusRejected {
		t.Fatalf("status = %s, want rejected", rejected.Status)
	}

	// Content untouched; the path was never committed.
	if _, _, err := e.ReadArtifact(ctx, "P-100", "artifacts/charter.md"); fault.Code(err) != fault.CodeNotFound {
		t.Fatalf("read after reject error = %v, want NOT_FOUND", err)
	}

	if _, err := e.Apply(ctx, proposal.ID, "bob"); fault.Code(err) != fault.CodeInvalidState {
		t.Fatalf("apply rejected error = %v, want INVALID_STATE", err)
	}
	if err := e.Reject(ctx, proposal.ID, "bob", "again"); fault.Code(err) != fault.CodeInvalidState {
		t.Fatalf("double reject error = %v, want INVALID_STATE", err)
	}

	events, err := e.AuditList(ctx, "P-100", audit.Filter{Types: []audit.EventType{audit.EventProposalRejected}})
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	if len(events) != 1 || events[0].Detail != "needs sponsor sign-off" {
		t.Fatalf("rejected events = %+v", events)
	}
}

func TestAuditAppendOnlyOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	mustCreateProject(t, e, "P-100")
	base := mustHead(t, e, "P-100")
	p1 := mustPropose(t, e, "P-100", "artifacts/charter.md", "Charter v1", base)
	r1, err := e.Apply(ctx, p1.ID, "alice")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	p2 := mustPropose(t, e, "P-100", "artifacts/notes.md", "Notes", r1)
	if err := e.Reject(ctx, p2.ID, "bob", "not needed yet"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	events, err := e.AuditList(ctx, "P-100", audit.Filter{})
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	wantTypes := []audit.EventType{
		audit.EventProposalCreated,
		audit.EventProposalApplied,
		audit.EventProposalCreated,
		audit.EventProposalRejected,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events, want %d", len(events), len(wantTypes))
	}
	for i, ev := range events {
		if ev.Seq != int64(i+1) {
			t.Errorf("event %d seq = %d", i, ev.Seq)
		}
		if ev.EventType != wantTypes[i] {
			t.Errorf("event %d type = %s, want %s", i, ev.EventType, wantTypes[i])
		}
	}

	verified, err := e.VerifyLedger(ctx, "P-100")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified != int64(len(wantTypes)) {
		t.Fatalf("verified %d events, want %d", verified, len(wantTypes))
	}
}

func TestCreateProposalRequiresContent(t *testing.T) {
	e, _ := newTestEngine(t)
	mustCreateProject(t, e, "P-100")

	_, err := e.CreateProposal(context.Background(), CreateProposalInput{
		ProjectKey: "P-100",
		Actor:      "alice",
	})
	if fault.Code(err) != fault.CodeInvalidInput {
		t.Fatalf("error = %v, want INVALID_INPUT", err)
	}
}

func TestCreateProjectKeyValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	for _, key := range []string{"p-100", "P", "P_100", "-P100", "P-100-", "THIS-KEY-IS-MUCH-TOO-LONG"} {
		if _, err := e.CreateProject(ctx, key, "alice"); fault.Code(err) != fault.CodeInvalidInput {
			t.Errorf("key %q: error = %v, want INVALID_INPUT", key, err)
		}
	}

	if _, err := e.CreateProject(ctx, "P-100", "alice"); err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}
	if _, err := e.CreateProject(ctx, "P-100", "alice"); fault.Code(err) != fault.CodeInvalidState {
		t.Fatal("duplicate key must be rejected")
	}
}

type flakyRepoStore struct {
	artifactStore
	failures int
}

func (f *flakyRepoStore) EnsureProjectRepo(ctx context.Context, projectKey, author string) error {
	if f.failures > 0 {
		f.failures--
		return fault.New(fault.CodeStorageUnavailable, "repo volume offline")
	}
	return f.artifactStore.EnsureProjectRepo(ctx, projectKey, author)
}

func TestCreateProjectRetryableAfterRepoFailure(t *testing.T) {
	e, fs := newTestEngine(t)
	e.git = &flakyRepoStore{artifactStore: e.git, failures: 1}
	ctx := context.Background()

	_, err := e.CreateProject(ctx, "P-100", "alice")
	if fault.Code(err) != fault.CodeStorageUnavailable {
		t.Fatalf("first create error = %v, want STORAGE_UNAVAILABLE", err)
	}

	// A failed create leaves nothing behind; the key is not burned.
	if _, err := fs.GetProject(ctx, "P-100"); fault.Code(err) != fault.CodeNotFound {
		t.Fatalf("project row after failed create: err = %v, want NOT_FOUND", err)
	}

	project, err := e.CreateProject(ctx, "P-100", "alice")
	if err != nil {
		t.Fatalf("retry create: %v", err)
	}
	if project.Phase != string(workflow.Initiating) {
		t.Fatalf("retried project phase = %s", project.Phase)
	}

	base := mustHead(t, e, "P-100")
	mustPropose(t, e, "P-100", "artifacts/charter.md", "Charter v1", base)
}

func TestApplyBoundedLockWait(t *testing.T) {
	e, _ := newTestEngine(t)
	e.cfg.LockWait = 50 * time.Millisecond
	ctx := context.Background()

	mustCreateProject(t, e, "P-100")
	base := mustHead(t, e, "P-100")
	proposal := mustPropose(t, e, "P-100", "artifacts/charter.md", "Charter v1", base)

	release, err := e.acquire(ctx, "P-100")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	start := time.Now()
	_, err = e.Apply(ctx, proposal.ID, "alice")
	if fault.Code(err) != fault.CodeBusy {
		t.Fatalf("error = %v, want BUSY", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("lock wait took %v, want bounded", elapsed)
	}
}

func TestGeneratedProposalCarriesPromptHash(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	gen := stubGenerator{content: "# Project Charter: Relaunch\n", promptHash: strings.Repeat("ab", 32)}
	e.AttachGenerator(gen)

	mustCreateProject(t, e, "P-100")
	base := mustHead(t, e, "P-100")

	proposal, err := e.CreateGeneratedProposal(ctx, GenerateProposalInput{
		ProjectKey:   "P-100",
		Path:         "artifacts/charter.md",
		TemplateID:   "charter",
		Params:       map[string]any{"ProjectName": "Relaunch"},
		BaseRevision: base,
		Rationale:    "draft charter",
		Actor:        "alice",
	})
	if err != nil {
		t.Fatalf("create generated proposal: %v", err)
	}
	if proposal.PromptHash != gen.promptHash {
		t.Fatalf("prompt hash = %q", proposal.PromptHash)
	}
	if !strings.Contains(proposal.Diff, "Project Charter: Relaunch") {
		t.Fatalf("diff missing generated content:\n%s", proposal.Diff)
	}

	events, err := e.AuditList(ctx, "P-100", audit.Filter{})
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	if len(events) != 1 || events[0].PromptHash != gen.promptHash {
		t.Fatalf("audit events = %+v", events)
	}
}

func TestGeneratedProposalWithoutGenerator(t *testing.T) {
	e, _ := newTestEngine(t)
	mustCreateProject(t, e, "P-100")

	_, err := e.CreateGeneratedProposal(context.Background(), GenerateProposalInput{
		ProjectKey: "P-100",
		Path:       "artifacts/charter.md",
		TemplateID: "charter",
		Actor:      "alice",
	})
	if fault.Code(err) != fault.CodeInvalidState {
		t.Fatalf("error = %v, want INVALID_STATE", err)
	}
}

type stubGenerator struct {
	content    string
	promptHash string
}

func (g stubGenerator) Generate(context.Context, string, map[string]any) ([]byte, string, error) {
	return []byte(g.content), g.promptHash, nil
}

func TestPrivacyDefaultExcludesRawContent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	mustCreateProject(t, e, "P-100")
	base := mustHead(t, e, "P-100")
	mustPropose(t, e, "P-100", "artifacts/charter.md", "Secret draft", base)

	_, err := e.CreateProposal(ctx, CreateProposalInput{
		ProjectKey:   "P-100",
		Contents:     map[string]string{"artifacts/notes.md": "Shareable notes"},
		BaseRevision: base,
		Actor:        "alice",
		RawOptIn:     true,
	})
	if err != nil {
		t.Fatalf("create opt-in proposal: %v", err)
	}

	events, err := e.AuditList(ctx, "P-100", audit.Filter{})
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].RawOptIn || events[0].RawContent != "" {
		t.Fatalf("default event leaked raw content: %+v", events[0])
	}
	if !events[1].RawOptIn || !strings.Contains(events[1].RawContent, "Shareable notes") {
		t.Fatalf("opt-in event missing raw content: %+v", events[1])
	}
	if events[0].ContentHash == "" {
		t.Fatal("hash-only event missing content hash")
	}
}
