// Package audit is the append-only governance ledger.
//
// One line-delimited JSON file per project, strictly increasing sequence
// numbers, and a sha256 hash chain linking every event to its predecessor.
// An append is durable (fsynced) before it returns; an operation that cannot
// write its audit event must not report success.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type EventType string

const (
	EventProposalCreated      EventType = "proposal_created"
	EventProposalApplied      EventType = "proposal_applied"
	EventProposalRejected     EventType = "proposal_rejected"
	EventWorkflowTransitioned EventType = "workflow_transitioned"
)

// Event is one immutable ledger record. Raw content is stored only when the
// caller opted in at append time, and the opt-in itself is recorded so audits
// can distinguish hash-only entries from full-content ones.
type Event struct {
	Seq          int64     `json:"seq"`
	Timestamp    time.Time `json:"timestamp"`
	EventType    EventType `json:"event_type"`
	ProjectKey   string    `json:"project_key"`
	Actor        string    `json:"actor"`
	ContentHash  string    `json:"content_hash,omitempty"`
	PromptHash   string    `json:"prompt_hash,omitempty"`
	Revision     string    `json:"revision,omitempty"`
	ProposalID   string    `json:"proposal_id,omitempty"`
	CommitHash   string    `json:"commit_hash,omitempty"`
	FilesChanged []string  `json:"files_changed,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	RawContent   string    `json:"raw_content,omitempty"`
	RawOptIn     bool      `json:"raw_opt_in"`
	PrevHash     string    `json:"prev_hash,omitempty"`
	EventHash    string    `json:"event_hash"`
}

// Record is the caller-supplied portion of an event; the ledger assigns seq,
// timestamp and chain hashes.
type Record struct {
	EventType    EventType
	ProjectKey   string
	Actor        string
	ContentHash  string
	PromptHash   string
	Revision     string
	ProposalID   string
	CommitHash   string
	FilesChanged []string
	Detail       string
	RawContent   string
	RawOptIn     bool
}

// Filter narrows List and BulkScan. AfterSeq is a restartable cursor: only
// events with Seq > AfterSeq are returned, in ascending order unless Desc.
type Filter struct {
	Types    []EventType
	Actor    string
	Proposal string
	AfterSeq int64
	Limit    int
	Desc     bool
}

func (f Filter) matches(ev Event) bool {
	if ev.Seq <= f.AfterSeq {
		return false
	}
	if f.Actor != "" && ev.Actor != f.Actor {
		return false
	}
	if f.Proposal != "" && ev.ProposalID != f.Proposal {
		return false
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if ev.EventType == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Ledger owns the per-project audit files under dir.
type Ledger struct {
	dir string
	now func() time.Time

	mu       sync.Mutex
	projects map[string]*projectLedger
}

// Open prepares a ledger rooted at dir. Existing project files are picked up
// lazily on first touch.
func Open(dir string) (*Ledger, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("audit dir is empty")
	}
	return &Ledger{
		dir:      dir,
		now:      time.Now,
		projects: make(map[string]*projectLedger),
	}, nil
}

// SetClock overrides the timestamp source. Tests only.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// FilePath returns the on-disk ledger file for a project. The file may not
// exist yet if nothing has been appended.
func (l *Ledger) FilePath(projectKey string) string {
	return filepath.Join(l.dir, projectKey+ledgerExt)
}

// Append assigns the next sequence number, chains and persists the event, and
// returns it once durable. The triggering operation must treat an error here
// as fatal.
func (l *Ledger) Append(ctx context.Context, rec Record) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if rec.ProjectKey == "" {
		return Event{}, fmt.Errorf("append audit event: project key is empty")
	}
	if rec.EventType == "" {
		return Event{}, fmt.Errorf("append audit event: event type is empty")
	}
	if !rec.RawOptIn {
		rec.RawContent = ""
	}

	pl, err := l.project(rec.ProjectKey)
	if err != nil {
		return Event{}, err
	}
	return pl.append(rec, l.now().UTC())
}

// List returns the project's events matching f in append order (or reversed
// when f.Desc). A missing ledger file is an empty history, not an error.
func (l *Ledger) List(ctx context.Context, projectKey string, f Filter) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pl, err := l.project(projectKey)
	if err != nil {
		return nil, err
	}
	events, err := pl.read()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if f.matches(ev) {
			out = append(out, ev)
		}
	}
	if f.Desc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// BulkScan walks every project ledger under dir, for periodic governance
// audits. Projects are visited in lexical key order; events within a project
// in append order.
func (l *Ledger) BulkScan(ctx context.Context, f Filter, fn func(Event) error) error {
	keys, err := l.projectKeys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		events, err := l.List(ctx, key, f)
		if err != nil {
			return fmt.Errorf("scan project %s: %w", key, err)
		}
		for _, ev := range events {
			if err := fn(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// Verify re-walks a project's hash chain and returns the number of verified
// events. A broken link or a sequence gap is reported with its position.
func (l *Ledger) Verify(ctx context.Context, projectKey string) (int64, error) {
	events, err := l.List(ctx, projectKey, Filter{})
	if err != nil {
		return 0, err
	}
	prevHash := ""
	var prevSeq int64
	for _, ev := range events {
		if ev.Seq != prevSeq+1 {
			return prevSeq, fmt.Errorf("sequence gap: %d follows %d", ev.Seq, prevSeq)
		}
		if ev.PrevHash != prevHash {
			return prevSeq, fmt.Errorf("chain break at seq %d: prev_hash mismatch", ev.Seq)
		}
		if chainHash(ev) != ev.EventHash {
			return prevSeq, fmt.Errorf("chain break at seq %d: event_hash mismatch", ev.Seq)
		}
		prevHash = ev.EventHash
		prevSeq = ev.Seq
	}
	return prevSeq, nil
}

// chainHash covers every field that makes the event meaningful, plus the
// previous event's hash. Raw content is covered through its hash so privacy
// mode does not weaken the chain.
func chainHash(ev Event) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%t\x1f%s",
		ev.Seq,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		ev.EventType,
		ev.ProjectKey,
		ev.Actor,
		ev.ContentHash,
		ev.PromptHash,
		ev.Revision,
		ev.ProposalID,
		ev.CommitHash,
		strings.Join(ev.FilesChanged, ","),
		ev.Detail,
		ev.RawOptIn,
		ev.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}
