package store

import "time"

// Proposal statuses. pending is the only status with outgoing transitions;
// the other three are terminal.
const (
	StatusPending    = "pending"
	StatusApplied    = "applied"
	StatusRejected   = "rejected"
	StatusConflicted = "conflicted"
)

type Project struct {
	Key         string
	Phase       string
	PhaseReason string
	PhaseAt     time.Time
	CreatedBy   string
	CreatedAt   time.Time
	ClosedAt    *time.Time
}

// Proposal is one reviewable change unit. Everything except Status,
// AppliedRevision and DecidedAt is frozen at creation; the database enforces
// this with an immutability trigger.
type Proposal struct {
	ID              string
	ProjectKey      string
	Paths           []string
	BaseRevision    string
	Contents        map[string]string
	Diff            string
	ContentHash     string
	PromptHash      string
	Status          string
	Rationale       string
	CreatedBy       string
	CreatedAt       time.Time
	AppliedRevision string
	DecidedBy       string
	DecidedAt       *time.Time
}

type Transition struct {
	ID         int64
	ProjectKey string
	FromPhase  string
	ToPhase    string
	Actor      string
	Reason     string
	CreatedAt  time.Time
}

type ProjectSummary struct {
	Project
	PendingProposals int
	AppliedProposals int
}
