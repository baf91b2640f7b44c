// Package search provides full-text search over the governance history:
// proposal rationales, transition reasons and audit event details.
// Meilisearch is the primary backend; a direct ledger scan is the fallback
// so search always answers, just more slowly.
package search

import (
	"fmt"
	"time"

	"steward/core/internal/audit"
)

// Record is the data indexed per audit event. The raw artifact content is
// never indexed; privacy mode applies to search the same way it applies to
// the ledger.
type Record struct {
	ID         string    `json:"id"`
	ProjectKey string    `json:"projectKey"`
	EventType  string    `json:"eventType"`
	Actor      string    `json:"actor"`
	ProposalID string    `json:"proposalId"`
	Revision   string    `json:"revision"`
	Detail     string    `json:"detail"`
	Timestamp  time.Time `json:"timestamp"`
}

// Query describes a search request.
type Query struct {
	Text       string
	ProjectKey string // empty = all projects
	EventType  string // empty = all event types
	Actor      string
	Limit      int
}

// Response is the envelope returned to the caller.
type Response struct {
	Results []Record `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a governance-history search.
type Searcher interface {
	Search(q Query) ([]Record, int, error)
	Healthy() bool
}

func recordFromEvent(ev audit.Event) Record {
	return Record{
		ID:         fmt.Sprintf("%s-%d", ev.ProjectKey, ev.Seq),
		ProjectKey: ev.ProjectKey,
		EventType:  string(ev.EventType),
		Actor:      ev.Actor,
		ProposalID: ev.ProposalID,
		Revision:   ev.Revision,
		Detail:     ev.Detail,
		Timestamp:  ev.Timestamp,
	}
}
