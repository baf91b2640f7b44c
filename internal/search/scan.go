package search

import (
	"context"
	"strings"

	"steward/core/internal/audit"
)

// LedgerReader is the slice of the audit ledger the scan fallback needs.
type LedgerReader interface {
	List(ctx context.Context, projectKey string, f audit.Filter) ([]audit.Event, error)
	BulkScan(ctx context.Context, f audit.Filter, fn func(audit.Event) error) error
}

// Scan is the always-available fallback Searcher. It walks the append-only
// ledger files and matches by case-insensitive substring.
type Scan struct {
	ledger LedgerReader
}

func NewScan(ledger LedgerReader) *Scan {
	return &Scan{ledger: ledger}
}

func (s *Scan) Healthy() bool { return true }

func (s *Scan) Search(q Query) ([]Record, int, error) {
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}

	f := audit.Filter{Actor: q.Actor}
	if q.EventType != "" {
		f.Types = []audit.EventType{audit.EventType(q.EventType)}
	}

	var matches []Record
	collect := func(ev audit.Event) error {
		if !matchText(ev, q.Text) {
			return nil
		}
		matches = append(matches, recordFromEvent(ev))
		return nil
	}

	if q.ProjectKey != "" {
		events, err := s.ledger.List(context.Background(), q.ProjectKey, f)
		if err != nil {
			return nil, 0, err
		}
		for _, ev := range events {
			if err := collect(ev); err != nil {
				return nil, 0, err
			}
		}
	} else {
		if err := s.ledger.BulkScan(context.Background(), f, collect); err != nil {
			return nil, 0, err
		}
	}

	total := len(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, total, nil
}

func matchText(ev audit.Event, text string) bool {
	if text == "" {
		return true
	}
	needle := strings.ToLower(text)
	for _, hay := range []string{ev.Detail, ev.Actor, ev.ProposalID, ev.Revision} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}
