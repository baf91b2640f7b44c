package engine

import (
	"context"

	"steward/core/internal/audit"
)

// AuditList returns a project's ledger events matching the filter.
func (e *Engine) AuditList(ctx context.Context, projectKey string, f audit.Filter) ([]audit.Event, error) {
	return e.ledger.List(ctx, projectKey, f)
}

// AuditScan walks every project's ledger, for periodic governance audits.
func (e *Engine) AuditScan(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	var events []audit.Event
	err := e.ledger.BulkScan(ctx, f, func(ev audit.Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// VerifyLedger re-walks a project's hash chain and returns the count of
// verified events.
func (e *Engine) VerifyLedger(ctx context.Context, projectKey string) (int64, error) {
	return e.ledger.Verify(ctx, projectKey)
}
