package mcptools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"steward/core/internal/audit"
	"steward/core/internal/engine"
	"steward/core/internal/search"
)

// AuditListTool handles audit_list.
type AuditListTool struct {
	engine *engine.Engine
}

func NewAuditListTool(e *engine.Engine) *AuditListTool {
	return &AuditListTool{engine: e}
}

func (t *AuditListTool) Definition() mcp.Tool {
	return mcp.NewTool("audit_list",
		mcp.WithDescription("List a project's audit events in append order. Event types: proposal_created, proposal_applied, proposal_rejected, workflow_transitioned."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project key")),
		mcp.WithString("event_type", mcp.Description("Filter by event type")),
		mcp.WithString("actor", mcp.Description("Filter by actor")),
		mcp.WithNumber("after_seq", mcp.Description("Cursor: only events with a higher sequence number")),
		mcp.WithNumber("limit", mcp.Description("Maximum events (default 100)")),
		mcp.WithBoolean("desc", mcp.Description("Newest first")),
	)
}

func (t *AuditListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f := audit.Filter{
		Actor:    req.GetString("actor", ""),
		AfterSeq: int64(intArg(req, "after_seq", 0)),
		Limit:    intArg(req, "limit", 100),
		Desc:     boolArg(req, "desc", false),
	}
	if et := req.GetString("event_type", ""); et != "" {
		f.Types = []audit.EventType{audit.EventType(et)}
	}

	events, err := t.engine.AuditList(ctx, req.GetString("project", ""), f)
	if err != nil {
		return domainResult(err), nil
	}
	return jsonResult(events)
}

// AuditVerifyTool handles audit_verify.
type AuditVerifyTool struct {
	engine *engine.Engine
}

func NewAuditVerifyTool(e *engine.Engine) *AuditVerifyTool {
	return &AuditVerifyTool{engine: e}
}

func (t *AuditVerifyTool) Definition() mcp.Tool {
	return mcp.NewTool("audit_verify",
		mcp.WithDescription("Re-walk a project's audit hash chain and report how many events verified. A chain break indicates ledger tampering."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project key")),
	)
}

func (t *AuditVerifyTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := req.GetString("project", "")
	verified, err := t.engine.VerifyLedger(ctx, key)
	if err != nil {
		return domainResult(err), nil
	}
	return jsonResult(map[string]any{
		"project":         key,
		"verified_events": verified,
		"chain_intact":    true,
	})
}

// SearchTool handles governance_search.
type SearchTool struct {
	search *search.Service
}

func NewSearchTool(s *search.Service) *SearchTool {
	return &SearchTool{search: s}
}

func (t *SearchTool) Definition() mcp.Tool {
	return mcp.NewTool("governance_search",
		mcp.WithDescription("Full-text search over proposal rationales, transition reasons and audit details, across all projects or one."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
		mcp.WithString("project", mcp.Description("Restrict to one project key")),
		mcp.WithString("event_type", mcp.Description("Restrict to one event type")),
		mcp.WithString("actor", mcp.Description("Restrict to one actor")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 20)")),
	)
}

func (t *SearchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := t.search.Search(search.Query{
		Text:       req.GetString("query", ""),
		ProjectKey: req.GetString("project", ""),
		EventType:  req.GetString("event_type", ""),
		Actor:      req.GetString("actor", ""),
		Limit:      intArg(req, "limit", 20),
	})
	if err != nil {
		return domainResult(err), nil
	}
	return jsonResult(resp)
}
