package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"steward/core/internal/engine"
)

// CreateProposalTool handles proposal_create.
type CreateProposalTool struct {
	engine *engine.Engine
}

func NewCreateProposalTool(e *engine.Engine) *CreateProposalTool {
	return &CreateProposalTool{engine: e}
}

func (t *CreateProposalTool) Definition() mcp.Tool {
	return mcp.NewTool("proposal_create",
		mcp.WithDescription("Propose new content for an artifact against a declared base revision. The diff is computed and frozen at creation; apply it later with proposal_apply."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project key")),
		mcp.WithString("path", mcp.Required(), mcp.Description("Artifact path, e.g. 'artifacts/charter.md'")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Full desired content of the artifact")),
		mcp.WithString("base_revision", mcp.Required(), mcp.Description("The head revision observed when composing the change (see project_get)")),
		mcp.WithString("actor", mcp.Required(), mcp.Description("Who is proposing")),
		mcp.WithString("rationale", mcp.Description("Why this change is being proposed")),
		mcp.WithBoolean("raw_opt_in", mcp.Description("Also store the raw content in the audit ledger (default: hash only)")),
	)
}

func (t *CreateProposalTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	proposal, err := t.engine.CreateProposal(ctx, engine.CreateProposalInput{
		ProjectKey:   req.GetString("project", ""),
		Contents:     map[string]string{req.GetString("path", ""): req.GetString("content", "")},
		BaseRevision: req.GetString("base_revision", ""),
		Rationale:    req.GetString("rationale", ""),
		Actor:        req.GetString("actor", ""),
		RawOptIn:     boolArg(req, "raw_opt_in", false),
	})
	if err != nil {
		return domainResult(err), nil
	}
	return jsonResult(proposal)
}

// GenerateProposalTool handles proposal_generate.
type GenerateProposalTool struct {
	engine *engine.Engine
}

func NewGenerateProposalTool(e *engine.Engine) *GenerateProposalTool {
	return &GenerateProposalTool{engine: e}
}

func (t *GenerateProposalTool) Definition() mcp.Tool {
	return mcp.NewTool("proposal_generate",
		mcp.WithDescription("Generate draft artifact content from a template and propose it. Templates: charter, status-report, closure. The prompt hash is recorded in the proposal and the audit trail."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project key")),
		mcp.WithString("path", mcp.Required(), mcp.Description("Artifact path the draft targets")),
		mcp.WithString("template_id", mcp.Required(), mcp.Description("Template to render")),
		mcp.WithString("params_json", mcp.Description("Template parameters as a JSON object, e.g. {\"ProjectName\": \"Relaunch\"}")),
		mcp.WithString("base_revision", mcp.Required(), mcp.Description("The head revision observed when requesting the draft")),
		mcp.WithString("actor", mcp.Required(), mcp.Description("Who is requesting the draft")),
		mcp.WithString("rationale", mcp.Description("Why this draft is being proposed")),
	)
}

func (t *GenerateProposalTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := map[string]any{}
	if raw := req.GetString("params_json", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("params_json is not a JSON object: %v", err)), nil
		}
	}

	proposal, err := t.engine.CreateGeneratedProposal(ctx, engine.GenerateProposalInput{
		ProjectKey:   req.GetString("project", ""),
		Path:         req.GetString("path", ""),
		TemplateID:   req.GetString("template_id", ""),
		Params:       params,
		BaseRevision: req.GetString("base_revision", ""),
		Rationale:    req.GetString("rationale", ""),
		Actor:        req.GetString("actor", ""),
	})
	if err != nil {
		return domainResult(err), nil
	}
	return jsonResult(proposal)
}

// PreviewProposalTool handles proposal_preview.
type PreviewProposalTool struct {
	engine *engine.Engine
}

func NewPreviewProposalTool(e *engine.Engine) *PreviewProposalTool {
	return &PreviewProposalTool{engine: e}
}

func (t *PreviewProposalTool) Definition() mcp.Tool {
	return mcp.NewTool("proposal_preview",
		mcp.WithDescription("Return the frozen unified diff of a proposal, byte-identical to what apply will produce."),
		mcp.WithString("proposal_id", mcp.Required(), mcp.Description("Proposal id")),
	)
}

func (t *PreviewProposalTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	diff, err := t.engine.Preview(ctx, req.GetString("proposal_id", ""))
	if err != nil {
		return domainResult(err), nil
	}
	if diff == "" {
		return mcp.NewToolResultText("(no changes)"), nil
	}
	return mcp.NewToolResultText(diff), nil
}

// ApplyProposalTool handles proposal_apply.
type ApplyProposalTool struct {
	engine *engine.Engine
}

func NewApplyProposalTool(e *engine.Engine) *ApplyProposalTool {
	return &ApplyProposalTool{engine: e}
}

func (t *ApplyProposalTool) Definition() mcp.Tool {
	return mcp.NewTool("proposal_apply",
		mcp.WithDescription("Apply a pending proposal. Fails with CONFLICT if the project head has advanced past the proposal's base revision; in that case recreate the proposal against the new head."),
		mcp.WithString("proposal_id", mcp.Required(), mcp.Description("Proposal id")),
		mcp.WithString("actor", mcp.Required(), mcp.Description("Who is applying")),
	)
}

func (t *ApplyProposalTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("proposal_id", "")
	revision, err := t.engine.Apply(ctx, id, req.GetString("actor", ""))
	if err != nil {
		return domainResult(err), nil
	}
	return jsonResult(map[string]string{
		"proposal_id": id,
		"revision":    revision,
		"status":      "applied",
	})
}

// RejectProposalTool handles proposal_reject.
type RejectProposalTool struct {
	engine *engine.Engine
}

func NewRejectProposalTool(e *engine.Engine) *RejectProposalTool {
	return &RejectProposalTool{engine: e}
}

func (t *RejectProposalTool) Definition() mcp.Tool {
	return mcp.NewTool("proposal_reject",
		mcp.WithDescription("Reject a pending proposal. Artifact content is untouched."),
		mcp.WithString("proposal_id", mcp.Required(), mcp.Description("Proposal id")),
		mcp.WithString("actor", mcp.Required(), mcp.Description("Who is rejecting")),
		mcp.WithString("reason", mcp.Description("Why the proposal is rejected")),
	)
}

func (t *RejectProposalTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("proposal_id", "")
	if err := t.engine.Reject(ctx, id, req.GetString("actor", ""), req.GetString("reason", "")); err != nil {
		return domainResult(err), nil
	}
	return jsonResult(map[string]string{
		"proposal_id": id,
		"status":      "rejected",
	})
}

// ListProposalsTool handles proposal_list.
type ListProposalsTool struct {
	engine *engine.Engine
}

func NewListProposalsTool(e *engine.Engine) *ListProposalsTool {
	return &ListProposalsTool{engine: e}
}

func (t *ListProposalsTool) Definition() mcp.Tool {
	return mcp.NewTool("proposal_list",
		mcp.WithDescription("List proposals for a project, newest first."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project key")),
		mcp.WithString("status", mcp.Description("Filter: pending, applied, rejected or conflicted")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 50)")),
	)
}

func (t *ListProposalsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	proposals, err := t.engine.ListProposals(ctx,
		req.GetString("project", ""),
		req.GetString("status", ""),
		intArg(req, "limit", 50),
	)
	if err != nil {
		return domainResult(err), nil
	}
	return jsonResult(proposals)
}
