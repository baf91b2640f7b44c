package mcptools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"steward/core/internal/engine"
)

// ReadArtifactTool handles artifact_read.
type ReadArtifactTool struct {
	engine *engine.Engine
}

func NewReadArtifactTool(e *engine.Engine) *ReadArtifactTool {
	return &ReadArtifactTool{engine: e}
}

func (t *ReadArtifactTool) Definition() mcp.Tool {
	return mcp.NewTool("artifact_read",
		mcp.WithDescription("Read an artifact's current content and the revision it was read at."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project key")),
		mcp.WithString("path", mcp.Required(), mcp.Description("Artifact path")),
	)
}

func (t *ReadArtifactTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, revision, err := t.engine.ReadArtifact(ctx, req.GetString("project", ""), req.GetString("path", ""))
	if err != nil {
		return domainResult(err), nil
	}
	return jsonResult(map[string]string{
		"content":  string(content),
		"revision": revision,
	})
}

// HistoryTool handles artifact_history.
type HistoryTool struct {
	engine *engine.Engine
}

func NewHistoryTool(e *engine.Engine) *HistoryTool {
	return &HistoryTool{engine: e}
}

func (t *HistoryTool) Definition() mcp.Tool {
	return mcp.NewTool("artifact_history",
		mcp.WithDescription("List a project's commit history, newest first."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project key")),
		mcp.WithNumber("limit", mcp.Description("Maximum commits (default 20)")),
	)
}

func (t *HistoryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	history, err := t.engine.History(ctx, req.GetString("project", ""), intArg(req, "limit", 20))
	if err != nil {
		return domainResult(err), nil
	}
	return jsonResult(history)
}

// CompareTool handles artifact_compare.
type CompareTool struct {
	engine *engine.Engine
}

func NewCompareTool(e *engine.Engine) *CompareTool {
	return &CompareTool{engine: e}
}

func (t *CompareTool) Definition() mcp.Tool {
	return mcp.NewTool("artifact_compare",
		mcp.WithDescription("Unified diff of one artifact path between two revisions."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project key")),
		mcp.WithString("path", mcp.Required(), mcp.Description("Artifact path")),
		mcp.WithString("from_revision", mcp.Required(), mcp.Description("Older revision")),
		mcp.WithString("to_revision", mcp.Required(), mcp.Description("Newer revision")),
	)
}

func (t *CompareTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	diff, err := t.engine.Compare(ctx,
		req.GetString("project", ""),
		req.GetString("path", ""),
		req.GetString("from_revision", ""),
		req.GetString("to_revision", ""),
	)
	if err != nil {
		return domainResult(err), nil
	}
	if diff == "" {
		return mcp.NewToolResultText("(no changes)"), nil
	}
	return mcp.NewToolResultText(diff), nil
}
