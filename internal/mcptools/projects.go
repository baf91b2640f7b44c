package mcptools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"steward/core/internal/engine"
	"steward/core/internal/workflow"
)

// CreateProjectTool handles project_create.
type CreateProjectTool struct {
	engine *engine.Engine
}

func NewCreateProjectTool(e *engine.Engine) *CreateProjectTool {
	return &CreateProjectTool{engine: e}
}

func (t *CreateProjectTool) Definition() mcp.Tool {
	return mcp.NewTool("project_create",
		mcp.WithDescription("Register a new project under change control. The project starts in the 'initiating' phase with an empty artifact store."),
		mcp.WithString("key",
			mcp.Required(),
			mcp.Description("Short unique project key: uppercase alphanumeric with dash separators, e.g. 'P-100'"),
		),
		mcp.WithString("actor",
			mcp.Required(),
			mcp.Description("Who is creating the project"),
		),
	)
}

func (t *CreateProjectTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := req.GetString("key", "")
	actor := req.GetString("actor", "")

	project, err := t.engine.CreateProject(ctx, key, actor)
	if err != nil {
		return domainResult(err), nil
	}
	return jsonResult(project)
}

// GetProjectTool handles project_get.
type GetProjectTool struct {
	engine *engine.Engine
}

func NewGetProjectTool(e *engine.Engine) *GetProjectTool {
	return &GetProjectTool{engine: e}
}

func (t *GetProjectTool) Definition() mcp.Tool {
	return mcp.NewTool("project_get",
		mcp.WithDescription("Fetch a project's current phase, head revision and allowed next phases."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Project key")),
	)
}

func (t *GetProjectTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := req.GetString("key", "")

	project, err := t.engine.GetProject(ctx, key)
	if err != nil {
		return domainResult(err), nil
	}
	head, err := t.engine.CurrentRevision(ctx, key)
	if err != nil {
		return domainResult(err), nil
	}
	allowed := workflow.AllowedTransitions(workflow.Phase(project.Phase))

	return jsonResult(map[string]any{
		"project":             project,
		"head_revision":       head,
		"allowed_transitions": allowed,
	})
}

// ListProjectsTool handles project_list.
type ListProjectsTool struct {
	engine *engine.Engine
}

func NewListProjectsTool(e *engine.Engine) *ListProjectsTool {
	return &ListProjectsTool{engine: e}
}

func (t *ListProjectsTool) Definition() mcp.Tool {
	return mcp.NewTool("project_list",
		mcp.WithDescription("List all projects with their phase and proposal counts."),
	)
}

func (t *ListProjectsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := t.engine.ListProjects(ctx)
	if err != nil {
		return domainResult(err), nil
	}
	return jsonResult(projects)
}

// TransitionTool handles project_transition.
type TransitionTool struct {
	engine *engine.Engine
}

func NewTransitionTool(e *engine.Engine) *TransitionTool {
	return &TransitionTool{engine: e}
}

func (t *TransitionTool) Definition() mcp.Tool {
	return mcp.NewTool("project_transition",
		mcp.WithDescription("Move a project to an adjacent workflow phase. Phases: initiating, planning, executing, monitoring, closing, closed. Only enumerated edges are valid; closing a project archives it."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Project key")),
		mcp.WithString("to_phase", mcp.Required(), mcp.Description("Target phase")),
		mcp.WithString("actor", mcp.Required(), mcp.Description("Who is requesting the transition")),
		mcp.WithString("reason", mcp.Required(), mcp.Description("Governance reason for the transition, at least 8 characters")),
	)
}

func (t *TransitionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := req.GetString("key", "")
	to := workflow.Phase(req.GetString("to_phase", ""))
	actor := req.GetString("actor", "")
	reason := req.GetString("reason", "")

	if err := t.engine.Transition(ctx, key, to, actor, reason); err != nil {
		return domainResult(err), nil
	}
	project, err := t.engine.GetProject(ctx, key)
	if err != nil {
		return domainResult(err), nil
	}
	return jsonResult(map[string]any{
		"project":             project,
		"allowed_transitions": workflow.AllowedTransitions(to),
	})
}
