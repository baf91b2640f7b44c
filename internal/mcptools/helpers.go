// Package mcptools exposes the governance engine over MCP. Each tool is a
// thin adapter: argument parsing, one engine call, JSON rendering. No
// business rules live here.
package mcptools

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"steward/core/internal/fault"
)

// intArg extracts an integer argument; JSON numbers arrive as float64.
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// boolArg extracts a boolean argument.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// jsonResult renders a payload as an indented JSON tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}

// domainResult maps a domain error to a tool error the model can act on.
// The error code leads so callers can branch without parsing prose.
func domainResult(err error) *mcp.CallToolResult {
	if code := fault.Code(err); code != "" {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(fmt.Sprintf("internal error: %v", err))
}
