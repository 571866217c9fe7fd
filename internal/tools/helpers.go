// Package tools implements the MCP tool handlers of specgate.
//
// Each tool is a struct that receives its dependencies through the
// constructor and exposes Definition() for registration and Handle() for
// calls. Governance commands delegate to commands.Service; session tools
// delegate to the workflow controller.
//
// Refusals (blocked gate, missing pin, denied capability) come back as
// tool errors the model can read and act on. Only internal failures are
// returned as Go errors.
package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/specgate/internal/commands"
	"github.com/HendryAvila/specgate/internal/governance"
)

// versionArg reads a version id. An absent argument is 0 and left to the
// command to refuse; anything present must be a positive integer. JSON
// numbers arrive as float64.
func versionArg(req mcp.CallToolRequest, key string) (governance.VersionID, *mcp.CallToolResult) {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return 0, nil
	}
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			n = math.NaN()
		}
		f = n
	default:
		f = math.NaN()
	}
	if math.IsNaN(f) || f < 1 || f != math.Trunc(f) || f >= math.MaxInt64 {
		return 0, mcp.NewToolResultError(fmt.Sprintf("'%s' must be a positive integer version id, got %v", key, raw))
	}
	return governance.VersionID(int64(f)), nil
}

// boolArg extracts a boolean argument from a tool request.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// splitList splits sep-separated input, trimming blanks.
func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// commandResult renders a command outcome. A refusal becomes a tool
// error naming the kind and the verbatim reason.
func commandResult(r *commands.Result, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return nil, fmt.Errorf("command failed: %w", err)
	}
	var sb strings.Builder
	if !r.Success {
		fmt.Fprintf(&sb, "%s refused (%s)\n\n", r.Command, r.ErrorKind)
		for _, reason := range strings.Split(r.Reason, "; ") {
			fmt.Fprintf(&sb, "- %s\n", reason)
		}
		if len(r.CreatedIDs) > 0 {
			fmt.Fprintf(&sb, "\nRecorded: %s\n", strings.Join(r.CreatedIDs, ", "))
		}
		return mcp.NewToolResultError(sb.String()), nil
	}

	fmt.Fprintf(&sb, "# %s ✅\n\n", r.Command)
	if len(r.CreatedIDs) > 0 {
		fmt.Fprintf(&sb, "**Created:** `%s`\n\n", strings.Join(r.CreatedIDs, "`, `"))
	}
	if r.Data != nil {
		if err := writeJSON(&sb, r.Data); err != nil {
			return nil, err
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// controllerResult renders a workflow outcome. Governance errors become
// tool errors; anything else is internal.
func controllerResult(title string, v any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		if governance.IsGovernance(err) {
			return mcp.NewToolResultError(fmt.Sprintf("%s refused (%s): %v", title, governance.KindOf(err), err)), nil
		}
		return nil, fmt.Errorf("%s: %w", title, err)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", title)
	if err := writeJSON(&sb, v); err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func writeJSON(sb *strings.Builder, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	sb.WriteString("```json\n")
	sb.Write(data)
	sb.WriteString("\n```\n")
	return nil
}
