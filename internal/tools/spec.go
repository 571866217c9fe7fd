package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/specgate/internal/commands"
)

// RegisterSpecTool handles the register_spec MCP tool.
// It stores specification content as a new draft version.
type RegisterSpecTool struct {
	svc *commands.Service
}

// NewRegisterSpecTool creates a RegisterSpecTool.
func NewRegisterSpecTool(svc *commands.Service) *RegisterSpecTool {
	return &RegisterSpecTool{svc: svc}
}

// Definition returns the MCP tool definition for registration.
func (t *RegisterSpecTool) Definition() mcp.Tool {
	return mcp.NewTool("register_spec",
		mcp.WithDescription(
			"Register a technical specification as a new draft version. "+
				"Content is never edited in place: every change registers a new version. "+
				"Returns the version id to use in review_changes.",
		),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project the specification belongs to"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Full specification text"),
		),
		mcp.WithString("idempotency_key",
			mcp.Description("Retry key. Registering again with the same key returns the first version."),
		),
	)
}

// Handle processes the register_spec tool call.
func (t *RegisterSpecTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := req.GetString("project_id", "")
	content := req.GetString("content", "")
	if projectID == "" {
		return mcp.NewToolResultError("'project_id' is required"), nil
	}
	if content == "" {
		return mcp.NewToolResultError("'content' is required"), nil
	}
	return commandResult(t.svc.RegisterSpec(ctx, commands.RegisterSpecInput{
		ProjectID:      projectID,
		Content:        content,
		IdempotencyKey: req.GetString("idempotency_key", ""),
	}))
}

// ─── ReviewChangesTool ──────────────────────────────────────────────────────

// ReviewChangesTool handles the review_changes MCP tool.
type ReviewChangesTool struct {
	svc *commands.Service
}

// NewReviewChangesTool creates a ReviewChangesTool.
func NewReviewChangesTool(svc *commands.Service) *ReviewChangesTool {
	return &ReviewChangesTool{svc: svc}
}

// Definition returns the MCP tool definition for review_changes.
func (t *ReviewChangesTool) Definition() mcp.Tool {
	return mcp.NewTool("review_changes",
		mcp.WithDescription(
			"Record a change review for a draft version and move it to pending_review. "+
				"Pass base_version_id to diff against an earlier version of the same project.",
		),
		mcp.WithNumber("version_id",
			mcp.Required(),
			mcp.Description("Draft version to review"),
		),
		mcp.WithNumber("base_version_id",
			mcp.Description("Version to diff against. Omit for a first version."),
		),
	)
}

// Handle processes the review_changes tool call.
func (t *ReviewChangesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	versionID, errResult := versionArg(req, "version_id")
	if errResult != nil {
		return errResult, nil
	}
	base, errResult := versionArg(req, "base_version_id")
	if errResult != nil {
		return errResult, nil
	}
	return commandResult(t.svc.ReviewChanges(ctx, versionID, base))
}

// ─── ApproveSpecTool ────────────────────────────────────────────────────────

// ApproveSpecTool handles the approve_spec MCP tool.
type ApproveSpecTool struct {
	svc *commands.Service
}

// NewApproveSpecTool creates an ApproveSpecTool.
func NewApproveSpecTool(svc *commands.Service) *ApproveSpecTool {
	return &ApproveSpecTool{svc: svc}
}

// Definition returns the MCP tool definition for approve_spec.
func (t *ApproveSpecTool) Definition() mcp.Tool {
	return mcp.NewTool("approve_spec",
		mcp.WithDescription(
			"Approve a version in pending_review. Only an explicit reviewer can approve; "+
				"the previously approved version of the project becomes superseded.",
		),
		mcp.WithNumber("version_id",
			mcp.Required(),
			mcp.Description("Version to approve"),
		),
		mcp.WithString("reviewer",
			mcp.Required(),
			mcp.Description("Who approves"),
		),
		mcp.WithString("notes",
			mcp.Description("Approval notes"),
		),
	)
}

// Handle processes the approve_spec tool call.
func (t *ApproveSpecTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reviewer := req.GetString("reviewer", "")
	if reviewer == "" {
		return mcp.NewToolResultError("'reviewer' is required"), nil
	}
	versionID, errResult := versionArg(req, "version_id")
	if errResult != nil {
		return errResult, nil
	}
	return commandResult(t.svc.ApproveSpec(ctx, versionID, reviewer, req.GetString("notes", "")))
}

// ─── CompileSpecTool ────────────────────────────────────────────────────────

// CompileSpecTool handles the compile_spec MCP tool.
type CompileSpecTool struct {
	svc *commands.Service
}

// NewCompileSpecTool creates a CompileSpecTool.
func NewCompileSpecTool(svc *commands.Service) *CompileSpecTool {
	return &CompileSpecTool{svc: svc}
}

// Definition returns the MCP tool definition for compile_spec.
func (t *CompileSpecTool) Definition() mcp.Tool {
	return mcp.NewTool("compile_spec",
		mcp.WithDescription(
			"Compile the authority (scope, typed invariants, eligible and rejected items) "+
				"of an approved version. An authority is compiled once; it is never regenerated implicitly.",
		),
		mcp.WithNumber("version_id",
			mcp.Required(),
			mcp.Description("Approved version to compile"),
		),
	)
}

// Handle processes the compile_spec tool call.
func (t *CompileSpecTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	versionID, errResult := versionArg(req, "version_id")
	if errResult != nil {
		return errResult, nil
	}
	return commandResult(t.svc.CompileSpec(ctx, versionID))
}

// ─── CheckStatusTool ────────────────────────────────────────────────────────

// CheckStatusTool handles the check_status MCP tool.
type CheckStatusTool struct {
	svc *commands.Service
}

// NewCheckStatusTool creates a CheckStatusTool.
func NewCheckStatusTool(svc *commands.Service) *CheckStatusTool {
	return &CheckStatusTool{svc: svc}
}

// Definition returns the MCP tool definition for check_status.
func (t *CheckStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("check_status",
		mcp.WithDescription(
			"Report whether a project's authority is current, stale, not_compiled or pending_review. "+
				"Read only: a stale authority is reported, never recompiled.",
		),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project to inspect"),
		),
	)
}

// Handle processes the check_status tool call.
func (t *CheckStatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := req.GetString("project_id", "")
	if projectID == "" {
		return mcp.NewToolResultError("'project_id' is required"), nil
	}
	return commandResult(t.svc.CheckStatus(ctx, projectID))
}
