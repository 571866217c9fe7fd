package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/specgate/internal/governance"
	"github.com/HendryAvila/specgate/internal/workflow"
)

var intentNames = []string{
	string(workflow.IntentFinishIntake),
	string(workflow.IntentRoute),
	string(workflow.IntentVision),
	string(workflow.IntentBacklog),
	string(workflow.IntentRoadmap),
	string(workflow.IntentStories),
	string(workflow.IntentSprintPlanning),
	string(workflow.IntentNext),
}

func sessionArg(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	id := req.GetString("session_id", "")
	if id == "" {
		return "", mcp.NewToolResultError("'session_id' is required")
	}
	return id, nil
}

func withSessionID(opts ...mcp.ToolOption) []mcp.ToolOption {
	return append([]mcp.ToolOption{
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session returned by session_start"),
		),
	}, opts...)
}

// SessionStartTool handles the session_start MCP tool.
type SessionStartTool struct {
	ctrl *workflow.Controller
}

// NewSessionStartTool creates a SessionStartTool.
func NewSessionStartTool(ctrl *workflow.Controller) *SessionStartTool {
	return &SessionStartTool{ctrl: ctrl}
}

// Definition returns the MCP tool definition for session_start.
func (t *SessionStartTool) Definition() mcp.Tool {
	return mcp.NewTool("session_start",
		mcp.WithDescription(
			"Open a planning session for a project. The session starts in specification_intake "+
				"with no pinned version.",
		),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project to plan"),
		),
	)
}

// Handle processes the session_start tool call.
func (t *SessionStartTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := req.GetString("project_id", "")
	if projectID == "" {
		return mcp.NewToolResultError("'project_id' is required"), nil
	}
	v, err := t.ctrl.StartSession(ctx, projectID)
	return controllerResult("Session started", v, err)
}

// ─── SessionTurnTool ────────────────────────────────────────────────────────

// SessionTurnTool handles the session_turn MCP tool.
type SessionTurnTool struct {
	ctrl *workflow.Controller
}

// NewSessionTurnTool creates a SessionTurnTool.
func NewSessionTurnTool(ctrl *workflow.Controller) *SessionTurnTool {
	return &SessionTurnTool{ctrl: ctrl}
}

// Definition returns the MCP tool definition for session_turn.
func (t *SessionTurnTool) Definition() mcp.Tool {
	return mcp.NewTool("session_turn", withSessionID(
		mcp.WithDescription(
			"Begin a turn. Call this first on every user message: the session is reconciled with "+
				"the acceptance ledger, and a pin that is no longer accepted is dropped.",
		),
	)...)
}

// Handle processes the session_turn tool call.
func (t *SessionTurnTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := sessionArg(req)
	if errResult != nil {
		return errResult, nil
	}
	v, err := t.ctrl.BeginTurn(ctx, id)
	return controllerResult("Turn started", v, err)
}

// ─── SessionStateTool ───────────────────────────────────────────────────────

// SessionStateTool handles the session_state MCP tool.
type SessionStateTool struct {
	ctrl *workflow.Controller
}

// NewSessionStateTool creates a SessionStateTool.
func NewSessionStateTool(ctrl *workflow.Controller) *SessionStateTool {
	return &SessionStateTool{ctrl: ctrl}
}

// Definition returns the MCP tool definition for session_state.
func (t *SessionStateTool) Definition() mcp.Tool {
	return mcp.NewTool("session_state", withSessionID(
		mcp.WithDescription("Show the phase, pin and capabilities of a session."),
	)...)
}

// Handle processes the session_state tool call.
func (t *SessionStateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := sessionArg(req)
	if errResult != nil {
		return errResult, nil
	}
	v, err := t.ctrl.State(ctx, id)
	return controllerResult("Session", v, err)
}

// ─── SessionDispatchTool ────────────────────────────────────────────────────

// SessionDispatchTool handles the session_dispatch MCP tool.
type SessionDispatchTool struct {
	ctrl *workflow.Controller
}

// NewSessionDispatchTool creates a SessionDispatchTool.
func NewSessionDispatchTool(ctrl *workflow.Controller) *SessionDispatchTool {
	return &SessionDispatchTool{ctrl: ctrl}
}

// Definition returns the MCP tool definition for session_dispatch.
func (t *SessionDispatchTool) Definition() mcp.Tool {
	return mcp.NewTool("session_dispatch", withSessionID(
		mcp.WithDescription(
			"Move the session with a typed intent. Generation phases require an accepted pinned version; "+
				"sprint_planning also requires at least one artifact validated under it.",
		),
		mcp.WithString("intent",
			mcp.Required(),
			mcp.Description("Intent"),
			mcp.Enum(intentNames...),
		),
	)...)
}

// Handle processes the session_dispatch tool call.
func (t *SessionDispatchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := sessionArg(req)
	if errResult != nil {
		return errResult, nil
	}
	intent, err := workflow.ParseIntent(req.GetString("intent", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	v, err := t.ctrl.Dispatch(ctx, id, intent)
	return controllerResult("Phase changed", v, err)
}

// ─── SessionPinVersionTool ──────────────────────────────────────────────────

// SessionPinVersionTool handles the session_pin_version MCP tool.
type SessionPinVersionTool struct {
	ctrl *workflow.Controller
}

// NewSessionPinVersionTool creates a SessionPinVersionTool.
func NewSessionPinVersionTool(ctrl *workflow.Controller) *SessionPinVersionTool {
	return &SessionPinVersionTool{ctrl: ctrl}
}

// Definition returns the MCP tool definition for session_pin_version.
func (t *SessionPinVersionTool) Definition() mcp.Tool {
	return mcp.NewTool("session_pin_version", withSessionID(
		mcp.WithDescription(
			"Pin the session to an accepted version of its project. There is no 'latest': "+
				"name the version explicitly. Allowed in specification_intake and routing.",
		),
		mcp.WithNumber("version_id",
			mcp.Required(),
			mcp.Description("Accepted version to pin"),
		),
	)...)
}

// Handle processes the session_pin_version tool call.
func (t *SessionPinVersionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := sessionArg(req)
	if errResult != nil {
		return errResult, nil
	}
	versionID, errResult := versionArg(req, "version_id")
	if errResult != nil {
		return errResult, nil
	}
	v, err := t.ctrl.PinVersion(ctx, id, versionID)
	return controllerResult("Version pinned", v, err)
}

// ─── SessionGenerateTool ────────────────────────────────────────────────────

// SessionGenerateTool handles the session_generate MCP tool.
type SessionGenerateTool struct {
	ctrl *workflow.Controller
}

// NewSessionGenerateTool creates a SessionGenerateTool.
func NewSessionGenerateTool(ctrl *workflow.Controller) *SessionGenerateTool {
	return &SessionGenerateTool{ctrl: ctrl}
}

// Definition returns the MCP tool definition for session_generate.
func (t *SessionGenerateTool) Definition() mcp.Tool {
	return mcp.NewTool("session_generate", withSessionID(
		mcp.WithDescription(
			"Generate one artifact in the current phase and validate it against the pinned version. "+
				"The result always carries the evidence; a rejected artifact leaves the session in place.",
		),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Artifact kind; must match the current phase"),
			mcp.Enum(artifactKinds...),
		),
		mcp.WithString("artifact_id",
			mcp.Description("Artifact to regenerate. Omit to create one."),
		),
		mcp.WithString("request",
			mcp.Description("Generation request as a JSON object, passed to the generator"),
		),
		mcp.WithString("attempt_key",
			mcp.Description("Retry key for the validation attempt"),
		),
	)...)
}

// Handle processes the session_generate tool call.
func (t *SessionGenerateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := sessionArg(req)
	if errResult != nil {
		return errResult, nil
	}
	var input map[string]any
	if raw := req.GetString("request", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("'request' must be a JSON object. Parse error: %v", err)), nil
		}
	}
	res, err := t.ctrl.Generate(ctx, id, workflow.GenerateRequest{
		Kind:       governance.ArtifactKind(req.GetString("kind", "")),
		ArtifactID: req.GetString("artifact_id", ""),
		Input:      input,
		AttemptKey: req.GetString("attempt_key", ""),
	})
	if err != nil {
		return controllerResult("Generation", nil, err)
	}
	if !res.Evidence.Passed {
		return controllerResult(fmt.Sprintf("Artifact rejected (%s)", res.Evidence.RejectionKind()), res, nil)
	}
	return controllerResult("Artifact accepted", res, nil)
}

// ─── SessionTriggersTool ────────────────────────────────────────────────────

// SessionTriggersTool handles the session_run_triggers MCP tool.
type SessionTriggersTool struct {
	ctrl *workflow.Controller
}

// NewSessionTriggersTool creates a SessionTriggersTool.
func NewSessionTriggersTool(ctrl *workflow.Controller) *SessionTriggersTool {
	return &SessionTriggersTool{ctrl: ctrl}
}

// Definition returns the MCP tool definition for session_run_triggers.
func (t *SessionTriggersTool) Definition() mcp.Tool {
	return mcp.NewTool("session_run_triggers", withSessionID(
		mcp.WithDescription(
			"Evaluate automatic transitions against durable state. Each trigger fires at most "+
				"once per call and the pass is bounded by the configured iteration cap.",
		),
	)...)
}

// Handle processes the session_run_triggers tool call.
func (t *SessionTriggersTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := sessionArg(req)
	if errResult != nil {
		return errResult, nil
	}
	report, err := t.ctrl.RunTriggers(ctx, id)
	return controllerResult("Triggers evaluated", report, err)
}
