package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/specgate/internal/commands"
	"github.com/HendryAvila/specgate/internal/governance"
	"github.com/HendryAvila/specgate/internal/ledger"
)

// DecideAcceptanceTool handles the decide_acceptance MCP tool.
// Every call appends a record; the latest record is the current decision.
type DecideAcceptanceTool struct {
	svc *commands.Service
}

// NewDecideAcceptanceTool creates a DecideAcceptanceTool.
func NewDecideAcceptanceTool(svc *commands.Service) *DecideAcceptanceTool {
	return &DecideAcceptanceTool{svc: svc}
}

// Definition returns the MCP tool definition for decide_acceptance.
func (t *DecideAcceptanceTool) Definition() mcp.Tool {
	return mcp.NewTool("decide_acceptance",
		mcp.WithDescription(
			"Accept or reject the compiled authority of a version. Generation and validation "+
				"are blocked until the latest decision for the pinned version is 'accepted'.",
		),
		mcp.WithNumber("version_id",
			mcp.Required(),
			mcp.Description("Version whose authority is decided"),
		),
		mcp.WithString("decision",
			mcp.Required(),
			mcp.Description("Decision"),
			mcp.Enum(string(governance.DecisionAccepted), string(governance.DecisionRejected)),
		),
		mcp.WithString("reviewer",
			mcp.Required(),
			mcp.Description("Who decides"),
		),
		mcp.WithString("rationale",
			mcp.Description("Why"),
		),
		mcp.WithString("idempotency_key",
			mcp.Description("Retry key. A repeated key returns the first record."),
		),
	)
}

// Handle processes the decide_acceptance tool call.
func (t *DecideAcceptanceTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	versionID, errResult := versionArg(req, "version_id")
	if errResult != nil {
		return errResult, nil
	}
	decision, err := governance.ParseDecision(req.GetString("decision", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("'decision' is invalid: %v", err)), nil
	}
	return commandResult(t.svc.DecideAcceptance(ctx, ledger.DecideRequest{
		VersionID:      versionID,
		Decision:       decision,
		Reviewer:       req.GetString("reviewer", ""),
		Rationale:      req.GetString("rationale", ""),
		IdempotencyKey: req.GetString("idempotency_key", ""),
	}))
}
