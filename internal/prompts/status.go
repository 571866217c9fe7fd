package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the governance-status MCP prompt.
// It instructs the AI to read and present a project's governance state.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("governance-status",
		mcp.WithPromptDescription(
			"Check the governance status of a project: whether its authority is current, "+
				"stale or awaiting review, and what to do next.",
		),
		mcp.WithArgument("project_id",
			mcp.ArgumentDescription("Project to inspect"),
			mcp.RequiredArgument(),
		),
	)
}

// Handle processes the governance-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	projectID := req.Params.Arguments["project_id"]
	if projectID == "" {
		return nil, fmt.Errorf("project_id is required")
	}
	return &mcp.GetPromptResult{
		Description: "Governance Status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"Please run `check_status` with project_id='%s'.\n\n"+
						"Then:\n"+
						"1. Tell me whether the authority is current, stale, not_compiled or pending_review, and why\n"+
						"2. If it is stale, explain that nothing recompiles automatically and offer `compile_spec` on the approved version\n"+
						"3. If a newer version is compiled, offer `analyze_impact` from the old to the new version\n"+
						"4. Tell me exactly what I should do next",
					projectID,
				)),
			},
		},
	}, nil
}
