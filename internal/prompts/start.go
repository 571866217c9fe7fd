// Package prompts implements MCP prompt handlers for specgate.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StartPrompt handles the plan-start MCP prompt.
// It walks the AI from a raw specification to a pinned planning session.
type StartPrompt struct{}

// NewStartPrompt creates a StartPrompt.
func NewStartPrompt() *StartPrompt {
	return &StartPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StartPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("plan-start",
		mcp.WithPromptDescription(
			"Start planning a project from its technical specification: register, review, approve, "+
				"compile and accept the authority, then open a session pinned to it.",
		),
		mcp.WithArgument("project_id",
			mcp.ArgumentDescription("Project to plan"),
		),
		mcp.WithArgument("reviewer",
			mcp.ArgumentDescription("Who approves and accepts. Default: ask me"),
		),
	)
}

// Handle processes the plan-start prompt request.
func (p *StartPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	projectID := "my-project"
	reviewer := ""
	if args := req.Params.Arguments; args != nil {
		if v, ok := args["project_id"]; ok && v != "" {
			projectID = v
		}
		if v, ok := args["reviewer"]; ok {
			reviewer = v
		}
	}

	reviewerLine := "Ask me who the reviewer is before approving or accepting anything."
	if reviewer != "" {
		reviewerLine = fmt.Sprintf("Use reviewer='%s' only after I confirm each approval and acceptance.", reviewer)
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Start planning: %s", projectID),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want to plan project '%s' from its technical specification.\n\n"+
						"Please:\n"+
						"1. Ask me for the specification text, then run `register_spec` with project_id='%s'\n"+
						"2. Run `review_changes` on the new version and show me the diff\n"+
						"3. Run `approve_spec` once I approve, then `compile_spec`\n"+
						"4. Show me the compiled scope and invariants and run `decide_acceptance` with my decision\n"+
						"5. Run `session_start`, then `session_pin_version` with the accepted version id, then `session_run_triggers`\n"+
						"6. Call `session_turn` at the start of every later message of mine\n\n"+
						"%s Never pick a version for me: always use the id I accepted.",
					projectID, projectID, reviewerLine,
				)),
			},
		},
	}, nil
}
