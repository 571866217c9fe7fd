package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/specgate/internal/commands"
	"github.com/HendryAvila/specgate/internal/gate"
	"github.com/HendryAvila/specgate/internal/governance"
)

var artifactKinds = func() []string {
	out := make([]string, len(governance.ArtifactKinds))
	for i, k := range governance.ArtifactKinds {
		out[i] = string(k)
	}
	return out
}()

// ValidateArtifactTool handles the validate_artifact MCP tool.
type ValidateArtifactTool struct {
	svc *commands.Service
}

// NewValidateArtifactTool creates a ValidateArtifactTool.
func NewValidateArtifactTool(svc *commands.Service) *ValidateArtifactTool {
	return &ValidateArtifactTool{svc: svc}
}

// Definition returns the MCP tool definition for validate_artifact.
func (t *ValidateArtifactTool) Definition() mcp.Tool {
	return mcp.NewTool("validate_artifact",
		mcp.WithDescription(
			"Validate an artifact against the authority of an explicitly pinned, accepted version. "+
				"Every call records evidence. A passing artifact is pinned to the version; "+
				"a failing one is unpinned and the failed rules are returned.",
		),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project of the artifact"),
		),
		mcp.WithNumber("version_id",
			mcp.Required(),
			mcp.Description("Accepted version to validate against. There is no default."),
		),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Artifact kind"),
			mcp.Enum(artifactKinds...),
		),
		mcp.WithString("artifact_id",
			mcp.Description("Existing artifact id. Omit to create a new artifact."),
		),
		mcp.WithString("title",
			mcp.Description("Artifact title"),
		),
		mcp.WithString("body",
			mcp.Description("Artifact body"),
		),
		mcp.WithString("acceptance_criteria",
			mcp.Description("Acceptance criteria, one per line"),
		),
		mcp.WithString("topics",
			mcp.Description("Comma-separated topics"),
		),
		mcp.WithString("fields",
			mcp.Description(`Named fields as a JSON object of strings, e.g. "{\"owner\": \"team-a\"}"`),
		),
		mcp.WithString("attempt_key",
			mcp.Description("Retry key. A repeated key returns the first evidence."),
		),
	)
}

// Handle processes the validate_artifact tool call.
func (t *ValidateArtifactTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := req.GetString("project_id", "")
	if projectID == "" {
		return mcp.NewToolResultError("'project_id' is required"), nil
	}
	var fields map[string]string
	if raw := req.GetString("fields", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return mcp.NewToolResultError(
				fmt.Sprintf("'fields' must be a JSON object of strings. Parse error: %v", err),
			), nil
		}
	}
	versionID, errResult := versionArg(req, "version_id")
	if errResult != nil {
		return errResult, nil
	}
	return commandResult(t.svc.ValidateArtifact(ctx, gate.Request{
		Artifact: governance.Artifact{
			ID:                 req.GetString("artifact_id", ""),
			ProjectID:          projectID,
			Kind:               governance.ArtifactKind(req.GetString("kind", "")),
			Title:              req.GetString("title", ""),
			Body:               req.GetString("body", ""),
			Fields:             fields,
			AcceptanceCriteria: splitList(req.GetString("acceptance_criteria", ""), "\n"),
			Topics:             splitList(req.GetString("topics", ""), ","),
		},
		ProjectID:  projectID,
		VersionID:  versionID,
		AttemptKey: req.GetString("attempt_key", ""),
	}))
}

// ─── MigrateArtifactTool ────────────────────────────────────────────────────

// MigrateArtifactTool handles the migrate_artifact_to_version MCP tool.
type MigrateArtifactTool struct {
	svc *commands.Service
}

// NewMigrateArtifactTool creates a MigrateArtifactTool.
func NewMigrateArtifactTool(svc *commands.Service) *MigrateArtifactTool {
	return &MigrateArtifactTool{svc: svc}
}

// Definition returns the MCP tool definition for migrate_artifact_to_version.
func (t *MigrateArtifactTool) Definition() mcp.Tool {
	return mcp.NewTool("migrate_artifact_to_version",
		mcp.WithDescription(
			"Revalidate a stored artifact against another accepted version. "+
				"On pass the artifact is pinned to that version; on fail it is unpinned.",
		),
		mcp.WithString("artifact_id",
			mcp.Required(),
			mcp.Description("Artifact to migrate"),
		),
		mcp.WithNumber("version_id",
			mcp.Required(),
			mcp.Description("Target accepted version"),
		),
		mcp.WithString("attempt_key",
			mcp.Description("Retry key"),
		),
	)
}

// Handle processes the migrate_artifact_to_version tool call.
func (t *MigrateArtifactTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	artifactID := req.GetString("artifact_id", "")
	if artifactID == "" {
		return mcp.NewToolResultError("'artifact_id' is required"), nil
	}
	versionID, errResult := versionArg(req, "version_id")
	if errResult != nil {
		return errResult, nil
	}
	return commandResult(t.svc.MigrateArtifactToVersion(ctx, artifactID, versionID, req.GetString("attempt_key", "")))
}

// ─── AnalyzeImpactTool ──────────────────────────────────────────────────────

// AnalyzeImpactTool handles the analyze_impact MCP tool.
type AnalyzeImpactTool struct {
	svc *commands.Service
}

// NewAnalyzeImpactTool creates an AnalyzeImpactTool.
func NewAnalyzeImpactTool(svc *commands.Service) *AnalyzeImpactTool {
	return &AnalyzeImpactTool{svc: svc}
}

// Definition returns the MCP tool definition for analyze_impact.
func (t *AnalyzeImpactTool) Definition() mcp.Tool {
	return mcp.NewTool("analyze_impact",
		mcp.WithDescription(
			"Diff the authorities of two versions and classify every artifact validated under the "+
				"first one as no_impact, needs_revalidation, needs_rewrite or blocking. "+
				"Analysis never changes artifacts; blocking artifacts are only flagged.",
		),
		mcp.WithNumber("from_version_id",
			mcp.Required(),
			mcp.Description("Version the artifacts were validated under"),
		),
		mcp.WithNumber("to_version_id",
			mcp.Required(),
			mcp.Description("Candidate version"),
		),
		mcp.WithBoolean("record",
			mcp.Description("Persist the report and return its id"),
		),
	)
}

// Handle processes the analyze_impact tool call.
func (t *AnalyzeImpactTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, errResult := versionArg(req, "from_version_id")
	if errResult != nil {
		return errResult, nil
	}
	to, errResult := versionArg(req, "to_version_id")
	if errResult != nil {
		return errResult, nil
	}
	return commandResult(t.svc.AnalyzeImpact(ctx, from, to, boolArg(req, "record", false)))
}
