// Package resources implements MCP resource handlers for specgate.
//
// Resources provide read-only governance data that the host can consume
// for context. They use URI-based addressing (specgate://...) following
// MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/specgate/internal/commands"
	"github.com/HendryAvila/specgate/internal/governance"
	"github.com/HendryAvila/specgate/internal/store"
)

const (
	statusTemplate    = "specgate://projects/{project}/status"
	authorityTemplate = "specgate://versions/{version}/authority"
)

// Handler manages specgate resource endpoints.
type Handler struct {
	svc   *commands.Service
	store *store.Store
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(svc *commands.Service, st *store.Store) *Handler {
	return &Handler{svc: svc, store: st}
}

// StatusTemplate returns the MCP resource template for project status.
func (h *Handler) StatusTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		statusTemplate,
		"Project Governance Status",
		mcp.WithTemplateDescription("Derived authority status of a project: current, stale, not_compiled or pending_review"),
		mcp.WithTemplateMIMEType("application/json"),
	)
}

// AuthorityTemplate returns the MCP resource template for a compiled authority.
func (h *Handler) AuthorityTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		authorityTemplate,
		"Compiled Authority",
		mcp.WithTemplateDescription("Scope, invariants and open gaps compiled from an approved version"),
		mcp.WithTemplateMIMEType("application/json"),
	)
}

// HandleStatus returns the status report of the project named in the URI.
func (h *Handler) HandleStatus(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	project, ok := segment(uri, "specgate://projects/", "/status")
	if !ok {
		return errorResource(uri, "expected specgate://projects/{project}/status"), nil
	}

	res, err := h.svc.CheckStatus(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("checking status: %w", err)
	}
	if !res.Success {
		return errorResource(uri, fmt.Sprintf("%s: %s", res.ErrorKind, res.Reason)), nil
	}
	return jsonResource(uri, res.Data)
}

// HandleAuthority returns the compiled authority of the version named in the URI.
func (h *Handler) HandleAuthority(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	raw, ok := segment(uri, "specgate://versions/", "/authority")
	if !ok {
		return errorResource(uri, "expected specgate://versions/{version}/authority"), nil
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(raw, "v"), 10, 64)
	if err != nil || id <= 0 {
		return errorResource(uri, fmt.Sprintf("invalid version %q", raw)), nil
	}

	auth, err := h.store.AuthorityForVersion(ctx, governance.VersionID(id))
	if err != nil {
		if governance.IsGovernance(err) {
			return errorResource(uri, err.Error()), nil
		}
		return nil, fmt.Errorf("loading authority: %w", err)
	}
	return jsonResource(uri, auth)
}

// segment extracts the single path segment between prefix and suffix.
func segment(uri, prefix, suffix string) (string, bool) {
	if !strings.HasPrefix(uri, prefix) || !strings.HasSuffix(uri, suffix) {
		return "", false
	}
	v := strings.TrimSuffix(strings.TrimPrefix(uri, prefix), suffix)
	if v == "" || strings.Contains(v, "/") {
		return "", false
	}
	return v, true
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
