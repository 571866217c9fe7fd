package resources

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/specgate/internal/commands"
	"github.com/HendryAvila/specgate/internal/compiler"
	"github.com/HendryAvila/specgate/internal/gate"
	"github.com/HendryAvila/specgate/internal/generation"
	"github.com/HendryAvila/specgate/internal/impact"
	"github.com/HendryAvila/specgate/internal/ledger"
	"github.com/HendryAvila/specgate/internal/registry"
	"github.com/HendryAvila/specgate/internal/store"
	"github.com/HendryAvila/specgate/internal/testutil"
)

func newHandler(t *testing.T) (*Handler, *store.Store) {
	t.Helper()
	s := testutil.NewStore(t)
	l := ledger.New(s)
	c, err := compiler.New(s, generation.Unavailable, l, compiler.Config{})
	require.NoError(t, err)
	g, err := gate.New(s, l, "")
	require.NoError(t, err)
	svc := commands.New(registry.New(s), c, l, g, impact.New(s), s)
	return NewHandler(svc, s), s
}

func read(uri string) mcp.ReadResourceRequest {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	return req
}

func text(t *testing.T, contents []mcp.ResourceContents) mcp.TextResourceContents {
	t.Helper()
	require.Len(t, contents, 1)
	tc, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok, "expected TextResourceContents, got %T", contents[0])
	return tc
}

func TestTemplates(t *testing.T) {
	h, _ := newHandler(t)
	assert.Equal(t, "Project Governance Status", h.StatusTemplate().Name)
	assert.Equal(t, "Compiled Authority", h.AuthorityTemplate().Name)
}

func TestHandleStatus(t *testing.T) {
	h, s := newHandler(t)
	v, _ := testutil.AcceptedAuthority(t, s, "acme", "spec", []string{"auth"})

	uri := "specgate://projects/acme/status"
	out, err := h.HandleStatus(context.Background(), read(uri))
	require.NoError(t, err)
	tc := text(t, out)
	assert.Equal(t, uri, tc.URI)
	assert.Equal(t, "application/json", tc.MIMEType)

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(tc.Text), &report))
	assert.Equal(t, "current", report["status"])
	assert.EqualValues(t, v.ID, report["approved_version"])
}

func TestHandleStatus_UnknownProject(t *testing.T) {
	h, _ := newHandler(t)
	out, err := h.HandleStatus(context.Background(), read("specgate://projects/nobody/status"))
	require.NoError(t, err)
	assert.Contains(t, text(t, out).Text, "not_compiled")
}

func TestHandleAuthority(t *testing.T) {
	h, s := newHandler(t)
	v, a := testutil.AcceptedAuthority(t, s, "acme", "spec", []string{"auth"}, testutil.Forbid("INV-1", "OAuth1"))

	out, err := h.HandleAuthority(context.Background(), read("specgate://versions/"+v.ID.String()+"/authority"))
	require.NoError(t, err)
	tc := text(t, out)
	assert.Equal(t, "application/json", tc.MIMEType)
	assert.Contains(t, tc.Text, a.ID)
	assert.Contains(t, tc.Text, "OAuth1")
}

func TestHandleAuthority_Errors(t *testing.T) {
	h, s := newHandler(t)
	v := testutil.ApprovedVersion(t, s, "acme", "spec")

	tests := []struct {
		name string
		uri  string
		want string
	}{
		{"bad uri", "specgate://versions/authority", "expected specgate://versions/{version}/authority"},
		{"bad version", "specgate://versions/abc/authority", "invalid version"},
		{"not compiled", "specgate://versions/" + v.ID.String() + "/authority", "NotCompiled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := h.HandleAuthority(context.Background(), read(tt.uri))
			require.NoError(t, err)
			tc := text(t, out)
			assert.Equal(t, "text/plain", tc.MIMEType)
			assert.True(t, strings.HasPrefix(tc.Text, "Error: "))
			assert.Contains(t, tc.Text, tt.want)
		})
	}
}
