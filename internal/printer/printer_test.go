package printer

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/specgate/internal/commands"
	"github.com/HendryAvila/specgate/internal/governance"
)

func init() {
	color.NoColor = true
}

func TestResult_Success(t *testing.T) {
	var out, errOut bytes.Buffer
	p := New(&out, &errOut, false)

	err := p.Result(&commands.Result{
		Success:    true,
		Command:    commands.RegisterSpec,
		CreatedIDs: []string{"7"},
		Data:       map[string]any{"id": 7},
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "✓ register-spec")
	assert.Contains(t, out.String(), "created: 7")
	assert.Contains(t, out.String(), `"id": 7`)
	assert.Empty(t, errOut.String())
}

func TestResult_Refusal(t *testing.T) {
	var out, errOut bytes.Buffer
	p := New(&out, &errOut, false)

	err := p.Result(&commands.Result{
		Command:    commands.ValidateArtifact,
		ErrorKind:  governance.AlignmentViolation,
		Reason:     "RULE_FORBIDDEN_CAPABILITY: uses OAuth1; RULE_TITLE_REQUIRED: no title",
		CreatedIDs: []string{"ev-1"},
	})
	require.Error(t, err)
	assert.Equal(t, "validate-artifact: AlignmentViolation", err.Error())
	assert.Contains(t, errOut.String(), "validate-artifact refused (AlignmentViolation)")
	assert.Contains(t, errOut.String(), "  RULE_TITLE_REQUIRED: no title\n")
	assert.Contains(t, errOut.String(), "recorded: ev-1")
	assert.Empty(t, out.String())
}

func TestResult_JSON(t *testing.T) {
	var out, errOut bytes.Buffer
	p := New(&out, &errOut, true)

	err := p.Result(&commands.Result{Command: commands.CheckStatus, ErrorKind: governance.NotFound, Reason: "gone", CreatedIDs: []string{}})
	require.Error(t, err)

	var decoded commands.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.False(t, decoded.Success)
	assert.Equal(t, governance.NotFound, decoded.ErrorKind)
	assert.Empty(t, errOut.String())
}

func TestError(t *testing.T) {
	var errOut bytes.Buffer
	p := New(&bytes.Buffer{}, &errOut, false)
	err := p.Error("Cannot open store", "permission denied")
	require.Error(t, err)
	assert.Equal(t, "Cannot open store", err.Error())
	assert.Contains(t, errOut.String(), "permission denied")

	p.Warning("redis unavailable: %s", "refused")
	assert.Contains(t, errOut.String(), "redis unavailable: refused")
}
