package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/specgate/internal/governance"
	"github.com/HendryAvila/specgate/internal/ledger"
	"github.com/HendryAvila/specgate/internal/store"
	"github.com/HendryAvila/specgate/internal/testutil"
)

func newGate(t *testing.T, s *store.Store) *Gate {
	t.Helper()
	g, err := New(s, ledger.New(s), "")
	require.NoError(t, err)
	return g
}

func TestValidate_MissingAcceptanceCriteria(t *testing.T) {
	s := testutil.NewStore(t)
	g := newGate(t, s)
	v, _ := testutil.AcceptedAuthority(t, s, "acme", "spec", []string{"auth"})

	story := testutil.Story("S-1", "acme", "Login")
	story.AcceptanceCriteria = nil

	ev, err := g.Validate(context.Background(), Request{Artifact: story, ProjectID: "acme", VersionID: v.ID})
	require.NoError(t, err)
	assert.False(t, ev.Passed)
	require.Len(t, ev.Failures(), 1)
	assert.Equal(t, governance.RuleAcceptanceCriteriaRequired, ev.Failures()[0].RuleID)
	assert.Equal(t, governance.RequiredFieldMissing, ev.RejectionKind())

	a, err := s.GetArtifact(context.Background(), "S-1")
	require.NoError(t, err)
	assert.True(t, a.AcceptedSpecVersionID.IsZero(), "failed validation leaves the artifact unpinned")
}

func TestValidate_ForbiddenCapability(t *testing.T) {
	s := testutil.NewStore(t)
	g := newGate(t, s)
	v, _ := testutil.AcceptedAuthority(t, s, "acme", "spec", nil, testutil.Forbid("INV-1", "OAuth1"))

	story := testutil.Story("S-1", "acme", "Sign in")
	story.Body = "Users sign in with oauth1 tokens"

	ev, err := g.Validate(context.Background(), Request{Artifact: story, ProjectID: "acme", VersionID: v.ID})
	require.NoError(t, err)
	assert.False(t, ev.Passed)
	assert.Equal(t, governance.AlignmentViolation, ev.RejectionKind())
	require.Len(t, ev.Reasons(), 1)
	assert.Contains(t, ev.Reasons()[0], "RULE_FORBIDDEN_CAPABILITY")
	assert.Contains(t, ev.Reasons()[0], `"OAuth1"`)
	assert.Equal(t, []string{"INV-1"}, ev.ReliedInvariants)
}

func TestValidate_UnacceptedVersionIsBlocked(t *testing.T) {
	s := testutil.NewStore(t)
	g := newGate(t, s)
	testutil.AcceptedAuthority(t, s, "acme", "spec v1", nil)
	s2 := testutil.ApprovedVersion(t, s, "acme", "spec v2")
	testutil.Compile(t, s, s2, nil)

	_, err := g.Validate(context.Background(), Request{Artifact: testutil.Story("S-1", "acme", "Login"), ProjectID: "acme", VersionID: s2.ID})
	assert.True(t, errors.Is(err, governance.AcceptanceGateBlocked), "err = %v", err)

	evidence, err := s.EvidenceForArtifact(context.Background(), "S-1")
	require.NoError(t, err)
	assert.Empty(t, evidence, "a blocked attempt writes no evidence")
}

func TestValidate_RequiresPin(t *testing.T) {
	s := testutil.NewStore(t)
	g := newGate(t, s)
	_, err := g.Validate(context.Background(), Request{Artifact: testutil.Story("S-1", "acme", "Login"), ProjectID: "acme"})
	assert.True(t, errors.Is(err, governance.MissingVersionPin))
}

func TestValidate_StaleAuthority(t *testing.T) {
	s := testutil.NewStore(t)
	g := newGate(t, s)
	v := testutil.ApprovedVersion(t, s, "acme", "spec")
	_, err := s.InsertAuthority(context.Background(), governance.CompiledAuthority{
		ID: "auth-stale", VersionID: v.ID, CompilerVersion: "1.0.0", SourceHash: "sha256:other",
	})
	require.NoError(t, err)
	testutil.Decide(t, s, v, governance.DecisionAccepted)

	_, err = g.Validate(context.Background(), Request{Artifact: testutil.Story("S-1", "acme", "Login"), ProjectID: "acme", VersionID: v.ID})
	assert.True(t, errors.Is(err, governance.StaleAuthority), "err = %v", err)
}

func TestValidate_PassPinsArtifact(t *testing.T) {
	s := testutil.NewStore(t)
	g := newGate(t, s)
	v, _ := testutil.AcceptedAuthority(t, s, "acme", "spec", []string{"auth"},
		testutil.Forbid("INV-1", "OAuth1"), testutil.RequireField("INV-2", "owner", governance.KindStory))

	story := testutil.Story("S-1", "acme", "Login")
	story.Fields = map[string]string{"owner": "team-a"}
	story.Topics = []string{"auth"}

	ev, err := g.Validate(context.Background(), Request{Artifact: story, ProjectID: "acme", VersionID: v.ID})
	require.NoError(t, err)
	assert.True(t, ev.Passed, "reasons: %v", ev.Reasons())
	assert.Empty(t, ev.Warnings)
	assert.Equal(t, DefaultValidatorVersion, ev.ValidatorVersion)
	assert.Equal(t, []string{"INV-1", "INV-2"}, ev.ReliedInvariants)

	a, err := s.GetArtifact(context.Background(), "S-1")
	require.NoError(t, err)
	assert.Equal(t, v.ID, a.AcceptedSpecVersionID)
	assert.Equal(t, ev.InputHash, a.ContentHash)
}

func TestValidate_OneEvidencePerCall(t *testing.T) {
	s := testutil.NewStore(t)
	g := newGate(t, s)
	v, _ := testutil.AcceptedAuthority(t, s, "acme", "spec", nil)
	story := testutil.Story("S-1", "acme", "Login")

	for i := 0; i < 3; i++ {
		_, err := g.Validate(context.Background(), Request{Artifact: story, ProjectID: "acme", VersionID: v.ID})
		require.NoError(t, err)
	}
	evidence, err := s.EvidenceForArtifact(context.Background(), "S-1")
	require.NoError(t, err)
	assert.Len(t, evidence, 3)
}

func TestValidate_AttemptKeyReplays(t *testing.T) {
	s := testutil.NewStore(t)
	g := newGate(t, s)
	v, _ := testutil.AcceptedAuthority(t, s, "acme", "spec", nil)
	story := testutil.Story("S-1", "acme", "Login")

	first, err := g.Validate(context.Background(), Request{Artifact: story, ProjectID: "acme", VersionID: v.ID, AttemptKey: "try-1"})
	require.NoError(t, err)
	second, err := g.Validate(context.Background(), Request{Artifact: story, ProjectID: "acme", VersionID: v.ID, AttemptKey: "try-1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	evidence, err := s.EvidenceForArtifact(context.Background(), "S-1")
	require.NoError(t, err)
	assert.Len(t, evidence, 1)

	story.Title = ""
	_, err = g.Validate(context.Background(), Request{Artifact: story, ProjectID: "acme", VersionID: v.ID, AttemptKey: "try-1"})
	assert.True(t, errors.Is(err, governance.InvalidInput), "changed content under the same key: err = %v", err)
}

func TestValidate_AttemptKeyReplayWithoutArtifactID(t *testing.T) {
	s := testutil.NewStore(t)
	g := newGate(t, s)
	v, _ := testutil.AcceptedAuthority(t, s, "acme", "spec", nil)
	req := Request{Artifact: testutil.Story("", "acme", "Login"), ProjectID: "acme", VersionID: v.ID, AttemptKey: "try-1"}

	first, err := g.Validate(context.Background(), req)
	require.NoError(t, err)
	second, err := g.Validate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ArtifactID, second.ArtifactID)
}

func TestValidate_ReplayAfterRejectionIsBlocked(t *testing.T) {
	s := testutil.NewStore(t)
	g := newGate(t, s)
	v, _ := testutil.AcceptedAuthority(t, s, "acme", "spec", nil)
	req := Request{Artifact: testutil.Story("S-1", "acme", "Login"), ProjectID: "acme", VersionID: v.ID, AttemptKey: "k"}

	ev, err := g.Validate(context.Background(), req)
	require.NoError(t, err)
	require.True(t, ev.Passed)

	testutil.Decide(t, s, v, governance.DecisionRejected)

	ev, err = g.Validate(context.Background(), req)
	assert.Nil(t, ev)
	assert.True(t, errors.Is(err, governance.AcceptanceGateBlocked), "err = %v", err)
}

func TestValidate_ReplayWithoutPin(t *testing.T) {
	s := testutil.NewStore(t)
	g := newGate(t, s)
	v, _ := testutil.AcceptedAuthority(t, s, "acme", "spec", nil)
	story := testutil.Story("S-1", "acme", "Login")

	_, err := g.Validate(context.Background(), Request{Artifact: story, ProjectID: "acme", VersionID: v.ID, AttemptKey: "k"})
	require.NoError(t, err)

	ev, err := g.Validate(context.Background(), Request{Artifact: story, ProjectID: "acme", AttemptKey: "k"})
	assert.Nil(t, ev)
	assert.True(t, errors.Is(err, governance.MissingVersionPin), "err = %v", err)
}

func TestValidate_AttemptKeyReusedForOtherArtifact(t *testing.T) {
	s := testutil.NewStore(t)
	g := newGate(t, s)
	acme, _ := testutil.AcceptedAuthority(t, s, "acme", "acme spec", nil)
	globex, _ := testutil.AcceptedAuthority(t, s, "globex", "globex spec", nil)

	_, err := g.Validate(context.Background(), Request{Artifact: testutil.Story("S-1", "acme", "Login"),
		ProjectID: "acme", VersionID: acme.ID, AttemptKey: "k"})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  Request
	}{
		{"other artifact", Request{Artifact: testutil.Story("S-2", "acme", "Login"),
			ProjectID: "acme", VersionID: acme.ID, AttemptKey: "k"}},
		{"other project", Request{Artifact: testutil.Story("S-3", "globex", "Login"),
			ProjectID: "globex", VersionID: globex.ID, AttemptKey: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := g.Validate(context.Background(), tt.req)
			assert.Nil(t, ev)
			assert.True(t, errors.Is(err, governance.InvalidInput), "err = %v", err)

			_, err = s.GetArtifact(context.Background(), tt.req.Artifact.ID)
			assert.True(t, errors.Is(err, governance.NotFound), "refused artifact is not stored: err = %v", err)
		})
	}
}

func TestValidate_FailClearsEarlierPin(t *testing.T) {
	s := testutil.NewStore(t)
	g := newGate(t, s)
	v, _ := testutil.AcceptedAuthority(t, s, "acme", "spec", nil, testutil.Forbid("INV-1", "OAuth1"))
	story := testutil.Story("S-1", "acme", "Login")

	_, err := g.Validate(context.Background(), Request{Artifact: story, ProjectID: "acme", VersionID: v.ID})
	require.NoError(t, err)
	story.Body = "now with OAuth1"
	_, err = g.Validate(context.Background(), Request{Artifact: story, ProjectID: "acme", VersionID: v.ID})
	require.NoError(t, err)

	a, err := s.GetArtifact(context.Background(), "S-1")
	require.NoError(t, err)
	assert.True(t, a.AcceptedSpecVersionID.IsZero())
}

func TestValidate_KeepsExistingStatus(t *testing.T) {
	s := testutil.NewStore(t)
	g := newGate(t, s)
	v, _ := testutil.AcceptedAuthority(t, s, "acme", "spec", nil)
	story := testutil.Story("S-1", "acme", "Login")

	_, err := g.Validate(context.Background(), Request{Artifact: story, ProjectID: "acme", VersionID: v.ID})
	require.NoError(t, err)
	require.NoError(t, s.SetArtifactStatus(context.Background(), "S-1", governance.ArtifactInProgress))

	story.Status = governance.ArtifactCompleted
	_, err = g.Validate(context.Background(), Request{Artifact: story, ProjectID: "acme", VersionID: v.ID})
	require.NoError(t, err)

	a, err := s.GetArtifact(context.Background(), "S-1")
	require.NoError(t, err)
	assert.Equal(t, governance.ArtifactInProgress, a.Status)
}

func TestValidate_AssignsID(t *testing.T) {
	s := testutil.NewStore(t)
	g := newGate(t, s)
	v, _ := testutil.AcceptedAuthority(t, s, "acme", "spec", nil)

	ev, err := g.Validate(context.Background(), Request{Artifact: testutil.Story("", "", "Login"), ProjectID: "acme", VersionID: v.ID})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ArtifactID)
	assert.Equal(t, "acme", ev.ProjectID)
}

func TestValidate_InvalidInput(t *testing.T) {
	s := testutil.NewStore(t)
	g := newGate(t, s)
	v, _ := testutil.AcceptedAuthority(t, s, "acme", "spec", nil)

	bad := testutil.Story("S-1", "acme", "Login")
	bad.Kind = "epic"
	_, err := g.Validate(context.Background(), Request{Artifact: bad, ProjectID: "acme", VersionID: v.ID})
	assert.True(t, errors.Is(err, governance.InvalidInput))

	other := testutil.Story("S-2", "globex", "Login")
	_, err = g.Validate(context.Background(), Request{Artifact: other, ProjectID: "acme", VersionID: v.ID})
	assert.True(t, errors.Is(err, governance.InvalidInput))
}

func TestNew_RejectsBadValidatorVersion(t *testing.T) {
	_, err := New(testutil.NewStore(t), nil, "v-next")
	assert.Error(t, err)
}
