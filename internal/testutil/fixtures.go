// Package testutil builds governance fixtures for package tests: a temp
// SQLite store and versions walked through review, approval, compilation
// and acceptance directly against the store.
package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/specgate/internal/governance"
	"github.com/HendryAvila/specgate/internal/store"
)

// NewStore opens a store in a temp directory, closed on cleanup.
func NewStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(store.Config{DataDir: t.TempDir()})
	require.NoError(t, err, "failed to create store")
	t.Cleanup(func() { s.Close() })
	return s
}

// ApprovedVersion registers content and walks it to approved.
func ApprovedVersion(t *testing.T, s *store.Store, project, content string) *governance.SpecificationVersion {
	t.Helper()
	ctx := context.Background()
	v, _, err := s.CreateVersion(ctx, governance.SpecificationVersion{ProjectID: project}, content)
	require.NoError(t, err)
	_, err = s.CreateChangeReview(ctx, governance.ChangeReview{ID: uuid.NewString(), VersionID: v.ID})
	require.NoError(t, err)
	v, err = s.ApproveVersion(ctx, v.ID, "reviewer", "")
	require.NoError(t, err)
	return v
}

// Compile stores an authority for v. Scope and invariants come from the
// arguments; identity and hashes are filled in.
func Compile(t *testing.T, s *store.Store, v *governance.SpecificationVersion, scope []string, invs ...governance.Invariant) *governance.CompiledAuthority {
	t.Helper()
	a, err := s.InsertAuthority(context.Background(), governance.CompiledAuthority{
		ID:              uuid.NewString(),
		VersionID:       v.ID,
		CompilerVersion: "1.0.0",
		SourceHash:      v.ContentHash,
		Scope:           scope,
		Invariants:      invs,
	})
	require.NoError(t, err)
	return a
}

// Decide appends an acceptance record for v.
func Decide(t *testing.T, s *store.Store, v *governance.SpecificationVersion, d governance.Decision) *governance.AcceptanceRecord {
	t.Helper()
	rec, _, err := s.AppendAcceptance(context.Background(), governance.AcceptanceRecord{
		ID:        uuid.NewString(),
		ProjectID: v.ProjectID,
		VersionID: v.ID,
		Decision:  d,
		Policy:    governance.PolicyManual,
		Reviewer:  "reviewer",
	})
	require.NoError(t, err)
	return rec
}

// AcceptedAuthority is ApprovedVersion, Compile and an accepted decision
// in one step.
func AcceptedAuthority(t *testing.T, s *store.Store, project, content string, scope []string, invs ...governance.Invariant) (*governance.SpecificationVersion, *governance.CompiledAuthority) {
	t.Helper()
	v := ApprovedVersion(t, s, project, content)
	a := Compile(t, s, v, scope, invs...)
	Decide(t, s, v, governance.DecisionAccepted)
	return v, a
}

// Forbid is a FORBIDDEN_CAPABILITY invariant.
func Forbid(id, term string) governance.Invariant {
	return governance.Invariant{ID: id, Type: governance.InvariantForbiddenCapability, Value: term}
}

// RequireField is a REQUIRED_FIELD invariant.
func RequireField(id, field string, kinds ...governance.ArtifactKind) governance.Invariant {
	return governance.Invariant{ID: id, Type: governance.InvariantRequiredField, Value: field, AppliesTo: kinds}
}

// Story is a complete story artifact.
func Story(id, project, title string) governance.Artifact {
	return governance.Artifact{
		ID:                 id,
		ProjectID:          project,
		Kind:               governance.KindStory,
		Title:              title,
		Body:               "As a user I want " + title,
		AcceptanceCriteria: []string{"Given a user, when they act, then it works"},
		Status:             governance.ArtifactDraft,
	}
}
