package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/specgate/internal/governance"
	"github.com/HendryAvila/specgate/internal/testutil"
)

func TestDecide_AcceptRequiresAuthority(t *testing.T) {
	s := testutil.NewStore(t)
	l := New(s)
	ctx := context.Background()
	v := testutil.ApprovedVersion(t, s, "acme", "spec")

	_, err := l.Decide(ctx, DecideRequest{VersionID: v.ID, Decision: governance.DecisionAccepted, Reviewer: "ana"})
	assert.True(t, errors.Is(err, governance.NotCompiled), "err = %v", err)

	rec, err := l.Decide(ctx, DecideRequest{VersionID: v.ID, Decision: governance.DecisionRejected, Reviewer: "ana", Rationale: "not ready"})
	require.NoError(t, err, "rejection needs no authority")
	assert.Equal(t, governance.PolicyManual, rec.Policy)
	assert.Equal(t, "acme", rec.ProjectID)
}

func TestDecide_ValidatesInput(t *testing.T) {
	s := testutil.NewStore(t)
	l := New(s)
	ctx := context.Background()
	v := testutil.ApprovedVersion(t, s, "acme", "spec")

	_, err := l.Decide(ctx, DecideRequest{Decision: governance.DecisionAccepted, Reviewer: "ana"})
	assert.True(t, errors.Is(err, governance.MissingVersionPin))

	_, err = l.Decide(ctx, DecideRequest{VersionID: v.ID, Decision: "maybe", Reviewer: "ana"})
	assert.True(t, errors.Is(err, governance.InvalidInput))

	_, err = l.Decide(ctx, DecideRequest{VersionID: v.ID, Decision: governance.DecisionRejected})
	assert.True(t, errors.Is(err, governance.InvalidInput), "manual decision needs a reviewer")

	_, err = l.Decide(ctx, DecideRequest{VersionID: 999, Decision: governance.DecisionRejected, Reviewer: "ana"})
	assert.True(t, errors.Is(err, governance.NotFound))
}

func TestDecide_IdempotencyKey(t *testing.T) {
	s := testutil.NewStore(t)
	l := New(s)
	ctx := context.Background()
	v := testutil.ApprovedVersion(t, s, "acme", "spec")
	testutil.Compile(t, s, v, nil)

	req := DecideRequest{VersionID: v.ID, Decision: governance.DecisionAccepted, Reviewer: "ana", IdempotencyKey: "k"}
	first, err := l.Decide(ctx, req)
	require.NoError(t, err)
	second, err := l.Decide(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	history, err := l.History(ctx, "acme", v.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCurrentDecision_Unaccepted(t *testing.T) {
	s := testutil.NewStore(t)
	l := New(s)
	v := testutil.ApprovedVersion(t, s, "acme", "spec")

	_, err := l.CurrentDecision(context.Background(), "acme", v.ID)
	assert.ErrorIs(t, err, ErrUnaccepted)
}

func TestRequireAccepted(t *testing.T) {
	s := testutil.NewStore(t)
	l := New(s)
	ctx := context.Background()
	v, _ := testutil.AcceptedAuthority(t, s, "acme", "spec", nil)

	assert.NoError(t, l.RequireAccepted(ctx, "acme", v.ID))
	assert.True(t, errors.Is(l.RequireAccepted(ctx, "acme", 0), governance.MissingVersionPin))
	assert.True(t, errors.Is(l.RequireAccepted(ctx, "other", v.ID), governance.AcceptanceGateBlocked),
		"a decision for one project never unlocks another")

	_, err := l.Decide(ctx, DecideRequest{VersionID: v.ID, Decision: governance.DecisionRejected, Reviewer: "ana"})
	require.NoError(t, err)
	assert.True(t, errors.Is(l.RequireAccepted(ctx, "acme", v.ID), governance.AcceptanceGateBlocked))
}

func TestDecide_AutoAcceptUsesSystemReviewer(t *testing.T) {
	s := testutil.NewStore(t)
	l := New(s)
	v := testutil.ApprovedVersion(t, s, "acme", "spec")
	testutil.Compile(t, s, v, nil)

	rec, err := l.Decide(context.Background(), DecideRequest{VersionID: v.ID, Decision: governance.DecisionAccepted,
		Policy: governance.PolicyAutoAcceptOnCompile})
	require.NoError(t, err)
	assert.Equal(t, SystemReviewer, rec.Reviewer)
}

// TestRequireAccepted_FollowsLatestRecord checks that, for any sequence of
// decisions, RequireAccepted passes iff the last decision was accepted.
func TestRequireAccepted_FollowsLatestRecord(t *testing.T) {
	s := testutil.NewStore(t)
	l := New(s)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.MaxSize = 12
	properties := gopter.NewProperties(parameters)

	properties.Property("gate opens iff latest decision is accepted", prop.ForAll(
		func(decisions []bool) bool {
			v := testutil.ApprovedVersion(t, s, "prop", "spec")
			testutil.Compile(t, s, v, nil)
			for _, accept := range decisions {
				d := governance.DecisionRejected
				if accept {
					d = governance.DecisionAccepted
				}
				if _, err := l.Decide(ctx, DecideRequest{VersionID: v.ID, Decision: d, Reviewer: "prop"}); err != nil {
					return false
				}
			}
			err := l.RequireAccepted(ctx, "prop", v.ID)
			if len(decisions) == 0 || !decisions[len(decisions)-1] {
				return errors.Is(err, governance.AcceptanceGateBlocked)
			}
			return err == nil
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
