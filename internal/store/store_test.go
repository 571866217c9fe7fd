package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/HendryAvila/specgate/internal/governance"
	"github.com/HendryAvila/specgate/internal/store"
)

// newTestStore creates a Store backed by a temp directory for isolation.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// approvedVersion walks a fresh version through review and approval.
func approvedVersion(t *testing.T, s *store.Store, project, content string) *governance.SpecificationVersion {
	t.Helper()
	ctx := context.Background()
	v, _, err := s.CreateVersion(ctx, governance.SpecificationVersion{ProjectID: project}, content)
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	if _, err := s.CreateChangeReview(ctx, governance.ChangeReview{ID: "rev-" + v.ID.String(), VersionID: v.ID}); err != nil {
		t.Fatalf("CreateChangeReview: %v", err)
	}
	v, err = s.ApproveVersion(ctx, v.ID, "ana", "ok")
	if err != nil {
		t.Fatalf("ApproveVersion: %v", err)
	}
	return v
}

func sampleAuthority(id string, v governance.VersionID) governance.CompiledAuthority {
	return governance.CompiledAuthority{
		ID:              id,
		VersionID:       v,
		CompilerVersion: "1.0.0",
		SourceHash:      "sha256:x",
		Scope:           []string{"auth"},
		Invariants: []governance.Invariant{
			{ID: "INV-1", Type: governance.InvariantForbiddenCapability, Value: "OAuth1"},
		},
	}
}

// ─── New / Initialization ───────────────────────────────────────────────────

func TestNew_IdempotentReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := store.New(store.Config{DataDir: dir})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	v, _, err := s1.CreateVersion(ctx, governance.SpecificationVersion{ProjectID: "p"}, "spec")
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	s1.Close()

	s2, err := store.New(store.Config{DataDir: dir})
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	got, err := s2.GetVersion(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetVersion after reopen: %v", err)
	}
	if got.ContentHash != v.ContentHash {
		t.Errorf("ContentHash = %q, want %q", got.ContentHash, v.ContentHash)
	}
}

// ─── Versions ────────────────────────────────────────────────────────────────

func TestCreateVersion_MonotonicIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1, _, _ := s.CreateVersion(ctx, governance.SpecificationVersion{ProjectID: "p"}, "a")
	v2, _, _ := s.CreateVersion(ctx, governance.SpecificationVersion{ProjectID: "p"}, "a")

	if v2.ID <= v1.ID {
		t.Errorf("v2.ID = %d, want > %d", v2.ID, v1.ID)
	}
	if v1.Status != governance.VersionDraft {
		t.Errorf("Status = %q, want draft", v1.Status)
	}
	if v1.ContentRef != v2.ContentRef {
		t.Error("identical content should share one content ref")
	}
}

func TestCreateVersion_IdempotencyKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1, created, err := s.CreateVersion(ctx, governance.SpecificationVersion{ProjectID: "p", IdempotencyKey: "k1"}, "a")
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	v2, created, err := s.CreateVersion(ctx, governance.SpecificationVersion{ProjectID: "p", IdempotencyKey: "k1"}, "b")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Error("created = true on repeated key, want false")
	}
	if v2.ID != v1.ID {
		t.Errorf("ID = %d, want %d", v2.ID, v1.ID)
	}

	content, _ := s.VersionContent(ctx, v1.ID)
	if content != "a" {
		t.Errorf("content = %q, want %q", content, "a")
	}
}

func TestGetVersion_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetVersion(context.Background(), 42)
	if !errors.Is(err, governance.NotFound) {
		t.Errorf("err = %v, want NotFound", err)
	}
}

func TestApproveVersion_RequiresPendingReview(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, _, _ := s.CreateVersion(ctx, governance.SpecificationVersion{ProjectID: "p"}, "a")
	_, err := s.ApproveVersion(ctx, v.ID, "ana", "")
	if !errors.Is(err, governance.InvalidTransition) {
		t.Fatalf("err = %v, want InvalidTransition", err)
	}

	got, _ := s.GetVersion(ctx, v.ID)
	if got.Status != governance.VersionDraft {
		t.Errorf("Status = %q, want draft (no partial write)", got.Status)
	}
}

func TestApproveVersion_SupersedesPrevious(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1 := approvedVersion(t, s, "p", "one")
	v2 := approvedVersion(t, s, "p", "two")
	other := approvedVersion(t, s, "q", "three")

	got1, _ := s.GetVersion(ctx, v1.ID)
	if got1.Status != governance.VersionSuperseded {
		t.Errorf("v1 status = %q, want superseded", got1.Status)
	}
	if v2.Status != governance.VersionApproved || v2.Approver != "ana" {
		t.Errorf("v2 = %+v, want approved by ana", v2)
	}
	gotOther, _ := s.GetVersion(ctx, other.ID)
	if gotOther.Status != governance.VersionApproved {
		t.Error("approval in project p superseded a version of project q")
	}

	latest, err := s.LatestApprovedVersion(ctx, "p")
	if err != nil || latest.ID != v2.ID {
		t.Errorf("LatestApprovedVersion = %v, %v; want %d", latest, err, v2.ID)
	}
}

func TestCreateChangeReview_OnlyFromDraft(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := approvedVersion(t, s, "p", "one")
	_, err := s.CreateChangeReview(ctx, governance.ChangeReview{ID: "r2", VersionID: v.ID})
	if !errors.Is(err, governance.InvalidTransition) {
		t.Errorf("err = %v, want InvalidTransition", err)
	}
	if _, err := s.CreateChangeReview(ctx, governance.ChangeReview{ID: "r3", VersionID: 999}); !errors.Is(err, governance.NotFound) {
		t.Errorf("missing version err = %v, want NotFound", err)
	}
}

// ─── Authorities ─────────────────────────────────────────────────────────────

func TestInsertAuthority_UniquePerVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v := approvedVersion(t, s, "p", "one")

	if _, err := s.InsertAuthority(ctx, sampleAuthority("a1", v.ID)); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := s.InsertAuthority(ctx, sampleAuthority("a2", v.ID))
	if !errors.Is(err, governance.AlreadyCompiled) {
		t.Fatalf("second insert err = %v, want AlreadyCompiled", err)
	}

	got, err := s.AuthorityForVersion(ctx, v.ID)
	if err != nil {
		t.Fatalf("AuthorityForVersion: %v", err)
	}
	if got.ID != "a1" {
		t.Errorf("ID = %q, want a1", got.ID)
	}
	if len(got.Invariants) != 1 || got.Invariants[0].Value != "OAuth1" {
		t.Errorf("Invariants = %+v", got.Invariants)
	}
}

func TestAuthorityForVersion_NotCompiled(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AuthorityForVersion(context.Background(), 7)
	if !errors.Is(err, governance.NotCompiled) {
		t.Errorf("err = %v, want NotCompiled", err)
	}
}

// ─── Acceptance ──────────────────────────────────────────────────────────────

func TestAppendAcceptance_LatestWinsAndKeyDedupes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v := approvedVersion(t, s, "p", "one")

	rec := func(id string, d governance.Decision, key string) governance.AcceptanceRecord {
		return governance.AcceptanceRecord{ID: id, ProjectID: "p", VersionID: v.ID, Decision: d,
			Policy: governance.PolicyManual, Reviewer: "ana", IdempotencyKey: key}
	}

	r1, appended, err := s.AppendAcceptance(ctx, rec("r1", governance.DecisionAccepted, "k1"))
	if err != nil || !appended {
		t.Fatalf("append r1: appended=%v err=%v", appended, err)
	}
	if _, _, err := s.AppendAcceptance(ctx, rec("r2", governance.DecisionRejected, "")); err != nil {
		t.Fatalf("append r2: %v", err)
	}
	again, appended, err := s.AppendAcceptance(ctx, rec("r3", governance.DecisionAccepted, "k1"))
	if err != nil {
		t.Fatalf("append r3: %v", err)
	}
	if appended || again.ID != r1.ID {
		t.Errorf("repeated key appended=%v id=%q, want false/%q", appended, again.ID, r1.ID)
	}

	latest, err := s.LatestAcceptance(ctx, "p", v.ID)
	if err != nil {
		t.Fatalf("LatestAcceptance: %v", err)
	}
	if latest.ID != "r2" || latest.Decision != governance.DecisionRejected {
		t.Errorf("latest = %s/%s, want r2/rejected", latest.ID, latest.Decision)
	}

	history, _ := s.AcceptanceHistory(ctx, "p", v.ID)
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	if history[0].Seq >= history[1].Seq {
		t.Error("history not ordered by seq")
	}
}

// ─── Validation ──────────────────────────────────────────────────────────────

func TestRecordValidation_PinFollowsOutcome(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v := approvedVersion(t, s, "p", "one")

	art := governance.Artifact{ID: "art-1", ProjectID: "p", Kind: governance.KindStory, Title: "Login",
		Status: governance.ArtifactDraft, ContentHash: "h"}

	pass := governance.ValidationEvidence{ID: "ev-1", ArtifactID: art.ID, ProjectID: "p", VersionID: v.ID,
		ValidatorVersion: "1.0.0", Passed: true, AttemptKey: "a1", ReliedInvariants: []string{"INV-1"}}
	if _, _, err := s.RecordValidation(ctx, art, pass); err != nil {
		t.Fatalf("RecordValidation pass: %v", err)
	}
	got, _ := s.GetArtifact(ctx, art.ID)
	if got.AcceptedSpecVersionID != v.ID {
		t.Errorf("pin = %d, want %d", got.AcceptedSpecVersionID, v.ID)
	}

	fail := pass
	fail.ID, fail.AttemptKey, fail.Passed = "ev-2", "a2", false
	if _, _, err := s.RecordValidation(ctx, art, fail); err != nil {
		t.Fatalf("RecordValidation fail: %v", err)
	}
	got, _ = s.GetArtifact(ctx, art.ID)
	if got.AcceptedSpecVersionID != 0 {
		t.Errorf("pin = %d after failing evidence, want 0", got.AcceptedSpecVersionID)
	}

	evs, _ := s.EvidenceForArtifact(ctx, art.ID)
	if len(evs) != 2 {
		t.Errorf("evidence rows = %d, want 2", len(evs))
	}

	var artifacts int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM artifacts`).Scan(&artifacts); err != nil {
		t.Fatal(err)
	}
	if artifacts != 1 {
		t.Errorf("artifact rows = %d, want 1 (upsert)", artifacts)
	}
}

func TestRecordValidation_AttemptKeyDedupes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v := approvedVersion(t, s, "p", "one")

	art := governance.Artifact{ID: "art-1", ProjectID: "p", Kind: governance.KindVision, Title: "V", Status: governance.ArtifactDraft}
	ev := governance.ValidationEvidence{ID: "ev-1", ArtifactID: art.ID, ProjectID: "p", VersionID: v.ID, Passed: true, AttemptKey: "same"}

	first, recorded, _ := s.RecordValidation(ctx, art, ev)
	if !recorded {
		t.Fatal("first attempt not recorded")
	}
	ev.ID = "ev-2"
	second, recorded, err := s.RecordValidation(ctx, art, ev)
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if recorded || second.ID != first.ID {
		t.Errorf("recorded=%v id=%q, want false/%q", recorded, second.ID, first.ID)
	}
}

func TestRecordValidation_AttemptKeyBoundToInput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v := approvedVersion(t, s, "p", "one")

	art := governance.Artifact{ID: "art-1", ProjectID: "p", Kind: governance.KindStory, Title: "Login",
		Status: governance.ArtifactDraft, ContentHash: "h1"}
	ev := governance.ValidationEvidence{ID: "ev-1", ArtifactID: art.ID, ProjectID: "p", VersionID: v.ID,
		InputHash: "h1", Passed: true, AttemptKey: "k"}
	if _, _, err := s.RecordValidation(ctx, art, ev); err != nil {
		t.Fatalf("first attempt: %v", err)
	}

	tests := []struct {
		name   string
		change func(a *governance.Artifact, e *governance.ValidationEvidence)
	}{
		{"other artifact", func(a *governance.Artifact, e *governance.ValidationEvidence) {
			a.ID, e.ArtifactID = "art-2", "art-2"
		}},
		{"other project", func(a *governance.Artifact, e *governance.ValidationEvidence) {
			a.ID, e.ArtifactID = "art-3", "art-3"
			a.ProjectID, e.ProjectID = "q", "q"
		}},
		{"other version", func(a *governance.Artifact, e *governance.ValidationEvidence) {
			e.VersionID = v.ID + 1
		}},
		{"other content", func(a *governance.Artifact, e *governance.ValidationEvidence) {
			a.ContentHash, e.InputHash = "h2", "h2"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, e := art, ev
			e.ID = "ev-" + tt.name
			tt.change(&a, &e)

			_, recorded, err := s.RecordValidation(ctx, a, e)
			if !errors.Is(err, governance.InvalidInput) {
				t.Fatalf("err = %v, want InvalidInput", err)
			}
			if recorded {
				t.Error("recorded = true for a reused attempt key")
			}
			if a.ID != art.ID {
				if _, err := s.GetArtifact(ctx, a.ID); !errors.Is(err, governance.NotFound) {
					t.Errorf("artifact %s stored: err = %v", a.ID, err)
				}
			}
		})
	}
}

func TestArtifactsValidatedUnder_LatestPassingEvidence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v := approvedVersion(t, s, "p", "one")

	for i, id := range []string{"b", "a"} {
		art := governance.Artifact{ID: id, ProjectID: "p", Kind: governance.KindStory, Title: id, Status: governance.ArtifactInProgress}
		ev := governance.ValidationEvidence{ID: "ev-" + id, ArtifactID: id, ProjectID: "p", VersionID: v.ID, Passed: true,
			ReliedInvariants: []string{"INV-1"}}
		if _, _, err := s.RecordValidation(ctx, art, ev); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	art := governance.Artifact{ID: "a", ProjectID: "p", Kind: governance.KindStory, Title: "a", Status: governance.ArtifactInProgress}
	later := governance.ValidationEvidence{ID: "ev-a2", ArtifactID: "a", ProjectID: "p", VersionID: v.ID, Passed: true,
		ReliedInvariants: []string{"INV-2"}}
	if _, _, err := s.RecordValidation(ctx, art, later); err != nil {
		t.Fatalf("record later: %v", err)
	}

	got, err := s.ArtifactsValidatedUnder(ctx, v.ID)
	if err != nil {
		t.Fatalf("ArtifactsValidatedUnder: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Artifact.ID != "a" || got[1].Artifact.ID != "b" {
		t.Errorf("order = %s,%s, want a,b", got[0].Artifact.ID, got[1].Artifact.ID)
	}
	if got[0].Evidence.ID != "ev-a2" {
		t.Errorf("evidence for a = %q, want ev-a2", got[0].Evidence.ID)
	}

	counts, _ := s.PinnedArtifactCounts(ctx, "p", v.ID)
	if counts[governance.KindStory] != 2 {
		t.Errorf("pinned stories = %d, want 2", counts[governance.KindStory])
	}
}

func TestSetArtifactStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v := approvedVersion(t, s, "p", "one")

	art := governance.Artifact{ID: "x", ProjectID: "p", Kind: governance.KindStory, Title: "x", Status: governance.ArtifactDraft}
	if _, _, err := s.RecordValidation(ctx, art, governance.ValidationEvidence{ID: "e", ArtifactID: "x", ProjectID: "p", VersionID: v.ID}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetArtifactStatus(ctx, "x", governance.ArtifactCompleted); err != nil {
		t.Fatalf("SetArtifactStatus: %v", err)
	}
	got, _ := s.GetArtifact(ctx, "x")
	if got.Status != governance.ArtifactCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if err := s.SetArtifactStatus(ctx, "missing", governance.ArtifactCompleted); !errors.Is(err, governance.NotFound) {
		t.Errorf("missing artifact err = %v, want NotFound", err)
	}
	if err := s.SetArtifactStatus(ctx, "x", "paused"); !errors.Is(err, governance.InvalidInput) {
		t.Errorf("bad status err = %v, want InvalidInput", err)
	}
}

// ─── Impact reports ──────────────────────────────────────────────────────────

func TestImpactReport_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v1 := approvedVersion(t, s, "p", "one")
	v2 := approvedVersion(t, s, "p", "two")

	r := governance.ImpactReport{ID: "ir-1", FromVersion: v1.ID, ToVersion: v2.ID, Blocking: []string{"a"}}
	if _, err := s.InsertImpactReport(ctx, r); err != nil {
		t.Fatalf("InsertImpactReport: %v", err)
	}
	got, err := s.GetImpactReport(ctx, "ir-1")
	if err != nil {
		t.Fatalf("GetImpactReport: %v", err)
	}
	if len(got.Blocking) != 1 || got.Blocking[0] != "a" {
		t.Errorf("Blocking = %v", got.Blocking)
	}
}
