// Package gate validates artifacts against an explicitly pinned,
// accepted authority and records one piece of evidence per attempt.
//
// The gate never picks a version on its own. A request without a pin is
// refused, and so is a pin the acceptance ledger does not vouch for.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/HendryAvila/specgate/internal/governance"
	"github.com/HendryAvila/specgate/internal/ledger"
	"github.com/HendryAvila/specgate/internal/metrics"
	"github.com/HendryAvila/specgate/internal/store"
)

// DefaultValidatorVersion is stamped on evidence when none is configured.
const DefaultValidatorVersion = "1.0.0"

// Request is one validation attempt.
type Request struct {
	Artifact  governance.Artifact
	ProjectID string
	VersionID governance.VersionID
	// AttemptKey makes retries of the same attempt return the first
	// evidence instead of recording a second one.
	AttemptKey string
}

// Gate evaluates artifacts.
type Gate struct {
	store     *store.Store
	ledger    *ledger.Ledger
	validator string
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the gate logger.
func WithLogger(l *slog.Logger) Option { return func(g *Gate) { g.log = l } }

// WithMetrics records validations on m.
func WithMetrics(m *metrics.Metrics) Option { return func(g *Gate) { g.metrics = m } }

// New creates a Gate. validatorVersion must be semver; empty selects
// DefaultValidatorVersion.
func New(s *store.Store, l *ledger.Ledger, validatorVersion string, opts ...Option) (*Gate, error) {
	if validatorVersion == "" {
		validatorVersion = DefaultValidatorVersion
	}
	v, err := semver.NewVersion(validatorVersion)
	if err != nil {
		return nil, fmt.Errorf("gate: invalid validator version %q: %w", validatorVersion, err)
	}
	g := &Gate{store: s, ledger: l, validator: v.String(), log: slog.Default()}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// ValidatorVersion returns the tag stamped on evidence.
func (g *Gate) ValidatorVersion() string { return g.validator }

// Validate checks an artifact against the authority of the pinned
// version. Rule failures are reported through the returned evidence, not
// as errors; errors mean the attempt never reached the rules.
func (g *Gate) Validate(ctx context.Context, req Request) (*governance.ValidationEvidence, error) {
	const op = "gate.validate"
	start := time.Now()

	if req.VersionID.IsZero() {
		g.metrics.ObserveValidation("blocked", time.Since(start))
		return nil, governance.E(governance.MissingVersionPin, op, "validation requires an explicit specification version")
	}

	a, err := g.normalize(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := g.ledger.RequireAccepted(ctx, a.ProjectID, req.VersionID); err != nil {
		g.metrics.ObserveValidation("blocked", time.Since(start))
		g.log.Warn("validation blocked", "project", a.ProjectID, "version_id", int64(req.VersionID),
			"artifact_id", a.ID, "error", err)
		return nil, err
	}

	if req.AttemptKey != "" {
		ev, err := g.replay(ctx, req, a)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			g.metrics.ObserveValidation("replayed", time.Since(start))
			return ev, nil
		}
	}

	auth, err := g.authority(ctx, req.VersionID)
	if err != nil {
		g.metrics.ObserveValidation("blocked", time.Since(start))
		return nil, err
	}

	rules, relied := Evaluate(&a, auth)
	passed := true
	for _, r := range rules {
		if !r.Passed {
			passed = false
			break
		}
	}

	ev, recorded, err := g.store.RecordValidation(ctx, a, governance.ValidationEvidence{
		ID:               uuid.NewString(),
		ArtifactID:       a.ID,
		ProjectID:        a.ProjectID,
		VersionID:        req.VersionID,
		ValidatorVersion: g.validator,
		InputHash:        a.ContentHash,
		Rules:            rules,
		Passed:           passed,
		Warnings:         Warnings(&a, auth),
		ReliedInvariants: relied,
		AttemptKey:       req.AttemptKey,
	})
	if err != nil {
		return nil, err
	}

	outcome := "pass"
	switch {
	case !recorded:
		outcome = "replayed"
	case !ev.Passed:
		outcome = "fail"
	}
	g.metrics.ObserveValidation(outcome, time.Since(start))

	if ev.Passed {
		g.log.Info("artifact validated", "project", ev.ProjectID, "version_id", int64(ev.VersionID),
			"artifact_id", ev.ArtifactID, "evidence_id", ev.ID)
	} else {
		g.log.Warn("artifact rejected", "project", ev.ProjectID, "version_id", int64(ev.VersionID),
			"artifact_id", ev.ArtifactID, "evidence_id", ev.ID, "reasons", strings.Join(ev.Reasons(), "; "))
	}
	return ev, nil
}

// replay returns the evidence already recorded under the request's
// attempt key, or nil when the key is new. A key recorded for another
// input is refused. An artifact without a caller-supplied id matches on
// project, version and content alone.
func (g *Gate) replay(ctx context.Context, req Request, a governance.Artifact) (*governance.ValidationEvidence, error) {
	ev, err := g.store.EvidenceByAttemptKey(ctx, req.AttemptKey)
	if errors.Is(err, governance.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	want := governance.ValidationEvidence{
		ArtifactID: a.ID,
		ProjectID:  a.ProjectID,
		VersionID:  req.VersionID,
		InputHash:  a.ContentHash,
	}
	if req.Artifact.ID == "" {
		want.ArtifactID = ev.ArtifactID
	}
	if !ev.SameAttempt(&want) {
		return nil, governance.E(governance.InvalidInput, "gate.validate",
			"attempt key %q was recorded for a different validation input", req.AttemptKey)
	}
	return ev, nil
}

// normalize fills identity, project, status and hash on the artifact.
// An existing artifact keeps its creation time and lifecycle status.
func (g *Gate) normalize(ctx context.Context, req Request) (governance.Artifact, error) {
	const op = "gate.validate"
	a := req.Artifact
	if a.ProjectID == "" {
		a.ProjectID = req.ProjectID
	}
	if a.ProjectID == "" {
		return a, governance.E(governance.InvalidInput, op, "project id is required")
	}
	if req.ProjectID != "" && a.ProjectID != req.ProjectID {
		return a, governance.E(governance.InvalidInput, op,
			"artifact belongs to %s, not %s", a.ProjectID, req.ProjectID)
	}
	if !governance.ValidArtifactKind(a.Kind) {
		return a, governance.E(governance.InvalidInput, op, "invalid artifact kind %q", a.Kind)
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
		a.Status = governance.ArtifactDraft
	} else {
		existing, err := g.store.GetArtifact(ctx, a.ID)
		switch {
		case err == nil:
			if existing.ProjectID != a.ProjectID {
				return a, governance.E(governance.InvalidInput, op,
					"artifact %s belongs to %s", a.ID, existing.ProjectID)
			}
			a.Status = existing.Status
			a.CreatedAt = existing.CreatedAt
		case errors.Is(err, governance.NotFound):
			a.Status = governance.ArtifactDraft
		default:
			return a, err
		}
	}

	hash, err := a.Hash()
	if err != nil {
		return a, fmt.Errorf("%s: hash artifact: %w", op, err)
	}
	a.ContentHash = hash
	return a, nil
}

// authority loads the authority for a version and refuses it when its
// source hash no longer matches the version content.
func (g *Gate) authority(ctx context.Context, versionID governance.VersionID) (*governance.CompiledAuthority, error) {
	v, err := g.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	auth, err := g.store.AuthorityForVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if auth.SourceHash != v.ContentHash {
		return nil, governance.E(governance.StaleAuthority, "gate.validate",
			"authority %s was compiled from different content than version %d", auth.ID, versionID)
	}
	return auth, nil
}
