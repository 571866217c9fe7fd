// Package ledger is the append-only record of acceptance decisions.
//
// RequireAccepted is the single choke point every governance boundary
// goes through: the validation gate, workflow guards and the generation
// entry point all ask it, and nothing else decides whether a version may
// be relied on.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/HendryAvila/specgate/internal/governance"
	"github.com/HendryAvila/specgate/internal/metrics"
	"github.com/HendryAvila/specgate/internal/store"
)

// ErrUnaccepted is returned by CurrentDecision when a pair has no record.
var ErrUnaccepted = governance.Unaccepted

// SystemReviewer is the reviewer recorded on automatic decisions.
const SystemReviewer = "system:compiler"

// DecideRequest is an acceptance decision to append.
type DecideRequest struct {
	VersionID      governance.VersionID
	Decision       governance.Decision
	Reviewer       string
	Rationale      string
	Policy         governance.AcceptancePolicy
	IdempotencyKey string
}

// Ledger appends and reads acceptance records.
type Ledger struct {
	store   *store.Store
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the ledger logger.
func WithLogger(l *slog.Logger) Option { return func(lg *Ledger) { lg.log = l } }

// WithMetrics records decisions on m.
func WithMetrics(m *metrics.Metrics) Option { return func(lg *Ledger) { lg.metrics = m } }

// New creates a Ledger.
func New(s *store.Store, opts ...Option) *Ledger {
	l := &Ledger{store: s, log: slog.Default()}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Decide appends a decision for a version. An accepted decision requires
// a compiled authority. A repeated idempotency key returns the record
// stored under it instead of appending.
func (l *Ledger) Decide(ctx context.Context, req DecideRequest) (*governance.AcceptanceRecord, error) {
	const op = "ledger.decide"
	if req.VersionID.IsZero() {
		return nil, governance.E(governance.MissingVersionPin, op, "a version id is required")
	}
	if req.Decision != governance.DecisionAccepted && req.Decision != governance.DecisionRejected {
		return nil, governance.E(governance.InvalidInput, op, "invalid decision %q", req.Decision)
	}
	if req.Policy == "" {
		req.Policy = governance.PolicyManual
	}
	if req.Policy != governance.PolicyManual && req.Policy != governance.PolicyAutoAcceptOnCompile {
		return nil, governance.E(governance.InvalidInput, op, "invalid policy %q", req.Policy)
	}
	if strings.TrimSpace(req.Reviewer) == "" {
		if req.Policy != governance.PolicyAutoAcceptOnCompile {
			return nil, governance.E(governance.InvalidInput, op, "reviewer is required")
		}
		req.Reviewer = SystemReviewer
	}

	v, err := l.store.GetVersion(ctx, req.VersionID)
	if err != nil {
		return nil, err
	}
	if req.Decision == governance.DecisionAccepted {
		if _, err := l.store.AuthorityForVersion(ctx, req.VersionID); err != nil {
			return nil, err
		}
	}

	rec, appended, err := l.store.AppendAcceptance(ctx, governance.AcceptanceRecord{
		ID:             uuid.NewString(),
		ProjectID:      v.ProjectID,
		VersionID:      req.VersionID,
		Decision:       req.Decision,
		Policy:         req.Policy,
		Reviewer:       req.Reviewer,
		Rationale:      req.Rationale,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	if appended {
		l.metrics.ObserveAcceptance(string(rec.Decision), string(rec.Policy))
		l.log.Info("acceptance decided", "project", rec.ProjectID, "version_id", int64(rec.VersionID),
			"record_id", rec.ID, "decision", rec.Decision, "policy", rec.Policy, "reviewer", rec.Reviewer)
	}
	return rec, nil
}

// CurrentDecision returns the most recent record for (project, version),
// or an Unaccepted error when there is none.
func (l *Ledger) CurrentDecision(ctx context.Context, projectID string, versionID governance.VersionID) (*governance.AcceptanceRecord, error) {
	rec, err := l.store.LatestAcceptance(ctx, projectID, versionID)
	if errors.Is(err, governance.NotFound) {
		return nil, governance.E(governance.Unaccepted, "ledger.current_decision",
			"no acceptance decision for %s version %d", projectID, versionID)
	}
	return rec, err
}

// RequireAccepted returns nil only when the current decision for
// (project, version) is accepted. A zero version is MissingVersionPin;
// everything else that is not accepted is AcceptanceGateBlocked.
func (l *Ledger) RequireAccepted(ctx context.Context, projectID string, versionID governance.VersionID) error {
	const op = "ledger.require_accepted"
	if versionID.IsZero() {
		return governance.E(governance.MissingVersionPin, op, "no specification version pinned")
	}
	rec, err := l.CurrentDecision(ctx, projectID, versionID)
	if errors.Is(err, governance.Unaccepted) {
		return governance.E(governance.AcceptanceGateBlocked, op,
			"version %d of %s has no acceptance decision", versionID, projectID)
	}
	if err != nil {
		return err
	}
	if rec.Decision != governance.DecisionAccepted {
		return governance.E(governance.AcceptanceGateBlocked, op,
			"version %d of %s was %s by %s (record %s)", versionID, projectID, rec.Decision, rec.Reviewer, rec.ID)
	}
	return nil
}

// History returns every record for (project, version) in sequence order.
func (l *Ledger) History(ctx context.Context, projectID string, versionID governance.VersionID) ([]governance.AcceptanceRecord, error) {
	return l.store.AcceptanceHistory(ctx, projectID, versionID)
}
