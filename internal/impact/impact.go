// Package impact compares two compiled authorities and classifies the
// artifacts validated under the older one.
//
// Diff only reads. Nothing is paused, unpinned or re-validated as a side
// effect; callers decide what to do with the report and may persist it
// with Record.
package impact

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/HendryAvila/specgate/internal/gate"
	"github.com/HendryAvila/specgate/internal/governance"
	"github.com/HendryAvila/specgate/internal/store"
)

// Analyzer produces impact reports.
type Analyzer struct {
	store *store.Store
	log   *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the analyzer logger.
func WithLogger(l *slog.Logger) Option { return func(a *Analyzer) { a.log = l } }

// New creates an Analyzer.
func New(s *store.Store, opts ...Option) *Analyzer {
	a := &Analyzer{store: s, log: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Diff compares the authorities of two versions of one project.
func (an *Analyzer) Diff(ctx context.Context, from, to governance.VersionID) (*governance.ImpactReport, error) {
	const op = "impact.diff"
	if from.IsZero() || to.IsZero() {
		return nil, governance.E(governance.MissingVersionPin, op, "both versions are required")
	}
	fromV, err := an.store.GetVersion(ctx, from)
	if err != nil {
		return nil, err
	}
	toV, err := an.store.GetVersion(ctx, to)
	if err != nil {
		return nil, err
	}
	if fromV.ProjectID != toV.ProjectID {
		return nil, governance.E(governance.InvalidInput, op,
			"version %d belongs to %s and version %d to %s", from, fromV.ProjectID, to, toV.ProjectID)
	}

	oldAuth, err := an.store.AuthorityForVersion(ctx, from)
	if err != nil {
		return nil, err
	}
	newAuth, err := an.store.AuthorityForVersion(ctx, to)
	if err != nil {
		return nil, err
	}

	validated, err := an.store.ArtifactsValidatedUnder(ctx, from)
	if err != nil {
		return nil, err
	}

	report := Compare(oldAuth, newAuth, validated)
	an.log.Debug("impact computed", "project", fromV.ProjectID, "from", int64(from), "to", int64(to),
		"artifacts", len(validated), "blocking", len(report.Blocking), "needs_rewrite", len(report.NeedsRewrite))
	return report, nil
}

// Record persists a report under a fresh id.
func (an *Analyzer) Record(ctx context.Context, report *governance.ImpactReport) (*governance.ImpactReport, error) {
	r := *report
	r.ID = uuid.NewString()
	r.CreatedAt = governance.Timestamp()
	out, err := an.store.InsertImpactReport(ctx, r)
	if err != nil {
		return nil, err
	}
	an.log.Info("impact report recorded", "report_id", out.ID, "from", int64(out.FromVersion), "to", int64(out.ToVersion))
	return out, nil
}

// Get returns a recorded report.
func (an *Analyzer) Get(ctx context.Context, id string) (*governance.ImpactReport, error) {
	return an.store.GetImpactReport(ctx, id)
}

// ─── Pure comparison ────────────────────────────────────────────────────────

// Compare builds the report for moving artifacts from oldAuth to newAuth.
// It depends on its arguments only.
func Compare(oldAuth, newAuth *governance.CompiledAuthority, validated []store.ValidatedArtifact) *governance.ImpactReport {
	changes := Changes(oldAuth, newAuth)
	report := &governance.ImpactReport{
		FromVersion:       oldAuth.VersionID,
		ToVersion:         newAuth.VersionID,
		Changes:           changes,
		NoImpact:          []string{},
		NeedsRevalidation: []string{},
		NeedsRewrite:      []string{},
		Blocking:          []string{},
	}

	for _, va := range validated {
		switch Classify(&va.Artifact, va.Evidence.ReliedInvariants, changes, newAuth) {
		case governance.ImpactBlocking:
			report.Blocking = append(report.Blocking, va.Artifact.ID)
		case governance.ImpactNeedsRewrite:
			report.NeedsRewrite = append(report.NeedsRewrite, va.Artifact.ID)
		case governance.ImpactNeedsRevalidation:
			report.NeedsRevalidation = append(report.NeedsRevalidation, va.Artifact.ID)
		default:
			report.NoImpact = append(report.NoImpact, va.Artifact.ID)
		}
	}
	sort.Strings(report.NoImpact)
	sort.Strings(report.NeedsRevalidation)
	sort.Strings(report.NeedsRewrite)
	sort.Strings(report.Blocking)
	return report
}

// Changes lists invariant and scope differences, sorted by id and topic.
func Changes(oldAuth, newAuth *governance.CompiledAuthority) governance.ChangeSummary {
	summary := governance.ChangeSummary{
		Invariants: []governance.InvariantChange{},
		Scope:      []governance.ScopeChange{},
	}

	oldInv := make(map[string]governance.Invariant, len(oldAuth.Invariants))
	for _, inv := range oldAuth.Invariants {
		oldInv[inv.ID] = inv
	}
	newInv := make(map[string]governance.Invariant, len(newAuth.Invariants))
	for _, inv := range newAuth.Invariants {
		newInv[inv.ID] = inv
	}

	for id, o := range oldInv {
		n, ok := newInv[id]
		if !ok {
			summary.Invariants = append(summary.Invariants, governance.InvariantChange{
				InvariantID: id, Op: governance.ChangeRemoved, Type: o.Type, Breaking: true,
				Detail: fmt.Sprintf("%s %q removed", o.Type, o.Value),
			})
			continue
		}
		if detail, changed := modified(o, n); changed {
			summary.Invariants = append(summary.Invariants, governance.InvariantChange{
				InvariantID: id, Op: governance.ChangeModified, Type: n.Type, Breaking: o.Type != n.Type,
				Detail: detail,
			})
		}
	}
	for id, n := range newInv {
		if _, ok := oldInv[id]; !ok {
			summary.Invariants = append(summary.Invariants, governance.InvariantChange{
				InvariantID: id, Op: governance.ChangeAdded, Type: n.Type,
				Detail: fmt.Sprintf("%s %q added", n.Type, n.Value),
			})
		}
	}
	sort.Slice(summary.Invariants, func(i, j int) bool {
		return summary.Invariants[i].InvariantID < summary.Invariants[j].InvariantID
	})

	oldScope := topicSet(oldAuth.Scope)
	newScope := topicSet(newAuth.Scope)
	for t := range oldScope {
		if !newScope[t] {
			summary.Scope = append(summary.Scope, governance.ScopeChange{Topic: t, Op: governance.ChangeRemoved, Breaking: true})
		}
	}
	for t := range newScope {
		if !oldScope[t] {
			summary.Scope = append(summary.Scope, governance.ScopeChange{Topic: t, Op: governance.ChangeAdded})
		}
	}
	sort.Slice(summary.Scope, func(i, j int) bool { return summary.Scope[i].Topic < summary.Scope[j].Topic })
	return summary
}

func modified(o, n governance.Invariant) (string, bool) {
	var parts []string
	if o.Type != n.Type {
		parts = append(parts, fmt.Sprintf("type %s -> %s", o.Type, n.Type))
	}
	if o.Value != n.Value {
		parts = append(parts, fmt.Sprintf("value %q -> %q", o.Value, n.Value))
	}
	if !sameKinds(o.AppliesTo, n.AppliesTo) {
		parts = append(parts, "applies_to changed")
	}
	return strings.Join(parts, "; "), len(parts) > 0
}

func sameKinds(a, b []governance.ArtifactKind) bool {
	sa := append([]governance.ArtifactKind(nil), a...)
	sb := append([]governance.ArtifactKind(nil), b...)
	sort.Slice(sa, func(i, j int) bool { return sa[i] < sa[j] })
	sort.Slice(sb, func(i, j int) bool { return sb[i] < sb[j] })
	if len(sa) != len(sb) {
		return false
	}
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

func topicSet(topics []string) map[string]bool {
	out := make(map[string]bool, len(topics))
	for _, t := range topics {
		out[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return out
}

// Classify places one artifact given the invariants its evidence relied
// on. Rules apply in order:
//
//	completed, no relied invariant changed → no_impact
//	in_progress, breaking change           → blocking
//	any other breaking change              → needs_rewrite
//	non-breaking relied change             → needs_revalidation
//	otherwise                              → no_impact
//
// A change is breaking when it removes or retypes a relied invariant,
// adds a forbidden capability the artifact already mentions, or removes a
// scope topic the artifact carries.
func Classify(a *governance.Artifact, relied []string, changes governance.ChangeSummary, newAuth *governance.CompiledAuthority) governance.Impact {
	reliedBreaking, reliedNonBreaking := reliedChanges(relied, changes)
	if a.Status == governance.ArtifactCompleted && !reliedBreaking && !reliedNonBreaking {
		return governance.ImpactNone
	}

	breaking := reliedBreaking || breaksArtifact(a, changes, newAuth)
	switch {
	case breaking && a.Status == governance.ArtifactInProgress:
		return governance.ImpactBlocking
	case breaking:
		return governance.ImpactNeedsRewrite
	case reliedNonBreaking:
		return governance.ImpactNeedsRevalidation
	}
	return governance.ImpactNone
}

// reliedChanges reports whether a relied invariant was modified or
// removed, split by whether the change is breaking.
func reliedChanges(relied []string, changes governance.ChangeSummary) (breaking, nonBreaking bool) {
	reliedSet := make(map[string]bool, len(relied))
	for _, id := range relied {
		reliedSet[id] = true
	}
	for _, c := range changes.Invariants {
		if c.Op == governance.ChangeAdded || !reliedSet[c.InvariantID] {
			continue
		}
		if c.Breaking {
			breaking = true
		} else {
			nonBreaking = true
		}
	}
	return breaking, nonBreaking
}

// breaksArtifact reports changes outside the relied set that the artifact
// cannot survive: an added forbidden capability its text already matches,
// or a removed scope topic it carries.
func breaksArtifact(a *governance.Artifact, changes governance.ChangeSummary, newAuth *governance.CompiledAuthority) bool {
	for _, c := range changes.Invariants {
		if c.Op != governance.ChangeAdded {
			continue
		}
		inv, ok := newAuth.Invariant(c.InvariantID)
		if !ok || inv.Type != governance.InvariantForbiddenCapability || !inv.Applies(a.Kind) {
			continue
		}
		if _, hit := gate.MatchTerm(inv.Value, a.Texts()); hit {
			return true
		}
	}

	topics := topicSet(a.Topics)
	for _, c := range changes.Scope {
		if c.Op == governance.ChangeRemoved && topics[c.Topic] {
			return true
		}
	}
	return false
}
