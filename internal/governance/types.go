// Package governance holds the domain types shared by every specgate
// component: specification versions, compiled authorities, acceptance
// records, artifacts, validation evidence and impact reports, together
// with the error taxonomy and content hashing.
//
// Types here are plain data. Lifecycle rules live in the components that
// own each record (registry, compiler, ledger, gate, impact, workflow).
package governance

import (
	"fmt"
	"sort"
	"strings"
)

// VersionID identifies a specification version. IDs are monotonic and
// never reused. The zero value means "no version pinned".
type VersionID int64

// IsZero reports whether no version is set.
func (v VersionID) IsZero() bool { return v == 0 }

func (v VersionID) String() string { return fmt.Sprintf("v%d", int64(v)) }

// --- Specification version status enum ---

// VersionStatus is the lifecycle state of a specification version.
type VersionStatus string

const (
	VersionDraft         VersionStatus = "draft"
	VersionPendingReview VersionStatus = "pending_review"
	VersionApproved      VersionStatus = "approved"
	VersionSuperseded    VersionStatus = "superseded"
)

// --- Acceptance enums ---

// Decision is the outcome recorded in an acceptance record.
type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionRejected Decision = "rejected"
)

var validDecisions = map[Decision]bool{
	DecisionAccepted: true,
	DecisionRejected: true,
}

// ParseDecision returns the decision named by s.
func ParseDecision(s string) (Decision, error) {
	d := Decision(strings.ToLower(strings.TrimSpace(s)))
	if !validDecisions[d] {
		return "", E(InvalidInput, "parse decision", "invalid decision %q: must be one of: accepted, rejected", s)
	}
	return d, nil
}

// AcceptancePolicy tags how an acceptance record came to exist.
type AcceptancePolicy string

const (
	PolicyManual              AcceptancePolicy = "manual"
	PolicyAutoAcceptOnCompile AcceptancePolicy = "auto_accept_on_compile"
)

// --- Invariant type enum ---

// InvariantType classifies a compiled invariant.
type InvariantType string

const (
	InvariantForbiddenCapability InvariantType = "FORBIDDEN_CAPABILITY"
	InvariantRequiredField       InvariantType = "REQUIRED_FIELD"
	InvariantRequiredCapability  InvariantType = "REQUIRED_CAPABILITY"
	InvariantConstraint          InvariantType = "CONSTRAINT"
)

var validInvariantTypes = map[InvariantType]bool{
	InvariantForbiddenCapability: true,
	InvariantRequiredField:       true,
	InvariantRequiredCapability:  true,
	InvariantConstraint:          true,
}

// ValidInvariantType reports whether t is a known invariant type.
func ValidInvariantType(t InvariantType) bool { return validInvariantTypes[t] }

// --- Artifact enums ---

// ArtifactKind is the kind of planning artifact produced by generation.
type ArtifactKind string

const (
	KindVision      ArtifactKind = "vision"
	KindBacklogItem ArtifactKind = "backlog_item"
	KindRoadmap     ArtifactKind = "roadmap"
	KindStory       ArtifactKind = "story"
	KindSprintPlan  ArtifactKind = "sprint_plan"
)

// ArtifactKinds lists every artifact kind in generation order.
var ArtifactKinds = []ArtifactKind{KindVision, KindBacklogItem, KindRoadmap, KindStory, KindSprintPlan}

// ValidArtifactKind reports whether k is a known artifact kind.
func ValidArtifactKind(k ArtifactKind) bool {
	for _, known := range ArtifactKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ArtifactStatus is the delivery state of an artifact.
type ArtifactStatus string

const (
	ArtifactDraft      ArtifactStatus = "draft"
	ArtifactInProgress ArtifactStatus = "in_progress"
	ArtifactCompleted  ArtifactStatus = "completed"
)

var validArtifactStatuses = map[ArtifactStatus]bool{
	ArtifactDraft:      true,
	ArtifactInProgress: true,
	ArtifactCompleted:  true,
}

// ValidArtifactStatus reports whether s is a known artifact status.
func ValidArtifactStatus(s ArtifactStatus) bool { return validArtifactStatuses[s] }

// --- Core records ---

// SpecificationVersion is an immutable snapshot of specification content.
type SpecificationVersion struct {
	ID             VersionID     `json:"id"`
	ProjectID      string        `json:"project_id"`
	ContentRef     string        `json:"content_ref"`
	ContentHash    string        `json:"content_hash"`
	Status         VersionStatus `json:"status"`
	Approver       string        `json:"approver,omitempty"`
	ApprovalNotes  string        `json:"approval_notes,omitempty"`
	ApprovedAt     string        `json:"approved_at,omitempty"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	CreatedAt      string        `json:"created_at"`
}

// ChangeReview is the diff that moves a draft into pending review.
type ChangeReview struct {
	ID            string    `json:"id"`
	VersionID     VersionID `json:"version_id"`
	BaseVersionID VersionID `json:"base_version_id,omitempty"`
	Diff          string    `json:"diff"`
	LinesAdded    int       `json:"lines_added"`
	LinesRemoved  int       `json:"lines_removed"`
	CreatedAt     string    `json:"created_at"`
}

// Invariant is one typed rule of a compiled authority.
type Invariant struct {
	ID          string         `json:"id"`
	Type        InvariantType  `json:"type"`
	Value       string         `json:"value"`
	Description string         `json:"description,omitempty"`
	AppliesTo   []ArtifactKind `json:"applies_to,omitempty"`
}

// Applies reports whether the invariant governs artifacts of kind k.
// An empty AppliesTo list governs every kind.
func (inv Invariant) Applies(k ArtifactKind) bool {
	if len(inv.AppliesTo) == 0 {
		return true
	}
	for _, a := range inv.AppliesTo {
		if a == k {
			return true
		}
	}
	return false
}

// RejectedItem is a scope item the compiler excluded, with its reason.
type RejectedItem struct {
	Item   string `json:"item"`
	Reason string `json:"reason"`
}

// CompiledAuthority is the structured, immutable projection of one
// approved specification version.
type CompiledAuthority struct {
	ID                string         `json:"id"`
	VersionID         VersionID      `json:"version_id"`
	CompilerVersion   string         `json:"compiler_version"`
	PromptFingerprint string         `json:"prompt_fingerprint"`
	SourceHash        string         `json:"source_hash"`
	Scope             []string       `json:"scope"`
	Invariants        []Invariant    `json:"invariants"`
	EligibleItems     []string       `json:"eligible_items"`
	RejectedItems     []RejectedItem `json:"rejected_items"`
	OpenGaps          []string       `json:"open_gaps"`
	CompiledAt        string         `json:"compiled_at"`
}

// Invariant returns the invariant with the given id.
func (a *CompiledAuthority) Invariant(id string) (Invariant, bool) {
	for _, inv := range a.Invariants {
		if inv.ID == id {
			return inv, true
		}
	}
	return Invariant{}, false
}

// InScope reports whether topic belongs to the authority's scope.
// Comparison ignores case and surrounding space.
func (a *CompiledAuthority) InScope(topic string) bool {
	t := strings.ToLower(strings.TrimSpace(topic))
	for _, s := range a.Scope {
		if strings.ToLower(strings.TrimSpace(s)) == t {
			return true
		}
	}
	return false
}

// AcceptanceRecord is one append-only acceptance decision.
type AcceptanceRecord struct {
	ID             string           `json:"id"`
	Seq            int64            `json:"seq"`
	ProjectID      string           `json:"project_id"`
	VersionID      VersionID        `json:"version_id"`
	Decision       Decision         `json:"decision"`
	Policy         AcceptancePolicy `json:"policy"`
	Reviewer       string           `json:"reviewer"`
	Rationale      string           `json:"rationale,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	CreatedAt      string           `json:"created_at"`
}

// Artifact is a generated planning artifact subject to validation.
type Artifact struct {
	ID                    string            `json:"id"`
	ProjectID             string            `json:"project_id"`
	Kind                  ArtifactKind      `json:"kind"`
	Title                 string            `json:"title"`
	Body                  string            `json:"body,omitempty"`
	Fields                map[string]string `json:"fields,omitempty"`
	AcceptanceCriteria    []string          `json:"acceptance_criteria,omitempty"`
	Topics                []string          `json:"topics,omitempty"`
	Status                ArtifactStatus    `json:"status"`
	ContentHash           string            `json:"content_hash,omitempty"`
	AcceptedSpecVersionID VersionID         `json:"accepted_spec_version_id,omitempty"`
	CreatedAt             string            `json:"created_at,omitempty"`
	UpdatedAt             string            `json:"updated_at,omitempty"`
}

// Texts returns every free-text surface of the artifact in a stable
// order: title, body, field values sorted by key, acceptance criteria,
// topics.
func (a *Artifact) Texts() []string {
	out := []string{a.Title, a.Body}
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, a.Fields[k])
	}
	out = append(out, a.AcceptanceCriteria...)
	out = append(out, a.Topics...)
	return out
}

// Hash returns the content hash of the artifact's governed content.
// Identity and lifecycle columns do not contribute.
func (a *Artifact) Hash() (string, error) {
	return CanonicalHash(struct {
		Kind               ArtifactKind      `json:"kind"`
		Title              string            `json:"title"`
		Body               string            `json:"body"`
		Fields             map[string]string `json:"fields"`
		AcceptanceCriteria []string          `json:"acceptance_criteria"`
		Topics             []string          `json:"topics"`
	}{a.Kind, a.Title, a.Body, a.Fields, a.AcceptanceCriteria, a.Topics})
}

// --- Validation evidence ---

// RuleFamily groups validation rules.
type RuleFamily string

const (
	FamilyAlignment RuleFamily = "alignment"
	FamilyContract  RuleFamily = "contract"
)

// Rule identifiers.
const (
	RuleForbiddenCapability        = "RULE_FORBIDDEN_CAPABILITY"
	RuleRequiredField              = "RULE_REQUIRED_FIELD"
	RuleTitleRequired              = "RULE_TITLE_REQUIRED"
	RuleAcceptanceCriteriaRequired = "RULE_ACCEPTANCE_CRITERIA_REQUIRED"
)

// RuleEvaluation is the outcome of one rule against one artifact.
type RuleEvaluation struct {
	RuleID      string     `json:"rule_id"`
	Family      RuleFamily `json:"family"`
	InvariantID string     `json:"invariant_id,omitempty"`
	Passed      bool       `json:"passed"`
	Detail      string     `json:"detail,omitempty"`
}

// ValidationEvidence is the persisted record of one validation attempt.
type ValidationEvidence struct {
	ID               string           `json:"id"`
	Seq              int64            `json:"seq"`
	ArtifactID       string           `json:"artifact_id"`
	ProjectID        string           `json:"project_id"`
	VersionID        VersionID        `json:"version_id"`
	ValidatorVersion string           `json:"validator_version"`
	InputHash        string           `json:"input_hash"`
	Rules            []RuleEvaluation `json:"rules"`
	Passed           bool             `json:"passed"`
	Warnings         []string         `json:"warnings,omitempty"`
	ReliedInvariants []string         `json:"relied_invariants,omitempty"`
	AttemptKey       string           `json:"attempt_key,omitempty"`
	CreatedAt        string           `json:"created_at"`
}

// Failures returns the failed rule evaluations in evaluation order.
func (e *ValidationEvidence) Failures() []RuleEvaluation {
	var out []RuleEvaluation
	for _, r := range e.Rules {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// Reasons renders each failure as "RULE_ID: detail".
func (e *ValidationEvidence) Reasons() []string {
	var out []string
	for _, r := range e.Failures() {
		out = append(out, r.RuleID+": "+r.Detail)
	}
	return out
}

// SameAttempt reports whether o describes the same validation input as
// e: artifact, project, pinned version and content hash.
func (e *ValidationEvidence) SameAttempt(o *ValidationEvidence) bool {
	return e.ArtifactID == o.ArtifactID && e.ProjectID == o.ProjectID &&
		e.VersionID == o.VersionID && e.InputHash == o.InputHash
}

// RejectionKind names the dominant failure family. Alignment failures
// take precedence over contract failures.
func (e *ValidationEvidence) RejectionKind() Kind {
	kind := Kind("")
	for _, r := range e.Failures() {
		if r.Family == FamilyAlignment {
			return AlignmentViolation
		}
		kind = RequiredFieldMissing
	}
	return kind
}

// --- Impact analysis ---

// Impact classifies what an authority change means for one artifact.
type Impact string

const (
	ImpactNone              Impact = "no_impact"
	ImpactNeedsRevalidation Impact = "needs_revalidation"
	ImpactNeedsRewrite      Impact = "needs_rewrite"
	ImpactBlocking          Impact = "blocking"
)

// ChangeOp is the kind of change between two authorities.
type ChangeOp string

const (
	ChangeAdded    ChangeOp = "added"
	ChangeRemoved  ChangeOp = "removed"
	ChangeModified ChangeOp = "modified"
)

// InvariantChange describes one invariant difference.
type InvariantChange struct {
	InvariantID string        `json:"invariant_id"`
	Op          ChangeOp      `json:"op"`
	Type        InvariantType `json:"type"`
	Breaking    bool          `json:"breaking"`
	Detail      string        `json:"detail,omitempty"`
}

// ScopeChange describes one scope topic difference.
type ScopeChange struct {
	Topic    string   `json:"topic"`
	Op       ChangeOp `json:"op"`
	Breaking bool     `json:"breaking"`
}

// ChangeSummary lists every difference between two authorities.
type ChangeSummary struct {
	Invariants []InvariantChange `json:"invariants"`
	Scope      []ScopeChange     `json:"scope"`
}

// ImpactReport classifies artifacts by how an authority change affects them.
type ImpactReport struct {
	ID                string        `json:"id,omitempty"`
	FromVersion       VersionID     `json:"from_version"`
	ToVersion         VersionID     `json:"to_version"`
	Changes           ChangeSummary `json:"changes"`
	NoImpact          []string      `json:"no_impact"`
	NeedsRevalidation []string      `json:"needs_revalidation"`
	NeedsRewrite      []string      `json:"needs_rewrite"`
	Blocking          []string      `json:"blocking"`
	CreatedAt         string        `json:"created_at,omitempty"`
}

// Fingerprint hashes the report's analytical content. Two reports over
// the same inputs have identical fingerprints regardless of id or time.
func (r *ImpactReport) Fingerprint() (string, error) {
	c := *r
	c.ID = ""
	c.CreatedAt = ""
	return CanonicalHash(c)
}

// --- Status ---

// AuthorityStatus is the derived freshness of a project's authority.
type AuthorityStatus string

const (
	StatusCurrent       AuthorityStatus = "current"
	StatusStale         AuthorityStatus = "stale"
	StatusNotCompiled   AuthorityStatus = "not_compiled"
	StatusPendingReview AuthorityStatus = "pending_review"
)

// StatusReport is the result of a derived status query.
type StatusReport struct {
	ProjectID          string          `json:"project_id"`
	Status             AuthorityStatus `json:"status"`
	ApprovedVersion    VersionID       `json:"approved_version,omitempty"`
	NewestVersion      VersionID       `json:"newest_version,omitempty"`
	AuthorityID        string          `json:"authority_id,omitempty"`
	CompilerVersion    string          `json:"compiler_version,omitempty"`
	CompilerCompatible bool            `json:"compiler_compatible"`
	Reason             string          `json:"reason,omitempty"`
}
