// Package commands is the caller-facing command surface of specgate.
//
// Every command returns a Result. Governance failures (a blocked gate, a
// missing pin, an invalid transition) are reported inside the Result with
// success=false and the error kind; only internal failures such as a
// broken database come back as a Go error. The MCP tools and the CLI are
// thin adapters over this package.
package commands

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/HendryAvila/specgate/internal/compiler"
	"github.com/HendryAvila/specgate/internal/gate"
	"github.com/HendryAvila/specgate/internal/governance"
	"github.com/HendryAvila/specgate/internal/impact"
	"github.com/HendryAvila/specgate/internal/ledger"
	"github.com/HendryAvila/specgate/internal/registry"
	"github.com/HendryAvila/specgate/internal/store"
)

// Command names, shared by the MCP tools and the CLI.
const (
	RegisterSpec             = "register-spec"
	ReviewChanges            = "review-changes"
	ApproveSpec              = "approve-spec"
	CompileSpec              = "compile-spec"
	DecideAcceptance         = "decide-acceptance"
	ValidateArtifact         = "validate-artifact"
	MigrateArtifactToVersion = "migrate-artifact-to-version"
	CheckStatus              = "check-status"
	AnalyzeImpact            = "analyze-impact"
)

// Result is the outcome of one command.
type Result struct {
	Success    bool            `json:"success"`
	Command    string          `json:"command"`
	Reason     string          `json:"reason,omitempty"`
	ErrorKind  governance.Kind `json:"error_kind,omitempty"`
	CreatedIDs []string        `json:"created_ids"`
	Data       any             `json:"data,omitempty"`
}

// Service runs commands against the governance components.
type Service struct {
	registry *registry.Registry
	compiler *compiler.Compiler
	ledger   *ledger.Ledger
	gate     *gate.Gate
	impact   *impact.Analyzer
	store    *store.Store
	log      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// New creates a Service.
func New(r *registry.Registry, c *compiler.Compiler, l *ledger.Ledger, g *gate.Gate, an *impact.Analyzer, s *store.Store, opts ...Option) *Service {
	svc := &Service{
		registry: r,
		compiler: c,
		ledger:   l,
		gate:     g,
		impact:   an,
		store:    s,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(svc)
	}
	return svc
}

// finish turns a component outcome into a Result. Governance errors
// become failed results; anything else is returned as is.
func (s *Service) finish(command string, data any, ids []string, err error) (*Result, error) {
	if err != nil {
		if !governance.IsGovernance(err) {
			return nil, err
		}
		s.log.Warn("command refused", "command", command, "error_kind", governance.KindOf(err), "error", err)
		return &Result{
			Command:    command,
			Reason:     err.Error(),
			ErrorKind:  governance.KindOf(err),
			CreatedIDs: []string{},
		}, nil
	}
	if ids == nil {
		ids = []string{}
	}
	return &Result{Success: true, Command: command, CreatedIDs: ids, Data: data}, nil
}

func versionIDString(id governance.VersionID) string {
	return strconv.FormatInt(int64(id), 10)
}

// ─── Specification lifecycle ────────────────────────────────────────────────

// RegisterSpecInput is the input of register-spec.
type RegisterSpecInput struct {
	ProjectID      string `json:"project_id"`
	Content        string `json:"content"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// RegisterSpec registers specification content as a new draft version.
func (s *Service) RegisterSpec(ctx context.Context, in RegisterSpecInput) (*Result, error) {
	v, err := s.registry.Register(ctx, in.ProjectID, in.Content, in.IdempotencyKey)
	if err != nil {
		return s.finish(RegisterSpec, nil, nil, err)
	}
	return s.finish(RegisterSpec, v, []string{versionIDString(v.ID)}, nil)
}

// ReviewChanges records a change review for a draft, optionally against
// an explicit base version, moving the draft to pending_review.
func (s *Service) ReviewChanges(ctx context.Context, versionID, baseVersionID governance.VersionID) (*Result, error) {
	review, err := s.registry.ReviewChanges(ctx, versionID, baseVersionID)
	if err != nil {
		return s.finish(ReviewChanges, nil, nil, err)
	}
	return s.finish(ReviewChanges, review, []string{review.ID}, nil)
}

// ApproveSpec approves a version awaiting review.
func (s *Service) ApproveSpec(ctx context.Context, versionID governance.VersionID, reviewer, notes string) (*Result, error) {
	v, err := s.registry.Approve(ctx, versionID, reviewer, notes)
	return s.finish(ApproveSpec, v, nil, err)
}

// CompileSpec compiles the authority of an approved version. Created ids
// are the new authority and, under auto-accept, the acceptance record. A
// reused authority creates nothing.
func (s *Service) CompileSpec(ctx context.Context, versionID governance.VersionID) (*Result, error) {
	res, err := s.compiler.Compile(ctx, versionID)
	if err != nil {
		return s.finish(CompileSpec, nil, nil, err)
	}
	var ids []string
	if !res.Reused {
		ids = append(ids, res.Authority.ID)
	}
	if res.Acceptance != nil {
		ids = append(ids, res.Acceptance.ID)
	}
	return s.finish(CompileSpec, res, ids, nil)
}

// DecideAcceptance appends an acceptance decision.
func (s *Service) DecideAcceptance(ctx context.Context, req ledger.DecideRequest) (*Result, error) {
	rec, err := s.ledger.Decide(ctx, req)
	if err != nil {
		return s.finish(DecideAcceptance, nil, nil, err)
	}
	return s.finish(DecideAcceptance, rec, []string{rec.ID}, nil)
}

// CheckStatus reports the derived authority status of a project.
func (s *Service) CheckStatus(ctx context.Context, projectID string) (*Result, error) {
	report, err := s.compiler.CheckStatus(ctx, projectID)
	return s.finish(CheckStatus, report, nil, err)
}

// ─── Artifacts ──────────────────────────────────────────────────────────────

// ValidateArtifact runs the gate. A rule failure is a failed result whose
// reason lists every failed rule; the evidence is still created.
func (s *Service) ValidateArtifact(ctx context.Context, req gate.Request) (*Result, error) {
	ev, err := s.gate.Validate(ctx, req)
	return s.evidenceResult(ValidateArtifact, ev, err)
}

// MigrateArtifactToVersion revalidates a stored artifact against another
// accepted version. On pass the pin moves to that version; on fail it is
// cleared.
func (s *Service) MigrateArtifactToVersion(ctx context.Context, artifactID string, versionID governance.VersionID, attemptKey string) (*Result, error) {
	a, err := s.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return s.finish(MigrateArtifactToVersion, nil, nil, err)
	}
	from := a.AcceptedSpecVersionID
	ev, err := s.gate.Validate(ctx, gate.Request{
		Artifact:   *a,
		ProjectID:  a.ProjectID,
		VersionID:  versionID,
		AttemptKey: attemptKey,
	})
	if err == nil {
		s.log.Info("artifact migration evaluated", "artifact_id", artifactID,
			"from_version", int64(from), "to_version", int64(versionID), "passed", ev.Passed)
	}
	return s.evidenceResult(MigrateArtifactToVersion, ev, err)
}

func (s *Service) evidenceResult(command string, ev *governance.ValidationEvidence, err error) (*Result, error) {
	if err != nil {
		return s.finish(command, nil, nil, err)
	}
	res := &Result{
		Success:    ev.Passed,
		Command:    command,
		CreatedIDs: []string{ev.ID},
		Data:       ev,
	}
	if !ev.Passed {
		res.ErrorKind = ev.RejectionKind()
		res.Reason = strings.Join(ev.Reasons(), "; ")
	}
	return res, nil
}

// ─── Impact ─────────────────────────────────────────────────────────────────

// AnalyzeImpact diffs two compiled versions. With record set, the report
// is persisted as a separate step and its id returned.
func (s *Service) AnalyzeImpact(ctx context.Context, from, to governance.VersionID, record bool) (*Result, error) {
	report, err := s.impact.Diff(ctx, from, to)
	if err != nil {
		return s.finish(AnalyzeImpact, nil, nil, err)
	}
	if !record {
		return s.finish(AnalyzeImpact, report, nil, nil)
	}
	stored, err := s.impact.Record(ctx, report)
	if err != nil {
		return s.finish(AnalyzeImpact, nil, nil, err)
	}
	return s.finish(AnalyzeImpact, stored, []string{stored.ID}, nil)
}
