// Package compiler turns an approved specification version into its
// compiled authority.
//
// Compilation is an explicit act. Nothing here recompiles on staleness;
// CheckStatus only reports it.
package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/HendryAvila/specgate/internal/generation"
	"github.com/HendryAvila/specgate/internal/governance"
	"github.com/HendryAvila/specgate/internal/ledger"
	"github.com/HendryAvila/specgate/internal/metrics"
	"github.com/HendryAvila/specgate/internal/store"
)

// Policy decides what compiling an already compiled version does.
type Policy string

const (
	// PolicyStrict fails with AlreadyCompiled.
	PolicyStrict Policy = "strict"
	// PolicyIdempotent returns the existing authority, flagged Reused.
	PolicyIdempotent Policy = "idempotent"
)

// ParsePolicy returns the policy named by s. Empty means strict.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyStrict:
		return PolicyStrict, nil
	case PolicyIdempotent:
		return PolicyIdempotent, nil
	}
	return "", fmt.Errorf("invalid compile policy %q: must be one of: strict, idempotent", s)
}

// Config holds compiler settings.
type Config struct {
	// Version is the compiler's semver tag, stamped on every authority.
	Version string
	Policy  Policy
	// AutoAcceptOnCompile appends an accepted record right after a
	// successful compile.
	AutoAcceptOnCompile bool
}

// Result is the outcome of Compile.
type Result struct {
	Authority  *governance.CompiledAuthority `json:"authority"`
	Reused     bool                          `json:"reused"`
	Acceptance *governance.AcceptanceRecord  `json:"acceptance,omitempty"`
}

// Compiler compiles authorities.
type Compiler struct {
	store   *store.Store
	gen     generation.Generator
	ledger  *ledger.Ledger
	cfg     Config
	version *semver.Version
	group   singleflight.Group
	decide  func(context.Context, ledger.DecideRequest) (*governance.AcceptanceRecord, error)
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the compiler logger.
func WithLogger(l *slog.Logger) Option { return func(c *Compiler) { c.log = l } }

// WithMetrics records compilations on m.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Compiler) { c.metrics = m } }

// New creates a Compiler. The configured version must be valid semver.
func New(s *store.Store, gen generation.Generator, l *ledger.Ledger, cfg Config, opts ...Option) (*Compiler, error) {
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	v, err := semver.NewVersion(cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("compiler: invalid version %q: %w", cfg.Version, err)
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyStrict
	}
	if gen == nil {
		gen = generation.Unavailable
	}
	c := &Compiler{store: s, gen: gen, ledger: l, cfg: cfg, version: v, log: slog.Default()}
	if l != nil {
		c.decide = l.Decide
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Compile produces the authority for an approved version.
func (c *Compiler) Compile(ctx context.Context, versionID governance.VersionID) (*Result, error) {
	const op = "compiler.compile"
	v, err := c.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.Status != governance.VersionApproved {
		c.metrics.ObserveCompilation("invalid_state")
		return nil, governance.E(governance.InvalidState, op,
			"version %d is %s; only approved versions compile", versionID, v.Status)
	}

	if existing, err := c.store.AuthorityForVersion(ctx, versionID); err == nil {
		return c.existing(ctx, v, existing)
	} else if !errors.Is(err, governance.NotCompiled) {
		return nil, err
	}

	res, err, _ := c.group.Do(fmt.Sprintf("compile:%d", versionID), func() (any, error) {
		return c.compile(ctx, v)
	})
	if err != nil {
		if errors.Is(err, governance.AlreadyCompiled) {
			if existing, lerr := c.store.AuthorityForVersion(ctx, versionID); lerr == nil {
				return c.existing(ctx, v, existing)
			}
		}
		c.metrics.ObserveCompilation("error")
		return nil, err
	}
	return res.(*Result), nil
}

// existing handles a version that already has an authority. An
// auto-accept that did not land after the earlier compile is appended
// first, under the same key.
func (c *Compiler) existing(ctx context.Context, v *governance.SpecificationVersion, a *governance.CompiledAuthority) (*Result, error) {
	rec, err := c.pendingAutoAccept(ctx, v, a)
	if err != nil {
		return nil, err
	}
	if c.cfg.Policy == PolicyIdempotent {
		c.metrics.ObserveCompilation("reused")
		c.log.Info("authority reused", "version_id", int64(a.VersionID), "authority_id", a.ID)
		return &Result{Authority: a, Reused: true, Acceptance: rec}, nil
	}
	c.metrics.ObserveCompilation("already_compiled")
	return nil, governance.E(governance.AlreadyCompiled, "compiler.compile",
		"version %d already compiled as %s", a.VersionID, a.ID)
}

// authorityOutput is the generator's reply shape.
type authorityOutput struct {
	Scope         []string                  `json:"scope"`
	Invariants    []governance.Invariant    `json:"invariants"`
	EligibleItems []string                  `json:"eligible_items"`
	RejectedItems []governance.RejectedItem `json:"rejected_items"`
	OpenGaps      []string                  `json:"open_gaps"`
}

func (c *Compiler) compile(ctx context.Context, v *governance.SpecificationVersion) (*Result, error) {
	const op = "compiler.compile"
	content, err := c.store.VersionContent(ctx, v.ID)
	if err != nil {
		return nil, err
	}

	req := generation.Request{
		Task:       generation.TaskCompileAuthority,
		SchemaName: generation.AuthoritySchemaName,
		Schema:     generation.AuthoritySchema,
		Input: map[string]any{
			"project_id":    v.ProjectID,
			"version_id":    int64(v.ID),
			"specification": content,
		},
	}
	fingerprint, err := generation.Fingerprint(req)
	if err != nil {
		return nil, err
	}

	raw, err := c.gen.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	out, err := decodeAuthority(raw)
	if err != nil {
		return nil, err
	}

	authority, err := c.store.InsertAuthority(ctx, governance.CompiledAuthority{
		ID:                uuid.NewString(),
		VersionID:         v.ID,
		CompilerVersion:   c.version.String(),
		PromptFingerprint: fingerprint,
		SourceHash:        v.ContentHash,
		Scope:             out.Scope,
		Invariants:        out.Invariants,
		EligibleItems:     out.EligibleItems,
		RejectedItems:     out.RejectedItems,
		OpenGaps:          out.OpenGaps,
	})
	if err != nil {
		return nil, err
	}
	c.metrics.ObserveCompilation("compiled")
	c.log.Info("authority compiled", "project", v.ProjectID, "version_id", int64(v.ID),
		"authority_id", authority.ID, "invariants", len(authority.Invariants), "compiler_version", authority.CompilerVersion)

	res := &Result{Authority: authority}
	if c.cfg.AutoAcceptOnCompile && c.decide != nil {
		rec, err := c.autoAccept(ctx, authority)
		if err != nil {
			return nil, err
		}
		res.Acceptance = rec
	}
	return res, nil
}

func (c *Compiler) autoAccept(ctx context.Context, a *governance.CompiledAuthority) (*governance.AcceptanceRecord, error) {
	rec, err := c.decide(ctx, ledger.DecideRequest{
		VersionID:      a.VersionID,
		Decision:       governance.DecisionAccepted,
		Policy:         governance.PolicyAutoAcceptOnCompile,
		Rationale:      "auto_accept_on_compile enabled",
		IdempotencyKey: "auto-accept:" + a.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("compiler.compile: auto-accept: %w", err)
	}
	return rec, nil
}

// pendingAutoAccept appends the auto-accept for a when auto-accept is on
// and the version has no decision yet. A recorded decision, including a
// rejection, is left alone.
func (c *Compiler) pendingAutoAccept(ctx context.Context, v *governance.SpecificationVersion, a *governance.CompiledAuthority) (*governance.AcceptanceRecord, error) {
	if !c.cfg.AutoAcceptOnCompile || c.decide == nil {
		return nil, nil
	}
	_, err := c.ledger.CurrentDecision(ctx, v.ProjectID, v.ID)
	switch {
	case err == nil:
		return nil, nil
	case !errors.Is(err, governance.Unaccepted):
		return nil, err
	}
	rec, err := c.autoAccept(ctx, a)
	if err != nil {
		return nil, err
	}
	c.log.Warn("auto-accept recovered on recompile", "project", v.ProjectID, "version_id", int64(v.ID),
		"authority_id", a.ID, "record_id", rec.ID)
	return rec, nil
}

// decodeAuthority parses schema-checked generator output and rejects
// what the schema cannot express: duplicate invariant ids.
func decodeAuthority(raw json.RawMessage) (*authorityOutput, error) {
	const op = "compiler.decode"
	if err := generation.CheckSchema(generation.AuthoritySchemaName, generation.AuthoritySchema, raw); err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	var out authorityOutput
	if err := dec.Decode(&out); err != nil {
		return nil, governance.Wrap(governance.SchemaMismatch, op, err)
	}
	seen := make(map[string]bool, len(out.Invariants))
	for i, inv := range out.Invariants {
		id := strings.TrimSpace(inv.ID)
		if seen[id] {
			return nil, governance.E(governance.SchemaMismatch, op, "duplicate invariant id %q", id)
		}
		seen[id] = true
		out.Invariants[i].ID = id
		out.Invariants[i].Value = strings.TrimSpace(inv.Value)
	}
	return &out, nil
}

// Authority returns the authority compiled from a version.
func (c *Compiler) Authority(ctx context.Context, versionID governance.VersionID) (*governance.CompiledAuthority, error) {
	return c.store.AuthorityForVersion(ctx, versionID)
}

// Version returns the compiler's semver tag.
func (c *Compiler) Version() string { return c.version.String() }

// CheckStatus derives a project's authority freshness from durable
// state. It never writes.
func (c *Compiler) CheckStatus(ctx context.Context, projectID string) (*governance.StatusReport, error) {
	report := &governance.StatusReport{ProjectID: projectID}

	newest, err := c.store.NewestVersion(ctx, projectID)
	if errors.Is(err, governance.NotFound) {
		report.Status = governance.StatusNotCompiled
		report.Reason = "project has no specification versions"
		return report, nil
	}
	if err != nil {
		return nil, err
	}
	report.NewestVersion = newest.ID

	if newest.Status == governance.VersionPendingReview {
		report.Status = governance.StatusPendingReview
		report.Reason = fmt.Sprintf("version %d awaits approval", newest.ID)
		return report, nil
	}

	approved, err := c.store.LatestApprovedVersion(ctx, projectID)
	if errors.Is(err, governance.NotFound) {
		report.Status = governance.StatusNotCompiled
		report.Reason = "no approved version"
		return report, nil
	}
	if err != nil {
		return nil, err
	}
	report.ApprovedVersion = approved.ID

	authority, err := c.store.AuthorityForVersion(ctx, approved.ID)
	if errors.Is(err, governance.NotCompiled) {
		report.Status = governance.StatusNotCompiled
		report.Reason = fmt.Sprintf("approved version %d has no compiled authority", approved.ID)
		return report, nil
	}
	if err != nil {
		return nil, err
	}
	report.AuthorityID = authority.ID
	report.CompilerVersion = authority.CompilerVersion
	report.CompilerCompatible = c.Compatible(authority.CompilerVersion)

	switch {
	case authority.SourceHash != approved.ContentHash:
		report.Status = governance.StatusStale
		report.Reason = "authority source hash does not match its version"
	case newest.ID > approved.ID && newest.Status == governance.VersionDraft && newest.ContentHash != approved.ContentHash:
		report.Status = governance.StatusStale
		report.Reason = fmt.Sprintf("draft version %d changes the specification", newest.ID)
	default:
		report.Status = governance.StatusCurrent
	}
	return report, nil
}

// Compatible reports whether an authority compiled by tag shares the
// running compiler's major version.
func (c *Compiler) Compatible(tag string) bool {
	v, err := semver.NewVersion(tag)
	if err != nil {
		return false
	}
	return v.Major() == c.version.Major()
}
