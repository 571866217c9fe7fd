// Package workflow is the finite-state controller that routes typed
// intents to generation phases.
//
// The controller owns session state and nothing else. Every decision it
// takes is checked against durable governance state: the acceptance
// ledger for pins, the store for artifact counts. Generation output only
// reaches the store through the validation gate.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HendryAvila/specgate/internal/gate"
	"github.com/HendryAvila/specgate/internal/generation"
	"github.com/HendryAvila/specgate/internal/governance"
	"github.com/HendryAvila/specgate/internal/ledger"
	"github.com/HendryAvila/specgate/internal/metrics"
	"github.com/HendryAvila/specgate/internal/session"
	"github.com/HendryAvila/specgate/internal/store"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

func stamp() string { return timeNow().UTC().Format(time.RFC3339Nano) }

// Config holds controller settings.
type Config struct {
	// TriggerIterationCap bounds one RunTriggers pass.
	TriggerIterationCap int
	// SprintMinStories is min_stories in trigger predicates.
	SprintMinStories int
	// Triggers replaces DefaultTriggers when non-nil.
	Triggers []TriggerDef
}

// DefaultConfig returns the controller defaults.
func DefaultConfig() Config {
	return Config{TriggerIterationCap: 8, SprintMinStories: 1}
}

// View is a session together with its derived capability set.
type View struct {
	session.State
	Capabilities []CapabilitySpec `json:"capabilities"`
}

// Controller drives sessions through the phase table.
type Controller struct {
	sessions session.Store
	store    *store.Store
	ledger   *ledger.Ledger
	gate     *gate.Gate
	gen      generation.Generator
	cfg      Config
	triggers []trigger
	locksMu  sync.Mutex
	locks    map[string]*sessionLock
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.log = l } }

// WithMetrics records transitions and trigger firings on m.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Controller) { c.metrics = m } }

// New creates a Controller. Trigger predicates are compiled here, so a
// malformed predicate fails construction rather than a turn.
func New(sessions session.Store, s *store.Store, l *ledger.Ledger, g *gate.Gate, gen generation.Generator, cfg Config, opts ...Option) (*Controller, error) {
	defaults := DefaultConfig()
	if cfg.TriggerIterationCap <= 0 {
		cfg.TriggerIterationCap = defaults.TriggerIterationCap
	}
	if cfg.SprintMinStories <= 0 {
		cfg.SprintMinStories = defaults.SprintMinStories
	}
	defs := cfg.Triggers
	if defs == nil {
		defs = DefaultTriggers()
	}
	triggers, err := compileTriggers(defs)
	if err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}
	if gen == nil {
		gen = generation.Unavailable
	}
	c := &Controller{
		sessions: sessions,
		store:    s,
		ledger:   l,
		gate:     g,
		gen:      gen,
		cfg:      cfg,
		triggers: triggers,
		locks:    make(map[string]*sessionLock),
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// lock serializes work on one session. The entry is dropped once the
// last holder or waiter releases it.
func (c *Controller) lock(sessionID string) func() {
	c.locksMu.Lock()
	l, ok := c.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		c.locks[sessionID] = l
	}
	l.refs++
	c.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.locksMu.Lock()
		if l.refs--; l.refs == 0 {
			delete(c.locks, sessionID)
		}
		c.locksMu.Unlock()
	}
}

func view(st *session.State) *View {
	return &View{State: *st, Capabilities: Capabilities(Phase(st.Phase))}
}

func (c *Controller) save(ctx context.Context, st *session.State) error {
	st.UpdatedAt = stamp()
	if err := c.sessions.Put(ctx, st); err != nil {
		return fmt.Errorf("workflow: save session: %w", err)
	}
	return nil
}

// ─── Sessions ───────────────────────────────────────────────────────────────

// StartSession opens a session for a project in specification intake.
func (c *Controller) StartSession(ctx context.Context, projectID string) (*View, error) {
	if projectID == "" {
		return nil, governance.E(governance.InvalidInput, "workflow.start_session", "project id is required")
	}
	now := stamp()
	st := &session.State{
		SessionID: uuid.NewString(),
		ProjectID: projectID,
		Phase:     string(PhaseIntake),
		CreatedAt: now,
	}
	if err := c.save(ctx, st); err != nil {
		return nil, err
	}
	c.log.Info("session started", "session_id", st.SessionID, "project", projectID)
	return view(st), nil
}

// State returns a session as stored.
func (c *Controller) State(ctx context.Context, sessionID string) (*View, error) {
	st, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return view(st), nil
}

// BeginTurn reconciles a session with durable state and advances its
// turn counter. A pin the ledger no longer vouches for is dropped, and a
// session left in a generation phase without a pin returns to routing.
func (c *Controller) BeginTurn(ctx context.Context, sessionID string) (*View, error) {
	defer c.lock(sessionID)()
	st, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := c.reconcile(ctx, st); err != nil {
		return nil, err
	}
	st.Turn++
	if err := c.save(ctx, st); err != nil {
		return nil, err
	}
	return view(st), nil
}

func (c *Controller) reconcile(ctx context.Context, st *session.State) error {
	if !st.PinnedVersion.IsZero() {
		err := c.ledger.RequireAccepted(ctx, st.ProjectID, st.PinnedVersion)
		switch {
		case err == nil:
		case governance.KindOf(err).Boundary():
			c.log.Warn("pinned version no longer accepted, unpinning",
				"session_id", st.SessionID, "project", st.ProjectID, "version_id", int64(st.PinnedVersion), "error", err)
			st.PinnedVersion = 0
		default:
			return err
		}
	}
	if st.PinnedVersion.IsZero() && Phase(st.Phase).IsGeneration() {
		c.log.Warn("session in generation phase without a pin, returning to routing",
			"session_id", st.SessionID, "phase", st.Phase)
		c.metrics.ObserveTransition(st.Phase, string(PhaseRouting))
		st.Phase = string(PhaseRouting)
	}
	return nil
}

// Dispatch applies a typed intent through the transition table.
func (c *Controller) Dispatch(ctx context.Context, sessionID string, intent Intent) (*View, error) {
	defer c.lock(sessionID)()
	if !validIntents[intent] {
		return nil, governance.E(governance.InvalidInput, "workflow.dispatch", "unknown intent %q", intent)
	}
	st, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(Phase(st.Phase), CapDispatch); err != nil {
		return nil, err
	}
	if err := c.apply(ctx, st, intent); err != nil {
		return nil, err
	}
	if err := c.save(ctx, st); err != nil {
		return nil, err
	}
	return view(st), nil
}

// apply moves st along (phase, intent) when the guard allows it.
func (c *Controller) apply(ctx context.Context, st *session.State, intent Intent) error {
	from := Phase(st.Phase)
	t, err := Lookup(from, intent)
	if err != nil {
		return err
	}
	if t.guard != nil {
		if err := t.guard(ctx, c, st); err != nil {
			c.log.Warn("transition refused", "session_id", st.SessionID, "from", from, "to", t.To, "error", err)
			return err
		}
	}
	st.Phase = string(t.To)
	c.metrics.ObserveTransition(string(from), string(t.To))
	c.log.Info("phase changed", "session_id", st.SessionID, "project", st.ProjectID, "from", from, "to", t.To)
	return nil
}

// PinVersion pins the session to an accepted version of its project.
// There is no implicit "latest": the caller names the version.
func (c *Controller) PinVersion(ctx context.Context, sessionID string, versionID governance.VersionID) (*View, error) {
	const op = "workflow.pin_version"
	defer c.lock(sessionID)()
	st, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(Phase(st.Phase), CapPinVersion); err != nil {
		return nil, err
	}
	if versionID.IsZero() {
		return nil, governance.E(governance.MissingVersionPin, op, "a version id is required")
	}
	v, err := c.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.ProjectID != st.ProjectID {
		return nil, governance.E(governance.InvalidInput, op,
			"version %d belongs to %s, not %s", versionID, v.ProjectID, st.ProjectID)
	}
	if err := c.ledger.RequireAccepted(ctx, st.ProjectID, versionID); err != nil {
		return nil, err
	}
	st.PinnedVersion = versionID
	if err := c.save(ctx, st); err != nil {
		return nil, err
	}
	c.log.Info("version pinned", "session_id", sessionID, "project", st.ProjectID, "version_id", int64(versionID))
	return view(st), nil
}

// ─── Generation ─────────────────────────────────────────────────────────────

// GenerateRequest asks the current phase for one artifact.
type GenerateRequest struct {
	Kind governance.ArtifactKind
	// ArtifactID regenerates an existing artifact; empty creates one.
	ArtifactID string
	// Input is passed to the generator as the caller's request.
	Input      map[string]any
	AttemptKey string
}

// GenerateResult is the validated outcome of a generation.
type GenerateResult struct {
	Artifact *governance.Artifact           `json:"artifact"`
	Evidence *governance.ValidationEvidence `json:"evidence"`
}

type artifactOutput struct {
	Title              string            `json:"title"`
	Body               string            `json:"body"`
	Fields             map[string]string `json:"fields"`
	AcceptanceCriteria []string          `json:"acceptance_criteria"`
	Topics             []string          `json:"topics"`
}

// Generate produces an artifact, validates it against the session's pin
// and marks it in progress when it passes. A rejected artifact leaves the
// session where it was; the evidence carries the reasons.
func (c *Controller) Generate(ctx context.Context, sessionID string, req GenerateRequest) (*GenerateResult, error) {
	const op = "workflow.generate"
	defer c.lock(sessionID)()
	st, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	capability, ok := generateCapability[req.Kind]
	if !ok {
		return nil, governance.E(governance.InvalidInput, op, "invalid artifact kind %q", req.Kind)
	}
	if err := requireCapability(Phase(st.Phase), capability); err != nil {
		return nil, err
	}
	if err := c.ledger.RequireAccepted(ctx, st.ProjectID, st.PinnedVersion); err != nil {
		return nil, err
	}
	if req.AttemptKey != "" {
		res, err := c.replayGenerate(ctx, st, req)
		if err != nil || res != nil {
			return res, err
		}
	}
	auth, err := c.store.AuthorityForVersion(ctx, st.PinnedVersion)
	if err != nil {
		return nil, err
	}

	raw, err := c.gen.Generate(ctx, generation.Request{
		Task:       generation.TaskGenerateArtifact,
		SchemaName: generation.ArtifactSchemaName,
		Schema:     generation.ArtifactSchema,
		Input: map[string]any{
			"project_id":     st.ProjectID,
			"kind":           string(req.Kind),
			"version_id":     int64(st.PinnedVersion),
			"scope":          auth.Scope,
			"invariants":     auth.Invariants,
			"eligible_items": auth.EligibleItems,
			"request":        req.Input,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := generation.CheckSchema(generation.ArtifactSchemaName, generation.ArtifactSchema, raw); err != nil {
		return nil, err
	}
	var out artifactOutput
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&out); err != nil {
		return nil, governance.Wrap(governance.SchemaMismatch, op, err)
	}

	ev, err := c.gate.Validate(ctx, gate.Request{
		Artifact: governance.Artifact{
			ID:                 req.ArtifactID,
			ProjectID:          st.ProjectID,
			Kind:               req.Kind,
			Title:              out.Title,
			Body:               out.Body,
			Fields:             out.Fields,
			AcceptanceCriteria: out.AcceptanceCriteria,
			Topics:             out.Topics,
		},
		ProjectID:  st.ProjectID,
		VersionID:  st.PinnedVersion,
		AttemptKey: req.AttemptKey,
	})
	if err != nil {
		return nil, err
	}
	if ev.Passed {
		if err := c.store.SetArtifactStatus(ctx, ev.ArtifactID, governance.ArtifactInProgress); err != nil {
			return nil, err
		}
	}
	a, err := c.store.GetArtifact(ctx, ev.ArtifactID)
	if err != nil {
		return nil, err
	}
	return &GenerateResult{Artifact: a, Evidence: ev}, nil
}

// replayGenerate returns the result already recorded under the request's
// attempt key without calling the generator again, or nil when the key
// is new.
func (c *Controller) replayGenerate(ctx context.Context, st *session.State, req GenerateRequest) (*GenerateResult, error) {
	ev, err := c.store.EvidenceByAttemptKey(ctx, req.AttemptKey)
	if errors.Is(err, governance.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a, err := c.store.GetArtifact(ctx, ev.ArtifactID)
	if err != nil {
		return nil, err
	}
	if ev.ProjectID != st.ProjectID || ev.VersionID != st.PinnedVersion || a.Kind != req.Kind ||
		(req.ArtifactID != "" && req.ArtifactID != ev.ArtifactID) {
		return nil, governance.E(governance.InvalidInput, "workflow.generate",
			"attempt key %q was recorded for a different generation", req.AttemptKey)
	}
	return &GenerateResult{Artifact: a, Evidence: ev}, nil
}

// ─── Trigger loop ───────────────────────────────────────────────────────────

// TriggerReport summarizes one RunTriggers pass. Capped is set when the
// pass stopped at the iteration cap while a trigger could still fire.
type TriggerReport struct {
	Fired      []string `json:"fired"`
	Iterations int      `json:"iterations"`
	Capped     bool     `json:"capped"`
	View       *View    `json:"session"`
}

// RunTriggers evaluates trigger predicates against a fresh durable
// snapshot and applies the first that holds, repeating until none holds
// or the iteration cap is reached. A trigger fires at most once per pass.
// A trigger whose guard refuses the transition is skipped, not retried.
func (c *Controller) RunTriggers(ctx context.Context, sessionID string) (*TriggerReport, error) {
	defer c.lock(sessionID)()
	st, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	report := &TriggerReport{Fired: []string{}}
	satisfied := make(map[string]bool, len(c.triggers))
	for {
		if report.Iterations >= c.cfg.TriggerIterationCap {
			pending, err := c.pending(ctx, st, satisfied)
			if err != nil {
				return nil, err
			}
			if pending != "" {
				report.Capped = true
				c.log.Warn("trigger loop reached iteration cap", "session_id", sessionID,
					"cap", c.cfg.TriggerIterationCap, "pending", pending)
			}
			break
		}
		report.Iterations++

		snap, err := c.snapshot(ctx, st)
		if err != nil {
			return nil, err
		}
		fired := false
		for _, t := range c.triggers {
			if satisfied[t.def.Name] {
				continue
			}
			ok, err := t.holds(snap)
			if err != nil {
				return nil, fmt.Errorf("workflow: %w", err)
			}
			if !ok {
				continue
			}
			satisfied[t.def.Name] = true
			if err := c.apply(ctx, st, t.def.Intent); err != nil {
				if governance.IsGovernance(err) {
					continue
				}
				return nil, err
			}
			c.metrics.ObserveTrigger(t.def.Name)
			report.Fired = append(report.Fired, t.def.Name)
			fired = true
			break
		}
		if !fired {
			break
		}
	}

	if len(report.Fired) > 0 {
		if err := c.save(ctx, st); err != nil {
			return nil, err
		}
	}
	report.View = view(st)
	return report, nil
}

// pending names the first trigger that has not fired this pass and whose
// predicate holds for st, or "" when none does.
func (c *Controller) pending(ctx context.Context, st *session.State, satisfied map[string]bool) (string, error) {
	snap, err := c.snapshot(ctx, st)
	if err != nil {
		return "", err
	}
	for _, t := range c.triggers {
		if satisfied[t.def.Name] {
			continue
		}
		ok, err := t.holds(snap)
		if err != nil {
			return "", fmt.Errorf("workflow: %w", err)
		}
		if ok {
			return t.def.Name, nil
		}
	}
	return "", nil
}

func (c *Controller) snapshot(ctx context.Context, st *session.State) (snapshot, error) {
	snap := snapshot{
		Phase:         Phase(st.Phase),
		PinnedVersion: int64(st.PinnedVersion),
		MinStories:    c.cfg.SprintMinStories,
	}
	if st.PinnedVersion.IsZero() {
		return snap, nil
	}
	err := c.ledger.RequireAccepted(ctx, st.ProjectID, st.PinnedVersion)
	switch {
	case err == nil:
		snap.PinnedAccepted = true
	case errors.Is(err, governance.AcceptanceGateBlocked):
	default:
		return snap, err
	}
	counts, err := c.store.PinnedArtifactCounts(ctx, st.ProjectID, st.PinnedVersion)
	if err != nil {
		return snap, err
	}
	for kind, n := range counts {
		snap.PinnedArtifacts += n
		if kind == governance.KindStory {
			snap.PinnedStories += n
		}
	}
	return snap, nil
}
