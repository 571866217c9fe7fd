// Package server wires all specgate components and creates the MCP
// server instance.
//
// This is the composition root: it creates concrete implementations and
// injects them into the tools, prompts and resources that depend on them.
// No governance logic lives here, only wiring.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"

	"github.com/HendryAvila/specgate/internal/commands"
	"github.com/HendryAvila/specgate/internal/compiler"
	"github.com/HendryAvila/specgate/internal/config"
	"github.com/HendryAvila/specgate/internal/gate"
	"github.com/HendryAvila/specgate/internal/generation"
	"github.com/HendryAvila/specgate/internal/impact"
	"github.com/HendryAvila/specgate/internal/ledger"
	"github.com/HendryAvila/specgate/internal/metrics"
	"github.com/HendryAvila/specgate/internal/prompts"
	"github.com/HendryAvila/specgate/internal/registry"
	"github.com/HendryAvila/specgate/internal/resources"
	"github.com/HendryAvila/specgate/internal/session"
	"github.com/HendryAvila/specgate/internal/store"
	"github.com/HendryAvila/specgate/internal/tools"
	"github.com/HendryAvila/specgate/internal/workflow"
)

// Version is set at build time via ldflags.
var Version = "dev"

// redisPingTimeout bounds the startup connectivity check.
const redisPingTimeout = 2 * time.Second

// App holds the wired components. The CLI drives Service directly; the
// MCP server exposes the same Service and Controller as tools.
type App struct {
	Config     *config.Config
	MCP        *server.MCPServer
	Service    *commands.Service
	Controller *workflow.Controller
	Store      *store.Store
	Metrics    *metrics.Metrics
}

// New creates the MCP server with all tools, prompts and resources
// registered.
//
// The returned cleanup function closes the store and the session
// backend and must be called on shutdown (typically via defer). It is
// always non-nil and safe to call even if construction failed.
func New(cfg *config.Config, log *slog.Logger) (*server.MCPServer, func(), error) {
	app, cleanup, err := Build(cfg, log)
	if err != nil {
		return nil, cleanup, err
	}
	return app.MCP, cleanup, nil
}

// Build resolves every dependency from cfg. This is the single place
// where components are constructed.
func Build(cfg *config.Config, log *slog.Logger) (*App, func(), error) {
	if log == nil {
		log = slog.Default()
	}

	// --- Durable state ---

	st, err := store.New(store.Config{DataDir: cfg.DataDir})
	if err != nil {
		return nil, noop, fmt.Errorf("opening store: %w", err)
	}
	closers := []func(){func() {
		if err := st.Close(); err != nil {
			log.Warn("store close", "error", err)
		}
	}}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	m := metrics.New()
	gen := newGenerator(cfg, log, m)

	// --- Governance components ---

	policy, err := compiler.ParsePolicy(cfg.Compiler.Policy)
	if err != nil {
		cleanup()
		return nil, noop, err
	}

	l := ledger.New(st, ledger.WithLogger(log), ledger.WithMetrics(m))
	c, err := compiler.New(st, gen, l, compiler.Config{
		Version:             cfg.Compiler.Version,
		Policy:              policy,
		AutoAcceptOnCompile: cfg.Acceptance.AutoAcceptOnCompile,
	}, compiler.WithLogger(log), compiler.WithMetrics(m))
	if err != nil {
		cleanup()
		return nil, noop, fmt.Errorf("creating compiler: %w", err)
	}
	g, err := gate.New(st, l, cfg.Gate.ValidatorVersion, gate.WithLogger(log), gate.WithMetrics(m))
	if err != nil {
		cleanup()
		return nil, noop, fmt.Errorf("creating gate: %w", err)
	}
	reg := registry.New(st, registry.WithLogger(log), registry.WithMaxSpecBytes(cfg.Registry.MaxSpecBytes))
	an := impact.New(st, impact.WithLogger(log))
	svc := commands.New(reg, c, l, g, an, st, commands.WithLogger(log))

	// --- Sessions ---
	//
	// Sessions are ephemeral. If Redis is configured but unreachable we
	// fall back to memory: governance tools keep working, sessions just
	// do not survive a restart.

	sessions, closeSessions := newSessionStore(cfg.Session, log)
	closers = append(closers, closeSessions)

	ctrl, err := workflow.New(sessions, st, l, g, gen, cfg.ControllerConfig(),
		workflow.WithLogger(log), workflow.WithMetrics(m))
	if err != nil {
		cleanup()
		return nil, noop, fmt.Errorf("creating workflow controller: %w", err)
	}

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"specgate",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	registerGovernanceTools(s, svc)
	registerSessionTools(s, ctrl)

	// --- Register prompts ---

	startPrompt := prompts.NewStartPrompt()
	s.AddPrompt(startPrompt.Definition(), startPrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	// --- Register resources ---

	rh := resources.NewHandler(svc, st)
	s.AddResourceTemplate(rh.StatusTemplate(), rh.HandleStatus)
	s.AddResourceTemplate(rh.AuthorityTemplate(), rh.HandleAuthority)

	return &App{Config: cfg, MCP: s, Service: svc, Controller: ctrl, Store: st, Metrics: m}, cleanup, nil
}

// noop is a no-op cleanup function returned when construction fails.
func noop() {}

// newGenerator builds the provider adapter behind the retrying client.
// A missing provider is not fatal: generation fails per call with
// GenerationError and everything else keeps working.
func newGenerator(cfg *config.Config, log *slog.Logger, m *metrics.Metrics) generation.Generator {
	var provider generation.Generator = generation.Unavailable

	switch cfg.Generation.Provider {
	case "openai":
		gen, err := generation.NewOpenAIGenerator(generation.OpenAIConfig{
			APIKey:  cfg.APIKey(),
			Model:   cfg.Generation.Model,
			BaseURL: cfg.Generation.BaseURL,
		}, log)
		if err != nil {
			log.Warn("generation disabled", "provider", cfg.Generation.Provider, "error", err)
		} else {
			provider = gen
		}
	default:
		log.Info("generation disabled", "provider", cfg.Generation.Provider)
	}

	return generation.NewClient(provider,
		generation.WithLogger(log),
		generation.WithMetrics(m),
		generation.WithRateLimit(cfg.Generation.RequestsPerSecond),
		generation.WithRetry(generation.RetryConfig{
			MaxAttempts: cfg.Generation.MaxAttempts,
			BackoffBase: cfg.Generation.BackoffBase,
			BackoffMax:  cfg.Generation.BackoffMax,
			Timeout:     cfg.Generation.Timeout,
		}),
	)
}

// newSessionStore returns Redis when configured and reachable, memory
// otherwise. The returned close func is always non-nil.
func newSessionStore(cfg config.SessionConfig, log *slog.Logger) (session.Store, func()) {
	if cfg.RedisAddr == "" {
		return session.NewMemoryStore(), noop
	}

	rs, err := session.NewRedisStore(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB}, cfg.KeyPrefix, cfg.TTL)
	if err != nil {
		log.Warn("redis sessions disabled, using memory", "addr", cfg.RedisAddr, "error", err)
		return session.NewMemoryStore(), noop
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := rs.Ping(ctx); err != nil {
		_ = rs.Close()
		log.Warn("redis unreachable, using memory sessions", "addr", cfg.RedisAddr, "error", err)
		return session.NewMemoryStore(), noop
	}

	log.Info("Using redis sessions", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	return rs, func() {
		if err := rs.Close(); err != nil {
			log.Warn("redis close", "error", err)
		}
	}
}

// registerGovernanceTools adds the specification and artifact tools.
func registerGovernanceTools(s *server.MCPServer, svc *commands.Service) {
	registerSpec := tools.NewRegisterSpecTool(svc)
	s.AddTool(registerSpec.Definition(), registerSpec.Handle)

	reviewChanges := tools.NewReviewChangesTool(svc)
	s.AddTool(reviewChanges.Definition(), reviewChanges.Handle)

	approveSpec := tools.NewApproveSpecTool(svc)
	s.AddTool(approveSpec.Definition(), approveSpec.Handle)

	compileSpec := tools.NewCompileSpecTool(svc)
	s.AddTool(compileSpec.Definition(), compileSpec.Handle)

	checkStatus := tools.NewCheckStatusTool(svc)
	s.AddTool(checkStatus.Definition(), checkStatus.Handle)

	decide := tools.NewDecideAcceptanceTool(svc)
	s.AddTool(decide.Definition(), decide.Handle)

	validate := tools.NewValidateArtifactTool(svc)
	s.AddTool(validate.Definition(), validate.Handle)

	migrate := tools.NewMigrateArtifactTool(svc)
	s.AddTool(migrate.Definition(), migrate.Handle)

	analyze := tools.NewAnalyzeImpactTool(svc)
	s.AddTool(analyze.Definition(), analyze.Handle)
}

// registerSessionTools adds the workflow session tools.
func registerSessionTools(s *server.MCPServer, ctrl *workflow.Controller) {
	start := tools.NewSessionStartTool(ctrl)
	s.AddTool(start.Definition(), start.Handle)

	turn := tools.NewSessionTurnTool(ctrl)
	s.AddTool(turn.Definition(), turn.Handle)

	state := tools.NewSessionStateTool(ctrl)
	s.AddTool(state.Definition(), state.Handle)

	dispatch := tools.NewSessionDispatchTool(ctrl)
	s.AddTool(dispatch.Definition(), dispatch.Handle)

	pin := tools.NewSessionPinVersionTool(ctrl)
	s.AddTool(pin.Definition(), pin.Handle)

	generate := tools.NewSessionGenerateTool(ctrl)
	s.AddTool(generate.Definition(), generate.Handle)

	triggers := tools.NewSessionTriggersTool(ctrl)
	s.AddTool(triggers.Definition(), triggers.Handle)
}

// serverInstructions returns the system instructions that tell the AI
// how to use specgate.
func serverInstructions() string {
	return `You have access to specgate, a specification governance MCP server.

specgate turns an approved technical specification into a compiled
authority (scope plus invariants) and validates every generated planning
artifact against the exact version a human accepted.

## RULES

- Nothing is authoritative until a human approves the version
  (approve_spec) AND accepts its compiled authority (decide_acceptance).
  Never approve or accept on the user's behalf without asking.
- Every artifact names the version it was generated under. There is no
  "latest": always pass the version id the user accepted.
- A refused command is an answer, not a glitch. Report the reason and the
  error kind to the user. Do not retry with different inputs to get past
  a refusal.
- Nothing recompiles automatically. When check_status says "stale", tell
  the user and offer compile_spec.

## SPECIFICATION FLOW

1. register_spec       Store a new immutable version (pending_review)
2. review_changes      Produce the diff the reviewer reads
3. approve_spec        Record the human approval
4. compile_spec        Compile scope and invariants from the approved text
5. decide_acceptance   Human accepts or rejects the compiled authority
6. check_status        current, stale, not_compiled or pending_review

## ARTIFACTS

- validate_artifact checks an artifact against its pinned version and
  always records evidence, pass or fail.
- migrate_artifact_to_version re-validates an artifact under a newer
  accepted version. The original evidence is never touched.
- analyze_impact compares two compiled versions and flags the validated
  artifacts that need review.

## PLANNING SESSIONS

1. session_start, then session_pin_version with the accepted version.
2. Call session_turn FIRST on every user message.
3. session_dispatch moves between phases; session_generate produces and
   validates one artifact in the current phase.
4. session_run_triggers applies automatic transitions.

Prompts: plan-start walks the whole flow; governance-status explains a
project's state. Resources: specgate://projects/{project}/status and
specgate://versions/{version}/authority.`
}
