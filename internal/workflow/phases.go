package workflow

import (
	"context"

	"github.com/HendryAvila/specgate/internal/governance"
	"github.com/HendryAvila/specgate/internal/session"
)

// Phase is a controller state.
type Phase string

const (
	PhaseIntake         Phase = "specification_intake"
	PhaseRouting        Phase = "routing"
	PhaseVision         Phase = "vision"
	PhaseBacklog        Phase = "backlog"
	PhaseRoadmap        Phase = "roadmap"
	PhaseStories        Phase = "story_generation"
	PhaseSprintPlanning Phase = "sprint_planning"
)

// Phases lists every phase in workflow order.
var Phases = []Phase{
	PhaseIntake, PhaseRouting, PhaseVision, PhaseBacklog, PhaseRoadmap, PhaseStories, PhaseSprintPlanning,
}

// generationPhases produce artifacts and therefore need an accepted pin.
var generationPhases = map[Phase]bool{
	PhaseVision:         true,
	PhaseBacklog:        true,
	PhaseRoadmap:        true,
	PhaseStories:        true,
	PhaseSprintPlanning: true,
}

// IsGeneration reports whether p produces artifacts.
func (p Phase) IsGeneration() bool { return generationPhases[p] }

// ─── Capabilities ───────────────────────────────────────────────────────────

// Capability is an action a phase exposes.
type Capability string

const (
	CapReadStatus         Capability = "read_status"
	CapPinVersion         Capability = "pin_version"
	CapDispatch           Capability = "dispatch"
	CapGenerateVision     Capability = "generate_vision"
	CapGenerateBacklog    Capability = "generate_backlog_item"
	CapGenerateRoadmap    Capability = "generate_roadmap"
	CapGenerateStory      Capability = "generate_story"
	CapGenerateSprintPlan Capability = "generate_sprint_plan"
)

// CapabilitySpec describes one capability of a phase.
type CapabilitySpec struct {
	Name     Capability `json:"name"`
	Mutating bool       `json:"mutating"`
}

var (
	readStatus = CapabilitySpec{Name: CapReadStatus}
	pinVersion = CapabilitySpec{Name: CapPinVersion, Mutating: true}
	dispatch   = CapabilitySpec{Name: CapDispatch}
)

// phaseCapabilities is the closed capability set of every phase.
var phaseCapabilities = map[Phase][]CapabilitySpec{
	PhaseIntake:         {readStatus, pinVersion, dispatch},
	PhaseRouting:        {readStatus, pinVersion, dispatch},
	PhaseVision:         {readStatus, dispatch, {Name: CapGenerateVision, Mutating: true}},
	PhaseBacklog:        {readStatus, dispatch, {Name: CapGenerateBacklog, Mutating: true}},
	PhaseRoadmap:        {readStatus, dispatch, {Name: CapGenerateRoadmap, Mutating: true}},
	PhaseStories:        {readStatus, dispatch, {Name: CapGenerateStory, Mutating: true}},
	PhaseSprintPlanning: {readStatus, dispatch, {Name: CapGenerateSprintPlan, Mutating: true}},
}

// generateCapability maps artifact kinds to the capability producing them.
var generateCapability = map[governance.ArtifactKind]Capability{
	governance.KindVision:      CapGenerateVision,
	governance.KindBacklogItem: CapGenerateBacklog,
	governance.KindRoadmap:     CapGenerateRoadmap,
	governance.KindStory:       CapGenerateStory,
	governance.KindSprintPlan:  CapGenerateSprintPlan,
}

// Capabilities returns a copy of the capability set of p.
func Capabilities(p Phase) []CapabilitySpec {
	caps := phaseCapabilities[p]
	out := make([]CapabilitySpec, len(caps))
	copy(out, caps)
	return out
}

// Allows reports whether phase p exposes capability c.
func Allows(p Phase, c Capability) bool {
	for _, spec := range phaseCapabilities[p] {
		if spec.Name == c {
			return true
		}
	}
	return false
}

func requireCapability(p Phase, c Capability) error {
	if !Allows(p, c) {
		return governance.E(governance.CapabilityDenied, "workflow", "phase %s does not allow %s", p, c)
	}
	return nil
}

// ─── Transitions ────────────────────────────────────────────────────────────

// Intent is a typed user intent. There is no free-text intent.
type Intent string

const (
	IntentFinishIntake   Intent = "finish_intake"
	IntentRoute          Intent = "route"
	IntentVision         Intent = "vision"
	IntentBacklog        Intent = "backlog"
	IntentRoadmap        Intent = "roadmap"
	IntentStories        Intent = "stories"
	IntentSprintPlanning Intent = "sprint_planning"
	IntentNext           Intent = "next"
)

var validIntents = map[Intent]bool{
	IntentFinishIntake:   true,
	IntentRoute:          true,
	IntentVision:         true,
	IntentBacklog:        true,
	IntentRoadmap:        true,
	IntentStories:        true,
	IntentSprintPlanning: true,
	IntentNext:           true,
}

// ParseIntent validates an intent name.
func ParseIntent(s string) (Intent, error) {
	i := Intent(s)
	if !validIntents[i] {
		return "", governance.E(governance.InvalidInput, "workflow.parse_intent", "unknown intent %q", s)
	}
	return i, nil
}

// guard decides whether a session may enter a phase.
type guard func(ctx context.Context, c *Controller, st *session.State) error

// Transition is one row of the transition table.
type Transition struct {
	From   Phase
	Intent Intent
	To     Phase
	guard  guard
}

type transitionKey struct {
	from   Phase
	intent Intent
}

// transitionTable is the complete set of legal moves.
var transitionTable = []Transition{
	{From: PhaseIntake, Intent: IntentFinishIntake, To: PhaseRouting},

	{From: PhaseRouting, Intent: IntentVision, To: PhaseVision, guard: acceptedPin},
	{From: PhaseRouting, Intent: IntentBacklog, To: PhaseBacklog, guard: acceptedPin},
	{From: PhaseRouting, Intent: IntentRoadmap, To: PhaseRoadmap, guard: acceptedPin},
	{From: PhaseRouting, Intent: IntentStories, To: PhaseStories, guard: acceptedPin},
	{From: PhaseRouting, Intent: IntentSprintPlanning, To: PhaseSprintPlanning, guard: sprintReady},

	{From: PhaseVision, Intent: IntentNext, To: PhaseBacklog, guard: acceptedPin},
	{From: PhaseBacklog, Intent: IntentNext, To: PhaseRoadmap, guard: acceptedPin},
	{From: PhaseRoadmap, Intent: IntentNext, To: PhaseStories, guard: acceptedPin},
	{From: PhaseStories, Intent: IntentNext, To: PhaseSprintPlanning, guard: sprintReady},

	{From: PhaseVision, Intent: IntentRoute, To: PhaseRouting},
	{From: PhaseBacklog, Intent: IntentRoute, To: PhaseRouting},
	{From: PhaseRoadmap, Intent: IntentRoute, To: PhaseRouting},
	{From: PhaseStories, Intent: IntentRoute, To: PhaseRouting},
	{From: PhaseSprintPlanning, Intent: IntentRoute, To: PhaseRouting},
}

var transitions = func() map[transitionKey]Transition {
	m := make(map[transitionKey]Transition, len(transitionTable))
	for _, t := range transitionTable {
		m[transitionKey{t.From, t.Intent}] = t
	}
	return m
}()

// Lookup returns the transition for (from, intent).
func Lookup(from Phase, intent Intent) (Transition, error) {
	t, ok := transitions[transitionKey{from, intent}]
	if !ok {
		return Transition{}, governance.E(governance.InvalidTransition, "workflow.dispatch",
			"no transition from %s on %s", from, intent)
	}
	return t, nil
}

// Transitions returns the legal moves out of p.
func Transitions(p Phase) []Transition {
	var out []Transition
	for _, t := range transitionTable {
		if t.From == p {
			out = append(out, t)
		}
	}
	return out
}

// ─── Guards ─────────────────────────────────────────────────────────────────

func acceptedPin(ctx context.Context, c *Controller, st *session.State) error {
	return c.ledger.RequireAccepted(ctx, st.ProjectID, st.PinnedVersion)
}

func sprintReady(ctx context.Context, c *Controller, st *session.State) error {
	if err := acceptedPin(ctx, c, st); err != nil {
		return err
	}
	counts, err := c.store.PinnedArtifactCounts(ctx, st.ProjectID, st.PinnedVersion)
	if err != nil {
		return err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return governance.E(governance.InvalidState, "workflow.dispatch",
			"sprint planning needs at least one artifact validated under %s", st.PinnedVersion)
	}
	return nil
}
