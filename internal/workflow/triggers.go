package workflow

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// TriggerDef declares an automatic transition: when the CEL predicate
// holds over the durable snapshot, Intent is dispatched.
//
// Predicates see these variables:
//
//	phase            string  current phase
//	pinned_version   int     pinned version id, 0 when unpinned
//	pinned_accepted  bool    the pin passes the acceptance ledger
//	pinned_artifacts int     project artifacts pinned to that version
//	pinned_stories   int     of which stories
//	min_stories      int     configured sprint readiness threshold
type TriggerDef struct {
	Name   string `yaml:"name" json:"name" validate:"required"`
	When   string `yaml:"when" json:"when" validate:"required"`
	Intent Intent `yaml:"intent" json:"intent" validate:"required"`
}

// DefaultTriggers leave intake once an accepted version is pinned, and
// move to sprint planning once enough stories are pinned.
func DefaultTriggers() []TriggerDef {
	return []TriggerDef{
		{Name: "authority_ready", When: `phase == "specification_intake" && pinned_accepted`, Intent: IntentFinishIntake},
		{Name: "stories_ready", When: `phase == "story_generation" && pinned_stories >= min_stories`, Intent: IntentNext},
	}
}

// trigger is a compiled TriggerDef.
type trigger struct {
	def TriggerDef
	prg cel.Program
}

// snapshot is the predicate input, derived from durable state.
type snapshot struct {
	Phase           Phase
	PinnedVersion   int64
	PinnedAccepted  bool
	PinnedArtifacts int
	PinnedStories   int
	MinStories      int
}

func (s snapshot) vars() map[string]any {
	return map[string]any{
		"phase":            string(s.Phase),
		"pinned_version":   s.PinnedVersion,
		"pinned_accepted":  s.PinnedAccepted,
		"pinned_artifacts": int64(s.PinnedArtifacts),
		"pinned_stories":   int64(s.PinnedStories),
		"min_stories":      int64(s.MinStories),
	}
}

func triggerEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("phase", cel.StringType),
		cel.Variable("pinned_version", cel.IntType),
		cel.Variable("pinned_accepted", cel.BoolType),
		cel.Variable("pinned_artifacts", cel.IntType),
		cel.Variable("pinned_stories", cel.IntType),
		cel.Variable("min_stories", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// compileTriggers type-checks every predicate up front. A predicate that
// does not yield a bool, or names an unknown intent, is a config error.
func compileTriggers(defs []TriggerDef) ([]trigger, error) {
	env, err := triggerEnv()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(defs))
	out := make([]trigger, 0, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("trigger with empty name")
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate trigger %q", d.Name)
		}
		seen[d.Name] = true
		if !validIntents[d.Intent] {
			return nil, fmt.Errorf("trigger %q: unknown intent %q", d.Name, d.Intent)
		}

		ast, issues := env.Compile(d.When)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("trigger %q: compile: %w", d.Name, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("trigger %q: predicate must be bool, got %s", d.Name, ast.OutputType())
		}
		prg, err := env.Program(ast, cel.CostLimit(10000))
		if err != nil {
			return nil, fmt.Errorf("trigger %q: program: %w", d.Name, err)
		}
		out = append(out, trigger{def: d, prg: prg})
	}
	return out, nil
}

func (t trigger) holds(s snapshot) (bool, error) {
	val, _, err := t.prg.Eval(s.vars())
	if err != nil {
		return false, fmt.Errorf("trigger %q: eval: %w", t.def.Name, err)
	}
	b, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("trigger %q: non-bool result %v", t.def.Name, val)
	}
	return b, nil
}
