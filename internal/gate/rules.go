package gate

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/HendryAvila/specgate/internal/governance"
)

// ─── Term matching ──────────────────────────────────────────────────────────

// wordEdge matches anything that cannot be part of a word, so a term only
// matches where it stands on its own.
const wordEdge = `[^\p{L}\p{N}_]`

var termCache sync.Map // string → *regexp.Regexp

func termPattern(term string) *regexp.Regexp {
	key := strings.ToLower(term)
	if re, ok := termCache.Load(key); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`(?i)(?:^|` + wordEdge + `)` + regexp.QuoteMeta(term) + `(?:$|` + wordEdge + `)`)
	termCache.Store(key, re)
	return re
}

// MatchTerm reports whether term occurs in any of texts, case-insensitively
// and on word boundaries. It returns the first matching text.
func MatchTerm(term string, texts []string) (string, bool) {
	term = strings.TrimSpace(term)
	if term == "" {
		return "", false
	}
	re := termPattern(term)
	for _, t := range texts {
		if re.MatchString(t) {
			return t, true
		}
	}
	return "", false
}

// ─── Rules ──────────────────────────────────────────────────────────────────

// Evaluate runs every rule over (artifact, authority). It reads nothing
// else: same inputs, same evaluations.
func Evaluate(a *governance.Artifact, auth *governance.CompiledAuthority) (rules []governance.RuleEvaluation, relied []string) {
	texts := a.Texts()

	for _, inv := range auth.Invariants {
		if !inv.Applies(a.Kind) {
			continue
		}
		relied = append(relied, inv.ID)

		switch inv.Type {
		case governance.InvariantForbiddenCapability:
			rules = append(rules, forbiddenCapability(inv, texts))
		case governance.InvariantRequiredField:
			rules = append(rules, requiredField(inv, a))
		}
	}

	rules = append(rules, titleRequired(a))
	if a.Kind == governance.KindStory {
		rules = append(rules, acceptanceCriteriaRequired(a))
	}
	return rules, relied
}

func forbiddenCapability(inv governance.Invariant, texts []string) governance.RuleEvaluation {
	ev := governance.RuleEvaluation{
		RuleID:      governance.RuleForbiddenCapability,
		Family:      governance.FamilyAlignment,
		InvariantID: inv.ID,
		Passed:      true,
	}
	if _, hit := MatchTerm(inv.Value, texts); hit {
		ev.Passed = false
		ev.Detail = fmt.Sprintf("artifact uses forbidden capability %q (invariant %s)", inv.Value, inv.ID)
	}
	return ev
}

func requiredField(inv governance.Invariant, a *governance.Artifact) governance.RuleEvaluation {
	ev := governance.RuleEvaluation{
		RuleID:      governance.RuleRequiredField,
		Family:      governance.FamilyContract,
		InvariantID: inv.ID,
		Passed:      true,
	}
	if strings.TrimSpace(a.Fields[inv.Value]) == "" {
		ev.Passed = false
		ev.Detail = fmt.Sprintf("required field %q is missing (invariant %s)", inv.Value, inv.ID)
	}
	return ev
}

func titleRequired(a *governance.Artifact) governance.RuleEvaluation {
	ev := governance.RuleEvaluation{RuleID: governance.RuleTitleRequired, Family: governance.FamilyContract, Passed: true}
	if strings.TrimSpace(a.Title) == "" {
		ev.Passed = false
		ev.Detail = fmt.Sprintf("%s has no title", a.Kind)
	}
	return ev
}

func acceptanceCriteriaRequired(a *governance.Artifact) governance.RuleEvaluation {
	ev := governance.RuleEvaluation{RuleID: governance.RuleAcceptanceCriteriaRequired, Family: governance.FamilyContract, Passed: true}
	for _, c := range a.AcceptanceCriteria {
		if strings.TrimSpace(c) != "" {
			return ev
		}
	}
	ev.Passed = false
	ev.Detail = "story has no acceptance criteria"
	return ev
}

// Warnings lists observations that never fail validation: topics outside
// the authority scope and references to items the authority rejected.
func Warnings(a *governance.Artifact, auth *governance.CompiledAuthority) []string {
	var out []string
	if len(auth.Scope) > 0 {
		for _, topic := range a.Topics {
			if !auth.InScope(topic) {
				out = append(out, fmt.Sprintf("topic %q is outside the authority scope", topic))
			}
		}
	}
	texts := a.Texts()
	for _, r := range auth.RejectedItems {
		if _, hit := MatchTerm(r.Item, texts); hit {
			w := fmt.Sprintf("references rejected item %q", r.Item)
			if r.Reason != "" {
				w += ": " + r.Reason
			}
			out = append(out, w)
		}
	}
	return out
}
