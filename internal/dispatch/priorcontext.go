package dispatch

import (
	"fmt"
	"strings"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/types"
)

// PriorContext accumulates cross-window state for live sessions so the
// Session Manager can hand the Dispatch Engine a prior_context string
// before each window's Evaluating step. It is the frequency-aware
// propagation spec.md §4.6 calls a "core correctness property": a rule
// that must hold in every frame and a rule that must occur once in the
// session need opposite treatment, or one of them always mis-fires.
type PriorContext struct {
	satisfiedOnce map[string]bool
	lastVerdict   map[string]types.Verdict
}

// NewPriorContext creates an empty PriorContext for a new live session.
func NewPriorContext() *PriorContext {
	return &PriorContext{
		satisfiedOnce: make(map[string]bool),
		lastVerdict:   make(map[string]types.Verdict),
	}
}

// Observe records one window's verdicts. Call this after each window's
// Report is produced, before building the next window's prior_context.
func (p *PriorContext) Observe(verdicts []types.Verdict, policy types.Policy) {
	for _, v := range verdicts {
		p.lastVerdict[v.RuleID] = v

		rule, ok := policy.RuleByID(v.RuleID)
		if !ok {
			continue
		}
		if rule.Frequency == types.FrequencyAtLeastOnce && v.Compliant {
			p.satisfiedOnce[v.RuleID] = true
		}
	}
}

// Satisfied reports whether an at_least_once rule has already been
// satisfied in a prior window.
func (p *PriorContext) Satisfied(ruleID string) bool {
	return p.satisfiedOnce[ruleID]
}

// SatisfiedSnapshot returns a copy of the current satisfied-once set, for
// handing to Engine.Process so it can suppress incidents for rules this
// PriorContext already marked SATISFIED — belt and suspenders alongside
// the textual instruction Build embeds in the prior_context string, since
// the Evaluator is an external collaborator and may not honor it.
func (p *PriorContext) SatisfiedSnapshot() map[string]bool {
	out := make(map[string]bool, len(p.satisfiedOnce))
	for k, v := range p.satisfiedOnce {
		out[k] = v
	}
	return out
}

// Build renders the prior_context string handed to the Evaluator for the
// upcoming window.
func (p *PriorContext) Build(policy types.Policy) string {
	var sb strings.Builder
	for _, rule := range policy.Rules {
		switch rule.Frequency {
		case types.FrequencyAtLeastOnce:
			if p.satisfiedOnce[rule.ID] {
				fmt.Fprintf(&sb, "Rule %s (%s): already satisfied in a prior window. Do not re-flag; it remains compliant.\n", rule.ID, rule.Description)
			}
		default:
			// "Holds in every frame" (the default, and at_least_n): pass
			// the previous window's verdict as recent context, never
			// suppressing re-evaluation on new evidence.
			if v, ok := p.lastVerdict[rule.ID]; ok {
				fmt.Fprintf(&sb, "Rule %s (%s): previous window verdict was %s.\n", rule.ID, rule.Description, complianceWord(v.Compliant))
			}
		}
	}
	return sb.String()
}

func complianceWord(compliant bool) string {
	if compliant {
		return "compliant"
	}
	return "non-compliant"
}
