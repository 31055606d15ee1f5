package types

// Severity is the inherited severity of a Rule and its Verdicts.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Mode distinguishes a Rule re-checked on every window from one that is
// satisfied once and then held for a validity window.
type Mode string

const (
	ModeIncident  Mode = "incident"
	ModeChecklist Mode = "checklist"
)

// Frequency describes how often a Rule's condition must hold across a
// session, independent of Mode. This is the distinction the prior-context
// propagation of the Dispatch Engine depends on (spec §4.6): a rule that
// must hold in every frame behaves differently from one that must occur
// at least once.
type Frequency string

const (
	FrequencyAlways      Frequency = "always"
	FrequencyAtLeastOnce Frequency = "at_least_once"
	FrequencyAtLeastN    Frequency = "at_least_n"
)

// Rule is one condition a Policy checks for.
type Rule struct {
	ID               string    `json:"id" yaml:"id"`
	Description      string    `json:"description" yaml:"description"`
	Type             string    `json:"type,omitempty" yaml:"type,omitempty"`
	Severity         Severity  `json:"severity" yaml:"severity"`
	Mode             Mode      `json:"mode" yaml:"mode"`
	ValidityDuration float64   `json:"validity_duration,omitempty" yaml:"validity_duration,omitempty"`
	Frequency        Frequency `json:"frequency,omitempty" yaml:"frequency,omitempty"`
	FrequencyCount   int       `json:"frequency_count,omitempty" yaml:"frequency_count,omitempty"`
}

// MatchMode is whether a ReferenceImage's subject should or should not be
// found in frames.
type MatchMode string

const (
	MatchMustMatch    MatchMode = "must_match"
	MatchMustNotMatch MatchMode = "must_not_match"
)

// ReferenceCategory groups a ReferenceImage by what it depicts.
type ReferenceCategory string

const (
	CategoryPeople  ReferenceCategory = "people"
	CategoryBadges  ReferenceCategory = "badges"
	CategoryObjects ReferenceCategory = "objects"
)

// ReferenceImage is a known-good or known-bad exemplar supplied out of
// band (e.g. a badge template, a restricted-area photo of a person).
type ReferenceImage struct {
	ID         string            `json:"id" yaml:"id"`
	Label      string            `json:"label" yaml:"label"`
	ImageBytes []byte            `json:"image_base64" yaml:"-"`
	Category   ReferenceCategory `json:"category" yaml:"category"`
	MatchMode  MatchMode         `json:"match_mode" yaml:"match_mode"`
	Checks     []string          `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// Policy is the full set of rules, context, and reference material in
// force for a session or window. Policy, its Rules, and its
// ReferenceImages are treated as immutable for the lifetime of the
// Session that holds them (spec §5): a policy change means stop+start
// with a new Policy, never a mutation in place.
type Policy struct {
	Rules               []Rule           `json:"rules" yaml:"rules"`
	CustomPrompt        string           `json:"custom_prompt,omitempty" yaml:"custom_prompt,omitempty"`
	IncludeAudio        bool             `json:"include_audio" yaml:"include_audio"`
	ReferenceImages     []ReferenceImage `json:"reference_images,omitempty" yaml:"reference_images,omitempty"`
	EnabledReferenceIDs []string         `json:"enabled_reference_ids,omitempty" yaml:"enabled_reference_ids,omitempty"`
	PriorContext        string           `json:"prior_context,omitempty" yaml:"prior_context,omitempty"`
}

// RuleByID returns the rule with the given id, or false if none matches.
func (p *Policy) RuleByID(id string) (Rule, bool) {
	for _, r := range p.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}
