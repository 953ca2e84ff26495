package domain

import "fmt"

// RuleKind identifies the family a rule configuration belongs to
type RuleKind string

const (
	RuleKindIndicator RuleKind = "indicator"
	RuleKindPrice     RuleKind = "price"
	RuleKindTime      RuleKind = "time"
	RuleKindFixed     RuleKind = "fixed"
	RuleKindVolatility RuleKind = "volatility"
)

// RuleSet is a tagged rule configuration payload.
// The engine never interprets Params; it validates the envelope at the
// load boundary and copies or overrides the whole set during Clone.
type RuleSet struct {
	Params map[string]any `json:"params,omitempty"`
	Kind   RuleKind       `json:"kind"`
}

// Validate checks that the rule envelope is well formed
func (r *RuleSet) Validate() error {
	switch r.Kind {
	case RuleKindIndicator, RuleKindPrice, RuleKindTime, RuleKindFixed, RuleKindVolatility:
		return nil
	case "":
		return fmt.Errorf("rule set missing kind")
	default:
		return fmt.Errorf("unknown rule kind: %s", r.Kind)
	}
}

// IsZero reports whether the rule set carries no configuration
func (r *RuleSet) IsZero() bool {
	return r.Kind == "" && len(r.Params) == 0
}
