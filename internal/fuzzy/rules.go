package fuzzy

import "fmt"

// RuleSpec describes one configured rule: IF motion IS <Motion> AND
// confidence IS <Confidence> THEN alpha IS <Alpha>. The consequent is a
// singleton value in [0, 1].
type RuleSpec struct {
	Motion     string  `json:"motion"`
	Confidence string  `json:"confidence"`
	Alpha      float64 `json:"alpha"`
}

// RuleBase is a total mapping from (motion term, confidence term) to a
// singleton smoothing factor. It is stored as a flat table indexed by term
// pair so lookup is O(1) and completeness is mechanically checkable.
type RuleBase struct {
	motion     *TermSet
	confidence *TermSet
	table      []float64
}

// NewRuleBase validates the rule specs against the two term sets and builds
// the lookup table. Every (motion, confidence) pair must appear exactly
// once with a consequent in [0, 1]; anything else is a configuration error.
func NewRuleBase(motion, confidence *TermSet, rules []RuleSpec) (*RuleBase, error) {
	rb := &RuleBase{
		motion:     motion,
		confidence: confidence,
		table:      make([]float64, motion.Len()*confidence.Len()),
	}
	seen := make([]bool, len(rb.table))

	for _, rule := range rules {
		mi := motion.Index(rule.Motion)
		if mi < 0 {
			return nil, fmt.Errorf("rule references unknown motion term %q", rule.Motion)
		}
		ci := confidence.Index(rule.Confidence)
		if ci < 0 {
			return nil, fmt.Errorf("rule references unknown confidence term %q", rule.Confidence)
		}
		if rule.Alpha < 0 || rule.Alpha > 1 {
			return nil, fmt.Errorf("rule (%s, %s): alpha %v out of range [0,1]",
				rule.Motion, rule.Confidence, rule.Alpha)
		}
		idx := mi*confidence.Len() + ci
		if seen[idx] {
			return nil, fmt.Errorf("duplicate rule for (%s, %s)", rule.Motion, rule.Confidence)
		}
		seen[idx] = true
		rb.table[idx] = rule.Alpha
	}

	for idx, ok := range seen {
		if !ok {
			mi := idx / confidence.Len()
			ci := idx % confidence.Len()
			return nil, fmt.Errorf("rule base incomplete: no rule for (%s, %s)",
				motion.Name(mi), confidence.Name(ci))
		}
	}

	return rb, nil
}

// Consequent returns the singleton output for the term pair at the given
// indices into the motion and confidence term sets.
func (rb *RuleBase) Consequent(motionIdx, confidenceIdx int) float64 {
	return rb.table[motionIdx*rb.confidence.Len()+confidenceIdx]
}
