package fuzzy

import (
	"fmt"
	"math"
)

// Engine performs the full inference step: fuzzify crisp inputs, fire the
// rule base with min conjunction, defuzzify via weighted average of the
// singleton consequents. Engines are immutable after construction and safe
// for concurrent use.
type Engine struct {
	motion       *TermSet
	confidence   *TermSet
	rules        *RuleBase
	defaultAlpha float64
}

// NewEngine builds an Engine over the given term sets and rule base.
// defaultAlpha is returned when an input falls in a gap between term
// supports and no rule fires; it must be in [0, 1].
func NewEngine(motion, confidence *TermSet, rules *RuleBase, defaultAlpha float64) (*Engine, error) {
	if motion == nil || confidence == nil || rules == nil {
		return nil, fmt.Errorf("engine requires motion terms, confidence terms and a rule base")
	}
	if math.IsNaN(defaultAlpha) || defaultAlpha < 0 || defaultAlpha > 1 {
		return nil, fmt.Errorf("default_alpha %v out of range [0,1]", defaultAlpha)
	}
	return &Engine{
		motion:       motion,
		confidence:   confidence,
		rules:        rules,
		defaultAlpha: defaultAlpha,
	}, nil
}

// Infer computes the smoothing factor for one observation. Motion is
// clamped into the configured motion universe (mirroring the controller's
// clipped input range) and confidence into [0, 1], so a detection well
// outside the documented ranges still resolves to the nearest boundary
// behaviour rather than the fallback.
func (e *Engine) Infer(motion, confidence float64) float64 {
	lo, hi := e.motion.Universe()
	motion = clamp(motion, lo, hi)
	confidence = clamp(confidence, 0, 1)

	muMotion := e.motion.Fuzzify(motion)
	muConf := e.confidence.Fuzzify(confidence)

	var weighted, total float64
	for mi, mm := range muMotion {
		if mm == 0 {
			continue
		}
		for ci, mc := range muConf {
			strength := mm
			if mc < strength {
				strength = mc
			}
			if strength == 0 {
				continue
			}
			weighted += strength * e.rules.Consequent(mi, ci)
			total += strength
		}
	}

	// NoRuleFired: input sits in a gap between term supports.
	if total == 0 {
		return e.defaultAlpha
	}

	return clamp(weighted/total, 0, 1)
}

// DefaultAlpha returns the configured fallback smoothing factor.
func (e *Engine) DefaultAlpha() float64 {
	return e.defaultAlpha
}

func clamp(x, lo, hi float64) float64 {
	if x < lo || math.IsNaN(x) {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
