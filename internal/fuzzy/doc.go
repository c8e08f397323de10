// Package fuzzy implements the fuzzy-inference controller that picks the
// adaptive smoothing factor for the box stabiliser.
//
// Responsibilities: trapezoidal membership evaluation for linguistic terms,
// a validated singleton rule table over (motion, confidence) pairs, and
// Mamdani-style inference with weighted-average defuzzification.
// Key types: Term, TermSet, RuleBase, Engine.
//
// All validation happens at construction time. Engine.Infer is pure and
// holds no state, so one Engine is shared across every camera pipeline.
package fuzzy
