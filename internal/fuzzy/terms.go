package fuzzy

import (
	"fmt"
	"math"
)

// TermSpec describes one linguistic term as configured: a name plus four
// weakly increasing trapezoid breakpoints [a, b, c, d]. A triangle is the
// degenerate case b == c.
type TermSpec struct {
	Name        string    `json:"name"`
	Breakpoints []float64 `json:"breakpoints"`
}

// Term is an immutable linguistic term over one scalar input domain.
type Term struct {
	Name       string
	a, b, c, d float64
}

// Membership evaluates the term's membership function at x. It is pure and
// total over the real line: zero outside the support [a, d], linear on the
// shoulders, one on the plateau [b, c].
func (t Term) Membership(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0
	case x < t.a:
		return 0
	case x < t.b:
		return (x - t.a) / (t.b - t.a)
	case x <= t.c:
		return 1
	case x < t.d:
		return (t.d - x) / (t.d - t.c)
	default:
		return 0
	}
}

// Support returns the interval outside which membership is zero.
func (t Term) Support() (lo, hi float64) {
	return t.a, t.d
}

// TermSet is an ordered, immutable collection of terms sharing one input
// domain (motion or confidence).
type TermSet struct {
	domain string
	terms  []Term
	byName map[string]int
	lo, hi float64
}

// NewTermSet validates the given specs and builds a TermSet. Malformed
// breakpoints are a configuration error rejected here, never at
// evaluation time.
func NewTermSet(domain string, specs []TermSpec) (*TermSet, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("term set %q: no terms configured", domain)
	}

	ts := &TermSet{
		domain: domain,
		terms:  make([]Term, 0, len(specs)),
		byName: make(map[string]int, len(specs)),
		lo:     math.Inf(1),
		hi:     math.Inf(-1),
	}

	for i, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("term set %q: term %d has no name", domain, i)
		}
		if _, dup := ts.byName[spec.Name]; dup {
			return nil, fmt.Errorf("term set %q: duplicate term %q", domain, spec.Name)
		}
		if len(spec.Breakpoints) != 4 {
			return nil, fmt.Errorf("term set %q: term %q needs 4 breakpoints, got %d",
				domain, spec.Name, len(spec.Breakpoints))
		}
		prev := math.Inf(-1)
		for _, bp := range spec.Breakpoints {
			if math.IsNaN(bp) || math.IsInf(bp, 0) {
				return nil, fmt.Errorf("term set %q: term %q has non-finite breakpoint", domain, spec.Name)
			}
			if bp < prev {
				return nil, fmt.Errorf("term set %q: term %q breakpoints must be weakly increasing, got %v",
					domain, spec.Name, spec.Breakpoints)
			}
			prev = bp
		}

		term := Term{
			Name: spec.Name,
			a:    spec.Breakpoints[0],
			b:    spec.Breakpoints[1],
			c:    spec.Breakpoints[2],
			d:    spec.Breakpoints[3],
		}
		ts.byName[spec.Name] = len(ts.terms)
		ts.terms = append(ts.terms, term)
		if term.a < ts.lo {
			ts.lo = term.a
		}
		if term.d > ts.hi {
			ts.hi = term.d
		}
	}

	return ts, nil
}

// Len returns the number of terms in the set.
func (ts *TermSet) Len() int {
	return len(ts.terms)
}

// Domain returns the input domain this set was configured for.
func (ts *TermSet) Domain() string {
	return ts.domain
}

// Index returns the position of the named term, or -1 if unknown.
func (ts *TermSet) Index(name string) int {
	if i, ok := ts.byName[name]; ok {
		return i
	}
	return -1
}

// Name returns the name of the term at index i.
func (ts *TermSet) Name(i int) string {
	return ts.terms[i].Name
}

// Universe returns the union of all term supports [lo, hi]. Inputs are
// clamped into this range before fuzzification.
func (ts *TermSet) Universe() (lo, hi float64) {
	return ts.lo, ts.hi
}

// Fuzzify computes the membership degree of x for every term, in term order.
func (ts *TermSet) Fuzzify(x float64) []float64 {
	degrees := make([]float64, len(ts.terms))
	for i, term := range ts.terms {
		degrees[i] = term.Membership(x)
	}
	return degrees
}
