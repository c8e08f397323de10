package fuzzy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTermMembership(t *testing.T) {
	t.Parallel()

	t.Run("trapezoid shoulders and plateau", func(t *testing.T) {
		t.Parallel()
		ts, err := NewTermSet("motion", []TermSpec{
			{Name: "medium", Breakpoints: []float64{5, 12, 18, 25}},
		})
		require.NoError(t, err)
		term := ts.terms[0]

		assert.Equal(t, 0.0, term.Membership(4.9))
		assert.InDelta(t, 0.5, term.Membership(8.5), 1e-9)  // rising shoulder
		assert.Equal(t, 1.0, term.Membership(12))           // plateau start
		assert.Equal(t, 1.0, term.Membership(18))           // plateau end
		assert.InDelta(t, 0.5, term.Membership(21.5), 1e-9) // falling shoulder
		assert.Equal(t, 0.0, term.Membership(25))
		assert.Equal(t, 0.0, term.Membership(1e9))
	})

	t.Run("left shoulder term is total at the origin", func(t *testing.T) {
		t.Parallel()
		ts, err := NewTermSet("motion", []TermSpec{
			{Name: "small", Breakpoints: []float64{0, 0, 3, 8}},
		})
		require.NoError(t, err)
		term := ts.terms[0]

		assert.Equal(t, 1.0, term.Membership(0))
		assert.Equal(t, 1.0, term.Membership(3))
		assert.InDelta(t, 0.4, term.Membership(6), 1e-9)
		assert.Equal(t, 0.0, term.Membership(-1))
	})

	t.Run("right shoulder term holds at the universe edge", func(t *testing.T) {
		t.Parallel()
		ts, err := NewTermSet("motion", []TermSpec{
			{Name: "large", Breakpoints: []float64{20, 40, 100, 100}},
		})
		require.NoError(t, err)
		term := ts.terms[0]

		assert.Equal(t, 1.0, term.Membership(100))
		assert.Equal(t, 1.0, term.Membership(40))
		assert.InDelta(t, 0.5, term.Membership(30), 1e-9)
	})

	t.Run("triangle is the degenerate trapezoid", func(t *testing.T) {
		t.Parallel()
		ts, err := NewTermSet("alpha", []TermSpec{
			{Name: "medium", Breakpoints: []float64{0.25, 0.4, 0.4, 0.55}},
		})
		require.NoError(t, err)
		term := ts.terms[0]

		assert.Equal(t, 1.0, term.Membership(0.4))
		assert.InDelta(t, 0.5, term.Membership(0.325), 1e-9)
	})

	t.Run("NaN input maps to zero membership", func(t *testing.T) {
		t.Parallel()
		ts, err := NewTermSet("motion", []TermSpec{
			{Name: "small", Breakpoints: []float64{0, 0, 3, 8}},
		})
		require.NoError(t, err)
		assert.Equal(t, 0.0, ts.terms[0].Membership(math.NaN()))
	})
}

func TestNewTermSetValidation(t *testing.T) {
	t.Parallel()

	t.Run("rejects empty term set", func(t *testing.T) {
		t.Parallel()
		_, err := NewTermSet("motion", nil)
		assert.Error(t, err)
	})

	t.Run("rejects decreasing breakpoints", func(t *testing.T) {
		t.Parallel()
		_, err := NewTermSet("motion", []TermSpec{
			{Name: "bad", Breakpoints: []float64{5, 3, 8, 10}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "weakly increasing")
	})

	t.Run("rejects wrong breakpoint count", func(t *testing.T) {
		t.Parallel()
		_, err := NewTermSet("motion", []TermSpec{
			{Name: "bad", Breakpoints: []float64{0, 1, 2}},
		})
		assert.Error(t, err)
	})

	t.Run("rejects non-finite breakpoints", func(t *testing.T) {
		t.Parallel()
		_, err := NewTermSet("motion", []TermSpec{
			{Name: "bad", Breakpoints: []float64{0, 1, math.NaN(), 3}},
		})
		assert.Error(t, err)

		_, err = NewTermSet("motion", []TermSpec{
			{Name: "bad", Breakpoints: []float64{0, 1, 2, math.Inf(1)}},
		})
		assert.Error(t, err)
	})

	t.Run("rejects duplicate and unnamed terms", func(t *testing.T) {
		t.Parallel()
		_, err := NewTermSet("motion", []TermSpec{
			{Name: "small", Breakpoints: []float64{0, 0, 3, 8}},
			{Name: "small", Breakpoints: []float64{5, 12, 18, 25}},
		})
		assert.Error(t, err)

		_, err = NewTermSet("motion", []TermSpec{
			{Name: "", Breakpoints: []float64{0, 0, 3, 8}},
		})
		assert.Error(t, err)
	})

	t.Run("universe spans all supports", func(t *testing.T) {
		t.Parallel()
		ts, err := NewTermSet("motion", []TermSpec{
			{Name: "small", Breakpoints: []float64{0, 0, 3, 8}},
			{Name: "medium", Breakpoints: []float64{5, 12, 18, 25}},
			{Name: "large", Breakpoints: []float64{20, 40, 100, 100}},
		})
		require.NoError(t, err)

		lo, hi := ts.Universe()
		assert.Equal(t, 0.0, lo)
		assert.Equal(t, 100.0, hi)
		assert.Equal(t, 3, ts.Len())
		assert.Equal(t, 1, ts.Index("medium"))
		assert.Equal(t, -1, ts.Index("huge"))
	})
}

func TestFuzzify(t *testing.T) {
	t.Parallel()

	ts, err := NewTermSet("motion", []TermSpec{
		{Name: "small", Breakpoints: []float64{0, 0, 3, 8}},
		{Name: "medium", Breakpoints: []float64{5, 12, 18, 25}},
		{Name: "large", Breakpoints: []float64{20, 40, 100, 100}},
	})
	require.NoError(t, err)

	degrees := ts.Fuzzify(6.5)
	require.Len(t, degrees, 3)
	assert.InDelta(t, 0.3, degrees[0], 1e-9)         // (8-6.5)/5
	assert.InDelta(t, 1.5/7.0, degrees[1], 1e-9)     // (6.5-5)/7
	assert.Equal(t, 0.0, degrees[2])
}
