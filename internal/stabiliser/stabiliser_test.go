package stabiliser

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/stabiliser.report/internal/config"
)

// newTestStabiliser builds a stabiliser for "cam-1" from the documented
// tuning defaults, with optional overrides applied to cfg first.
func newTestStabiliser(t *testing.T, cfg *config.TuningConfig) *Stabiliser {
	t.Helper()
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	engine, err := cfg.BuildEngine()
	require.NoError(t, err)
	reg := NewRegistry("cam-1", RegistryConfigFromTuning(cfg))
	return NewStabiliser(reg, engine, cfg)
}

func TestProcessFrameFirstDetectionIsExact(t *testing.T) {
	t.Parallel()

	s := newTestStabiliser(t, nil)
	out := s.ProcessFrame(0, []Detection{testDetection("cam-1", 0, 100, 50)})

	require.Len(t, out, 1)
	box := out[1]
	// The first observation is passed through untouched.
	assert.Equal(t, 100.0, box.CenterX)
	assert.Equal(t, 50.0, box.CenterY)
	assert.Equal(t, 10.0, box.Width)
	assert.Equal(t, 10.0, box.Height)
	assert.Equal(t, TrackActive, box.State)
}

func TestProcessFrameStationaryObjectStaysPut(t *testing.T) {
	t.Parallel()

	s := newTestStabiliser(t, nil)
	var out map[int64]SmoothedBox
	for frame := int64(0); frame < 10; frame++ {
		out = s.ProcessFrame(frame, []Detection{testDetection("cam-1", frame, 100, 50)})
	}

	require.Len(t, out, 1)
	// Identical detections every frame: the EMA fixed point is the raw box,
	// bit for bit.
	assert.Equal(t, 100.0, out[1].CenterX)
	assert.Equal(t, 50.0, out[1].CenterY)

	track, ok := s.Registry().Get(1)
	require.True(t, ok)
	assert.Equal(t, 10, track.ObservationCount)
	// Motion 0 with high confidence lands on the smallest singleton.
	assert.InDelta(t, 0.05, track.LastAlpha, 1e-12)
}

func TestProcessFrameSuppressesJitter(t *testing.T) {
	t.Parallel()

	s := newTestStabiliser(t, nil)
	s.ProcessFrame(0, []Detection{testDetection("cam-1", 0, 100, 100)})

	// 2px jitter with high confidence infers a small alpha, so the
	// smoothed centre moves a small fraction of the raw displacement.
	out := s.ProcessFrame(1, []Detection{testDetection("cam-1", 1, 102, 100)})
	require.Len(t, out, 1)
	moved := out[1].CenterX - 100.0
	assert.Greater(t, moved, 0.0)
	assert.Less(t, moved, 0.5)
}

func TestProcessFrameFollowsFastMotion(t *testing.T) {
	t.Parallel()

	s := newTestStabiliser(t, nil)
	s.ProcessFrame(0, []Detection{testDetection("cam-1", 0, 100, 100)})

	// 50px of confident motion fires the large/high rule (alpha 0.95):
	// the smoothed box snaps nearly all the way to the detection.
	out := s.ProcessFrame(1, []Detection{testDetection("cam-1", 1, 150, 100)})
	require.Len(t, out, 1)
	assert.InDelta(t, 147.5, out[1].CenterX, 1e-9) // 100 + 0.95*50
}

func TestProcessFrameMotionNormalisedOverGap(t *testing.T) {
	t.Parallel()

	s := newTestStabiliser(t, nil)

	var got []Observation
	s.SetObserver(func(o Observation) { got = append(got, o) })

	s.ProcessFrame(0, []Detection{testDetection("cam-1", 0, 0, 0)})

	// Two dropped frames, then a 30px displacement: motion is charged per
	// frame step (10px), not as one 30px jump.
	out := s.ProcessFrame(3, []Detection{testDetection("cam-1", 3, 30, 0)})

	require.Len(t, got, 2)
	obs := got[1]
	assert.False(t, obs.New)
	assert.InDelta(t, 10.0, obs.Motion, 1e-9)
	// Motion 10 is 5/7 into the medium ramp; medium/high is the only rule
	// firing, so alpha defuzzifies to exactly 0.4.
	assert.InDelta(t, 0.4, obs.Alpha, 1e-12)
	assert.InDelta(t, 12.0, out[1].CenterX, 1e-9) // 0 + 0.4*30
}

func TestProcessFrameGapAdvancesMisses(t *testing.T) {
	t.Parallel()

	s := newTestStabiliser(t, nil) // expiry threshold 3
	s.ProcessFrame(0, []Detection{testDetection("cam-1", 0, 0, 0)})

	// A three-frame gap charges three misses before association, so the
	// track is already expired and the detection spawns a fresh one.
	out := s.ProcessFrame(4, []Detection{testDetection("cam-1", 4, 2, 0)})

	require.Len(t, out, 1)
	_, hasOld := out[1]
	assert.False(t, hasOld)
	box, hasNew := out[2]
	require.True(t, hasNew)
	assert.Equal(t, TrackActive, box.State)
	assert.Equal(t, 2.0, box.CenterX)
}

func TestProcessFrameStaleTrackFrozen(t *testing.T) {
	t.Parallel()

	s := newTestStabiliser(t, nil)
	s.ProcessFrame(0, []Detection{testDetection("cam-1", 0, 100, 100)})

	out := s.ProcessFrame(1, nil)
	require.Len(t, out, 1)
	assert.Equal(t, TrackStale, out[1].State)
	assert.Equal(t, 100.0, out[1].CenterX)
	assert.Equal(t, 100.0, out[1].CenterY)

	// Still frozen on the second missed frame.
	out = s.ProcessFrame(2, nil)
	require.Len(t, out, 1)
	assert.Equal(t, 100.0, out[1].CenterX)
}

func TestProcessFrameRejectsOutOfOrder(t *testing.T) {
	t.Parallel()

	s := newTestStabiliser(t, nil)
	s.ProcessFrame(5, []Detection{testDetection("cam-1", 5, 100, 100)})
	before := s.Registry().ActiveTracks()

	// A stale or duplicate frame index must leave the registry untouched
	// and return the current output.
	out := s.ProcessFrame(3, []Detection{testDetection("cam-1", 3, 500, 100)})
	require.Len(t, out, 1)
	assert.Equal(t, 100.0, out[1].CenterX)
	assert.Empty(t, cmp.Diff(before, s.Registry().ActiveTracks()))

	// The next in-order frame processes normally.
	out = s.ProcessFrame(6, []Detection{testDetection("cam-1", 6, 100, 100)})
	require.Len(t, out, 1)
}

func TestProcessFrameDropsInvalidDetections(t *testing.T) {
	t.Parallel()

	s := newTestStabiliser(t, nil)

	bad := testDetection("cam-1", 0, 100, 100)
	bad.CenterX = math.NaN()
	zero := testDetection("cam-1", 0, 200, 100)
	zero.Width = 0

	out := s.ProcessFrame(0, []Detection{bad, zero, testDetection("cam-1", 0, 300, 100)})
	require.Len(t, out, 1)
	assert.Equal(t, 300.0, out[1].CenterX)
	assert.Equal(t, int64(1), s.Registry().TracksCreated)
}

func TestProcessFrameDeterministic(t *testing.T) {
	t.Parallel()

	frames := [][]Detection{
		{testDetection("cam-1", 0, 100, 100), testDetection("cam-1", 0, 300, 100)},
		{testDetection("cam-1", 1, 104, 101), testDetection("cam-1", 1, 297, 99)},
		{testDetection("cam-1", 2, 109, 102)},
		nil,
		{testDetection("cam-1", 4, 120, 104), testDetection("cam-1", 4, 280, 95)},
	}

	run := func() []map[int64]SmoothedBox {
		s := newTestStabiliser(t, nil)
		outs := make([]map[int64]SmoothedBox, 0, len(frames))
		for i, dets := range frames {
			outs = append(outs, s.ProcessFrame(int64(i), dets))
		}
		return outs
	}

	// Identical inputs must produce bit-identical outputs, including track
	// ID assignment.
	assert.Empty(t, cmp.Diff(run(), run()))
}

func TestProcessFrameSizeAlphaModes(t *testing.T) {
	t.Parallel()

	grow := func(frame int64) Detection {
		det := testDetection("cam-1", frame, 50, 50)
		det.Width = 40
		det.Height = 40
		return det
	}

	t.Run("reuse applies centre alpha to size", func(t *testing.T) {
		t.Parallel()
		s := newTestStabiliser(t, nil)
		s.ProcessFrame(0, []Detection{testDetection("cam-1", 0, 50, 50)})

		// Centre is stationary (alpha 0.05), so the size barely moves even
		// though the box tripled.
		out := s.ProcessFrame(1, []Detection{grow(1)})
		require.Len(t, out, 1)
		assert.InDelta(t, 11.5, out[1].Width, 1e-9) // 10 + 0.05*30
		assert.Equal(t, 50.0, out[1].CenterX)
	})

	t.Run("inferred runs a second inference on size change", func(t *testing.T) {
		t.Parallel()
		mode := config.SizeAlphaInferred
		cfg := config.EmptyTuningConfig()
		cfg.SizeAlphaMode = &mode
		s := newTestStabiliser(t, cfg)
		s.ProcessFrame(0, []Detection{testDetection("cam-1", 0, 50, 50)})

		// The size change (hypot(30,30) ~ 42px) is "large" motion, so the
		// size tracks quickly while the stationary centre stays pinned.
		out := s.ProcessFrame(1, []Detection{grow(1)})
		require.Len(t, out, 1)
		assert.InDelta(t, 38.5, out[1].Width, 1e-9) // 10 + 0.95*30
		assert.Equal(t, 50.0, out[1].CenterX)
	})
}

func TestProcessFrameReporter(t *testing.T) {
	t.Parallel()

	s := newTestStabiliser(t, nil)

	var reports []FrameReport
	s.SetReporter(func(r FrameReport) { reports = append(reports, r) })

	bad := testDetection("cam-1", 0, 0, 0)
	bad.Height = -1
	s.ProcessFrame(0, []Detection{testDetection("cam-1", 0, 100, 100), bad})
	s.ProcessFrame(1, []Detection{testDetection("cam-1", 1, 103, 100)})

	require.Len(t, reports, 2)
	assert.Equal(t, FrameReport{
		FrameIndex:        0,
		DetectionsIn:      2,
		DetectionsDropped: 1,
		Created:           1,
	}, reports[0])
	assert.Equal(t, FrameReport{
		FrameIndex:   1,
		DetectionsIn: 1,
		Matched:      1,
	}, reports[1])
}

func TestProcessFrameObserverContext(t *testing.T) {
	t.Parallel()

	s := newTestStabiliser(t, nil)

	var got []Observation
	s.SetObserver(func(o Observation) { got = append(got, o) })

	s.ProcessFrame(0, []Detection{testDetection("cam-1", 0, 100, 100)})
	s.ProcessFrame(1, []Detection{testDetection("cam-1", 1, 102, 100)})

	require.Len(t, got, 2)
	assert.True(t, got[0].New)
	assert.Equal(t, 1.0, got[0].Alpha)
	assert.Equal(t, "cam-1", got[0].CameraID)
	assert.Equal(t, int64(1), got[0].TrackID)

	assert.False(t, got[1].New)
	assert.InDelta(t, 2.0, got[1].Motion, 1e-9)
	assert.Equal(t, 102.0, got[1].RawCenterX)
	// Smoothed values in the observation reflect the committed update.
	assert.Equal(t, got[1].SmoothedCenterX, 100.0+got[1].Alpha*2.0)
}

func TestRegistryConfigFromTuningDefaults(t *testing.T) {
	t.Parallel()

	cfg := RegistryConfigFromTuning(config.EmptyTuningConfig())
	assert.Equal(t, 48.0, cfg.GateDistance)
	assert.Equal(t, 3, cfg.ExpiryThreshold)
	assert.Equal(t, 64, cfg.MaxTracks)
}

func TestProcessFrameReporterCountsExpiry(t *testing.T) {
	t.Parallel()

	s := newTestStabiliser(t, nil)
	var reports []FrameReport
	s.SetReporter(func(r FrameReport) { reports = append(reports, r) })

	s.ProcessFrame(0, []Detection{testDetection("cam-1", 0, 100, 100)})
	for frame := int64(1); frame <= 3; frame++ {
		s.ProcessFrame(frame, nil)
	}

	require.Len(t, reports, 4)
	// Default expiry threshold is 3 misses: the track created at frame 0
	// expires during frame 3.
	assert.Equal(t, 0, reports[2].Expired)
	assert.Equal(t, 1, reports[3].Expired)
	assert.Equal(t, 0, s.Registry().Len())
}
