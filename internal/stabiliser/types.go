package stabiliser

import (
	"fmt"
	"math"
)

// TrackState represents the lifecycle state of a track.
type TrackState string

const (
	TrackActive  TrackState = "active"  // Matched a detection on the most recent frame
	TrackStale   TrackState = "stale"   // Missed at least one frame, box held frozen
	TrackExpired TrackState = "expired" // Miss budget exhausted, removed from the registry
)

// Detection is one raw box from the detector for a single frame. It is
// ephemeral: the registry copies what it needs and never retains a
// reference.
type Detection struct {
	FrameIndex int64   `json:"frame_index"`
	CameraID   string  `json:"camera_id"`
	CenterX    float64 `json:"cx"`
	CenterY    float64 `json:"cy"`
	Width      float64 `json:"w"`
	Height     float64 `json:"h"`
	Confidence float64 `json:"confidence"`
}

// Validate reports whether the detection is geometrically usable.
// Non-finite values and non-positive sizes are rejected; out-of-range
// confidence is NOT an error (it is clamped during inference).
func (d Detection) Validate() error {
	for _, v := range []float64{d.CenterX, d.CenterY, d.Width, d.Height, d.Confidence} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite value in detection at frame %d", d.FrameIndex)
		}
	}
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("non-positive size %gx%g in detection at frame %d", d.Width, d.Height, d.FrameIndex)
	}
	if d.CameraID == "" {
		return fmt.Errorf("missing camera id in detection at frame %d", d.FrameIndex)
	}
	return nil
}

// SmoothedBox is the per-track output emitted once per processed frame.
type SmoothedBox struct {
	CenterX float64    `json:"cx"`
	CenterY float64    `json:"cy"`
	Width   float64    `json:"w"`
	Height  float64    `json:"h"`
	State   TrackState `json:"state"`
}

// Track is the persistent per-object state. IDs are assigned once from a
// monotonically increasing counter so repeated runs over the same
// detection log reproduce identical assignments.
type Track struct {
	ID       int64
	CameraID string
	State    TrackState

	// Stabilised output. Defined from the first detection onward
	// (initialised to the raw box, alpha forced to 1).
	SmoothedCenterX float64
	SmoothedCenterY float64
	SmoothedWidth   float64
	SmoothedHeight  float64

	// Most recent raw observation, used for the next frame's motion.
	LastRawCenterX float64
	LastRawCenterY float64
	LastRawWidth   float64
	LastRawHeight  float64
	LastConfidence float64

	// Lifecycle counters
	FirstFrame    int64
	LastSeenFrame int64
	MissCount     int

	// Aggregates
	ObservationCount int
	LastAlpha        float64
	AlphaSum         float64 // Running sum for mean alpha reporting
}

// MeanAlpha returns the average smoothing factor applied over the track's
// lifetime.
func (t Track) MeanAlpha() float64 {
	if t.ObservationCount == 0 {
		return 0
	}
	return t.AlphaSum / float64(t.ObservationCount)
}

// Box returns the track's current smoothed box.
func (t Track) Box() SmoothedBox {
	return SmoothedBox{
		CenterX: t.SmoothedCenterX,
		CenterY: t.SmoothedCenterY,
		Width:   t.SmoothedWidth,
		Height:  t.SmoothedHeight,
		State:   t.State,
	}
}

// Match pairs one detection with the track it was associated to (or the
// track created for it).
type Match struct {
	Detection       Detection
	DetectionIndex  int
	TrackID         int64
	New             bool  // true when the detection spawned a fresh track
	FramesSinceSeen int64 // frame delta to the track's previous observation (0 for new tracks)
}

func euclidean(x1, y1, x2, y2 float64) float64 {
	dx := x1 - x2
	dy := y1 - y2
	return math.Sqrt(dx*dx + dy*dy)
}
