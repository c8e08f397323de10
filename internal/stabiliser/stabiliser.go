package stabiliser

import (
	"math"

	"github.com/banshee-data/stabiliser.report/internal/config"
	"github.com/banshee-data/stabiliser.report/internal/fuzzy"
	"github.com/banshee-data/stabiliser.report/internal/monitoring"
)

// Observation records the full inference context for one matched detection.
// The pipeline forwards observations to persistence and monitoring; the
// stabiliser itself keeps no history.
type Observation struct {
	CameraID   string
	TrackID    int64
	FrameIndex int64

	RawCenterX, RawCenterY float64
	RawWidth, RawHeight    float64

	SmoothedCenterX, SmoothedCenterY float64
	SmoothedWidth, SmoothedHeight    float64

	Motion     float64
	Confidence float64
	Alpha      float64
	New        bool
}

// FrameReport summarises one ProcessFrame call for the monitor.
type FrameReport struct {
	FrameIndex        int64
	DetectionsIn      int
	DetectionsDropped int
	Matched           int
	Created           int
	Expired           int
	CapacityRejected  int
}

// Stabiliser orchestrates the per-frame update for one camera: it
// validates detections, asks the registry for associations, runs fuzzy
// inference per matched track and commits the smoothing updates back
// through the registry.
type Stabiliser struct {
	registry *Registry
	engine   *fuzzy.Engine
	sizeMode string

	// lastFrame is the most recent processed frame index, or -1 before the
	// first frame. Frames must arrive in strictly increasing order.
	lastFrame int64

	observer func(Observation)
	reporter func(FrameReport)
}

// NewStabiliser wires a stabiliser to its camera's registry and the shared
// inference engine. The size smoothing mode comes from configuration.
func NewStabiliser(registry *Registry, engine *fuzzy.Engine, cfg *config.TuningConfig) *Stabiliser {
	return &Stabiliser{
		registry:  registry,
		engine:    engine,
		sizeMode:  cfg.GetSizeAlphaMode(),
		lastFrame: -1,
	}
}

// SetObserver registers a callback invoked once per matched detection with
// the full inference context. Pass nil to disable.
func (s *Stabiliser) SetObserver(fn func(Observation)) {
	s.observer = fn
}

// SetReporter registers a callback invoked once per processed frame with
// summary counts. Pass nil to disable.
func (s *Stabiliser) SetReporter(fn func(FrameReport)) {
	s.reporter = fn
}

// Registry returns the registry this stabiliser commits to.
func (s *Stabiliser) Registry() *Registry {
	return s.registry
}

// ProcessFrame runs the full stabilisation step for one frame and returns
// the smoothed box for every non-expired track. Malformed detections are
// dropped and logged, never propagated as errors: only configuration
// problems may abort the pipeline, and those were rejected at load time.
func (s *Stabiliser) ProcessFrame(frameIndex int64, detections []Detection) map[int64]SmoothedBox {
	report := FrameReport{FrameIndex: frameIndex, DetectionsIn: len(detections)}
	before := s.registry.Counters()

	// Frames must be processed in order; the update for frame N depends on
	// the committed state of frame N-1.
	if s.lastFrame >= 0 && frameIndex <= s.lastFrame {
		monitoring.Logf("stabiliser[%s]: ignoring out-of-order frame %d (last processed %d)",
			s.registry.CameraID(), frameIndex, s.lastFrame)
		return s.output()
	}

	// A frame-index gap means the source dropped frames: age every track
	// by the number of missing frames instead of letting the gap
	// masquerade as one large single-frame motion.
	if s.lastFrame >= 0 && frameIndex > s.lastFrame+1 {
		s.registry.AdvanceMisses(int(frameIndex - s.lastFrame - 1))
	}

	valid := detections[:0:0]
	for _, det := range detections {
		if err := det.Validate(); err != nil {
			report.DetectionsDropped++
			monitoring.Logf("stabiliser[%s]: dropping detection: %v", s.registry.CameraID(), err)
			continue
		}
		valid = append(valid, det)
	}

	matches := s.registry.Associate(frameIndex, valid)

	for _, m := range matches {
		if m.New {
			report.Created++
			s.emit(m, 0, 1, frameIndex)
			continue
		}
		report.Matched++

		track, ok := s.registry.Get(m.TrackID)
		if !ok {
			continue
		}

		// Motion is normalised per frame step so a track re-acquired after
		// stale coasting doesn't see its whole displacement as one step.
		frames := float64(m.FramesSinceSeen)
		if frames < 1 {
			frames = 1
		}
		motion := euclidean(m.Detection.CenterX, m.Detection.CenterY,
			track.LastRawCenterX, track.LastRawCenterY) / frames

		alpha := s.engine.Infer(motion, m.Detection.Confidence)
		sizeAlpha := alpha
		if s.sizeMode == config.SizeAlphaInferred {
			sizeMotion := math.Hypot(m.Detection.Width-track.LastRawWidth,
				m.Detection.Height-track.LastRawHeight) / frames
			sizeAlpha = s.engine.Infer(sizeMotion, m.Detection.Confidence)
		}

		s.registry.CommitUpdate(m.TrackID, frameIndex, m.Detection, alpha, sizeAlpha)
		s.emit(m, motion, alpha, frameIndex)
	}

	s.registry.AdvanceFrame()
	s.lastFrame = frameIndex

	after := s.registry.Counters()
	report.Expired = int(after.TracksExpired - before.TracksExpired)
	report.CapacityRejected = int(after.CapacityRejected - before.CapacityRejected)

	if s.reporter != nil {
		s.reporter(report)
	}
	return s.output()
}

// output maps every live track to its current smoothed box. Stale tracks
// are included frozen; expired tracks are gone from the registry and hence
// from the output.
func (s *Stabiliser) output() map[int64]SmoothedBox {
	tracks := s.registry.ActiveTracks()
	out := make(map[int64]SmoothedBox, len(tracks))
	for _, track := range tracks {
		out[track.ID] = track.Box()
	}
	return out
}

func (s *Stabiliser) emit(m Match, motion, alpha float64, frameIndex int64) {
	if s.observer == nil {
		return
	}
	track, ok := s.registry.Get(m.TrackID)
	if !ok {
		return
	}
	s.observer(Observation{
		CameraID:        track.CameraID,
		TrackID:         track.ID,
		FrameIndex:      frameIndex,
		RawCenterX:      m.Detection.CenterX,
		RawCenterY:      m.Detection.CenterY,
		RawWidth:        m.Detection.Width,
		RawHeight:       m.Detection.Height,
		SmoothedCenterX: track.SmoothedCenterX,
		SmoothedCenterY: track.SmoothedCenterY,
		SmoothedWidth:   track.SmoothedWidth,
		SmoothedHeight:  track.SmoothedHeight,
		Motion:          motion,
		Confidence:      clampConfidence(m.Detection.Confidence),
		Alpha:           alpha,
		New:             m.New,
	})
}
