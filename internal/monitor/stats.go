package monitor

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/stabiliser.report/internal/stabiliser"
)

// sampleRingSize bounds the in-memory alpha/motion history used for the
// chart endpoint and the percentile summary.
const sampleRingSize = 512

// StatsSnapshot is the aggregate view served by /api/stats.
type StatsSnapshot struct {
	FramesProcessed   int64     `json:"frames_processed"`
	DetectionsIn      int64     `json:"detections_in"`
	DetectionsDropped int64     `json:"detections_dropped"`
	Matched           int64     `json:"matched"`
	TracksCreated     int64     `json:"tracks_created"`
	TracksExpired     int64     `json:"tracks_expired"`
	CapacityRejected  int64     `json:"capacity_rejected"`
	MeanAlpha         float64   `json:"mean_alpha"`
	AlphaP50          float64   `json:"alpha_p50"`
	AlphaP90          float64   `json:"alpha_p90"`
	MotionP50         float64   `json:"motion_p50"`
	MotionP90         float64   `json:"motion_p90"`
	StartedAt         time.Time `json:"started_at"`
	UptimeSeconds     float64   `json:"uptime_seconds"`
}

// Sample is one (frame, motion, alpha) point retained for the chart.
type Sample struct {
	FrameIndex int64   `json:"frame_index"`
	CameraID   string  `json:"camera_id"`
	TrackID    int64   `json:"track_id"`
	Motion     float64 `json:"motion"`
	Alpha      float64 `json:"alpha"`
}

// FrameStats accumulates per-frame reports and inference samples from all
// camera workers. Safe for concurrent use.
type FrameStats struct {
	mu sync.Mutex

	frames            int64
	detectionsIn      int64
	detectionsDropped int64
	matched           int64
	created           int64
	expired           int64
	capacityRejected  int64

	alphaSum   float64
	alphaCount int64

	samples []Sample
	next    int
	filled  bool

	startTime time.Time
}

// NewFrameStats creates an empty accumulator.
func NewFrameStats() *FrameStats {
	return &FrameStats{
		samples:   make([]Sample, sampleRingSize),
		startTime: time.Now(),
	}
}

// AddFrame folds one frame report into the counters.
func (fs *FrameStats) AddFrame(report stabiliser.FrameReport) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.frames++
	fs.detectionsIn += int64(report.DetectionsIn)
	fs.detectionsDropped += int64(report.DetectionsDropped)
	fs.matched += int64(report.Matched)
	fs.created += int64(report.Created)
	fs.expired += int64(report.Expired)
	fs.capacityRejected += int64(report.CapacityRejected)
}

// AddObservation records one inference result.
func (fs *FrameStats) AddObservation(obs stabiliser.Observation) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.alphaSum += obs.Alpha
	fs.alphaCount++

	fs.samples[fs.next] = Sample{
		FrameIndex: obs.FrameIndex,
		CameraID:   obs.CameraID,
		TrackID:    obs.TrackID,
		Motion:     obs.Motion,
		Alpha:      obs.Alpha,
	}
	fs.next++
	if fs.next == len(fs.samples) {
		fs.next = 0
		fs.filled = true
	}
}

// RecentSamples returns the retained samples, oldest first.
func (fs *FrameStats) RecentSamples() []Sample {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.samplesLocked()
}

func (fs *FrameStats) samplesLocked() []Sample {
	if !fs.filled {
		out := make([]Sample, fs.next)
		copy(out, fs.samples[:fs.next])
		return out
	}
	out := make([]Sample, 0, len(fs.samples))
	out = append(out, fs.samples[fs.next:]...)
	out = append(out, fs.samples[:fs.next]...)
	return out
}

// Snapshot computes the aggregate view, including alpha and motion
// percentiles over the retained samples.
func (fs *FrameStats) Snapshot() StatsSnapshot {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	snap := StatsSnapshot{
		FramesProcessed:   fs.frames,
		DetectionsIn:      fs.detectionsIn,
		DetectionsDropped: fs.detectionsDropped,
		Matched:           fs.matched,
		TracksCreated:     fs.created,
		TracksExpired:     fs.expired,
		CapacityRejected:  fs.capacityRejected,
		StartedAt:         fs.startTime,
		UptimeSeconds:     time.Since(fs.startTime).Seconds(),
	}
	if fs.alphaCount > 0 {
		snap.MeanAlpha = fs.alphaSum / float64(fs.alphaCount)
	}

	samples := fs.samplesLocked()
	if len(samples) == 0 {
		return snap
	}
	alphas := make([]float64, len(samples))
	motions := make([]float64, len(samples))
	for i, s := range samples {
		alphas[i] = s.Alpha
		motions[i] = s.Motion
	}
	sort.Float64s(alphas)
	sort.Float64s(motions)
	snap.AlphaP50 = stat.Quantile(0.5, stat.Empirical, alphas, nil)
	snap.AlphaP90 = stat.Quantile(0.9, stat.Empirical, alphas, nil)
	snap.MotionP50 = stat.Quantile(0.5, stat.Empirical, motions, nil)
	snap.MotionP90 = stat.Quantile(0.9, stat.Empirical, motions, nil)
	return snap
}
