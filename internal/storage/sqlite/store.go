// Package sqlite persists stabiliser runs, per-frame observations and
// track summaries to a SQLite database. The schema is managed by embedded
// migrations applied at open time.
package sqlite

import (
	"context"
	"time"

	"github.com/banshee-data/stabiliser.report/internal/stabiliser"
)

// Run identifies one replay of a detection log with a fixed configuration.
type Run struct {
	RunID           string     `json:"run_id"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Cameras         string     `json:"cameras"`
	ConfigJSON      string     `json:"config_json"`
	FramesProcessed int64      `json:"frames_processed"`
}

// TrackSummary is the per-track rollup written when a run finishes (and
// upserted as tracks expire mid-run).
type TrackSummary struct {
	RunID            string  `json:"run_id"`
	CameraID         string  `json:"camera_id"`
	TrackID          int64   `json:"track_id"`
	State            string  `json:"state"`
	FirstFrame       int64   `json:"first_frame"`
	LastSeenFrame    int64   `json:"last_seen_frame"`
	ObservationCount int     `json:"observation_count"`
	MeanAlpha        float64 `json:"mean_alpha"`
}

// Store is the persistence boundary for the pipeline. Implementations must
// be safe for concurrent use; per-camera workers share one store.
type Store interface {
	// CreateRun records a new run and returns its generated ID.
	CreateRun(ctx context.Context, cameras string, configJSON string) (string, error)

	// FinishRun stamps the run's end time and frame count.
	FinishRun(ctx context.Context, runID string, framesProcessed int64) error

	// RecordObservations appends a batch of per-frame observations in one
	// transaction.
	RecordObservations(ctx context.Context, runID string, obs []stabiliser.Observation) error

	// UpsertTrackSummaries writes or replaces per-track rollups.
	UpsertTrackSummaries(ctx context.Context, runID string, tracks []stabiliser.Track) error

	// Run fetches one run by ID.
	Run(ctx context.Context, runID string) (Run, error)

	// TrackSummaries returns all track rollups for a run, ordered by camera
	// then track ID.
	TrackSummaries(ctx context.Context, runID string) ([]TrackSummary, error)

	// Observations returns one track's observations in frame order.
	Observations(ctx context.Context, runID, cameraID string, trackID int64) ([]stabiliser.Observation, error)

	// AlphaSamples returns the most recent n (frame, motion, alpha) samples
	// for a run across all tracks, in frame order.
	AlphaSamples(ctx context.Context, runID string, n int) ([]AlphaSample, error)

	Close() error
}

// AlphaSample is one point on the monitor's alpha/motion chart.
type AlphaSample struct {
	FrameIndex int64   `json:"frame_index"`
	TrackID    int64   `json:"track_id"`
	Motion     float64 `json:"motion"`
	Alpha      float64 `json:"alpha"`
}
