package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/stabiliser.report/internal/stabiliser"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// Open opens (or creates) the database at path and applies any pending
// migrations.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// modernc sqlite serialises writes itself, but a single connection
	// avoids SQLITE_BUSY across the migration and the workers.
	db.SetMaxOpenConns(1)

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func applyMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun records a new run and returns its generated ID.
func (s *SQLiteStore) CreateRun(ctx context.Context, cameras string, configJSON string) (string, error) {
	runID := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, cameras, config_json) VALUES (?, ?, ?)`,
		runID, cameras, configJSON)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return runID, nil
}

// FinishRun stamps the run's end time and frame count.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, framesProcessed int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = CURRENT_TIMESTAMP, frames_processed = ? WHERE run_id = ?`,
		framesProcessed, runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: no such run", runID)
	}
	return nil
}

// RecordObservations appends a batch of observations in one transaction.
func (s *SQLiteStore) RecordObservations(ctx context.Context, runID string, obs []stabiliser.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin observations tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (
			run_id, camera_id, track_id, frame_index,
			raw_cx, raw_cy, raw_w, raw_h,
			smoothed_cx, smoothed_cy, smoothed_w, smoothed_h,
			motion, confidence, alpha, is_new
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare observation insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		isNew := 0
		if o.New {
			isNew = 1
		}
		if _, err := stmt.ExecContext(ctx,
			runID, o.CameraID, o.TrackID, o.FrameIndex,
			o.RawCenterX, o.RawCenterY, o.RawWidth, o.RawHeight,
			o.SmoothedCenterX, o.SmoothedCenterY, o.SmoothedWidth, o.SmoothedHeight,
			o.Motion, o.Confidence, o.Alpha, isNew,
		); err != nil {
			return fmt.Errorf("insert observation (track %d frame %d): %w", o.TrackID, o.FrameIndex, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit observations: %w", err)
	}
	return nil
}

// UpsertTrackSummaries writes or replaces per-track rollups.
func (s *SQLiteStore) UpsertTrackSummaries(ctx context.Context, runID string, tracks []stabiliser.Track) error {
	if len(tracks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin summaries tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO track_summaries (
			run_id, camera_id, track_id, state,
			first_frame, last_seen_frame, observation_count, mean_alpha
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, camera_id, track_id) DO UPDATE SET
			state = excluded.state,
			last_seen_frame = excluded.last_seen_frame,
			observation_count = excluded.observation_count,
			mean_alpha = excluded.mean_alpha`)
	if err != nil {
		return fmt.Errorf("prepare summary upsert: %w", err)
	}
	defer stmt.Close()

	for _, t := range tracks {
		if _, err := stmt.ExecContext(ctx,
			runID, t.CameraID, t.ID, string(t.State),
			t.FirstFrame, t.LastSeenFrame, t.ObservationCount, t.MeanAlpha(),
		); err != nil {
			return fmt.Errorf("upsert summary for track %d: %w", t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit summaries: %w", err)
	}
	return nil
}

// Run fetches one run by ID.
func (s *SQLiteStore) Run(ctx context.Context, runID string) (Run, error) {
	var run Run
	var finished sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, started_at, finished_at, cameras, config_json, frames_processed
		FROM runs WHERE run_id = ?`, runID).
		Scan(&run.RunID, &run.StartedAt, &finished, &run.Cameras, &run.ConfigJSON, &run.FramesProcessed)
	if err != nil {
		return Run{}, fmt.Errorf("query run %s: %w", runID, err)
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}

// TrackSummaries returns all track rollups for a run.
func (s *SQLiteStore) TrackSummaries(ctx context.Context, runID string) ([]TrackSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, camera_id, track_id, state,
		       first_frame, last_seen_frame, observation_count, mean_alpha
		FROM track_summaries WHERE run_id = ?
		ORDER BY camera_id, track_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query summaries for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []TrackSummary
	for rows.Next() {
		var ts TrackSummary
		if err := rows.Scan(&ts.RunID, &ts.CameraID, &ts.TrackID, &ts.State,
			&ts.FirstFrame, &ts.LastSeenFrame, &ts.ObservationCount, &ts.MeanAlpha); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}
	return out, nil
}

// Observations returns one track's observations in frame order.
func (s *SQLiteStore) Observations(ctx context.Context, runID, cameraID string, trackID int64) ([]stabiliser.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT camera_id, track_id, frame_index,
		       raw_cx, raw_cy, raw_w, raw_h,
		       smoothed_cx, smoothed_cy, smoothed_w, smoothed_h,
		       motion, confidence, alpha, is_new
		FROM observations
		WHERE run_id = ? AND camera_id = ? AND track_id = ?
		ORDER BY frame_index`, runID, cameraID, trackID)
	if err != nil {
		return nil, fmt.Errorf("query observations for track %d: %w", trackID, err)
	}
	defer rows.Close()

	var out []stabiliser.Observation
	for rows.Next() {
		var o stabiliser.Observation
		var isNew int
		if err := rows.Scan(&o.CameraID, &o.TrackID, &o.FrameIndex,
			&o.RawCenterX, &o.RawCenterY, &o.RawWidth, &o.RawHeight,
			&o.SmoothedCenterX, &o.SmoothedCenterY, &o.SmoothedWidth, &o.SmoothedHeight,
			&o.Motion, &o.Confidence, &o.Alpha, &isNew); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.New = isNew != 0
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	return out, nil
}

// AlphaSamples returns the most recent n samples for a run, in frame order.
func (s *SQLiteStore) AlphaSamples(ctx context.Context, runID string, n int) ([]AlphaSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT frame_index, track_id, motion, alpha FROM (
			SELECT frame_index, track_id, motion, alpha
			FROM observations WHERE run_id = ?
			ORDER BY frame_index DESC, track_id DESC LIMIT ?
		) ORDER BY frame_index, track_id`, runID, n)
	if err != nil {
		return nil, fmt.Errorf("query alpha samples for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []AlphaSample
	for rows.Next() {
		var sample AlphaSample
		if err := rows.Scan(&sample.FrameIndex, &sample.TrackID, &sample.Motion, &sample.Alpha); err != nil {
			return nil, fmt.Errorf("scan alpha sample: %w", err)
		}
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alpha samples: %w", err)
	}
	return out, nil
}
