package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/stabiliser.report/internal/stabiliser"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "stabiliser.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testObservation(frame int64, trackID int64) stabiliser.Observation {
	return stabiliser.Observation{
		CameraID:        "cam-1",
		TrackID:         trackID,
		FrameIndex:      frame,
		RawCenterX:      100 + float64(frame),
		RawCenterY:      50,
		RawWidth:        24,
		RawHeight:       48,
		SmoothedCenterX: 100 + 0.4*float64(frame),
		SmoothedCenterY: 50,
		SmoothedWidth:   24,
		SmoothedHeight:  48,
		Motion:          1,
		Confidence:      0.9,
		Alpha:           0.4,
	}
}

func TestOpenAppliesMigrations(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	// The schema is usable immediately after Open.
	runID, err := store.CreateRun(context.Background(), "cam-1", "{}")
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stabiliser.db")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening an already-migrated database must not fail.
	store, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	runID, err := store.CreateRun(ctx, "cam-1,cam-2", `{"gate_distance":48}`)
	require.NoError(t, err)

	run, err := store.Run(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, runID, run.RunID)
	assert.Equal(t, "cam-1,cam-2", run.Cameras)
	assert.Nil(t, run.FinishedAt)
	assert.False(t, run.StartedAt.IsZero())

	require.NoError(t, store.FinishRun(ctx, runID, 1200))

	run, err = store.Run(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, int64(1200), run.FramesProcessed)
}

func TestFinishRunUnknownID(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	err := store.FinishRun(context.Background(), "no-such-run", 1)
	assert.Error(t, err)
}

func TestObservationsRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	runID, err := store.CreateRun(ctx, "cam-1", "{}")
	require.NoError(t, err)

	want := []stabiliser.Observation{
		testObservation(0, 1),
		testObservation(1, 1),
		testObservation(2, 1),
	}
	want[0].New = true
	want[0].Alpha = 1
	require.NoError(t, store.RecordObservations(ctx, runID, want))

	// A different track on the same run must not leak into the query.
	require.NoError(t, store.RecordObservations(ctx, runID, []stabiliser.Observation{testObservation(0, 2)}))

	got, err := store.Observations(ctx, runID, "cam-1", 1)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRecordObservationsEmptyBatch(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	assert.NoError(t, store.RecordObservations(context.Background(), "whatever", nil))
}

func TestUpsertTrackSummaries(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	runID, err := store.CreateRun(ctx, "cam-1", "{}")
	require.NoError(t, err)

	track := stabiliser.Track{
		ID:               1,
		CameraID:         "cam-1",
		State:            stabiliser.TrackActive,
		FirstFrame:       0,
		LastSeenFrame:    5,
		ObservationCount: 6,
		AlphaSum:         2.4,
	}
	require.NoError(t, store.UpsertTrackSummaries(ctx, runID, []stabiliser.Track{track}))

	// Upserting the same track replaces the rollup instead of duplicating it.
	track.State = stabiliser.TrackStale
	track.LastSeenFrame = 9
	track.ObservationCount = 10
	track.AlphaSum = 4.0
	require.NoError(t, store.UpsertTrackSummaries(ctx, runID, []stabiliser.Track{track}))

	summaries, err := store.TrackSummaries(ctx, runID)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "stale", summaries[0].State)
	assert.Equal(t, int64(9), summaries[0].LastSeenFrame)
	assert.Equal(t, 10, summaries[0].ObservationCount)
	assert.InDelta(t, 0.4, summaries[0].MeanAlpha, 1e-9)
}

func TestAlphaSamplesWindowed(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	runID, err := store.CreateRun(ctx, "cam-1", "{}")
	require.NoError(t, err)

	var obs []stabiliser.Observation
	for frame := int64(0); frame < 10; frame++ {
		obs = append(obs, testObservation(frame, 1))
	}
	require.NoError(t, store.RecordObservations(ctx, runID, obs))

	samples, err := store.AlphaSamples(ctx, runID, 4)
	require.NoError(t, err)
	require.Len(t, samples, 4)
	// Most recent four frames, returned in ascending frame order.
	assert.Equal(t, int64(6), samples[0].FrameIndex)
	assert.Equal(t, int64(9), samples[3].FrameIndex)
	assert.InDelta(t, 0.4, samples[0].Alpha, 1e-9)
}
