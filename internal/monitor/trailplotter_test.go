package monitor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/stabiliser.report/internal/stabiliser"
)

func trailObs(cam string, trackID, frame int64, x float64) stabiliser.Observation {
	return stabiliser.Observation{
		CameraID:        cam,
		TrackID:         trackID,
		FrameIndex:      frame,
		RawCenterX:      x,
		RawCenterY:      50,
		SmoothedCenterX: x - 1,
		SmoothedCenterY: 50,
	}
}

func TestTrailPlotterWritesPNGPerCamera(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tp := NewTrailPlotter(dir)
	for frame := int64(0); frame < 10; frame++ {
		tp.Record(trailObs("cam-1", 1, frame, 100+float64(frame)*4))
		tp.Record(trailObs("cam-1", 2, frame, 300-float64(frame)*4))
		tp.Record(trailObs("cam-2", 1, frame, 50+float64(frame)))
	}

	paths, err := tp.WritePlots()
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(dir, "trails-cam-1.png"), paths[0])
	assert.Equal(t, filepath.Join(dir, "trails-cam-2.png"), paths[1])

	for _, path := range paths {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}

func TestTrailPlotterNoTrails(t *testing.T) {
	t.Parallel()

	tp := NewTrailPlotter(t.TempDir())
	paths, err := tp.WritePlots()
	require.NoError(t, err)
	assert.Empty(t, paths)
}
