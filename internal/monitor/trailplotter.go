package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/stabiliser.report/internal/stabiliser"
)

// TrailPlotter accumulates raw and smoothed centre positions per track and
// renders one PNG per camera after a run: raw trails dashed, smoothed
// trails solid, one colour per track.
type TrailPlotter struct {
	mu        sync.Mutex
	outputDir string

	// trails keyed by camera, then track ID.
	trails map[string]map[int64][]trailPoint
}

type trailPoint struct {
	frame                int64
	rawX, rawY           float64
	smoothedX, smoothedY float64
}

// NewTrailPlotter creates a plotter writing PNGs under outputDir.
func NewTrailPlotter(outputDir string) *TrailPlotter {
	return &TrailPlotter{
		outputDir: outputDir,
		trails:    make(map[string]map[int64][]trailPoint),
	}
}

// Record appends one observation to the track's trail.
func (tp *TrailPlotter) Record(obs stabiliser.Observation) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	cam := tp.trails[obs.CameraID]
	if cam == nil {
		cam = make(map[int64][]trailPoint)
		tp.trails[obs.CameraID] = cam
	}
	cam[obs.TrackID] = append(cam[obs.TrackID], trailPoint{
		frame:     obs.FrameIndex,
		rawX:      obs.RawCenterX,
		rawY:      obs.RawCenterY,
		smoothedX: obs.SmoothedCenterX,
		smoothedY: obs.SmoothedCenterY,
	})
}

var trailColors = []color.RGBA{
	{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
	{R: 0x8c, G: 0x56, B: 0x4b, A: 0xff},
}

// WritePlots renders one PNG per camera and returns the file paths.
// Cameras with no recorded trails produce no file.
func (tp *TrailPlotter) WritePlots() ([]string, error) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if err := os.MkdirAll(tp.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create plot output dir: %w", err)
	}

	cameras := make([]string, 0, len(tp.trails))
	for cam := range tp.trails {
		cameras = append(cameras, cam)
	}
	sort.Strings(cameras)

	var paths []string
	for _, cam := range cameras {
		path, err := tp.writeCameraPlot(cam, tp.trails[cam])
		if err != nil {
			return nil, err
		}
		if path != "" {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

func (tp *TrailPlotter) writeCameraPlot(cameraID string, tracks map[int64][]trailPoint) (string, error) {
	if len(tracks) == 0 {
		return "", nil
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Trails %s (raw dashed, smoothed solid)", cameraID)
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px)"
	// Image coordinates grow downward.
	p.Y.Scale = plot.InvertedScale{Normalizer: plot.LinearScale{}}

	ids := make([]int64, 0, len(tracks))
	for id := range tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for i, id := range ids {
		points := tracks[id]
		sort.Slice(points, func(a, b int) bool { return points[a].frame < points[b].frame })

		rawPts := make(plotter.XYs, len(points))
		smoothedPts := make(plotter.XYs, len(points))
		for j, pt := range points {
			rawPts[j] = plotter.XY{X: pt.rawX, Y: pt.rawY}
			smoothedPts[j] = plotter.XY{X: pt.smoothedX, Y: pt.smoothedY}
		}

		c := trailColors[i%len(trailColors)]

		rawLine, err := plotter.NewLine(rawPts)
		if err != nil {
			return "", fmt.Errorf("raw trail for track %d: %w", id, err)
		}
		rawLine.Color = c
		rawLine.Width = vg.Points(1)
		rawLine.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
		p.Add(rawLine)

		smoothedLine, err := plotter.NewLine(smoothedPts)
		if err != nil {
			return "", fmt.Errorf("smoothed trail for track %d: %w", id, err)
		}
		smoothedLine.Color = c
		smoothedLine.Width = vg.Points(2)
		p.Add(smoothedLine)
		p.Legend.Add(fmt.Sprintf("track %d", id), smoothedLine)
	}

	path := filepath.Join(tp.outputDir, fmt.Sprintf("trails-%s.png", cameraID))
	if err := p.Save(10*vg.Inch, 8*vg.Inch, path); err != nil {
		return "", fmt.Errorf("save trail plot for %s: %w", cameraID, err)
	}
	return path, nil
}
