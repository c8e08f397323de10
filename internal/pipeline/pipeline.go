// Package pipeline fans detection frames out to one frame-ordered worker
// per camera and collects smoothed outputs, optional persistence and
// monitoring taps along the way.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/stabiliser.report/internal/config"
	"github.com/banshee-data/stabiliser.report/internal/fuzzy"
	"github.com/banshee-data/stabiliser.report/internal/monitor"
	"github.com/banshee-data/stabiliser.report/internal/monitoring"
	"github.com/banshee-data/stabiliser.report/internal/stabiliser"
	"github.com/banshee-data/stabiliser.report/internal/storage/sqlite"
	"github.com/banshee-data/stabiliser.report/internal/timeutil"
)

// frameQueueDepth bounds how far a camera's worker may fall behind Submit
// before Submit blocks.
const frameQueueDepth = 64

// Result is one camera's smoothed output for one frame.
type Result struct {
	CameraID   string
	FrameIndex int64
	Boxes      map[int64]stabiliser.SmoothedBox
}

// Config wires the pipeline's optional taps. Tuning is required; the rest
// may be nil.
type Config struct {
	Tuning  *config.TuningConfig
	Store   sqlite.Store
	RunID   string
	Stats   *monitor.FrameStats
	Plotter *monitor.TrailPlotter

	// Clock paces Replay. Nil defaults to the real clock.
	Clock timeutil.Clock
}

// Pipeline owns one worker goroutine per camera. Frames for a camera are
// processed strictly in submission order; cameras proceed independently.
type Pipeline struct {
	cfg    Config
	engine *fuzzy.Engine

	mu      sync.Mutex
	workers map[string]*cameraWorker
	closed  bool

	results chan Result
	wg      sync.WaitGroup
}

type frameBatch struct {
	frameIndex int64
	detections []stabiliser.Detection
}

type cameraWorker struct {
	runtime *CameraRuntime
	frames  chan frameBatch
	pending []stabiliser.Observation
}

// New builds a pipeline from the tuning configuration. The fuzzy engine is
// constructed once and shared; it is stateless and safe across workers.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Tuning == nil {
		return nil, fmt.Errorf("pipeline: tuning configuration is required")
	}
	engine, err := cfg.Tuning.BuildEngine()
	if err != nil {
		return nil, fmt.Errorf("pipeline: build engine: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Pipeline{
		cfg:     cfg,
		engine:  engine,
		workers: make(map[string]*cameraWorker),
		results: make(chan Result, frameQueueDepth),
	}, nil
}

// Results delivers one Result per (camera, frame) processed. The channel
// closes after Close has drained all workers. Callers must keep draining
// it while submitting or the workers stall on a full buffer.
func (p *Pipeline) Results() <-chan Result {
	return p.results
}

// Submit queues one frame's detections for a camera. The first frame for a
// camera spawns its worker. Blocks when the camera's queue is full, so a
// slow camera applies backpressure to its feeder only.
func (p *Pipeline) Submit(cameraID string, frameIndex int64, detections []stabiliser.Detection) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("pipeline: submit on closed pipeline")
	}
	w, ok := p.workers[cameraID]
	if !ok {
		w = p.spawnWorkerLocked(cameraID)
	}
	p.mu.Unlock()

	w.frames <- frameBatch{frameIndex: frameIndex, detections: detections}
	return nil
}

func (p *Pipeline) spawnWorkerLocked(cameraID string) *cameraWorker {
	w := &cameraWorker{
		runtime: NewCameraRuntime(cameraID, p.cfg.Tuning, p.engine),
		frames:  make(chan frameBatch, frameQueueDepth),
	}
	w.runtime.Stabiliser.SetObserver(func(obs stabiliser.Observation) {
		w.pending = append(w.pending, obs)
		if p.cfg.Stats != nil {
			p.cfg.Stats.AddObservation(obs)
		}
		if p.cfg.Plotter != nil {
			p.cfg.Plotter.Record(obs)
		}
	})
	if p.cfg.Stats != nil {
		w.runtime.Stabiliser.SetReporter(p.cfg.Stats.AddFrame)
	}
	p.workers[cameraID] = w

	p.wg.Add(1)
	go p.runWorker(w)
	return w
}

// runWorker drains one camera's frame queue in order. The observer is
// invoked synchronously inside ProcessFrame, so pending observations are
// complete when it returns.
func (p *Pipeline) runWorker(w *cameraWorker) {
	defer p.wg.Done()
	for batch := range w.frames {
		w.pending = w.pending[:0]
		boxes := w.runtime.Stabiliser.ProcessFrame(batch.frameIndex, batch.detections)
		p.persist(w)
		p.results <- Result{
			CameraID:   w.runtime.CameraID,
			FrameIndex: batch.frameIndex,
			Boxes:      boxes,
		}
	}
}

// persist writes the worker's pending observations and refreshed track
// rollups. Persistence failures are logged, never fatal to the run.
func (p *Pipeline) persist(w *cameraWorker) {
	if p.cfg.Store == nil || len(w.pending) == 0 {
		return
	}
	ctx := context.Background()
	if err := p.cfg.Store.RecordObservations(ctx, p.cfg.RunID, w.pending); err != nil {
		monitoring.Logf("pipeline[%s]: record observations: %v", w.runtime.CameraID, err)
	}

	tracks := make([]stabiliser.Track, 0, len(w.pending))
	for _, obs := range w.pending {
		if track, ok := w.runtime.Registry.Get(obs.TrackID); ok {
			tracks = append(tracks, track)
		}
	}
	if err := p.cfg.Store.UpsertTrackSummaries(ctx, p.cfg.RunID, tracks); err != nil {
		monitoring.Logf("pipeline[%s]: upsert summaries: %v", w.runtime.CameraID, err)
	}
}

// LiveTracks snapshots all live tracks across cameras, ordered by camera
// then track ID. Serves the monitor's track source.
func (p *Pipeline) LiveTracks() []stabiliser.Track {
	p.mu.Lock()
	cameras := make([]string, 0, len(p.workers))
	workers := make(map[string]*cameraWorker, len(p.workers))
	for id, w := range p.workers {
		cameras = append(cameras, id)
		workers[id] = w
	}
	p.mu.Unlock()

	sort.Strings(cameras)
	var out []stabiliser.Track
	for _, id := range cameras {
		out = append(out, workers[id].runtime.Registry.ActiveTracks()...)
	}
	return out
}

// Replay groups a detection log by frame and camera and submits it in
// frame order, sleeping interval between successive frames on the
// configured clock. A zero interval replays as fast as possible.
func (p *Pipeline) Replay(ctx context.Context, detections []stabiliser.Detection, interval time.Duration) error {
	byFrame := make(map[int64]map[string][]stabiliser.Detection)
	var frames []int64
	for _, det := range detections {
		cams, ok := byFrame[det.FrameIndex]
		if !ok {
			cams = make(map[string][]stabiliser.Detection)
			byFrame[det.FrameIndex] = cams
			frames = append(frames, det.FrameIndex)
		}
		cams[det.CameraID] = append(cams[det.CameraID], det)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i] < frames[j] })

	for i, frame := range frames {
		if i > 0 && interval > 0 {
			p.cfg.Clock.Sleep(interval)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		cams := byFrame[frame]
		camIDs := make([]string, 0, len(cams))
		for id := range cams {
			camIDs = append(camIDs, id)
		}
		sort.Strings(camIDs)
		for _, id := range camIDs {
			if err := p.Submit(id, frame, cams[id]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close drains all workers, writes final track rollups and closes the
// results channel. The pipeline cannot be reused afterwards.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	workers := make([]*cameraWorker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.mu.Unlock()

	for _, w := range workers {
		close(w.frames)
	}
	p.wg.Wait()
	close(p.results)

	if p.cfg.Store != nil {
		for _, w := range workers {
			tracks := w.runtime.Registry.ActiveTracks()
			if err := p.cfg.Store.UpsertTrackSummaries(context.Background(), p.cfg.RunID, tracks); err != nil {
				return fmt.Errorf("pipeline: final summaries for %s: %w", w.runtime.CameraID, err)
			}
		}
	}
	return nil
}
