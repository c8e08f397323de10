// Command stabilise replays a JSONL detection log through the fuzzy
// stabiliser and writes smoothed boxes as JSONL, optionally persisting the
// run to SQLite and serving the monitor HTTP API while it runs.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/stabiliser.report/internal/config"
	"github.com/banshee-data/stabiliser.report/internal/monitor"
	"github.com/banshee-data/stabiliser.report/internal/pipeline"
	"github.com/banshee-data/stabiliser.report/internal/stabiliser"
	"github.com/banshee-data/stabiliser.report/internal/storage/sqlite"
)

var (
	configPath = flag.String("config", "", "path to tuning config JSON (default: built-in defaults file)")
	inputPath  = flag.String("input", "", "detection log to replay (JSONL, '-' for stdin)")
	outPath    = flag.String("out", "-", "smoothed output path (JSONL, '-' for stdout)")
	dbPath     = flag.String("db", "", "SQLite database for run persistence (optional)")
	listenAddr = flag.String("listen", "", "monitor HTTP listen address (optional, e.g. :8082)")
	interval   = flag.Duration("interval", -1, "delay between frames (-1: config replay_interval, 0: no pacing)")
	plotsDir   = flag.String("plots", "", "directory for raw-vs-smoothed trail PNGs (optional)")
)

// outputLine is one camera-frame of smoothed boxes on the output log.
type outputLine struct {
	CameraID   string      `json:"camera_id"`
	FrameIndex int64       `json:"frame_index"`
	Tracks     []trackLine `json:"tracks"`
}

type trackLine struct {
	TrackID int64 `json:"track_id"`
	stabiliser.SmoothedBox
}

func main() {
	flag.Parse()
	if *inputPath == "" {
		log.Fatal("stabilise: -input is required")
	}

	cfg := loadConfig()
	detections, err := readDetections(*inputPath)
	if err != nil {
		log.Fatalf("stabilise: read detections: %v", err)
	}
	if len(detections) == 0 {
		log.Fatal("stabilise: detection log is empty")
	}

	pace := *interval
	if pace < 0 {
		pace = cfg.GetReplayInterval()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats := monitor.NewFrameStats()
	pipeCfg := pipeline.Config{Tuning: cfg, Stats: stats}

	var store *sqlite.SQLiteStore
	if *dbPath != "" {
		store, err = sqlite.Open(*dbPath)
		if err != nil {
			log.Fatalf("stabilise: open store: %v", err)
		}
		defer store.Close()

		runID, err := createRun(ctx, store, cfg, detections)
		if err != nil {
			log.Fatalf("stabilise: create run: %v", err)
		}
		pipeCfg.Store = store
		pipeCfg.RunID = runID
		log.Printf("stabilise: run %s", runID)
	}

	var plotter *monitor.TrailPlotter
	if *plotsDir != "" {
		plotter = monitor.NewTrailPlotter(*plotsDir)
		pipeCfg.Plotter = plotter
	}

	p, err := pipeline.New(pipeCfg)
	if err != nil {
		log.Fatalf("stabilise: %v", err)
	}

	if *listenAddr != "" {
		ws := monitor.NewWebServer(monitor.WebServerConfig{
			Address: *listenAddr,
			Stats:   stats,
			Tracks:  p.LiveTracks,
			Store:   pipeCfg.Store,
			RunID:   pipeCfg.RunID,
		})
		go func() {
			if err := ws.Start(ctx); err != nil {
				log.Printf("stabilise: monitor: %v", err)
			}
		}()
	}

	out, closeOut, err := openOutput(*outPath)
	if err != nil {
		log.Fatalf("stabilise: open output: %v", err)
	}

	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		writeResults(out, p.Results())
	}()

	start := time.Now()
	if err := p.Replay(ctx, detections, pace); err != nil {
		log.Printf("stabilise: replay stopped: %v", err)
	}
	if err := p.Close(); err != nil {
		log.Printf("stabilise: close: %v", err)
	}
	writerWG.Wait()
	if err := closeOut(); err != nil {
		log.Printf("stabilise: close output: %v", err)
	}

	if store != nil {
		snap := stats.Snapshot()
		if err := store.FinishRun(context.Background(), pipeCfg.RunID, snap.FramesProcessed); err != nil {
			log.Printf("stabilise: finish run: %v", err)
		}
	}
	if plotter != nil {
		paths, err := plotter.WritePlots()
		if err != nil {
			log.Printf("stabilise: write plots: %v", err)
		}
		for _, path := range paths {
			log.Printf("stabilise: wrote %s", path)
		}
	}

	snap := stats.Snapshot()
	log.Printf("stabilise: %d frames, %d detections (%d dropped), %d tracks, mean alpha %.3f in %s",
		snap.FramesProcessed, snap.DetectionsIn, snap.DetectionsDropped,
		snap.TracksCreated, snap.MeanAlpha, time.Since(start).Round(time.Millisecond))
}

func loadConfig() *config.TuningConfig {
	if *configPath == "" {
		return config.MustLoadDefaultConfig()
	}
	cfg, err := config.LoadTuningConfig(*configPath)
	if err != nil {
		log.Fatalf("stabilise: load config: %v", err)
	}
	return cfg
}

func readDetections(path string) ([]stabiliser.Detection, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var out []stabiliser.Detection
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var det stabiliser.Detection
		if err := json.Unmarshal(line, &det); err != nil {
			return nil, fmt.Errorf("parse detection line: %w", err)
		}
		out = append(out, det)
	}
	return out, scanner.Err()
}

func createRun(ctx context.Context, store sqlite.Store, cfg *config.TuningConfig, detections []stabiliser.Detection) (string, error) {
	seen := make(map[string]bool)
	var cameras []string
	for _, det := range detections {
		if !seen[det.CameraID] {
			seen[det.CameraID] = true
			cameras = append(cameras, det.CameraID)
		}
	}
	sort.Strings(cameras)

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return store.CreateRun(ctx, strings.Join(cameras, ","), string(cfgJSON))
}

func openOutput(path string) (io.Writer, func() error, error) {
	if path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	w := bufio.NewWriter(f)
	return w, func() error {
		if err := w.Flush(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}, nil
}

func writeResults(w io.Writer, results <-chan pipeline.Result) {
	enc := json.NewEncoder(w)
	for r := range results {
		line := outputLine{CameraID: r.CameraID, FrameIndex: r.FrameIndex}
		ids := make([]int64, 0, len(r.Boxes))
		for id := range r.Boxes {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			line.Tracks = append(line.Tracks, trackLine{TrackID: id, SmoothedBox: r.Boxes[id]})
		}
		if err := enc.Encode(line); err != nil {
			log.Printf("stabilise: write output line: %v", err)
			return
		}
	}
}
