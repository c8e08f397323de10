// Package main provides a smoothing-algorithm comparison tool. It replays a
// JSONL detection log through the fuzzy-adaptive stabiliser, a fixed-alpha
// EMA and a raw passthrough, and reports jitter and lag statistics for each.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/banshee-data/stabiliser.report/internal/config"
	"github.com/banshee-data/stabiliser.report/internal/fuzzy"
	"github.com/banshee-data/stabiliser.report/internal/monitor"
	"github.com/banshee-data/stabiliser.report/internal/stabiliser"
)

// Config holds configuration for the algorithm comparison.
type Config struct {
	InputFile  string
	ConfigPath string
	OutputDir  string
	OutputJSON string
	FixedAlpha float64
	PlotTrails bool
}

// ComparisonResult holds the results of algorithm comparison.
type ComparisonResult struct {
	InputFile      string               `json:"input_file"`
	TotalFrames    int                  `json:"total_frames"`
	TotalDetection int                  `json:"total_detections"`
	Cameras        []string             `json:"cameras"`
	FixedAlpha     float64              `json:"fixed_alpha"`
	ProcessingMs   int64                `json:"processing_time_ms"`
	PerAlgorithm   map[string]AlgoStats `json:"per_algorithm"`
}

// AlgoStats holds per-algorithm statistics. Jitter is the mean magnitude of
// the second difference of the smoothed centre (frame-to-frame shake); lag
// is the mean distance between the smoothed and raw centres.
type AlgoStats struct {
	Name          string  `json:"name"`
	TracksCreated int     `json:"tracks_created"`
	Observations  int     `json:"observations"`
	MeanAlpha     float64 `json:"mean_alpha"`
	JitterPx      float64 `json:"jitter_px"`
	LagPx         float64 `json:"lag_px"`
}

func main() {
	cfg := parseFlags()

	if cfg.InputFile == "" {
		log.Fatal("detection log is required (-input)")
	}
	if _, err := os.Stat(cfg.InputFile); os.IsNotExist(err) {
		log.Fatalf("detection log not found: %s", cfg.InputFile)
	}
	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
	}

	result, err := runComparison(cfg)
	if err != nil {
		log.Fatalf("Comparison failed: %v", err)
	}

	printResults(result)

	if cfg.OutputJSON != "" {
		outputPath := cfg.OutputJSON
		if cfg.OutputDir != "" {
			outputPath = filepath.Join(cfg.OutputDir, cfg.OutputJSON)
		}
		if err := exportJSON(result, outputPath); err != nil {
			log.Printf("Warning: failed to export JSON: %v", err)
		} else {
			log.Printf("Results exported to: %s", outputPath)
		}
	}
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.InputFile, "input", "", "Path to JSONL detection log")
	flag.StringVar(&cfg.ConfigPath, "config", "", "Tuning config JSON (default: built-in defaults)")
	flag.StringVar(&cfg.OutputDir, "output", "", "Output directory for results")
	flag.StringVar(&cfg.OutputJSON, "json", "", "Output JSON filename (e.g., results.json)")
	flag.Float64Var(&cfg.FixedAlpha, "fixed-alpha", 0.3, "Alpha for the fixed-EMA baseline")
	flag.BoolVar(&cfg.PlotTrails, "plots", false, "Write raw-vs-smoothed trail PNGs per algorithm")

	flag.Parse()
	return cfg
}

func runComparison(cfg Config) (*ComparisonResult, error) {
	tuning, err := loadTuning(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	detections, err := readDetections(cfg.InputFile)
	if err != nil {
		return nil, err
	}
	if len(detections) == 0 {
		return nil, fmt.Errorf("detection log %s is empty", cfg.InputFile)
	}

	frames := groupFrames(detections)

	algorithms := []struct {
		name   string
		tuning *config.TuningConfig
	}{
		{"fuzzy", tuning},
		{"fixed", constantAlphaConfig(tuning, cfg.FixedAlpha)},
		{"passthrough", constantAlphaConfig(tuning, 1.0)},
	}

	result := &ComparisonResult{
		InputFile:      cfg.InputFile,
		TotalFrames:    len(frames),
		TotalDetection: len(detections),
		FixedAlpha:     cfg.FixedAlpha,
		PerAlgorithm:   make(map[string]AlgoStats),
	}
	for _, frame := range frames {
		for cam := range frame.byCamera {
			if !contains(result.Cameras, cam) {
				result.Cameras = append(result.Cameras, cam)
			}
		}
	}
	sort.Strings(result.Cameras)

	start := time.Now()
	for _, algo := range algorithms {
		var plotter *monitor.TrailPlotter
		if cfg.PlotTrails && cfg.OutputDir != "" {
			plotter = monitor.NewTrailPlotter(filepath.Join(cfg.OutputDir, algo.name))
		}
		stats, err := runAlgorithm(algo.name, algo.tuning, result.Cameras, frames, plotter)
		if err != nil {
			return nil, fmt.Errorf("algorithm %s: %w", algo.name, err)
		}
		result.PerAlgorithm[algo.name] = stats
		if plotter != nil {
			if _, err := plotter.WritePlots(); err != nil {
				log.Printf("Warning: %s trail plots: %v", algo.name, err)
			}
		}
	}
	result.ProcessingMs = time.Since(start).Milliseconds()

	return result, nil
}

// frameBatch is one frame index worth of detections, split per camera.
type frameBatch struct {
	index    int64
	byCamera map[string][]stabiliser.Detection
}

func groupFrames(detections []stabiliser.Detection) []frameBatch {
	byFrame := make(map[int64]map[string][]stabiliser.Detection)
	for _, det := range detections {
		if byFrame[det.FrameIndex] == nil {
			byFrame[det.FrameIndex] = make(map[string][]stabiliser.Detection)
		}
		byFrame[det.FrameIndex][det.CameraID] = append(byFrame[det.FrameIndex][det.CameraID], det)
	}

	frames := make([]frameBatch, 0, len(byFrame))
	for idx, cams := range byFrame {
		frames = append(frames, frameBatch{index: idx, byCamera: cams})
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].index < frames[j].index })
	return frames
}

func runAlgorithm(name string, tuning *config.TuningConfig, cameras []string, frames []frameBatch, plotter *monitor.TrailPlotter) (AlgoStats, error) {
	engine, err := tuning.BuildEngine()
	if err != nil {
		return AlgoStats{}, err
	}

	type centre struct{ x, y float64 }
	prev := make(map[string][]centre) // last two smoothed centres per cam/track

	stats := AlgoStats{Name: name}
	var alphaSum, jitterSum, lagSum float64
	var jitterN, lagN int

	stabilisers := make(map[string]*stabiliser.Stabiliser, len(cameras))
	for _, cam := range cameras {
		reg := stabiliser.NewRegistry(cam, stabiliser.RegistryConfigFromTuning(tuning))
		s := stabiliser.NewStabiliser(reg, engine, tuning)
		s.SetObserver(func(obs stabiliser.Observation) {
			if plotter != nil {
				plotter.Record(obs)
			}
			stats.Observations++
			if obs.New {
				stats.TracksCreated++
				return
			}
			alphaSum += obs.Alpha
			lagSum += math.Hypot(obs.SmoothedCenterX-obs.RawCenterX, obs.SmoothedCenterY-obs.RawCenterY)
			lagN++

			key := fmt.Sprintf("%s/%d", obs.CameraID, obs.TrackID)
			hist := prev[key]
			if len(hist) == 2 {
				d1x, d1y := hist[1].x-hist[0].x, hist[1].y-hist[0].y
				d2x, d2y := obs.SmoothedCenterX-hist[1].x, obs.SmoothedCenterY-hist[1].y
				jitterSum += math.Hypot(d2x-d1x, d2y-d1y)
				jitterN++
				hist = hist[1:]
			}
			prev[key] = append(hist, centre{obs.SmoothedCenterX, obs.SmoothedCenterY})
		})
		stabilisers[cam] = s
	}

	for _, frame := range frames {
		for _, cam := range cameras {
			dets, ok := frame.byCamera[cam]
			if !ok {
				continue
			}
			stabilisers[cam].ProcessFrame(frame.index, dets)
		}
	}

	if lagN > 0 {
		stats.MeanAlpha = alphaSum / float64(lagN)
		stats.LagPx = lagSum / float64(lagN)
	}
	if jitterN > 0 {
		stats.JitterPx = jitterSum / float64(jitterN)
	}
	return stats, nil
}

// constantAlphaConfig derives a tuning config whose inference always returns
// alpha a: every rule consequent and the default are set to a, so the
// weighted average collapses to a constant regardless of inputs.
func constantAlphaConfig(base *config.TuningConfig, a float64) *config.TuningConfig {
	derived := *base
	derived.DefaultAlpha = &a
	derived.Rules = nil
	for _, m := range base.GetMotionTerms() {
		for _, c := range base.GetConfidenceTerms() {
			derived.Rules = append(derived.Rules, fuzzy.RuleSpec{
				Motion:     m.Name,
				Confidence: c.Name,
				Alpha:      a,
			})
		}
	}
	return &derived
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.MustLoadDefaultConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

func readDetections(path string) ([]stabiliser.Detection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []stabiliser.Detection
	scanner := bufio.NewScanner(f)
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

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func printResults(result *ComparisonResult) {
	fmt.Println("\n=== Smoothing Comparison Results ===")
	fmt.Printf("Detection Log: %s\n", result.InputFile)
	fmt.Printf("Total Frames: %d\n", result.TotalFrames)
	fmt.Printf("Total Detections: %d\n", result.TotalDetection)
	fmt.Printf("Cameras: %v\n", result.Cameras)
	fmt.Printf("Processing Time: %dms\n", result.ProcessingMs)

	fmt.Println("\n--- Per-Algorithm Statistics ---")
	for _, name := range []string{"fuzzy", "fixed", "passthrough"} {
		stats, ok := result.PerAlgorithm[name]
		if !ok {
			continue
		}
		fmt.Printf("\n%s:\n", name)
		fmt.Printf("  Tracks Created: %d\n", stats.TracksCreated)
		fmt.Printf("  Observations: %d\n", stats.Observations)
		fmt.Printf("  Mean Alpha: %.3f\n", stats.MeanAlpha)
		fmt.Printf("  Jitter: %.3f px\n", stats.JitterPx)
		fmt.Printf("  Lag: %.3f px\n", stats.LagPx)
	}
}

func exportJSON(result *ComparisonResult, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
