// Package testutil provides shared fixtures for tests that consume
// detection logs: JSONL files with one detection per line, grouped by
// frame index.
package testutil

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/stabiliser.report/internal/stabiliser"
)

// WriteDetectionLog writes detections to a JSONL file in a temp directory
// and returns the file path. The file is cleaned up with the test.
func WriteDetectionLog(t *testing.T, detections []stabiliser.Detection) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "detections.jsonl")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create detection log: %v", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, det := range detections {
		if err := enc.Encode(det); err != nil {
			t.Fatalf("encode detection: %v", err)
		}
	}
	return path
}

// ReadDetectionLog reads every detection from a JSONL file.
func ReadDetectionLog(t *testing.T, path string) []stabiliser.Detection {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open detection log: %v", err)
	}
	defer f.Close()

	var out []stabiliser.Detection
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var det stabiliser.Detection
		if err := json.Unmarshal(line, &det); err != nil {
			t.Fatalf("decode detection log line: %v", err)
		}
		out = append(out, det)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan detection log: %v", err)
	}
	return out
}

// LinearWalk builds a deterministic detection sequence for one camera: a
// single object moving (dx, dy) per frame from (x0, y0).
func LinearWalk(cameraID string, frames int, x0, y0, dx, dy float64) []stabiliser.Detection {
	out := make([]stabiliser.Detection, 0, frames)
	for i := 0; i < frames; i++ {
		out = append(out, stabiliser.Detection{
			FrameIndex: int64(i),
			CameraID:   cameraID,
			CenterX:    x0 + dx*float64(i),
			CenterY:    y0 + dy*float64(i),
			Width:      24,
			Height:     48,
			Confidence: 0.9,
		})
	}
	return out
}

// GroupByFrame splits a detection sequence into per-frame batches, in
// ascending frame order. Frames with no detections are absent.
func GroupByFrame(detections []stabiliser.Detection) [][]stabiliser.Detection {
	byFrame := make(map[int64][]stabiliser.Detection)
	var maxFrame int64 = -1
	for _, det := range detections {
		byFrame[det.FrameIndex] = append(byFrame[det.FrameIndex], det)
		if det.FrameIndex > maxFrame {
			maxFrame = det.FrameIndex
		}
	}
	var out [][]stabiliser.Detection
	for frame := int64(0); frame <= maxFrame; frame++ {
		if dets, ok := byFrame[frame]; ok {
			out = append(out, dets)
		}
	}
	return out
}
