// Command gen-detlog generates synthetic JSONL detection logs for testing
// the stabiliser: jittered walkers, an optional crossing pair, dropout
// windows and confidence dips. Output is deterministic for a given seed.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"

	"github.com/banshee-data/stabiliser.report/internal/stabiliser"
)

var (
	output   = flag.String("o", "detections.jsonl", "output path")
	frames   = flag.Int("n", 300, "number of frames")
	cameraID = flag.String("camera", "cam-1", "camera identifier")
	walkers  = flag.Int("walkers", 3, "number of independent walkers")
	seed     = flag.Int64("seed", 1, "random seed")
	jitter   = flag.Float64("jitter", 2.0, "centre jitter stddev in pixels")
	dropout  = flag.Float64("dropout", 0.05, "per-frame probability a walker starts a short dropout")
	cross    = flag.Bool("cross", true, "include a pair of walkers on crossing paths")
)

// walker is one synthetic object moving across the frame.
type walker struct {
	x, y, dx, dy float64
	w, h         float64
	dropFrames   int
}

func main() {
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	objects := make([]*walker, 0, *walkers+2)
	for i := 0; i < *walkers; i++ {
		objects = append(objects, &walker{
			x:  rng.Float64() * 600,
			y:  rng.Float64() * 400,
			dx: (rng.Float64() - 0.5) * 8,
			dy: (rng.Float64() - 0.5) * 8,
			w:  20 + rng.Float64()*20,
			h:  40 + rng.Float64()*40,
		})
	}
	if *cross {
		objects = append(objects,
			&walker{x: 0, y: 200, dx: 4, dy: 0, w: 30, h: 60},
			&walker{x: 640, y: 210, dx: -4, dy: 0, w: 30, h: 60},
		)
	}

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("gen-detlog: %v", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()
	enc := json.NewEncoder(w)

	written := 0
	for frame := 0; frame < *frames; frame++ {
		for _, obj := range objects {
			obj.x += obj.dx
			obj.y += obj.dy
			if obj.dropFrames > 0 {
				obj.dropFrames--
				continue
			}
			if rng.Float64() < *dropout {
				obj.dropFrames = 1 + rng.Intn(2)
				continue
			}
			conf := 0.85 + rng.Float64()*0.1
			if rng.Float64() < 0.1 {
				conf = 0.3 + rng.Float64()*0.2
			}
			jit := *jitter
			det := stabiliser.Detection{
				FrameIndex: int64(frame),
				CameraID:   *cameraID,
				CenterX:    obj.x + rng.NormFloat64()*jit,
				CenterY:    obj.y + rng.NormFloat64()*jit,
				Width:      obj.w + rng.NormFloat64()*jit*0.5,
				Height:     obj.h + rng.NormFloat64()*jit*0.5,
				Confidence: conf,
			}
			if err := enc.Encode(det); err != nil {
				log.Fatalf("gen-detlog: write: %v", err)
			}
			written++
		}
		if (frame+1)%100 == 0 {
			log.Printf("%d/%d frames", frame+1, *frames)
		}
	}
	log.Printf("✓ Created: %s (%d detections)", *output, written)
}
