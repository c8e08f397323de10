package pipeline

import (
	"github.com/banshee-data/stabiliser.report/internal/config"
	"github.com/banshee-data/stabiliser.report/internal/fuzzy"
	"github.com/banshee-data/stabiliser.report/internal/stabiliser"
)

// CameraRuntime bundles the per-camera processing state: one registry and
// one stabiliser sharing the pipeline's inference engine. Cameras never
// share mutable state; each runtime is driven by exactly one worker
// goroutine.
type CameraRuntime struct {
	CameraID   string
	Registry   *stabiliser.Registry
	Stabiliser *stabiliser.Stabiliser
}

// NewCameraRuntime wires a runtime for one camera from the shared tuning
// and engine.
func NewCameraRuntime(cameraID string, cfg *config.TuningConfig, engine *fuzzy.Engine) *CameraRuntime {
	registry := stabiliser.NewRegistry(cameraID, stabiliser.RegistryConfigFromTuning(cfg))
	return &CameraRuntime{
		CameraID:   cameraID,
		Registry:   registry,
		Stabiliser: stabiliser.NewStabiliser(registry, engine, cfg),
	}
}
