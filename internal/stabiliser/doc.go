// Package stabiliser owns the per-camera track layer of the box
// stabilisation pipeline.
//
// Responsibilities: detection validation, detection-to-track association
// (greedy nearest-centroid with gating), track lifecycle (creation, stale
// coasting, expiry), and the fuzzy-adaptive exponential smoothing update.
// Key types: Detection, Track, Registry, Stabiliser.
//
// One Registry and one Stabiliser exist per camera; camera pipelines share
// nothing but the (stateless) fuzzy engine. The Registry exclusively owns
// all Track records — the Stabiliser mutates tracks only through the
// Registry's API. No SQL/database code is allowed in this package.
package stabiliser
