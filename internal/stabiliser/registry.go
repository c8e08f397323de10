package stabiliser

import (
	"sort"
	"sync"

	"github.com/banshee-data/stabiliser.report/internal/config"
	"github.com/banshee-data/stabiliser.report/internal/monitoring"
)

// RegistryConfig holds configuration parameters for the track registry.
type RegistryConfig struct {
	GateDistance    float64 // Maximum association distance (pixels)
	ExpiryThreshold int     // Consecutive misses before a stale track expires
	MaxTracks       int     // Maximum number of live tracks per camera
}

// RegistryConfigFromTuning builds a RegistryConfig from a loaded TuningConfig.
// Use this in production code where the TuningConfig is already loaded.
func RegistryConfigFromTuning(cfg *config.TuningConfig) RegistryConfig {
	return RegistryConfig{
		GateDistance:    cfg.GetGateDistance(),
		ExpiryThreshold: cfg.GetExpiryThreshold(),
		MaxTracks:       cfg.GetMaxTracks(),
	}
}

// Registry owns the set of Track records for one camera. No other component
// mutates tracks directly: the Stabiliser requests updates through
// CommitUpdate and the lifecycle methods.
type Registry struct {
	cameraID string
	cfg      RegistryConfig

	tracks map[int64]*Track
	nextID int64

	// Track IDs whose miss count was incremented by the most recent
	// Associate call; consumed by AdvanceFrame.
	missedThisFrame []int64

	// Counters surfaced to the monitor.
	TracksCreated    int64
	TracksExpired    int64
	CapacityRejected int64

	mu sync.RWMutex
}

// NewRegistry creates an empty registry for the given camera.
func NewRegistry(cameraID string, cfg RegistryConfig) *Registry {
	return &Registry{
		cameraID: cameraID,
		cfg:      cfg,
		tracks:   make(map[int64]*Track),
		nextID:   1,
	}
}

// CameraID returns the camera this registry belongs to.
func (r *Registry) CameraID() string {
	return r.cameraID
}

// RegistryCounters is a consistent snapshot of the monitoring counters.
type RegistryCounters struct {
	TracksCreated    int64
	TracksExpired    int64
	CapacityRejected int64
}

// Counters returns the current counter values.
func (r *Registry) Counters() RegistryCounters {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RegistryCounters{
		TracksCreated:    r.TracksCreated,
		TracksExpired:    r.TracksExpired,
		CapacityRejected: r.CapacityRejected,
	}
}

// candidate is one (track, detection) pair under the gate.
type candidate struct {
	dist     float64
	trackID  int64
	detIndex int
}

// Associate matches one frame's detections to live tracks by greedy
// global-minimum nearest-centroid assignment, gated by GateDistance.
// Ties break on lower track ID, then lower detection index, which makes
// association deterministic and reproducible. Unmatched detections spawn
// new tracks (subject to the capacity policy); unmatched tracks get a miss
// recorded, to be applied by AdvanceFrame.
//
// Detections must already be validated; the caller (the Stabiliser) drops
// malformed ones before association.
func (r *Registry) Associate(frameIndex int64, detections []Detection) []Match {
	r.mu.Lock()
	defer r.mu.Unlock()

	liveIDs := r.liveTrackIDsLocked()

	// Build all gated candidate pairs, then sweep them smallest-first.
	candidates := make([]candidate, 0, len(liveIDs)*len(detections))
	for _, id := range liveIDs {
		track := r.tracks[id]
		for di, det := range detections {
			if det.CameraID != r.cameraID {
				continue
			}
			dist := euclidean(track.LastRawCenterX, track.LastRawCenterY, det.CenterX, det.CenterY)
			if dist < r.cfg.GateDistance {
				candidates = append(candidates, candidate{dist: dist, trackID: id, detIndex: di})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		if candidates[i].trackID != candidates[j].trackID {
			return candidates[i].trackID < candidates[j].trackID
		}
		return candidates[i].detIndex < candidates[j].detIndex
	})

	matchedTrack := make(map[int64]bool, len(liveIDs))
	matchedDet := make(map[int]bool, len(detections))
	matches := make([]Match, 0, len(detections))

	for _, c := range candidates {
		if matchedTrack[c.trackID] || matchedDet[c.detIndex] {
			continue
		}
		matchedTrack[c.trackID] = true
		matchedDet[c.detIndex] = true
		track := r.tracks[c.trackID]
		matches = append(matches, Match{
			Detection:       detections[c.detIndex],
			DetectionIndex:  c.detIndex,
			TrackID:         c.trackID,
			FramesSinceSeen: frameIndex - track.LastSeenFrame,
		})
	}

	// Remaining unmatched detections spawn new tracks, in detection order.
	for di, det := range detections {
		if matchedDet[di] || det.CameraID != r.cameraID {
			continue
		}
		track := r.spawnTrackLocked(frameIndex, det)
		if track == nil {
			continue // capacity rejection, already logged
		}
		matches = append(matches, Match{
			Detection:      det,
			DetectionIndex: di,
			TrackID:        track.ID,
			New:            true,
		})
	}

	// Remaining unmatched tracks record a miss for AdvanceFrame.
	r.missedThisFrame = r.missedThisFrame[:0]
	for _, id := range liveIDs {
		if track, ok := r.tracks[id]; ok && !matchedTrack[id] {
			track.MissCount++
			r.missedThisFrame = append(r.missedThisFrame, id)
		}
	}

	return matches
}

// spawnTrackLocked creates a track for an unassociated detection. When the
// registry is full it evicts the oldest stale track; with no stale track to
// evict, the detection is rejected with a capacity warning.
func (r *Registry) spawnTrackLocked(frameIndex int64, det Detection) *Track {
	if len(r.tracks) >= r.cfg.MaxTracks {
		if !r.evictOldestStaleLocked() {
			r.CapacityRejected++
			monitoring.Logf("registry[%s]: at capacity (%d tracks, none stale); rejecting detection at frame %d",
				r.cameraID, len(r.tracks), frameIndex)
			return nil
		}
	}

	track := &Track{
		ID:       r.nextID,
		CameraID: det.CameraID,
		State:    TrackActive,

		// First observation: smoothed box is the raw box (alpha forced to 1).
		SmoothedCenterX: det.CenterX,
		SmoothedCenterY: det.CenterY,
		SmoothedWidth:   det.Width,
		SmoothedHeight:  det.Height,

		LastRawCenterX: det.CenterX,
		LastRawCenterY: det.CenterY,
		LastRawWidth:   det.Width,
		LastRawHeight:  det.Height,
		LastConfidence: clampConfidence(det.Confidence),

		FirstFrame:    frameIndex,
		LastSeenFrame: frameIndex,

		ObservationCount: 1,
		LastAlpha:        1,
		AlphaSum:         1,
	}
	r.nextID++
	r.tracks[track.ID] = track
	r.TracksCreated++
	return track
}

// evictOldestStaleLocked removes the stale track that has gone longest
// without an observation (ties broken by lower ID). Returns false when the
// registry holds no stale track.
func (r *Registry) evictOldestStaleLocked() bool {
	var victim *Track
	for _, id := range r.liveTrackIDsLocked() {
		track := r.tracks[id]
		if track.State != TrackStale {
			continue
		}
		if victim == nil || track.LastSeenFrame < victim.LastSeenFrame {
			victim = track
		}
	}
	if victim == nil {
		return false
	}
	delete(r.tracks, victim.ID)
	r.TracksExpired++
	monitoring.Logf("registry[%s]: evicted stale track %d to make room", r.cameraID, victim.ID)
	return true
}

// CommitUpdate applies the smoothing update for a matched (track,
// detection) pair. Alpha values come from the Stabiliser's inference; the
// registry owns the state transition: a matched track always returns to
// active with its miss count reset.
func (r *Registry) CommitUpdate(trackID, frameIndex int64, det Detection, alpha, sizeAlpha float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	track, ok := r.tracks[trackID]
	if !ok {
		return
	}

	track.SmoothedCenterX += alpha * (det.CenterX - track.SmoothedCenterX)
	track.SmoothedCenterY += alpha * (det.CenterY - track.SmoothedCenterY)
	track.SmoothedWidth += sizeAlpha * (det.Width - track.SmoothedWidth)
	track.SmoothedHeight += sizeAlpha * (det.Height - track.SmoothedHeight)

	track.LastRawCenterX = det.CenterX
	track.LastRawCenterY = det.CenterY
	track.LastRawWidth = det.Width
	track.LastRawHeight = det.Height
	track.LastConfidence = clampConfidence(det.Confidence)

	track.LastSeenFrame = frameIndex
	track.MissCount = 0
	track.State = TrackActive

	track.ObservationCount++
	track.LastAlpha = alpha
	track.AlphaSum += alpha
}

// AdvanceFrame applies lifecycle transitions for every track that recorded
// a miss in the most recent Associate call: active tracks go stale, and
// stale tracks past the expiry threshold are removed.
func (r *Registry) AdvanceFrame() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.missedThisFrame {
		r.transitionMissedLocked(id)
	}
	r.missedThisFrame = r.missedThisFrame[:0]
}

// AdvanceMisses charges n additional misses to every live track, with the
// same transitions as AdvanceFrame. This is called for frame-index gaps so
// dropped frames age tracks exactly as missed detections would.
func (r *Registry) AdvanceMisses(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.liveTrackIDsLocked() {
		track := r.tracks[id]
		track.MissCount += n
		r.transitionMissedLocked(id)
	}
}

func (r *Registry) transitionMissedLocked(id int64) {
	track, ok := r.tracks[id]
	if !ok {
		return
	}
	if track.MissCount >= 1 && track.State == TrackActive {
		track.State = TrackStale
	}
	if track.MissCount >= r.cfg.ExpiryThreshold {
		delete(r.tracks, id)
		r.TracksExpired++
	}
}

// Get returns a snapshot copy of a track by ID.
func (r *Registry) Get(id int64) (Track, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	track, ok := r.tracks[id]
	if !ok {
		return Track{}, false
	}
	return *track, true
}

// ActiveTracks returns snapshot copies of all live (active or stale)
// tracks, ordered by ID.
func (r *Registry) ActiveTracks() []Track {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Track, 0, len(r.tracks))
	for _, id := range r.liveTrackIDsLocked() {
		out = append(out, *r.tracks[id])
	}
	return out
}

// Len returns the number of live tracks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tracks)
}

// Reset clears all tracks and counters but keeps the ID counter advancing,
// so a reset never recycles track IDs within one run.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = make(map[int64]*Track)
	r.missedThisFrame = nil
	r.TracksCreated = 0
	r.TracksExpired = 0
	r.CapacityRejected = 0
}

// liveTrackIDsLocked returns all track IDs in ascending order. Sorted
// iteration keeps every operation over the map deterministic.
func (r *Registry) liveTrackIDsLocked() []int64 {
	ids := make([]int64, 0, len(r.tracks))
	for id := range r.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
