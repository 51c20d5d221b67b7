// Package tracking implements multi-object tracking over scene-frame
// detections. Each object category gets its own track bank so a person and a
// vehicle can never be associated with each other. Tracks follow a constant
// velocity Kalman model with Mahalanobis gating, and detections are matched
// to tracks with an optimal assignment solver rather than greedy nearest
// neighbour.
package tracking

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scenetrack/tracker/internal/config"
	"github.com/scenetrack/tracker/internal/monitoring"
)

// TrackState represents the lifecycle state of a track.
type TrackState string

const (
	TrackTentative TrackState = "tentative" // new track, needs confirmation
	TrackConfirmed TrackState = "confirmed" // stable track with sufficient history
)

const (
	// minDeterminantThreshold is the minimum determinant for innovation
	// covariance inversion.
	minDeterminantThreshold = 1e-9
	// defaultFrameInterval is the dt assumed for the very first frame.
	defaultFrameInterval = 0.1
	// minHeadingSpeed is the speed below which a track is considered
	// stationary and keeps its previous heading.
	minHeadingSpeed = 0.05
)

// Observation is a single detection already transformed into scene-frame
// metres on the ground plane.
type Observation struct {
	X float64
	Y float64
}

// Track is one tracked object.
type Track struct {
	ID       string
	Category string
	State    TrackState

	// Lifecycle counters.
	Hits   int // consecutive successful associations
	Misses int // consecutive missed associations

	FirstUnixNanos int64
	LastUnixNanos  int64

	// Kalman state (scene frame): [x, y, vx, vy].
	X  float64
	Y  float64
	VX float64
	VY float64

	// Kalman covariance (4x4, row-major).
	P [16]float64

	// Heading in radians, retained across stationary frames.
	heading float64
}

// Snapshot is the externally visible state of a confirmed track after an
// update cycle.
type Snapshot struct {
	ID       string
	Category string
	X        float64
	Y        float64
	VX       float64
	VY       float64
	Heading  float64
}

// categoryBank holds the tracks for a single object category.
type categoryBank struct {
	tracks          map[string]*Track
	lastUpdateNanos int64
}

// SceneTracker manages per-category track banks for one scene.
type SceneTracker struct {
	tuning config.TuningConfig

	mu    sync.Mutex
	banks map[string]*categoryBank
}

// NewSceneTracker creates a tracker using the given tuning parameters.
func NewSceneTracker(tuning config.TuningConfig) *SceneTracker {
	return &SceneTracker{
		tuning: tuning,
		banks:  make(map[string]*categoryBank),
	}
}

// ProcessFrame runs one full update cycle for a frame of observations and
// returns the snapshots of all confirmed tracks across all categories.
// Every known category takes part, not just the ones present in the frame:
// a category whose key stops appearing in the input still predicts,
// accumulates misses, and drops its tracks. Confirmed tracks that missed
// this frame coast on their prediction and stay in the output until they
// age out.
func (t *SceneTracker) ProcessFrame(frame map[string][]Observation, timestamp time.Time) []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	categories := make([]string, 0, len(t.banks)+len(frame))
	seen := make(map[string]struct{}, len(t.banks)+len(frame))
	for category := range t.banks {
		categories = append(categories, category)
		seen[category] = struct{}{}
	}
	for category := range frame {
		if _, ok := seen[category]; !ok {
			categories = append(categories, category)
		}
	}
	sort.Strings(categories)

	snapshots := make([]Snapshot, 0)
	for _, category := range categories {
		snapshots = append(snapshots, t.updateLocked(category, frame[category], timestamp)...)
	}
	return snapshots
}

// Update processes one frame of observations for a single category and
// returns the snapshots of that category's confirmed tracks. Categories
// evolve independently: observations only ever associate with tracks of the
// same category.
func (t *SceneTracker) Update(category string, observations []Observation, timestamp time.Time) []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updateLocked(category, observations, timestamp)
}

// updateLocked runs the predict/associate/correct/age cycle for one
// category. Caller must hold t.mu.
func (t *SceneTracker) updateLocked(category string, observations []Observation, timestamp time.Time) []Snapshot {
	bank, ok := t.banks[category]
	if !ok {
		bank = &categoryBank{tracks: make(map[string]*Track)}
		t.banks[category] = bank
	}

	nowNanos := timestamp.UnixNano()

	dt := defaultFrameInterval
	if bank.lastUpdateNanos > 0 {
		dt = float64(nowNanos-bank.lastUpdateNanos) / 1e9
		if dt < 0 {
			dt = 0
		}
	}
	bank.lastUpdateNanos = nowNanos

	// Step 1: predict all tracks to the current time.
	for _, track := range bank.tracks {
		t.predict(track, dt)
	}

	// Step 2: gated optimal assignment of observations to tracks.
	trackIDs := make([]string, 0, len(bank.tracks))
	for id := range bank.tracks {
		trackIDs = append(trackIDs, id)
	}

	gate2 := t.tuning.GatingDistance * t.tuning.GatingDistance
	cost := make([][]float64, len(observations))
	for oi, obs := range observations {
		cost[oi] = make([]float64, len(trackIDs))
		for ti, id := range trackIDs {
			d2 := t.mahalanobisDistanceSquared(bank.tracks[id], obs)
			if d2 > gate2 {
				cost[oi][ti] = forbiddenCost
			} else {
				cost[oi][ti] = d2
			}
		}
	}
	assignments := hungarianAssign(cost)

	// Step 3: update matched tracks.
	matched := make(map[string]bool, len(trackIDs))
	for oi, ti := range assignments {
		if ti < 0 {
			continue
		}
		track := bank.tracks[trackIDs[ti]]
		t.correct(track, observations[oi], nowNanos)
		track.Hits++
		track.Misses = 0
		matched[track.ID] = true

		if track.State == TrackTentative && track.Hits >= t.tuning.HitsToConfirm {
			track.State = TrackConfirmed
		}
	}

	// Step 4: age out unmatched tracks.
	for id, track := range bank.tracks {
		if matched[id] {
			continue
		}
		track.Misses++
		track.Hits = 0
		if track.Misses >= t.tuning.MaxMisses {
			delete(bank.tracks, id)
		}
	}

	// Step 5: spawn tentative tracks from unassociated observations.
	for oi, ti := range assignments {
		if ti < 0 {
			bank.initTrack(category, observations[oi], nowNanos, t.tuning.MeasurementNoise)
		}
	}

	snapshots := t.snapshotLocked(category, bank)

	// A bank whose last track aged out is dropped entirely so one-off
	// category names do not accumulate.
	if len(bank.tracks) == 0 {
		delete(t.banks, category)
	}

	return snapshots
}

// snapshotLocked collects confirmed tracks. Caller must hold t.mu.
func (t *SceneTracker) snapshotLocked(category string, bank *categoryBank) []Snapshot {
	snapshots := make([]Snapshot, 0, len(bank.tracks))
	for _, track := range bank.tracks {
		if track.State != TrackConfirmed {
			continue
		}
		snapshots = append(snapshots, Snapshot{
			ID:       track.ID,
			Category: track.Category,
			X:        track.X,
			Y:        track.Y,
			VX:       track.VX,
			VY:       track.VY,
			Heading:  track.heading,
		})
	}
	monitoring.ActiveTracks.WithLabelValues(category).Set(float64(len(snapshots)))
	return snapshots
}

// predict applies the constant velocity prediction step.
func (t *SceneTracker) predict(track *Track, dt float64) {
	// State transition F:
	// [1 0 dt 0 ]
	// [0 1 0  dt]
	// [0 0 1  0 ]
	// [0 0 0  1 ]
	track.X += track.VX * dt
	track.Y += track.VY * dt

	// P' = F P F^T + Q, computed directly from the sparse structure of F.
	P := track.P
	var FP [16]float64
	for j := 0; j < 4; j++ {
		FP[0*4+j] = P[0*4+j] + dt*P[2*4+j]
		FP[1*4+j] = P[1*4+j] + dt*P[3*4+j]
		FP[2*4+j] = P[2*4+j]
		FP[3*4+j] = P[3*4+j]
	}
	for i := 0; i < 4; i++ {
		track.P[i*4+0] = FP[i*4+0] + dt*FP[i*4+2]
		track.P[i*4+1] = FP[i*4+1] + dt*FP[i*4+3]
		track.P[i*4+2] = FP[i*4+2]
		track.P[i*4+3] = FP[i*4+3]
	}

	// Q = diag([σ_pos², σ_pos², σ_vel², σ_vel²])
	track.P[0*4+0] += t.tuning.ProcessNoisePos
	track.P[1*4+1] += t.tuning.ProcessNoisePos
	track.P[2*4+2] += t.tuning.ProcessNoiseVel
	track.P[3*4+3] += t.tuning.ProcessNoiseVel
}

// mahalanobisDistanceSquared computes the squared Mahalanobis distance of an
// observation from a track's predicted position.
func (t *SceneTracker) mahalanobisDistanceSquared(track *Track, obs Observation) float64 {
	dx := obs.X - track.X
	dy := obs.Y - track.Y

	// Innovation covariance S = H P H^T + R with H extracting position only.
	S00 := track.P[0*4+0] + t.tuning.MeasurementNoise
	S01 := track.P[0*4+1]
	S10 := track.P[1*4+0]
	S11 := track.P[1*4+1] + t.tuning.MeasurementNoise

	det := S00*S11 - S01*S10
	if det < minDeterminantThreshold {
		return math.MaxFloat64 / 4 // singular covariance, reject association
	}

	invS00 := S11 / det
	invS01 := -S01 / det
	invS10 := -S10 / det
	invS11 := S00 / det

	return dx*dx*invS00 + dx*dy*(invS01+invS10) + dy*dy*invS11
}

// correct applies the Kalman update step with a matched observation.
func (t *SceneTracker) correct(track *Track, obs Observation, nowNanos int64) {
	// Innovation.
	yX := obs.X - track.X
	yY := obs.Y - track.Y

	S00 := track.P[0*4+0] + t.tuning.MeasurementNoise
	S01 := track.P[0*4+1]
	S10 := track.P[1*4+0]
	S11 := track.P[1*4+1] + t.tuning.MeasurementNoise

	det := S00*S11 - S01*S10
	if det < minDeterminantThreshold {
		return // cannot update with singular covariance
	}

	invS00 := S11 / det
	invS01 := -S01 / det
	invS10 := -S10 / det
	invS11 := S00 / det

	// Kalman gain K = P H^T S^-1 (4x2).
	var K [8]float64
	for i := 0; i < 4; i++ {
		K[i*2+0] = track.P[i*4+0]*invS00 + track.P[i*4+1]*invS10
		K[i*2+1] = track.P[i*4+0]*invS01 + track.P[i*4+1]*invS11
	}

	// x' = x + K y
	track.X += K[0*2+0]*yX + K[0*2+1]*yY
	track.Y += K[1*2+0]*yX + K[1*2+1]*yY
	track.VX += K[2*2+0]*yX + K[2*2+1]*yY
	track.VY += K[3*2+0]*yX + K[3*2+1]*yY

	// P' = (I - K H) P. With H selecting position, (KH)[i,0] = K[i,0] and
	// (KH)[i,1] = K[i,1], all other columns zero.
	var IminusKH [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			identity := 0.0
			if i == j {
				identity = 1
			}
			var kh float64
			if j == 0 {
				kh = K[i*2+0]
			} else if j == 1 {
				kh = K[i*2+1]
			}
			IminusKH[i*4+j] = identity - kh
		}
	}
	var newP [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += IminusKH[i*4+k] * track.P[k*4+j]
			}
			newP[i*4+j] = sum
		}
	}
	track.P = newP

	track.LastUnixNanos = nowNanos

	// Heading follows the velocity vector but holds steady while the track
	// is effectively stationary.
	if speed := math.Hypot(track.VX, track.VY); speed >= minHeadingSpeed {
		track.heading = math.Atan2(track.VY, track.VX)
	}
}

// initTrack creates a tentative track from an unassociated observation.
func (b *categoryBank) initTrack(category string, obs Observation, nowNanos int64, measurementNoise float64) *Track {
	track := &Track{
		ID:       uuid.NewString(),
		Category: category,
		State:    TrackTentative,
		Hits:     1,

		FirstUnixNanos: nowNanos,
		LastUnixNanos:  nowNanos,

		X: obs.X,
		Y: obs.Y,
	}

	// Initial covariance: position uncertainty from the measurement noise,
	// large velocity uncertainty since velocity is unobserved.
	track.P[0*4+0] = measurementNoise
	track.P[1*4+1] = measurementNoise
	track.P[2*4+2] = 10.0
	track.P[3*4+3] = 10.0

	b.tracks[track.ID] = track
	return track
}

// ActiveCount returns the number of confirmed tracks in a category.
func (t *SceneTracker) ActiveCount(category string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	bank, ok := t.banks[category]
	if !ok {
		return 0
	}
	n := 0
	for _, track := range bank.tracks {
		if track.State == TrackConfirmed {
			n++
		}
	}
	return n
}
