// Package pace estimates a smoothed running pace from distance checkpoints.
package pace

import "github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"

// Checkpoint is one point of the trailing window. Checkpoints are never persisted.
type Checkpoint struct {
	TimestampMs        int64
	CumulativeDistance float64
}

// Estimator keeps a bounded ring of checkpoints and an exponentially smoothed
// pace in seconds per kilometre.
type Estimator struct {
	size        int
	minDistance float64
	factor      float64
	ring        []Checkpoint
	smoothed    *float64
}

func NewEstimator(size int, minDistanceM, factor float64) *Estimator {
	if size < 2 {
		size = 2
	}
	return &Estimator{
		size:        size,
		minDistance: minDistanceM,
		factor:      factor,
		ring:        make([]Checkpoint, 0, size),
	}
}

func FromProfile(p gps.Profile) *Estimator {
	return NewEstimator(p.PaceWindowSize, p.PaceMinDistanceM, p.PaceSmoothingFactor)
}

// Add records a checkpoint and updates the smoothed pace. On insufficient data
// the previous smoothed value is held.
func (e *Estimator) Add(timestampMs int64, cumulativeDistanceM float64) {
	if len(e.ring) == e.size {
		copy(e.ring, e.ring[1:])
		e.ring = e.ring[:e.size-1]
	}
	e.ring = append(e.ring, Checkpoint{TimestampMs: timestampMs, CumulativeDistance: cumulativeDistanceM})

	raw, ok := e.Raw()
	if !ok {
		return
	}
	if e.smoothed == nil {
		e.smoothed = &raw
		return
	}
	next := *e.smoothed + e.factor*(raw-*e.smoothed)
	e.smoothed = &next
}

// Raw is window seconds over window kilometres. Undefined below the minimum
// window distance.
func (e *Estimator) Raw() (float64, bool) {
	if len(e.ring) < 2 {
		return 0, false
	}
	oldest, newest := e.ring[0], e.ring[len(e.ring)-1]
	dist := newest.CumulativeDistance - oldest.CumulativeDistance
	secs := float64(newest.TimestampMs-oldest.TimestampMs) / 1000
	if dist < e.minDistance || dist <= 0 || secs <= 0 {
		return 0, false
	}
	return secs / (dist / 1000), true
}

// Current returns the smoothed pace in seconds per kilometre, nil until the
// first defined window.
func (e *Estimator) Current() *float64 {
	if e.smoothed == nil {
		return nil
	}
	v := *e.smoothed
	return &v
}

func (e *Estimator) Checkpoints() []Checkpoint {
	out := make([]Checkpoint, len(e.ring))
	copy(out, e.ring)
	return out
}

func (e *Estimator) Reset() {
	e.ring = e.ring[:0]
	e.smoothed = nil
}
