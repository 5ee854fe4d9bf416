package gps

import (
	"math"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/shared/geo"
)

// Reason explains a filter decision. A rejected sample is an expected outcome,
// not an error.
type Reason int

const (
	Accepted Reason = iota
	RejectedAccuracy
	RejectedBaseline
	RejectedMinDistance
	RejectedSpeed
)

func (r Reason) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case RejectedAccuracy:
		return "accuracy"
	case RejectedBaseline:
		return "baseline"
	case RejectedMinDistance:
		return "min_distance"
	case RejectedSpeed:
		return "speed"
	default:
		return "unknown"
	}
}

type Decision struct {
	Reason         Reason
	Position       Position
	DistanceM      float64
	ElevationGainM float64
	SpeedMps       float64
}

func (d Decision) Accepted() bool {
	return d.Reason == Accepted
}

// Filter accepts or rejects raw samples against a profile and tracks the last
// accepted smoothed position.
type Filter struct {
	profile    Profile
	smoother   *Smoother
	last       Position
	lastAt     int64
	hasLast    bool
	rebaseline bool
}

func NewFilter(profile Profile) *Filter {
	return &Filter{
		profile:    profile,
		smoother:   NewSmoother(profile.SmoothingBufferSize),
		rebaseline: true,
	}
}

func (f *Filter) Profile() Profile {
	return f.profile
}

// Rebaseline clears the smoothing window and makes the next sample
// baseline-only.
func (f *Filter) Rebaseline() {
	f.smoother.Reset()
	f.rebaseline = true
}

// Seed restores the last accepted position, e.g. from durable storage, so the
// next sample is compared against it instead of re-baselining.
func (f *Filter) Seed(pos Position, atMs int64) {
	f.last = pos
	f.lastAt = atMs
	f.hasLast = true
	f.rebaseline = false
}

func (f *Filter) Last() (Position, int64, bool) {
	return f.last, f.lastAt, f.hasLast
}

// Process runs the rejection chain: accuracy, re-baseline, minimum movement,
// implied speed.
func (f *Filter) Process(s Sample) Decision {
	if s.AccuracyM != nil && *s.AccuracyM > f.profile.AccuracyThresholdM {
		return Decision{Reason: RejectedAccuracy}
	}

	if f.rebaseline || !f.hasLast {
		f.smoother.Push(s)
		pos, _ := f.smoother.Position()
		f.Seed(pos, s.TimestampMs)
		return Decision{Reason: RejectedBaseline, Position: pos}
	}

	candidate := f.smoother.Peek(s)
	dist := geo.HaversineM(f.last.Lat, f.last.Lng, candidate.Lat, candidate.Lng)
	if dist <= f.minDistance(s) {
		f.smoother.Push(s)
		return Decision{Reason: RejectedMinDistance, Position: f.last, DistanceM: dist}
	}

	speed := math.Inf(1)
	if elapsed := float64(s.TimestampMs-f.lastAt) / 1000; elapsed > 0 {
		speed = dist / elapsed
	}
	if speed >= f.profile.MaxRealisticSpeedMps {
		return Decision{Reason: RejectedSpeed, Position: f.last, DistanceM: dist, SpeedMps: speed}
	}

	f.smoother.Push(s)
	gain := 0.0
	if candidate.Elevation != nil && f.last.Elevation != nil {
		if delta := *candidate.Elevation - *f.last.Elevation; delta > f.profile.MinElevationChangeM {
			gain = delta
		}
	}
	f.last = candidate
	f.lastAt = s.TimestampMs

	return Decision{
		Reason:         Accepted,
		Position:       candidate,
		DistanceM:      dist,
		ElevationGainM: gain,
		SpeedMps:       speed,
	}
}

// minDistance raises the movement floor while the device reports standing still,
// suppressing stationary drift.
func (f *Filter) minDistance(s Sample) float64 {
	if s.SpeedMps != nil && *s.SpeedMps < f.profile.StationarySpeedMps {
		return math.Max(f.profile.MinDistanceM, f.profile.StationaryMinDistanceM)
	}
	return f.profile.MinDistanceM
}
