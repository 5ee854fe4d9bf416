package gps

import "time"

// Signal is the coarse acquisition quality shown to the user.
type Signal string

const (
	SignalGood     Signal = "good"
	SignalWeak     Signal = "weak"
	SignalLost     Signal = "lost"
	SignalDisabled Signal = "disabled"
)

// SignalThresholds bound the time since the last accepted sample.
type SignalThresholds struct {
	WeakAfter time.Duration
	LostAfter time.Duration
}

// Quality derives the signal state independently of acquisition mode.
func Quality(profile Profile, lastAccepted, now time.Time, th SignalThresholds) Signal {
	if !profile.Enabled {
		return SignalDisabled
	}
	if lastAccepted.IsZero() {
		return SignalLost
	}
	age := now.Sub(lastAccepted)
	switch {
	case age >= th.LostAfter:
		return SignalLost
	case age >= th.WeakAfter:
		return SignalWeak
	default:
		return SignalGood
	}
}
