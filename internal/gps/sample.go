package gps

import "time"

// Sample is one raw fix as delivered by the positioning service.
type Sample struct {
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Elevation   *float64 `json:"elevation,omitempty"`
	TimestampMs int64    `json:"timestamp"`
	AccuracyM   *float64 `json:"accuracy,omitempty"`
	SpeedMps    *float64 `json:"speed,omitempty"`
}

func (s Sample) HasTimestamp() bool {
	return s.TimestampMs > 0
}

func (s Sample) Time() time.Time {
	if !s.HasTimestamp() {
		return time.Time{}
	}
	return time.UnixMilli(s.TimestampMs)
}

type Position struct {
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Elevation *float64 `json:"elevation,omitempty"`
}

func Float(v float64) *float64 {
	return &v
}
