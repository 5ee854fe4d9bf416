package gps

import "github.com/montanaflynn/stats"

// Smoother keeps the most recent samples and derives a jitter-reduced position
// from them. Lat/lng are weighted linearly by recency (oldest 1, newest n);
// elevation is the median of the buffered non-nil values.
type Smoother struct {
	size int
	ring []Sample
}

func NewSmoother(size int) *Smoother {
	if size < 1 {
		size = 1
	}
	return &Smoother{size: size, ring: make([]Sample, 0, size)}
}

func (s *Smoother) Push(sample Sample) {
	if len(s.ring) == s.size {
		copy(s.ring, s.ring[1:])
		s.ring = s.ring[:s.size-1]
	}
	s.ring = append(s.ring, sample)
}

// Peek returns the smoothed position the window would have after pushing sample,
// without changing the window.
func (s *Smoother) Peek(sample Sample) Position {
	start := 0
	if len(s.ring) == s.size {
		start = 1
	}
	window := make([]Sample, 0, s.size)
	window = append(window, s.ring[start:]...)
	window = append(window, sample)
	return smooth(window)
}

func (s *Smoother) Position() (Position, bool) {
	if len(s.ring) == 0 {
		return Position{}, false
	}
	return smooth(s.ring), true
}

func (s *Smoother) Len() int {
	return len(s.ring)
}

func (s *Smoother) Reset() {
	s.ring = s.ring[:0]
}

func smooth(window []Sample) Position {
	var lat, lng, total float64
	elevations := make([]float64, 0, len(window))
	for i, sample := range window {
		w := float64(i + 1)
		lat += sample.Lat * w
		lng += sample.Lng * w
		total += w
		if sample.Elevation != nil {
			elevations = append(elevations, *sample.Elevation)
		}
	}

	pos := Position{Lat: lat / total, Lng: lng / total}
	if m, err := stats.Median(stats.Float64Data(elevations)); err == nil {
		pos.Elevation = &m
	}
	return pos
}
