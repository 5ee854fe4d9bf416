// Package buffer holds accepted samples awaiting upload and their durable
// snapshots.
package buffer

import (
	"sort"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"
)

// PointBuffer is an ordered sequence of accepted raw samples pending upload.
// It has a single writer at a time; entries leave it only through Remove.
type PointBuffer struct {
	samples []gps.Sample
}

func NewPointBuffer(initial ...gps.Sample) *PointBuffer {
	b := &PointBuffer{}
	b.Append(initial...)
	return b
}

func (b *PointBuffer) Append(samples ...gps.Sample) {
	b.samples = append(b.samples, samples...)
}

// Prepend places recovered samples ahead of the ones collected since start.
func (b *PointBuffer) Prepend(samples ...gps.Sample) {
	if len(samples) == 0 {
		return
	}
	merged := make([]gps.Sample, 0, len(samples)+len(b.samples))
	merged = append(merged, samples...)
	b.samples = append(merged, b.samples...)
}

func (b *PointBuffer) Len() int {
	return len(b.samples)
}

func (b *PointBuffer) Samples() []gps.Sample {
	out := make([]gps.Sample, len(b.samples))
	copy(out, b.samples)
	return out
}

// Dedupe sorts the buffer by timestamp and drops entries sharing a timestamp.
func (b *PointBuffer) Dedupe() {
	b.samples = Dedupe(b.samples)
}

// Remove drops exactly the uploaded entries: timestamped entries by timestamp,
// timestamp-less entries one for one in buffer order. Returns how many were
// removed.
func (b *PointBuffer) Remove(uploaded []gps.Sample) int {
	stamps := make(map[int64]struct{}, len(uploaded))
	untimed := 0
	for _, s := range uploaded {
		if s.HasTimestamp() {
			stamps[s.TimestampMs] = struct{}{}
		} else {
			untimed++
		}
	}

	kept := b.samples[:0]
	removed := 0
	for _, s := range b.samples {
		if s.HasTimestamp() {
			if _, ok := stamps[s.TimestampMs]; ok {
				removed++
				continue
			}
		} else if untimed > 0 {
			untimed--
			removed++
			continue
		}
		kept = append(kept, s)
	}
	b.samples = kept
	return removed
}

func (b *PointBuffer) Clear() {
	b.samples = nil
}

// Dedupe returns samples sorted by timestamp with shared timestamps collapsed to
// their first occurrence. Timestamp-less entries are kept, in order, and never
// deduplicated against each other.
func Dedupe(samples []gps.Sample) []gps.Sample {
	sorted := make([]gps.Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampMs < sorted[j].TimestampMs
	})

	out := sorted[:0]
	seen := make(map[int64]struct{}, len(sorted))
	for _, s := range sorted {
		if s.HasTimestamp() {
			if _, dup := seen[s.TimestampMs]; dup {
				continue
			}
			seen[s.TimestampMs] = struct{}{}
		}
		out = append(out, s)
	}
	return out
}
