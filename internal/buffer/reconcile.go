package buffer

import (
	"context"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"
)

// Reconciled is what the background buffer contributes to the foreground
// session.
type Reconciled struct {
	Samples        []gps.Sample
	DistanceM      float64
	ElevationGainM float64
	AlreadySynced  int
}

// Reconcile reads background entries past the synced watermark, converts them to
// samples ordered by timestamp, and clears the consumed entries and the
// watermark.
func Reconcile(ctx context.Context, store *Store) (Reconciled, error) {
	points, err := store.Background(ctx)
	if err != nil {
		return Reconciled{}, err
	}
	if len(points) == 0 {
		return Reconciled{}, nil
	}
	mark, err := store.Watermark(ctx)
	if err != nil {
		return Reconciled{}, err
	}
	if mark > len(points) {
		mark = len(points)
	}
	if mark < 0 {
		mark = 0
	}

	fresh := points[mark:]
	res := Reconciled{AlreadySynced: mark}
	samples := make([]gps.Sample, 0, len(fresh))
	for _, p := range fresh {
		samples = append(samples, p.Sample)
		res.DistanceM += p.DistanceM
		res.ElevationGainM += p.ElevationGainM
	}
	res.Samples = Dedupe(samples)

	if err := store.TrimBackground(ctx, len(points)); err != nil {
		return Reconciled{}, err
	}
	return res, nil
}
