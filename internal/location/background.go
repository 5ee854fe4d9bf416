package location

import (
	"context"
	"fmt"
	"log"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/activity"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/buffer"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"
)

// Uploader sends points on behalf of the background executor.
type Uploader interface {
	AppendPoints(ctx context.Context, id string, req activity.PointsRequest) (activity.PointsResult, error)
}

// BackgroundTask processes OS-delivered batches while the app is in the
// background. It keeps no state between invocations: the profile and the last
// accepted position come from storage every time, and results go only to the
// background buffer.
type BackgroundTask struct {
	store    *buffer.Store
	uploader Uploader
}

// NewBackgroundTask builds the executor. uploader may be nil, in which case
// points wait for reconciliation.
func NewBackgroundTask(store *buffer.Store, uploader Uploader) *BackgroundTask {
	return &BackgroundTask{store: store, uploader: uploader}
}

// Process filters one batch and appends accepted points to the background
// buffer. It returns how many points were accepted.
func (t *BackgroundTask) Process(ctx context.Context, batch []gps.Sample) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	profile, ok, err := t.store.Profile(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		// no session is recording
		return 0, nil
	}

	filter := gps.NewFilter(profile)
	last, hasLast, err := t.store.LastPosition(ctx)
	if err != nil {
		return 0, err
	}
	if hasLast {
		filter.Seed(last.Position, last.TimestampMs)
	}

	var accepted []buffer.BackgroundPoint
	for _, s := range buffer.Dedupe(batch) {
		d := filter.Process(s)
		if !d.Accepted() {
			continue
		}
		accepted = append(accepted, buffer.BackgroundPoint{
			Sample:         s,
			DistanceM:      d.DistanceM,
			ElevationGainM: d.ElevationGainM,
		})
	}

	if pos, at, ok := filter.Last(); ok {
		if err := t.store.SaveLastPosition(ctx, buffer.LastPosition{Position: pos, TimestampMs: at}); err != nil {
			return 0, err
		}
	}
	if err := t.store.AppendBackground(ctx, accepted...); err != nil {
		return 0, err
	}

	if t.uploader != nil && len(accepted) > 0 {
		if err := t.upload(ctx); err != nil {
			log.Printf("background upload error: %v", err)
		}
	}
	return len(accepted), nil
}

// upload sends the background entries past the watermark and advances it, so
// reconciliation only adds what the server has not seen through this path. A
// reconcile that trims the buffer while the request is in flight leaves the
// watermark alone.
func (t *BackgroundTask) upload(ctx context.Context) error {
	active, ok, err := t.store.Active(ctx)
	if err != nil || !ok {
		return err
	}
	pending, err := t.store.Pending(ctx)
	if err != nil || len(pending.Points) == 0 {
		return err
	}

	samples := make([]gps.Sample, 0, len(pending.Points))
	for _, p := range pending.Points {
		samples = append(samples, p.Sample)
	}
	if _, err := t.uploader.AppendPoints(ctx, active.ID, activity.PointsRequest{Points: buffer.Dedupe(samples)}); err != nil {
		return fmt.Errorf("upload %d points: %w", len(samples), err)
	}
	_, err = t.store.AdvanceWatermark(ctx, pending.Generation, pending.End)
	return err
}
