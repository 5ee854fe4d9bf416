package session

import (
	"errors"
	"log"
	"math"
	"time"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/buffer"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/location"
)

func (t *Tracker) coordinator() *location.Coordinator {
	if t.coord == nil {
		var uploader location.Uploader
		if t.cfg.BackgroundUpload {
			uploader = t.api
		}
		task := location.NewBackgroundTask(t.store, uploader)
		t.coord = location.NewCoordinator(t.source, task, t.store, t.batches, t.cfg.KeepBackgroundRunning)
	}
	return t.coord
}

// startAcquisition merges any crash-recovery snapshot ahead of new samples and
// subscribes in the current app mode. The next sample only re-baselines.
func (t *Tracker) startAcquisition() {
	t.recoverSnapshot()
	t.filter.Rebaseline()

	c := t.coordinator()
	if err := c.StartForeground(t.ctx); err != nil {
		if errors.Is(err, location.ErrPermissionDenied) {
			log.Printf("acquisition not started: %v", err)
		} else {
			log.Printf("start acquisition: %v", err)
		}
		return
	}
	if t.background {
		t.saveLastPosition()
		if err := c.ToBackground(t.ctx); err != nil {
			log.Printf("background acquisition: %v", err)
		}
	}
}

// stopAcquisition returns once no further batch can arrive. Points the
// background executor collected are folded in first.
func (t *Tracker) stopAcquisition() {
	if t.coord == nil {
		return
	}
	wasBackground := t.coord.Background()
	t.coord.Stop()
	if wasBackground {
		rec, err := buffer.Reconcile(t.ctx, t.store)
		if err != nil {
			log.Printf("reconcile on stop: %v", err)
			return
		}
		t.absorb(rec)
	}
}

func (t *Tracker) toBackground() {
	t.background = true
	if t.state != StateTracking || t.coord == nil || !t.coord.Foreground() {
		return
	}
	t.saveLastPosition()
	if err := t.coord.ToBackground(t.ctx); err != nil {
		log.Printf("background acquisition: %v", err)
		return
	}
	t.filter.Rebaseline()
}

func (t *Tracker) toForeground() {
	t.background = false
	if t.state != StateTracking || t.coord == nil || t.coord.Mode() != location.ModeBackground {
		return
	}
	rec, err := t.coord.ToForeground(t.ctx)
	t.absorb(rec)
	t.filter.Rebaseline()
	if err != nil {
		log.Printf("foreground acquisition: %v", err)
	}
}

// recoverSnapshot loads a durable snapshot, merges it ahead of the buffer and
// clears it. It runs once per session.
func (t *Tracker) recoverSnapshot() {
	if t.recovered {
		return
	}
	t.recovered = true
	samples, err := t.store.LoadSnapshot(t.ctx)
	if err != nil {
		log.Printf("load snapshot: %v", err)
		return
	}
	if len(samples) == 0 {
		return
	}
	t.buf.Prepend(samples...)
	t.buf.Dedupe()
	if err := t.store.ClearSnapshot(t.ctx); err != nil {
		log.Printf("clear snapshot: %v", err)
	}
}

func (t *Tracker) onBatch(b location.Batch) {
	if t.state != StateTracking || t.coord == nil || b.Gen != t.coord.Generation() {
		return
	}
	for _, s := range b.Samples {
		d := t.filter.Process(s)
		switch d.Reason {
		case gps.Accepted:
			t.accept(s, d)
		case gps.RejectedBaseline:
			if t.startLocation == nil {
				pos := d.Position
				t.startLocation = &pos
			}
			t.stats.Position = &d.Position
		}
	}
}

// accept folds an accepted sample into the session. The raw sample is what
// gets buffered.
func (t *Tracker) accept(s gps.Sample, d gps.Decision) {
	t.buf.Append(s)
	t.stats.DistanceM += d.DistanceM
	t.paceDistanceM += d.DistanceM
	t.stats.Calories += t.calories(d.DistanceM)
	t.stats.ElevationGainM += d.ElevationGainM
	t.stats.PointsCount++
	pos := d.Position
	t.stats.Position = &pos

	speed := d.SpeedMps
	if s.SpeedMps != nil {
		speed = *s.SpeedMps
	}
	if !math.IsInf(speed, 0) && speed > t.stats.MaxSpeedMps {
		t.stats.MaxSpeedMps = speed
	}

	t.lastFixAt = t.now()
	ts := s.TimestampMs
	if !s.HasTimestamp() {
		ts = t.lastFixAt.UnixMilli()
	}
	t.pace.Add(ts, t.paceDistanceM)
	t.stats.PaceSecPerKm = t.pace.Current()
	t.refreshDerived()
}

// absorb merges reconciled background points into the buffer and the stats.
func (t *Tracker) absorb(rec buffer.Reconciled) {
	if len(rec.Samples) == 0 {
		return
	}
	t.buf.Append(rec.Samples...)
	t.buf.Dedupe()
	t.stats.DistanceM += rec.DistanceM
	t.paceDistanceM += rec.DistanceM
	t.stats.Calories += t.calories(rec.DistanceM)
	t.stats.ElevationGainM += rec.ElevationGainM
	t.stats.PointsCount += len(rec.Samples)

	last := rec.Samples[len(rec.Samples)-1]
	if last.HasTimestamp() {
		t.lastFixAt = last.Time()
		t.pace.Add(last.TimestampMs, t.paceDistanceM)
		t.stats.PaceSecPerKm = t.pace.Current()
	}
	t.refreshDerived()
}

func (t *Tracker) refreshDuration() {
	if t.act == nil {
		return
	}
	end := t.now()
	if t.state.Terminal() {
		if t.act.EndedAt == nil {
			return
		}
		end = *t.act.EndedAt
	}
	t.stats.DurationSec = int64(t.elapsedAt(end) / time.Second)
	t.refreshDerived()
}

func (t *Tracker) refreshDerived() {
	if t.stats.DurationSec > 0 {
		t.stats.AvgSpeedMps = t.stats.DistanceM / float64(t.stats.DurationSec)
	}
}

// calories estimates energy for distanceM metres: km × body weight × the
// profile's kcal per kg·km.
func (t *Tracker) calories(distanceM float64) float64 {
	return distanceM / 1000 * t.cfg.BodyWeightKg * t.profile.CaloriesPerKgKm
}

func (t *Tracker) signal() gps.Signal {
	return gps.Quality(t.profile, t.lastFixAt, t.now(), t.cfg.Signal)
}

func (t *Tracker) checkSignal() {
	if t.act == nil || t.state.Terminal() {
		return
	}
	if q := t.signal(); q != t.gpsSignal {
		log.Printf("gps signal %s", q)
		t.gpsSignal = q
	}
}

func (t *Tracker) saveLastPosition() {
	pos, at, ok := t.filter.Last()
	if !ok {
		return
	}
	if err := t.store.SaveLastPosition(t.ctx, buffer.LastPosition{Position: pos, TimestampMs: at}); err != nil {
		log.Printf("save last position: %v", err)
	}
}

func (t *Tracker) persist() {
	if t.act == nil || t.state.Terminal() {
		return
	}
	if err := t.store.SaveSnapshot(t.ctx, t.buf.Samples()); err != nil {
		log.Printf("persist snapshot: %v", err)
	}
	t.saveLastPosition()
}
