package session

import (
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/activity"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/syncer"
)

func (t *Tracker) flush(after func(error)) {
	t.runSync(true, after)
}

// runSync starts an upload off the loop. If one is already in flight the
// request waits for it. after, when set, receives the upload outcome.
func (t *Tracker) runSync(force bool, after func(error)) {
	if after == nil {
		after = func(error) {}
	}
	if t.act == nil {
		after(nil)
		return
	}
	if t.engine.InFlight() {
		t.syncWaiters = append(t.syncWaiters, func() { t.runSync(force, after) })
		return
	}

	batch, ok := t.engine.Prepare(t.buf, force)
	if !ok {
		after(nil)
		return
	}

	engine, seq := t.engine, t.seq
	id, calories := t.act.ID, t.stats.Calories
	t.async(func() func() {
		res, err := engine.Upload(t.ctx, id, batch, calories)
		return func() { t.syncDone(seq, batch, res, err, after) }
	})
}

func (t *Tracker) syncDone(seq uint64, batch syncer.Batch, res activity.PointsResult, uploadErr error, after func(error)) {
	waiters := t.syncWaiters
	t.syncWaiters = nil
	defer func() {
		for _, w := range waiters {
			w()
		}
	}()

	if seq != t.seq {
		// the session ended while the upload was in flight
		after(uploadErr)
		return
	}

	out, err := t.engine.Complete(t.ctx, t.buf, batch, res, uploadErr)
	t.syncErr = err
	if err == nil && out.Server != nil {
		t.applyServer(*out.Server)
	}
	after(err)
}

// applyServer replaces the locally accumulated totals with the server's.
func (t *Tracker) applyServer(res activity.PointsResult) {
	t.stats.DistanceM = res.Stats.DistanceM
	t.stats.ElevationGainM = res.Stats.ElevationGainM
	t.stats.AvgSpeedMps = res.Stats.AvgSpeedMps
	t.stats.MaxSpeedMps = res.Stats.MaxSpeedMps
	t.stats.Calories = res.Stats.Calories
	t.stats.PointsCount = res.TotalPoints + t.buf.Len()
	if t.act != nil {
		t.act.Stats = res.Stats
	}
}
