package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/activity"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/buffer"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/pace"
)

func (t *Tracker) start(ctx context.Context, sportTypeID int64, done func(error)) {
	switch {
	case t.busy:
		done(ErrBusy)
		return
	case t.state != StateIdle && !t.state.Terminal():
		done(fmt.Errorf("%w: start while %s", ErrInvalidTransition, t.state))
		return
	}

	prev := t.state
	t.state = StateStarting
	t.existing = nil
	startedAt := t.now()

	t.async(func() func() {
		cur, err := t.api.Current(ctx)
		if err == nil && cur != nil {
			err = &activity.ExistingActivityError{Activity: *cur}
		}
		var act activity.Activity
		if err == nil {
			act, err = t.api.Start(ctx, activity.StartRequest{SportTypeID: sportTypeID, StartedAt: startedAt})
		}
		return func() {
			if err != nil {
				t.state = prev
				var existing *activity.ExistingActivityError
				if errors.As(err, &existing) {
					a := existing.Activity
					t.existing = &a
				}
				done(err)
				return
			}
			t.begin(act)
			t.resumeLocal()
			done(nil)
		}
	})
}

func (t *Tracker) resolve(ctx context.Context, d Disposition, opts FinishOptions, done func(error)) {
	if t.existing == nil {
		done(ErrNoExisting)
		return
	}
	if t.busy || (t.state != StateIdle && !t.state.Terminal()) {
		done(fmt.Errorf("%w: resolve while %s", ErrInvalidTransition, t.state))
		return
	}

	act := *t.existing
	t.existing = nil
	t.begin(act)
	t.state = StatePaused
	if act.PausedAt != nil {
		t.pausedAt = *act.PausedAt
	} else {
		t.pausedAt = t.now()
	}
	t.recoverSnapshot()

	switch d {
	case DispositionResume:
		t.resume(ctx, done)
	case DispositionFinish:
		t.finish(ctx, opts, func(_ *activity.Post, err error) { done(err) })
	case DispositionDiscard:
		t.discard(ctx, done)
	default:
		done(fmt.Errorf("unknown disposition %d", d))
	}
}

// begin adopts act as the session's activity and resets every accumulator.
// Durable state left by a different activity is dropped.
func (t *Tracker) begin(act activity.Activity) {
	t.seq++
	t.act = &act
	t.profile = t.cfg.Profiles.Profile(act.SportTypeID)
	t.filter = gps.NewFilter(t.profile)
	t.pace = pace.FromProfile(t.profile)
	t.paceDistanceM = 0
	t.buf = buffer.NewPointBuffer()
	t.engine = t.newEngine()
	t.stats = LiveStats{}
	t.startLocation = act.StartLocation
	t.lastFixAt = time.Time{}
	t.pausedAt = time.Time{}
	t.localPausedMs = 0
	t.syncErr = nil
	t.syncWaiters = nil
	t.recovered = false

	ctx := t.ctx
	marker, ok, err := t.store.Active(ctx)
	if err != nil {
		log.Printf("read active marker: %v", err)
	}
	if ok && marker.ID == act.ID {
		if err := t.engine.Restore(ctx); err != nil {
			log.Printf("restore sync state: %v", err)
		}
	} else if err := t.store.ClearSession(ctx); err != nil {
		log.Printf("clear stale session: %v", err)
	}

	if err := t.store.SaveActive(ctx, buffer.ActiveActivity{
		ID:            act.ID,
		SportTypeID:   act.SportTypeID,
		StartedAt:     act.StartedAt,
		StartLocation: act.StartLocation,
	}); err != nil {
		log.Printf("save active marker: %v", err)
	}
	if err := t.store.SaveProfile(ctx, t.profile); err != nil {
		log.Printf("save profile: %v", err)
	}

	t.timers.stop()
	t.timers = startTimers(t.cfg)
}

func (t *Tracker) pause(ctx context.Context, done func(error)) {
	switch {
	case t.busy:
		done(ErrBusy)
		return
	case t.state == StatePaused:
		done(nil)
		return
	case t.state != StateTracking:
		done(fmt.Errorf("%w: pause while %s", ErrInvalidTransition, t.state))
		return
	}

	t.busy = true
	t.state = StatePaused
	t.pausedAt = t.now()
	t.stopAcquisition()

	t.flush(func(err error) {
		if err != nil {
			log.Printf("flush before pause: %v", err)
		}
		id := t.act.ID
		t.async(func() func() {
			act, err := t.api.Pause(ctx, id)
			return func() {
				t.busy = false
				if err != nil {
					t.state = StateTracking
					t.pausedAt = time.Time{}
					t.startAcquisition()
					done(err)
					return
				}
				t.merge(act)
				done(nil)
			}
		})
	})
}

func (t *Tracker) resume(ctx context.Context, done func(error)) {
	switch {
	case t.busy:
		done(ErrBusy)
		return
	case t.state == StateTracking:
		done(nil)
		return
	case t.state != StatePaused:
		done(fmt.Errorf("%w: resume while %s", ErrInvalidTransition, t.state))
		return
	}

	if t.act.Status != activity.StatusPaused {
		t.resumeLocal()
		done(nil)
		return
	}

	t.busy = true
	id := t.act.ID
	t.async(func() func() {
		act, err := t.api.Resume(ctx, id)
		return func() {
			t.busy = false
			if err != nil {
				done(err)
				return
			}
			t.merge(act)
			t.resumeLocal()
			done(nil)
		}
	})
}

func (t *Tracker) resumeLocal() {
	if !t.pausedAt.IsZero() {
		t.localPausedMs += t.now().Sub(t.pausedAt).Milliseconds()
		t.pausedAt = time.Time{}
	}
	t.state = StateTracking
	t.startAcquisition()
}

func (t *Tracker) merge(act activity.Activity) {
	if act.StartLocation == nil && t.act != nil {
		act.StartLocation = t.act.StartLocation
	}
	t.act = &act
}

func (t *Tracker) finish(ctx context.Context, opts FinishOptions, done func(*activity.Post, error)) {
	switch {
	case t.state == StateFinishing || t.state.Terminal():
		done(nil, nil)
		return
	case t.act == nil || t.state == StateStarting:
		done(nil, ErrNotActive)
		return
	case t.busy:
		done(nil, ErrBusy)
		return
	}

	now := t.now()
	endedAt := now
	if stale := t.staleFix(now); stale != nil {
		switch opts.Duration {
		case DurationUnset:
			done(nil, stale)
			return
		case DurationGPS:
			endedAt = stale.LastFixAt
		}
	}

	prev := t.state
	t.state = StateFinishing
	t.stopAcquisition()

	t.flush(func(err error) {
		if err != nil {
			t.restore(prev)
			done(nil, fmt.Errorf("flush before finish: %w", err))
			return
		}
		id := t.act.ID
		req := activity.FinishRequest{
			EndedAt:       endedAt,
			StartLocation: t.startLocation,
			Share:         opts.Share,
			Title:         opts.Title,
		}
		t.async(func() func() {
			res, err := t.api.Finish(ctx, id, req)
			return func() {
				if err != nil {
					t.restore(prev)
					done(nil, err)
					return
				}
				t.merge(res.Activity)
				t.terminate(StateFinished)
				done(res.Post, nil)
			}
		})
	})
}

func (t *Tracker) discard(ctx context.Context, done func(error)) {
	switch {
	case t.state == StateFinishing || t.state.Terminal():
		done(nil)
		return
	case t.act == nil || t.state == StateStarting:
		done(ErrNotActive)
		return
	case t.busy:
		done(ErrBusy)
		return
	}

	prev := t.state
	t.state = StateFinishing
	t.stopAcquisition()

	id := t.act.ID
	t.async(func() func() {
		act, err := t.api.Discard(ctx, id)
		return func() {
			if err != nil {
				t.restore(prev)
				done(err)
				return
			}
			t.merge(act)
			t.terminate(StateDiscarded)
			done(nil)
		}
	})
}

// restore returns to the state a failed finish or discard started from.
func (t *Tracker) restore(prev State) {
	t.state = prev
	if prev == StateTracking {
		t.startAcquisition()
	}
}

// terminate ends the session: timers, buffers, pace, sync state and every
// durable snapshot go. The final stats stay readable.
func (t *Tracker) terminate(final State) {
	t.stopAcquisition()
	t.timers.stop()
	t.timers = nil
	t.refreshDuration()

	t.seq++
	t.buf.Clear()
	t.pace.Reset()
	t.paceDistanceM = 0
	t.engine.Reset()
	t.syncWaiters = nil
	t.syncErr = nil
	if err := t.store.ClearSession(t.ctx); err != nil {
		log.Printf("clear session: %v", err)
	}
	t.state = final
}

// staleFix reports the two candidate durations when the last accepted fix is
// older than the stale threshold and they differ. Time spent paused does not
// count toward staleness.
func (t *Tracker) staleFix(now time.Time) *StaleGPSError {
	if t.lastFixAt.IsZero() {
		return nil
	}
	active := now
	if !t.pausedAt.IsZero() && t.pausedAt.Before(now) {
		active = t.pausedAt
	}
	if active.Sub(t.lastFixAt) < t.cfg.StaleGPSAfter {
		return nil
	}
	gpsDur, wallDur := t.elapsedAt(t.lastFixAt), t.elapsedAt(now)
	if wallDur-gpsDur < time.Second {
		return nil
	}
	return &StaleGPSError{
		GPSDuration:  gpsDur,
		WallDuration: wallDur,
		LastFixAt:    t.lastFixAt,
	}
}

// elapsedAt is the active duration up to end: end − (startedAt + paused time).
func (t *Tracker) elapsedAt(end time.Time) time.Duration {
	if t.act == nil {
		return 0
	}
	paused := time.Duration(max(t.act.TotalPausedMs, t.localPausedMs)) * time.Millisecond
	if !t.pausedAt.IsZero() && end.After(t.pausedAt) {
		paused += end.Sub(t.pausedAt)
	}
	d := end.Sub(t.act.StartedAt) - paused
	if d < 0 {
		return 0
	}
	return d
}
