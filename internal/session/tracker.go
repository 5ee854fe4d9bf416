package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/activity"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/buffer"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/location"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/pace"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/syncer"
)

// Tracker records one activity at a time. Every field below the loop marker
// is owned by the loop goroutine; public methods talk to it by message.
type Tracker struct {
	api    activity.API
	source location.Source
	store  *buffer.Store
	cfg    Config
	now    func() time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	inbox     chan func()
	batches   chan location.Batch
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// loop
	state    State
	busy     bool
	seq      uint64
	act      *activity.Activity
	existing *activity.Activity
	profile  gps.Profile
	filter   *gps.Filter
	pace     *pace.Estimator
	// accepted distance only; server totals never reach the pace window
	paceDistanceM float64
	buf           *buffer.PointBuffer
	engine        *syncer.Engine
	coord         *location.Coordinator
	timers        *timers
	stats         LiveStats
	startLocation *gps.Position
	lastFixAt     time.Time
	pausedAt      time.Time
	localPausedMs int64
	online        bool
	background    bool
	syncErr       error
	syncWaiters   []func()
	gpsSignal     gps.Signal
	recovered     bool
}

func New(api activity.API, source location.Source, store *buffer.Store, cfg Config) *Tracker {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		api:     api,
		source:  source,
		store:   store,
		cfg:     cfg,
		now:     cfg.Clock,
		ctx:     ctx,
		cancel:  cancel,
		inbox:   make(chan func()),
		batches: make(chan location.Batch),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		online:  true,
		buf:     buffer.NewPointBuffer(),
	}
	t.engine = t.newEngine()
	go t.run()
	return t
}

func (t *Tracker) newEngine() *syncer.Engine {
	e := syncer.New(t.api, t.store, t.cfg.Backoff)
	e.SetClock(t.now)
	return e
}

func (t *Tracker) run() {
	defer close(t.stopped)
	for {
		durationC, syncC, persistC, signalC := t.timers.channels()
		select {
		case fn := <-t.inbox:
			fn()
		case b := <-t.batches:
			t.onBatch(b)
		case <-durationC:
			t.refreshDuration()
		case <-syncC:
			if t.online {
				t.runSync(false, nil)
			}
		case <-persistC:
			t.persist()
		case <-signalC:
			t.checkSignal()
		case <-t.quit:
			t.shutdown()
			return
		}
	}
}

// Close stops acquisition and the loop. Durable snapshots are kept so a later
// tracker can recover the session.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() { close(t.quit) })
	<-t.stopped
}

func (t *Tracker) shutdown() {
	t.stopAcquisition()
	t.timers.stop()
	t.timers = nil
	if t.act != nil && !t.state.Terminal() {
		t.persist()
	}
	t.cancel()
}

func (t *Tracker) post(fn func()) error {
	select {
	case t.inbox <- fn:
		return nil
	case <-t.quit:
		return ErrClosed
	}
}

// call runs fn on the loop and waits until it reports through done, which may
// happen later, after off-loop work completes.
func (t *Tracker) call(ctx context.Context, fn func(done func(error))) error {
	res := make(chan error, 1)
	done := func(err error) {
		select {
		case res <- err:
		default:
		}
	}
	if err := t.post(func() { fn(done) }); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stopped:
		return ErrClosed
	}
}

func (t *Tracker) query(fn func()) error {
	done := make(chan struct{})
	if err := t.post(func() { fn(); close(done) }); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-t.stopped:
		return ErrClosed
	}
}

// async runs work off the loop and applies what it returns on the loop.
func (t *Tracker) async(work func() func()) {
	go func() {
		apply := work()
		if err := t.post(apply); err != nil {
			log.Printf("session result dropped: %v", err)
		}
	}()
}

// Start checks for an existing activity and, if there is none, creates one and
// begins tracking. An existing activity is returned as an
// *activity.ExistingActivityError and must be settled with ResolveExisting.
func (t *Tracker) Start(ctx context.Context, sportTypeID int64) error {
	return t.call(ctx, func(done func(error)) { t.start(ctx, sportTypeID, done) })
}

// ResolveExisting applies the caller's disposition to the activity found by
// the last Start.
func (t *Tracker) ResolveExisting(ctx context.Context, d Disposition, opts FinishOptions) error {
	return t.call(ctx, func(done func(error)) { t.resolve(ctx, d, opts, done) })
}

func (t *Tracker) Pause(ctx context.Context) error {
	return t.call(ctx, func(done func(error)) { t.pause(ctx, done) })
}

func (t *Tracker) Resume(ctx context.Context) error {
	return t.call(ctx, func(done func(error)) { t.resume(ctx, done) })
}

// Finish ends the activity. A second call while one is in flight, or after
// the activity ended, does nothing.
func (t *Tracker) Finish(ctx context.Context, opts FinishOptions) (*activity.Post, error) {
	var post *activity.Post
	err := t.call(ctx, func(done func(error)) {
		t.finish(ctx, opts, func(p *activity.Post, err error) {
			post = p
			done(err)
		})
	})
	return post, err
}

// Discard drops the activity without flushing pending points. Repeated calls
// are no-ops.
func (t *Tracker) Discard(ctx context.Context) error {
	return t.call(ctx, func(done func(error)) { t.discard(ctx, done) })
}

// SyncNow uploads pending points immediately, ignoring the backoff window.
func (t *Tracker) SyncNow(ctx context.Context) error {
	return t.call(ctx, func(done func(error)) {
		if t.act == nil || t.state.Terminal() {
			done(ErrNotActive)
			return
		}
		t.runSync(true, done)
	})
}

// SetOnline feeds connectivity changes. Coming back online triggers an
// out-of-cycle sync.
func (t *Tracker) SetOnline(online bool) {
	_ = t.post(func() {
		was := t.online
		t.online = online
		if online && !was && t.act != nil && !t.state.Terminal() {
			t.engine.Kick()
			t.runSync(false, nil)
		}
	})
}

// AppBackground moves acquisition to the background executor.
func (t *Tracker) AppBackground() {
	_ = t.query(t.toBackground)
}

// AppForeground brings acquisition back and folds in what the background
// executor collected.
func (t *Tracker) AppForeground() {
	_ = t.query(t.toForeground)
}

func (t *Tracker) Stats() LiveStats {
	var out LiveStats
	_ = t.query(func() {
		t.refreshDuration()
		out = t.stats.clone()
	})
	return out
}

func (t *Tracker) Status() TrackingStatus {
	var out TrackingStatus
	_ = t.query(func() {
		out = TrackingStatus{
			State:         t.state,
			GPSSignal:     t.signal(),
			IsOnline:      t.online,
			PendingPoints: t.buf.Len(),
			LastSyncTime:  t.engine.State().LastSuccessAt,
		}
		if t.syncErr != nil {
			out.SyncError = t.syncErr.Error()
		}
	})
	return out
}

func (t *Tracker) State() State {
	var s State
	_ = t.query(func() { s = t.state })
	return s
}

// Activity returns the tracker's copy of the current activity.
func (t *Tracker) Activity() *activity.Activity {
	var out *activity.Activity
	_ = t.query(func() {
		if t.act != nil {
			a := *t.act
			out = &a
		}
	})
	return out
}

// Existing returns the activity that blocked the last Start, if unresolved.
func (t *Tracker) Existing() *activity.Activity {
	var out *activity.Activity
	_ = t.query(func() {
		if t.existing != nil {
			a := *t.existing
			out = &a
		}
	})
	return out
}
