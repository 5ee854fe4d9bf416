// Package syncer uploads buffered samples to the server of record in batches,
// backing off exponentially after failures.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/activity"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/buffer"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"
)

var ErrSyncFailed = errors.New("sync failed")

// Uploader is the slice of activity.API the engine needs.
type Uploader interface {
	AppendPoints(ctx context.Context, id string, req activity.PointsRequest) (activity.PointsResult, error)
}

type Config struct {
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// State is persisted after every attempt.
type State struct {
	RetryCount    int       `json:"retry_count"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
	LastSuccessAt time.Time `json:"last_success_at"`
	PendingCount  int       `json:"pending_count"`
	LastError     string    `json:"last_error,omitempty"`
}

// Batch is the exact set of samples handed to one upload.
type Batch struct {
	Samples []gps.Sample
}

// Result describes a completed attempt.
type Result struct {
	Uploaded int
	Pending  int
	Server   *activity.PointsResult
}

// Engine is driven by the session loop: Prepare and Complete run on the loop,
// Upload may run anywhere.
type Engine struct {
	api      Uploader
	store    *buffer.Store
	cfg      Config
	now      func() time.Time
	state    State
	inFlight bool
	kicked   bool
}

func New(api Uploader, store *buffer.Store, cfg Config) *Engine {
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 5 * time.Second
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	return &Engine{api: api, store: store, cfg: cfg, now: time.Now}
}

func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Engine) State() State {
	return e.state
}

func (e *Engine) InFlight() bool {
	return e.inFlight
}

// BackoffDelay is min(base*2^(retries-1), max); zero when there were no failures.
func BackoffDelay(base, max time.Duration, retries int) time.Duration {
	if retries <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < retries; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func (e *Engine) Backoff() time.Duration {
	return BackoffDelay(e.cfg.BaseBackoff, e.cfg.MaxBackoff, e.state.RetryCount)
}

// Due reports whether a scheduled attempt may run now.
func (e *Engine) Due() bool {
	if e.inFlight {
		return false
	}
	if e.kicked || e.state.RetryCount == 0 {
		return true
	}
	return !e.now().Before(e.state.LastAttemptAt.Add(e.Backoff()))
}

// Kick lets the next attempt skip the backoff window, e.g. when connectivity
// comes back.
func (e *Engine) Kick() {
	e.kicked = true
}

// Prepare deduplicates buf and snapshots the batch to send. The buffer keeps
// its entries until Complete confirms the upload. force skips the backoff
// check (used when flushing on pause/finish).
func (e *Engine) Prepare(buf *buffer.PointBuffer, force bool) (Batch, bool) {
	if buf.Len() == 0 {
		e.state.PendingCount = 0
		return Batch{}, false
	}
	if e.inFlight || (!force && !e.Due()) {
		e.state.PendingCount = buf.Len()
		return Batch{}, false
	}

	buf.Dedupe()
	e.inFlight = true
	e.kicked = false
	e.state.LastAttemptAt = e.now()
	e.state.PendingCount = buf.Len()
	return Batch{Samples: buf.Samples()}, true
}

// Upload sends a batch with the current calorie estimate. It touches no engine
// state and may run off the session loop.
func (e *Engine) Upload(ctx context.Context, activityID string, batch Batch, calories float64) (activity.PointsResult, error) {
	return e.api.AppendPoints(ctx, activityID, activity.PointsRequest{Points: batch.Samples, Calories: calories})
}

// Complete applies an upload outcome to the buffer and the persisted state.
func (e *Engine) Complete(ctx context.Context, buf *buffer.PointBuffer, batch Batch, res activity.PointsResult, uploadErr error) (Result, error) {
	e.inFlight = false

	if uploadErr != nil {
		e.state.RetryCount++
		e.state.LastError = uploadErr.Error()
		e.state.PendingCount = buf.Len()
		e.persist(ctx, buf)
		return Result{Pending: buf.Len()}, fmt.Errorf("%w: %w", ErrSyncFailed, uploadErr)
	}

	removed := buf.Remove(batch.Samples)
	e.state.RetryCount = 0
	e.state.LastError = ""
	e.state.LastSuccessAt = e.now()
	e.state.PendingCount = buf.Len()
	e.persist(ctx, buf)
	return Result{Uploaded: removed, Pending: buf.Len(), Server: &res}, nil
}

// Sync runs Prepare, Upload and Complete back to back.
func (e *Engine) Sync(ctx context.Context, activityID string, buf *buffer.PointBuffer, calories float64, force bool) (Result, error) {
	batch, ok := e.Prepare(buf, force)
	if !ok {
		return Result{Pending: buf.Len()}, nil
	}
	res, err := e.Upload(ctx, activityID, batch, calories)
	return e.Complete(ctx, buf, batch, res, err)
}

// Restore loads the persisted state after a restart.
func (e *Engine) Restore(ctx context.Context) error {
	var st State
	ok, err := e.store.Get(ctx, buffer.KeySyncState, &st)
	if err != nil || !ok {
		return err
	}
	e.state = st
	return nil
}

// Reset forgets all retry state.
func (e *Engine) Reset() {
	e.state = State{}
	e.inFlight = false
	e.kicked = false
}

func (e *Engine) persist(ctx context.Context, buf *buffer.PointBuffer) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveSnapshot(ctx, buf.Samples()); err != nil {
		log.Printf("sync snapshot persist error: %v", err)
	}
	if err := e.store.Put(ctx, buffer.KeySyncState, e.state); err != nil {
		log.Printf("sync state persist error: %v", err)
	}
}
