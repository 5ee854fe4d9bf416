package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/activity"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/buffer"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/kv"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/location"
)

// fakeAPI is an in-memory server of record.
type fakeAPI struct {
	mu       sync.Mutex
	current  *activity.Activity
	points   []gps.Sample
	calls    map[string]int
	errs     map[string]error
	finishes []activity.FinishRequest
	block    chan struct{}
	stats    activity.Stats
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{calls: map[string]int{}, errs: map[string]error{}}
}

func (f *fakeAPI) setErr(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = err
}

func (f *fakeAPI) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAPI) uploaded() []gps.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gps.Sample, len(f.points))
	copy(out, f.points)
	return out
}

func (f *fakeAPI) enter(op string) error {
	f.mu.Lock()
	f.calls[op]++
	err := f.errs[op]
	block := f.block
	f.mu.Unlock()
	if op == "finish" && block != nil {
		<-block
	}
	return err
}

func (f *fakeAPI) Current(context.Context) (*activity.Activity, error) {
	if err := f.enter("current"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil || f.current.Status.Terminal() {
		return nil, nil
	}
	a := *f.current
	return &a, nil
}

func (f *fakeAPI) Start(_ context.Context, req activity.StartRequest) (activity.Activity, error) {
	if err := f.enter("start"); err != nil {
		return activity.Activity{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a := activity.Activity{ID: uuid.NewString(), UserID: "u1", SportTypeID: req.SportTypeID, Status: activity.StatusInProgress, StartedAt: req.StartedAt}
	f.current = &a
	return a, nil
}

func (f *fakeAPI) transition(op, id string, status activity.Status, at time.Time) (activity.Activity, error) {
	if err := f.enter(op); err != nil {
		return activity.Activity{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil || f.current.ID != id {
		return activity.Activity{}, &activity.StatusError{Code: 404, Message: "not found"}
	}
	switch status {
	case activity.StatusPaused:
		f.current.PausedAt = &at
	case activity.StatusInProgress:
		if f.current.PausedAt != nil {
			f.current.TotalPausedMs += at.Sub(*f.current.PausedAt).Milliseconds()
			f.current.PausedAt = nil
		}
	default:
		f.current.EndedAt = &at
	}
	f.current.Status = status
	return *f.current, nil
}

func (f *fakeAPI) Pause(_ context.Context, id string) (activity.Activity, error) {
	return f.transition("pause", id, activity.StatusPaused, time.Now())
}

func (f *fakeAPI) Resume(_ context.Context, id string) (activity.Activity, error) {
	return f.transition("resume", id, activity.StatusInProgress, time.Now())
}

func (f *fakeAPI) Finish(_ context.Context, id string, req activity.FinishRequest) (activity.FinishResult, error) {
	a, err := f.transition("finish", id, activity.StatusFinished, req.EndedAt)
	if err != nil {
		return activity.FinishResult{}, err
	}
	f.mu.Lock()
	f.finishes = append(f.finishes, req)
	f.mu.Unlock()
	res := activity.FinishResult{Activity: a}
	if req.Share {
		res.Post = &activity.Post{ID: "p1", Content: "finished", CreatedAt: req.EndedAt}
	}
	return res, nil
}

func (f *fakeAPI) Discard(_ context.Context, id string) (activity.Activity, error) {
	return f.transition("discard", id, activity.StatusDiscarded, time.Now())
}

func (f *fakeAPI) AppendPoints(_ context.Context, _ string, req activity.PointsRequest) (activity.PointsResult, error) {
	if err := f.enter("points"); err != nil {
		return activity.PointsResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[int64]bool{}
	for _, p := range f.points {
		seen[p.TimestampMs] = true
	}
	for _, p := range req.Points {
		if !seen[p.TimestampMs] {
			f.points = append(f.points, p)
			seen[p.TimestampMs] = true
		}
	}
	return activity.PointsResult{Stats: f.stats, TotalPoints: len(f.points)}, nil
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(t *testing.T) *buffer.Store {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return buffer.NewStore(kv.NewRedis(client, "test:"))
}

func testConfig(c *clock) Config {
	run := gps.DefaultProfile(gps.SportRun)
	run.SmoothingBufferSize = 1
	return Config{
		Profiles:            gps.Catalog{gps.SportRun: run.Clamp()},
		SyncInterval:        time.Hour,
		PersistInterval:     time.Hour,
		SignalCheckInterval: time.Hour,
		BodyWeightKg:        70,
		Clock:               c.Now,
	}
}

type harness struct {
	api   *fakeAPI
	feed  *location.Feed
	store *buffer.Store
	clock *clock
	tr    *Tracker
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{api: newFakeAPI(), feed: location.NewFeed(), store: newStore(t), clock: newClock()}
	cfg := testConfig(h.clock)
	for _, m := range mutate {
		m(&cfg)
	}
	h.tr = New(h.api, h.feed, h.store, cfg)
	t.Cleanup(h.tr.Close)
	return h
}

// samples walks ~11 m north every 5 s starting at startMs.
func samples(n int, startMs int64, fromIdx int) []gps.Sample {
	out := make([]gps.Sample, n)
	for i := range out {
		k := fromIdx + i
		out[i] = gps.Sample{
			Lat:         0.0001 * float64(k),
			TimestampMs: startMs + int64(k)*5000,
			AccuracyM:   gps.Float(5),
		}
	}
	return out
}

// push delivers foreground samples one by one, as the platform would.
func (h *harness) push(t *testing.T, batch []gps.Sample) {
	t.Helper()
	for _, s := range batch {
		if !h.feed.Push(location.ModeForeground, s) {
			t.Fatalf("no foreground subscription")
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
