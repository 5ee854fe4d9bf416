package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/activity"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/social"
)

var (
	errDB = errors.New("db down")
	now   = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
)

var columns = []string{"id", "user_id", "sport_type_id", "status", "started_at", "ended_at", "paused_at", "total_paused_ms",
	"start_lat", "start_lng", "distance_m", "elevation_gain_m", "duration_sec", "avg_speed_mps", "max_speed_mps", "calories", "points_count"}

func rows(acts ...activity.Activity) *pgxmock.Rows {
	r := pgxmock.NewRows(columns)
	for _, a := range acts {
		r.AddRow(a.ID, a.UserID, a.SportTypeID, string(a.Status), a.StartedAt, a.EndedAt, a.PausedAt, a.TotalPausedMs,
			(*float64)(nil), (*float64)(nil), a.Stats.DistanceM, a.Stats.ElevationGainM, a.Stats.DurationSec,
			a.Stats.AvgSpeedMps, a.Stats.MaxSpeedMps, a.Stats.Calories, a.Stats.PointsCount)
	}
	return r
}

func running() activity.Activity {
	return activity.Activity{
		ID:          "act-1",
		UserID:      "user-1",
		SportTypeID: 1,
		Status:      activity.StatusInProgress,
		StartedAt:   now.Add(-10 * time.Minute),
	}
}

type fakeHub struct {
	mu        sync.Mutex
	sent      map[string][][]byte
	forgotten []string
}

func (h *fakeHub) Forget(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forgotten = append(h.forgotten, id)
}

func (h *fakeHub) Broadcast(id string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sent == nil {
		h.sent = map[string][][]byte{}
	}
	h.sent[id] = append(h.sent[id], payload)
}

type fakePoster struct {
	posts []social.Post
	err   error
}

func (p *fakePoster) CreatePost(_ context.Context, post social.Post) (social.Post, error) {
	if p.err != nil {
		return social.Post{}, p.err
	}
	post.ID = "post-1"
	post.CreatedAt = now
	p.posts = append(p.posts, post)
	return post, nil
}

func newTestService(t *testing.T, hub Broadcaster, posts Poster) (*Service, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	svc := NewService(mock, hub, posts)
	svc.now = func() time.Time { return now }
	return svc, mock
}

func TestCurrent(t *testing.T) {
	svc, mock := newTestService(t, nil, nil)

	mock.ExpectQuery(`FROM activities\s+WHERE user_id=\$1 AND status IN`).
		WithArgs("user-1").
		WillReturnError(pgx.ErrNoRows)
	cur, err := svc.Current(context.Background(), "user-1")
	if err != nil || cur != nil {
		t.Fatalf("expected no activity, got %+v %v", cur, err)
	}

	mock.ExpectQuery(`FROM activities\s+WHERE user_id=\$1 AND status IN`).
		WithArgs("user-1").
		WillReturnRows(rows(running()))
	cur, err = svc.Current(context.Background(), "user-1")
	if err != nil || cur == nil || cur.ID != "act-1" || cur.Status != activity.StatusInProgress {
		t.Fatalf("unexpected current %+v %v", cur, err)
	}
}

func TestStart(t *testing.T) {
	svc, mock := newTestService(t, nil, nil)

	mock.ExpectQuery(`status IN`).WithArgs("user-1").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO activities`).
		WithArgs(pgxmock.AnyArg(), "user-1", int64(1), "in_progress", now).
		WillReturnRows(rows(running()))

	act, err := svc.Start(context.Background(), "user-1", activity.StartRequest{SportTypeID: 1})
	if err != nil || act.ID != "act-1" {
		t.Fatalf("start: %+v %v", act, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStartConflict(t *testing.T) {
	svc, mock := newTestService(t, nil, nil)

	paused := running()
	paused.Status = activity.StatusPaused
	mock.ExpectQuery(`status IN`).WithArgs("user-1").WillReturnRows(rows(paused))

	_, err := svc.Start(context.Background(), "user-1", activity.StartRequest{SportTypeID: 1})
	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.Activity.Status != activity.StatusPaused {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestStartLostRace(t *testing.T) {
	svc, mock := newTestService(t, nil, nil)

	mock.ExpectQuery(`status IN`).WithArgs("user-1").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO activities`).WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectQuery(`status IN`).WithArgs("user-1").WillReturnRows(rows(running()))

	_, err := svc.Start(context.Background(), "user-1", activity.StartRequest{SportTypeID: 1})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestStartRequiresSport(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)
	if _, err := svc.Start(context.Background(), "user-1", activity.StartRequest{}); !errors.Is(err, ErrSportRequired) {
		t.Fatalf("expected sport required, got %v", err)
	}
}

func TestPauseResume(t *testing.T) {
	svc, mock := newTestService(t, nil, nil)

	mock.ExpectQuery(`WHERE id=\$1 AND user_id=\$2`).WithArgs("act-1", "user-1").WillReturnRows(rows(running()))
	paused := running()
	paused.Status = activity.StatusPaused
	pausedAt := now.Add(-30 * time.Second)
	paused.PausedAt = &pausedAt
	paused.TotalPausedMs = 1000
	mock.ExpectQuery(`UPDATE activities SET status=\$3, paused_at=\$4`).
		WithArgs("act-1", "user-1", "paused", now).
		WillReturnRows(rows(paused))

	if _, err := svc.Pause(context.Background(), "user-1", "act-1"); err != nil {
		t.Fatalf("pause: %v", err)
	}

	mock.ExpectQuery(`WHERE id=\$1 AND user_id=\$2`).WithArgs("act-1", "user-1").WillReturnRows(rows(paused))
	resumed := running()
	resumed.TotalPausedMs = 31000
	mock.ExpectQuery(`UPDATE activities SET status=\$3, paused_at=NULL, total_paused_ms=\$4`).
		WithArgs("act-1", "user-1", "in_progress", int64(31000)).
		WillReturnRows(rows(resumed))

	act, err := svc.Resume(context.Background(), "user-1", "act-1")
	if err != nil || act.TotalPausedMs != 31000 {
		t.Fatalf("resume: %+v %v", act, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPauseInvalidStatus(t *testing.T) {
	svc, mock := newTestService(t, nil, nil)

	paused := running()
	paused.Status = activity.StatusPaused
	mock.ExpectQuery(`WHERE id=\$1 AND user_id=\$2`).WithArgs("act-1", "user-1").WillReturnRows(rows(paused))
	if _, err := svc.Pause(context.Background(), "user-1", "act-1"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}

	mock.ExpectQuery(`WHERE id=\$1 AND user_id=\$2`).WithArgs("act-1", "user-1").WillReturnRows(rows(running()))
	if _, err := svc.Resume(context.Background(), "user-1", "act-1"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	svc, mock := newTestService(t, nil, nil)
	mock.ExpectQuery(`WHERE id=\$1 AND user_id=\$2`).WithArgs("act-x", "user-1").WillReturnError(pgx.ErrNoRows)

	if _, err := svc.Discard(context.Background(), "user-1", "act-x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFinishShares(t *testing.T) {
	poster := &fakePoster{}
	hub := &fakeHub{}
	svc, mock := newTestService(t, hub, poster)

	mock.ExpectQuery(`WHERE id=\$1 AND user_id=\$2`).WithArgs("act-1", "user-1").WillReturnRows(rows(running()))
	finished := running()
	finished.Status = activity.StatusFinished
	finished.Stats.DistanceM = 1500
	finished.Stats.DurationSec = 600
	mock.ExpectQuery(`UPDATE activities\s+SET status=\$3, ended_at=\$4`).
		WithArgs("act-1", "user-1", "finished", now, int64(0), int64(600), 0.0, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(rows(finished))

	res, err := svc.Finish(context.Background(), "user-1", "act-1", activity.FinishRequest{
		Share:         true,
		Title:         "Lunch run",
		StartLocation: &gps.Position{Lat: 1, Lng: 2},
	})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if res.Activity.Status != activity.StatusFinished || res.Post == nil || res.Post.ID != "post-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(poster.posts) != 1 || poster.posts[0].ActivityID != "act-1" || poster.posts[0].Content != "Lunch run: 1.50 km in 10m0s" {
		t.Fatalf("unexpected post %+v", poster.posts)
	}
	if len(hub.forgotten) != 1 || hub.forgotten[0] != "act-1" {
		t.Fatalf("finished activity should leave the stream, got %v", hub.forgotten)
	}
}

func TestFinishFoldsOpenPause(t *testing.T) {
	svc, mock := newTestService(t, nil, nil)

	paused := running()
	paused.Status = activity.StatusPaused
	pausedAt := now.Add(-2 * time.Minute)
	paused.PausedAt = &pausedAt
	mock.ExpectQuery(`WHERE id=\$1 AND user_id=\$2`).WithArgs("act-1", "user-1").WillReturnRows(rows(paused))
	mock.ExpectQuery(`UPDATE activities\s+SET status=\$3, ended_at=\$4`).
		WithArgs("act-1", "user-1", "finished", now, int64(120000), int64(480), 0.0, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(rows(paused))

	if _, err := svc.Finish(context.Background(), "user-1", "act-1", activity.FinishRequest{Share: true}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFinishTerminal(t *testing.T) {
	svc, mock := newTestService(t, nil, nil)

	done := running()
	done.Status = activity.StatusDiscarded
	mock.ExpectQuery(`WHERE id=\$1 AND user_id=\$2`).WithArgs("act-1", "user-1").WillReturnRows(rows(done))
	if _, err := svc.Finish(context.Background(), "user-1", "act-1", activity.FinishRequest{}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
}

func TestAppendPoints(t *testing.T) {
	hub := &fakeHub{}
	svc, mock := newTestService(t, hub, nil)

	mock.ExpectQuery(`WHERE id=\$1 AND user_id=\$2`).WithArgs("act-1", "user-1").WillReturnRows(rows(running()))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO activity_points .* ON CONFLICT \(activity_id, recorded_at\) DO NOTHING`).
		WithArgs("act-1", int64(1000), 0.0, 0.0, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO activity_points`).
		WithArgs("act-1", int64(6000), 0.001, 0.0, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`FROM activity_points p`).
		WithArgs("act-1", "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"recorded_at", "lat", "lng", "elevation", "accuracy", "speed"}).
			AddRow(int64(1000), 0.0, 0.0, gps.Float(100), (*float64)(nil), (*float64)(nil)).
			AddRow(int64(6000), 0.001, 0.0, gps.Float(104), (*float64)(nil), (*float64)(nil)))
	mock.ExpectExec(`UPDATE activities\s+SET distance_m=\$2`).
		WithArgs("act-1", pgxmock.AnyArg(), 4.0, int64(600), pgxmock.AnyArg(), pgxmock.AnyArg(), 12.5, 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	res, err := svc.AppendPoints(context.Background(), "user-1", "act-1", activity.PointsRequest{
		Points: []gps.Sample{
			{Lat: 0, Lng: 0, TimestampMs: 1000},
			{Lat: 0.001, Lng: 0, TimestampMs: 6000},
		},
		Calories: 12.5,
	})
	if err != nil {
		t.Fatalf("append points: %v", err)
	}
	if res.TotalPoints != 2 || math.Abs(res.Stats.DistanceM-111.19) > 0.1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(hub.sent["act-1"]) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(hub.sent["act-1"]))
	}
	var msg struct {
		ActivityID  string `json:"activity_id"`
		TotalPoints int    `json:"total_points"`
	}
	if err := json.Unmarshal(hub.sent["act-1"][0], &msg); err != nil || msg.ActivityID != "act-1" || msg.TotalPoints != 2 {
		t.Fatalf("unexpected broadcast %s", hub.sent["act-1"][0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAppendPointsInsertError(t *testing.T) {
	svc, mock := newTestService(t, nil, nil)

	mock.ExpectQuery(`WHERE id=\$1 AND user_id=\$2`).WithArgs("act-1", "user-1").WillReturnRows(rows(running()))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO activity_points`).WillReturnError(errDB)
	mock.ExpectRollback()

	_, err := svc.AppendPoints(context.Background(), "user-1", "act-1", activity.PointsRequest{
		Points: []gps.Sample{{Lat: 1, Lng: 1, TimestampMs: 1000}},
	})
	if !errors.Is(err, errDB) {
		t.Fatalf("expected db error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("insert failure must roll back: %v", err)
	}
}

func TestAppendPointsUntimedKeptApart(t *testing.T) {
	svc, mock := newTestService(t, nil, nil)
	arrived := now.UnixMilli()

	mock.ExpectQuery(`WHERE id=\$1 AND user_id=\$2`).WithArgs("act-1", "user-1").WillReturnRows(rows(running()))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO activity_points`).
		WithArgs("act-1", arrived, 1.0, 1.0, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO activity_points`).
		WithArgs("act-1", int64(5000), 1.0005, 1.0, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO activity_points`).
		WithArgs("act-1", arrived+1, 1.001, 1.0, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`FROM activity_points p`).
		WithArgs("act-1", "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"recorded_at", "lat", "lng", "elevation", "accuracy", "speed"}))
	mock.ExpectExec(`UPDATE activities\s+SET distance_m=\$2`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	_, err := svc.AppendPoints(context.Background(), "user-1", "act-1", activity.PointsRequest{
		Points: []gps.Sample{
			{Lat: 1, Lng: 1},
			{Lat: 1.0005, Lng: 1, TimestampMs: 5000},
			{Lat: 1.001, Lng: 1},
		},
	})
	if err != nil {
		t.Fatalf("append points: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("untimed points must get distinct keys: %v", err)
	}
}

func TestAppendPointsTerminal(t *testing.T) {
	svc, mock := newTestService(t, nil, nil)

	done := running()
	done.Status = activity.StatusFinished
	mock.ExpectQuery(`WHERE id=\$1 AND user_id=\$2`).WithArgs("act-1", "user-1").WillReturnRows(rows(done))

	_, err := svc.AppendPoints(context.Background(), "user-1", "act-1", activity.PointsRequest{
		Points: []gps.Sample{{Lat: 1, Lng: 1, TimestampMs: 1000}},
	})
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
}

func TestComputeStats(t *testing.T) {
	stats := ComputeStats([]gps.Sample{
		{Lat: 0, Lng: 0, TimestampMs: 0, Elevation: gps.Float(10)},
		{Lat: 0.001, Lng: 0, TimestampMs: 10_000, Elevation: gps.Float(8)},
		{Lat: 0.002, Lng: 0, TimestampMs: 20_000, Elevation: gps.Float(11), SpeedMps: gps.Float(30)},
	})
	if stats.PointsCount != 3 {
		t.Fatalf("points = %d", stats.PointsCount)
	}
	if math.Abs(stats.DistanceM-222.39) > 0.1 {
		t.Fatalf("distance = %f", stats.DistanceM)
	}
	if stats.ElevationGainM != 3 {
		t.Fatalf("elevation gain = %f", stats.ElevationGainM)
	}
	if stats.MaxSpeedMps != 30 {
		t.Fatalf("max speed = %f", stats.MaxSpeedMps)
	}

	if empty := ComputeStats(nil); empty.DistanceM != 0 || empty.PointsCount != 0 {
		t.Fatalf("unexpected empty stats %+v", empty)
	}
}
