package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/activity"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/db"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/shared/geo"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/social"
)

var (
	ErrNotFound      = errors.New("activity not found")
	ErrInvalidStatus = errors.New("activity status does not allow this operation")
	ErrSportRequired = errors.New("sport_type_id required")
)

// ConflictError carries the user's open activity when another start is
// attempted.
type ConflictError struct {
	Activity activity.Activity
}

func (e *ConflictError) Error() string {
	return "activity " + e.Activity.ID + " is still " + string(e.Activity.Status)
}

// Broadcaster fans live stats out to watchers of an activity. Forget drops
// what it keeps for an activity that ended.
type Broadcaster interface {
	Broadcast(activityID string, payload []byte)
	Forget(activityID string)
}

// Poster publishes the optional post a finish can produce.
type Poster interface {
	CreatePost(ctx context.Context, post social.Post) (social.Post, error)
}

type Service struct {
	db    db.Querier
	hub   Broadcaster
	posts Poster
	now   func() time.Time
}

func NewService(db db.Querier, hub Broadcaster, posts Poster) *Service {
	return &Service{db: db, hub: hub, posts: posts, now: time.Now}
}

const activityColumns = `id, user_id, sport_type_id, status, started_at, ended_at, paused_at, total_paused_ms,
	start_lat, start_lng, distance_m, elevation_gain_m, duration_sec, avg_speed_mps, max_speed_mps, calories, points_count`

func scanActivity(row pgx.Row) (activity.Activity, error) {
	var (
		a        activity.Activity
		status   string
		startLat *float64
		startLng *float64
	)
	err := row.Scan(&a.ID, &a.UserID, &a.SportTypeID, &status, &a.StartedAt, &a.EndedAt, &a.PausedAt, &a.TotalPausedMs,
		&startLat, &startLng, &a.Stats.DistanceM, &a.Stats.ElevationGainM, &a.Stats.DurationSec,
		&a.Stats.AvgSpeedMps, &a.Stats.MaxSpeedMps, &a.Stats.Calories, &a.Stats.PointsCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return activity.Activity{}, ErrNotFound
	}
	if err != nil {
		return activity.Activity{}, err
	}
	a.Status = activity.Status(status)
	if startLat != nil && startLng != nil {
		a.StartLocation = &gps.Position{Lat: *startLat, Lng: *startLng}
	}
	return a, nil
}

// Current returns the user's open activity, or nil.
func (s *Service) Current(ctx context.Context, userID string) (*activity.Activity, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+activityColumns+`
		FROM activities
		WHERE user_id=$1 AND status IN ('in_progress','paused')
		ORDER BY started_at DESC
		LIMIT 1
	`, userID)
	a, err := scanActivity(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Service) Get(ctx context.Context, userID, id string) (activity.Activity, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+activityColumns+`
		FROM activities WHERE id=$1 AND user_id=$2
	`, id, userID)
	return scanActivity(row)
}

// Start creates an activity unless the user already has an open one.
func (s *Service) Start(ctx context.Context, userID string, req activity.StartRequest) (activity.Activity, error) {
	if req.SportTypeID <= 0 {
		return activity.Activity{}, ErrSportRequired
	}
	if cur, err := s.Current(ctx, userID); err != nil {
		return activity.Activity{}, err
	} else if cur != nil {
		return activity.Activity{}, &ConflictError{Activity: *cur}
	}

	startedAt := req.StartedAt
	if startedAt.IsZero() {
		startedAt = s.now()
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO activities (id, user_id, sport_type_id, status, started_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING `+activityColumns,
		uuid.NewString(), userID, req.SportTypeID, string(activity.StatusInProgress), startedAt)
	a, err := scanActivity(row)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		// lost a race against a concurrent start
		if cur, cerr := s.Current(ctx, userID); cerr == nil && cur != nil {
			return activity.Activity{}, &ConflictError{Activity: *cur}
		}
	}
	return a, err
}

func (s *Service) Pause(ctx context.Context, userID, id string) (activity.Activity, error) {
	a, err := s.Get(ctx, userID, id)
	if err != nil {
		return activity.Activity{}, err
	}
	if a.Status != activity.StatusInProgress {
		return activity.Activity{}, fmt.Errorf("%w: %s", ErrInvalidStatus, a.Status)
	}
	row := s.db.QueryRow(ctx, `
		UPDATE activities SET status=$3, paused_at=$4
		WHERE id=$1 AND user_id=$2
		RETURNING `+activityColumns,
		id, userID, string(activity.StatusPaused), s.now())
	return scanActivity(row)
}

// Resume folds the pause interval into total_paused_ms.
func (s *Service) Resume(ctx context.Context, userID, id string) (activity.Activity, error) {
	a, err := s.Get(ctx, userID, id)
	if err != nil {
		return activity.Activity{}, err
	}
	if a.Status != activity.StatusPaused {
		return activity.Activity{}, fmt.Errorf("%w: %s", ErrInvalidStatus, a.Status)
	}
	row := s.db.QueryRow(ctx, `
		UPDATE activities SET status=$3, paused_at=NULL, total_paused_ms=$4
		WHERE id=$1 AND user_id=$2
		RETURNING `+activityColumns,
		id, userID, string(activity.StatusInProgress), a.TotalPausedMs+pausedSince(a, s.now()))
	return scanActivity(row)
}

func (s *Service) Finish(ctx context.Context, userID, id string, req activity.FinishRequest) (activity.FinishResult, error) {
	a, err := s.Get(ctx, userID, id)
	if err != nil {
		return activity.FinishResult{}, err
	}
	if a.Status.Terminal() {
		return activity.FinishResult{}, fmt.Errorf("%w: %s", ErrInvalidStatus, a.Status)
	}

	endedAt := req.EndedAt
	if endedAt.IsZero() {
		endedAt = s.now()
	}
	totalPaused := a.TotalPausedMs + pausedSince(a, endedAt)
	duration := activeSeconds(a.StartedAt, endedAt, totalPaused)
	avg := 0.0
	if duration > 0 {
		avg = a.Stats.DistanceM / float64(duration)
	}

	var startLat, startLng *float64
	if loc := req.StartLocation; loc != nil {
		startLat, startLng = &loc.Lat, &loc.Lng
	}

	row := s.db.QueryRow(ctx, `
		UPDATE activities
		SET status=$3, ended_at=$4, paused_at=NULL, total_paused_ms=$5, duration_sec=$6, avg_speed_mps=$7,
		    start_lat=COALESCE($8, start_lat), start_lng=COALESCE($9, start_lng)
		WHERE id=$1 AND user_id=$2
		RETURNING `+activityColumns,
		id, userID, string(activity.StatusFinished), endedAt, totalPaused, duration, avg, startLat, startLng)
	finished, err := scanActivity(row)
	if err != nil {
		return activity.FinishResult{}, err
	}
	s.forget(id)

	res := activity.FinishResult{Activity: finished}
	if req.Share && s.posts != nil {
		post, err := s.posts.CreatePost(ctx, social.Post{
			UserID:     userID,
			ActivityID: finished.ID,
			Content:    summary(finished, req.Title),
		})
		if err != nil {
			return activity.FinishResult{}, fmt.Errorf("create post: %w", err)
		}
		res.Post = &activity.Post{ID: post.ID, Content: post.Content, CreatedAt: post.CreatedAt}
	}
	return res, nil
}

func (s *Service) Discard(ctx context.Context, userID, id string) (activity.Activity, error) {
	a, err := s.Get(ctx, userID, id)
	if err != nil {
		return activity.Activity{}, err
	}
	if a.Status.Terminal() {
		return activity.Activity{}, fmt.Errorf("%w: %s", ErrInvalidStatus, a.Status)
	}
	row := s.db.QueryRow(ctx, `
		UPDATE activities SET status=$3, ended_at=$4, paused_at=NULL
		WHERE id=$1 AND user_id=$2
		RETURNING `+activityColumns,
		id, userID, string(activity.StatusDiscarded), s.now())
	discarded, err := scanActivity(row)
	if err != nil {
		return activity.Activity{}, err
	}
	s.forget(id)
	return discarded, nil
}

func (s *Service) forget(id string) {
	if s.hub != nil {
		s.hub.Forget(id)
	}
}

// AppendPoints stores a batch (points already stored for the same timestamp
// are skipped), recomputes the activity stats from every stored point and
// broadcasts them. Points without a timestamp are keyed by arrival time plus
// their position among the untimed points, so they never collapse into one.
func (s *Service) AppendPoints(ctx context.Context, userID, id string, req activity.PointsRequest) (activity.PointsResult, error) {
	a, err := s.Get(ctx, userID, id)
	if err != nil {
		return activity.PointsResult{}, err
	}
	if a.Status.Terminal() {
		return activity.PointsResult{}, fmt.Errorf("%w: %s", ErrInvalidStatus, a.Status)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return activity.PointsResult{}, err
	}
	defer tx.Rollback(ctx)

	arrived, untimed := s.now().UnixMilli(), int64(0)
	for _, p := range req.Points {
		recordedAt := p.TimestampMs
		if !p.HasTimestamp() {
			recordedAt = arrived + untimed
			untimed++
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO activity_points (activity_id, recorded_at, lat, lng, elevation, accuracy, speed)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (activity_id, recorded_at) DO NOTHING
		`, id, recordedAt, p.Lat, p.Lng, p.Elevation, p.AccuracyM, p.SpeedMps); err != nil {
			return activity.PointsResult{}, err
		}
	}

	points, err := listPoints(ctx, tx, userID, id)
	if err != nil {
		return activity.PointsResult{}, err
	}
	stats := ComputeStats(points)
	stats.DurationSec = activeSeconds(a.StartedAt, s.now(), a.TotalPausedMs+pausedSince(a, s.now()))
	if stats.DurationSec > 0 {
		stats.AvgSpeedMps = stats.DistanceM / float64(stats.DurationSec)
	}
	stats.Calories = math.Max(req.Calories, a.Stats.Calories)

	if _, err := tx.Exec(ctx, `
		UPDATE activities
		SET distance_m=$2, elevation_gain_m=$3, duration_sec=$4, avg_speed_mps=$5, max_speed_mps=$6, calories=$7, points_count=$8
		WHERE id=$1
	`, id, stats.DistanceM, stats.ElevationGainM, stats.DurationSec, stats.AvgSpeedMps, stats.MaxSpeedMps, stats.Calories, stats.PointsCount); err != nil {
		return activity.PointsResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return activity.PointsResult{}, err
	}

	res := activity.PointsResult{Stats: stats, TotalPoints: stats.PointsCount}
	if s.hub != nil {
		payload, _ := json.Marshal(statsMessage{ActivityID: id, PointsResult: res})
		s.hub.Broadcast(id, payload)
	}
	return res, nil
}

type statsMessage struct {
	ActivityID string `json:"activity_id"`
	activity.PointsResult
}

// Points lists stored points in timestamp order.
func (s *Service) Points(ctx context.Context, userID, id string) ([]gps.Sample, error) {
	return listPoints(ctx, s.db, userID, id)
}

func listPoints(ctx context.Context, q db.Execer, userID, id string) ([]gps.Sample, error) {
	rows, err := q.Query(ctx, `
		SELECT p.recorded_at, p.lat, p.lng, p.elevation, p.accuracy, p.speed
		FROM activity_points p
		JOIN activities a ON a.id = p.activity_id
		WHERE p.activity_id=$1 AND a.user_id=$2
		ORDER BY p.recorded_at
	`, id, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []gps.Sample
	for rows.Next() {
		var p gps.Sample
		if err := rows.Scan(&p.TimestampMs, &p.Lat, &p.Lng, &p.Elevation, &p.AccuracyM, &p.SpeedMps); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// ComputeStats derives distance, elevation gain and max speed from ordered
// points.
func ComputeStats(points []gps.Sample) activity.Stats {
	stats := activity.Stats{PointsCount: len(points)}
	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		d := geo.HaversineM(prev.Lat, prev.Lng, cur.Lat, cur.Lng)
		stats.DistanceM += d

		if prev.Elevation != nil && cur.Elevation != nil && *cur.Elevation > *prev.Elevation {
			stats.ElevationGainM += *cur.Elevation - *prev.Elevation
		}

		speed := 0.0
		if cur.SpeedMps != nil {
			speed = *cur.SpeedMps
		} else if secs := float64(cur.TimestampMs-prev.TimestampMs) / 1000; secs > 0 {
			speed = d / secs
		}
		stats.MaxSpeedMps = math.Max(stats.MaxSpeedMps, speed)
	}
	return stats
}

func pausedSince(a activity.Activity, at time.Time) int64 {
	if a.Status != activity.StatusPaused || a.PausedAt == nil || at.Before(*a.PausedAt) {
		return 0
	}
	return at.Sub(*a.PausedAt).Milliseconds()
}

func activeSeconds(startedAt, endedAt time.Time, pausedMs int64) int64 {
	d := endedAt.Sub(startedAt) - time.Duration(pausedMs)*time.Millisecond
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

func summary(a activity.Activity, title string) string {
	if title == "" {
		title = "Activity"
	}
	return fmt.Sprintf("%s: %.2f km in %s", title, a.Stats.DistanceM/1000,
		(time.Duration(a.Stats.DurationSec) * time.Second).String())
}
