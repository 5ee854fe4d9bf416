package activity

import (
	"time"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusFinished   Status = "finished"
	StatusDiscarded  Status = "discarded"
)

func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusDiscarded
}

// Stats are the server-recomputed totals of an activity.
type Stats struct {
	DistanceM      float64 `json:"distance_m"`
	ElevationGainM float64 `json:"elevation_gain_m"`
	DurationSec    int64   `json:"duration_sec"`
	AvgSpeedMps    float64 `json:"avg_speed_mps"`
	MaxSpeedMps    float64 `json:"max_speed_mps"`
	Calories       float64 `json:"calories"`
	PointsCount    int     `json:"points_count"`
}

// Activity is the server's authoritative record; the tracker keeps an
// optimistic copy.
type Activity struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	SportTypeID   int64         `json:"sport_type_id"`
	Status        Status        `json:"status"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	PausedAt      *time.Time    `json:"paused_at,omitempty"`
	TotalPausedMs int64         `json:"total_paused_ms"`
	StartLocation *gps.Position `json:"start_location,omitempty"`
	Stats         Stats         `json:"stats"`
}

type StartRequest struct {
	SportTypeID int64     `json:"sport_type_id"`
	StartedAt   time.Time `json:"started_at"`
}

type FinishRequest struct {
	EndedAt       time.Time     `json:"ended_at"`
	StartLocation *gps.Position `json:"start_location,omitempty"`
	Share         bool          `json:"share"`
	Title         string        `json:"title,omitempty"`
}

// Post is the optional social artifact a finish may produce.
type Post struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type FinishResult struct {
	Activity Activity `json:"activity"`
	Post     *Post    `json:"post,omitempty"`
}

type PointsRequest struct {
	Points   []gps.Sample `json:"points"`
	Calories float64      `json:"calories"`
}

type PointsResult struct {
	Stats       Stats `json:"stats"`
	TotalPoints int   `json:"total_points"`
}
