// Package session runs one activity recording: acquisition, filtering, pace,
// buffering and sync, driven by a single event loop that owns all session
// state.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/syncer"
)

var (
	ErrStaleGPS          = errors.New("last gps fix is stale")
	ErrNotActive         = errors.New("no activity is being recorded")
	ErrInvalidTransition = errors.New("transition not allowed in current state")
	ErrBusy              = errors.New("another transition is in progress")
	ErrNoExisting        = errors.New("no existing activity to resolve")
	ErrClosed            = errors.New("tracker closed")
)

type State int

const (
	StateIdle State = iota
	StateStarting
	StateTracking
	StatePaused
	// StateFinishing covers an in-flight finish or discard.
	StateFinishing
	StateFinished
	StateDiscarded
)

var stateNames = map[State]string{
	StateIdle:      "idle",
	StateStarting:  "starting",
	StateTracking:  "tracking",
	StatePaused:    "paused",
	StateFinishing: "finishing",
	StateFinished:  "finished",
	StateDiscarded: "discarded",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) Terminal() bool {
	return s == StateFinished || s == StateDiscarded
}

// DurationChoice settles which duration a finish records when the last GPS fix
// is stale.
type DurationChoice int

const (
	DurationUnset DurationChoice = iota
	DurationGPS
	DurationWallClock
)

// StaleGPSError is returned by Finish when the GPS-implied and wall-clock
// durations diverge and no DurationChoice was given.
type StaleGPSError struct {
	GPSDuration  time.Duration
	WallDuration time.Duration
	LastFixAt    time.Time
}

func (e *StaleGPSError) Error() string {
	return fmt.Sprintf("%v: gps duration %s, wall clock duration %s", ErrStaleGPS,
		e.GPSDuration.Round(time.Second), e.WallDuration.Round(time.Second))
}

func (e *StaleGPSError) Unwrap() error {
	return ErrStaleGPS
}

// Disposition is the caller's answer to an existing non-terminal activity
// found on start.
type Disposition int

const (
	DispositionResume Disposition = iota
	DispositionFinish
	DispositionDiscard
)

// FinishOptions parameterize Finish.
type FinishOptions struct {
	Duration DurationChoice
	Share    bool
	Title    string
}

// LiveStats is the session accumulator. Distance, elevation, speeds and
// calories are replaced by server values after each successful sync.
type LiveStats struct {
	DistanceM      float64       `json:"distance_m"`
	DurationSec    int64         `json:"duration_sec"`
	ElevationGainM float64       `json:"elevation_gain_m"`
	PointsCount    int           `json:"points_count"`
	AvgSpeedMps    float64       `json:"avg_speed_mps"`
	MaxSpeedMps    float64       `json:"max_speed_mps"`
	Calories       float64       `json:"calories"`
	PaceSecPerKm   *float64      `json:"pace_sec_per_km,omitempty"`
	Position       *gps.Position `json:"position,omitempty"`
}

func (s LiveStats) clone() LiveStats {
	if s.PaceSecPerKm != nil {
		s.PaceSecPerKm = gps.Float(*s.PaceSecPerKm)
	}
	if s.Position != nil {
		p := *s.Position
		s.Position = &p
	}
	return s
}

// TrackingStatus is the operational status shown next to the stats.
type TrackingStatus struct {
	State         State      `json:"state"`
	GPSSignal     gps.Signal `json:"gps_signal"`
	IsOnline      bool       `json:"is_online"`
	PendingPoints int        `json:"pending_points"`
	LastSyncTime  time.Time  `json:"last_sync_time"`
	SyncError     string     `json:"sync_error,omitempty"`
}

type Config struct {
	Profiles              gps.Catalog
	SyncInterval          time.Duration
	PersistInterval       time.Duration
	SignalCheckInterval   time.Duration
	Signal                gps.SignalThresholds
	Backoff               syncer.Config
	StaleGPSAfter         time.Duration
	BodyWeightKg          float64
	KeepBackgroundRunning bool
	// BackgroundUpload lets the background executor upload on its own,
	// advancing the synced watermark.
	BackgroundUpload bool
	Clock            func() time.Time
}

const (
	durationTick         = time.Second
	defaultSyncInterval  = 30 * time.Second
	defaultPersist       = 10 * time.Second
	defaultSignalCheck   = 5 * time.Second
	defaultWeakAfter     = 15 * time.Second
	defaultLostAfter     = 45 * time.Second
	defaultStaleGPSAfter = 2 * time.Minute
	defaultBodyWeightKg  = 70
)

func (c Config) withDefaults() Config {
	if c.Profiles == nil {
		c.Profiles = gps.DefaultCatalog()
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = defaultSyncInterval
	}
	if c.PersistInterval <= 0 {
		c.PersistInterval = defaultPersist
	}
	if c.SignalCheckInterval <= 0 {
		c.SignalCheckInterval = defaultSignalCheck
	}
	if c.Signal.WeakAfter <= 0 {
		c.Signal.WeakAfter = defaultWeakAfter
	}
	if c.Signal.LostAfter <= c.Signal.WeakAfter {
		c.Signal.LostAfter = max(defaultLostAfter, 2*c.Signal.WeakAfter)
	}
	if c.StaleGPSAfter <= 0 {
		c.StaleGPSAfter = defaultStaleGPSAfter
	}
	if c.BodyWeightKg <= 0 {
		c.BodyWeightKg = defaultBodyWeightKg
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}
