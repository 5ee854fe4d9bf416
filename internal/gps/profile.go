package gps

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

// Sport type ids known to the server.
const (
	SportRun  int64 = 1
	SportRide int64 = 2
	SportHike int64 = 3
	SportWalk int64 = 4
)

// DefaultStationaryMinDistanceM is the drift floor applied while the device reports
// near-zero speed.
const DefaultStationaryMinDistanceM = 8.0

// Profile holds per-sport acquisition thresholds. A Profile is read-only for the
// duration of a session; build it with Clamp so every value sits in its range.
type Profile struct {
	SportTypeID            int64   `json:"sport_type_id"`
	Name                   string  `json:"name"`
	Enabled                bool    `json:"enabled"`
	AccuracyThresholdM     float64 `json:"accuracy_threshold_m"`
	MinDistanceM           float64 `json:"min_distance_m"`
	MaxRealisticSpeedMps   float64 `json:"max_realistic_speed_mps"`
	MinElevationChangeM    float64 `json:"min_elevation_change_m"`
	SamplingIntervalMs     int64   `json:"sampling_interval_ms"`
	DistanceIntervalM      float64 `json:"distance_interval_m"`
	SmoothingBufferSize    int     `json:"smoothing_buffer_size"`
	StationarySpeedMps     float64 `json:"stationary_speed_mps"`
	StationaryMinDistanceM float64 `json:"stationary_min_distance_m"`
	PaceWindowSize         int     `json:"pace_window_size"`
	PaceMinDistanceM       float64 `json:"pace_min_distance_m"`
	PaceSmoothingFactor    float64 `json:"pace_smoothing_factor"`
	CaloriesPerKgKm        float64 `json:"calories_per_kg_km"`
}

type Range struct {
	Min float64
	Max float64
}

// Published ranges. Values outside are clamped, NaN/Inf fall back to the default.
var (
	AccuracyRange           = Range{Min: 5, Max: 100}
	MinDistanceRange        = Range{Min: 0, Max: 50}
	MaxSpeedRange           = Range{Min: 1, Max: 100}
	MinElevationChangeRange = Range{Min: 0, Max: 20}
	SamplingIntervalRange   = Range{Min: 500, Max: 60000}
	DistanceIntervalRange   = Range{Min: 0, Max: 100}
	SmoothingBufferRange    = Range{Min: 1, Max: 20}
	StationarySpeedRange    = Range{Min: 0, Max: 3}
	StationaryFloorRange    = Range{Min: 0, Max: 50}
	PaceWindowRange         = Range{Min: 2, Max: 120}
	PaceMinDistanceRange    = Range{Min: 1, Max: 1000}
	PaceFactorRange         = Range{Min: 0.05, Max: 1}
	CaloriesRange           = Range{Min: 0, Max: 5}
)

var defaultProfiles = map[int64]Profile{
	SportRun: {
		SportTypeID: SportRun, Name: "run", Enabled: true,
		AccuracyThresholdM: 25, MinDistanceM: 3, MaxRealisticSpeedMps: 12, MinElevationChangeM: 2,
		SamplingIntervalMs: 1000, DistanceIntervalM: 2, SmoothingBufferSize: 3,
		StationarySpeedMps: 0.5, StationaryMinDistanceM: DefaultStationaryMinDistanceM,
		PaceWindowSize: 10, PaceMinDistanceM: 20, PaceSmoothingFactor: 0.3, CaloriesPerKgKm: 1.036,
	},
	SportRide: {
		SportTypeID: SportRide, Name: "ride", Enabled: true,
		AccuracyThresholdM: 30, MinDistanceM: 5, MaxRealisticSpeedMps: 30, MinElevationChangeM: 2,
		SamplingIntervalMs: 1000, DistanceIntervalM: 5, SmoothingBufferSize: 3,
		StationarySpeedMps: 1, StationaryMinDistanceM: DefaultStationaryMinDistanceM,
		PaceWindowSize: 10, PaceMinDistanceM: 50, PaceSmoothingFactor: 0.3, CaloriesPerKgKm: 0.3,
	},
	SportHike: {
		SportTypeID: SportHike, Name: "hike", Enabled: true,
		AccuracyThresholdM: 30, MinDistanceM: 3, MaxRealisticSpeedMps: 6, MinElevationChangeM: 3,
		SamplingIntervalMs: 2000, DistanceIntervalM: 2, SmoothingBufferSize: 5,
		StationarySpeedMps: 0.4, StationaryMinDistanceM: DefaultStationaryMinDistanceM,
		PaceWindowSize: 12, PaceMinDistanceM: 20, PaceSmoothingFactor: 0.2, CaloriesPerKgKm: 1.2,
	},
	SportWalk: {
		SportTypeID: SportWalk, Name: "walk", Enabled: true,
		AccuracyThresholdM: 25, MinDistanceM: 3, MaxRealisticSpeedMps: 5, MinElevationChangeM: 2,
		SamplingIntervalMs: 2000, DistanceIntervalM: 2, SmoothingBufferSize: 5,
		StationarySpeedMps: 0.4, StationaryMinDistanceM: DefaultStationaryMinDistanceM,
		PaceWindowSize: 12, PaceMinDistanceM: 20, PaceSmoothingFactor: 0.2, CaloriesPerKgKm: 0.8,
	},
}

// DefaultProfile returns the built-in profile for a sport, falling back to running.
func DefaultProfile(sportTypeID int64) Profile {
	p, ok := defaultProfiles[sportTypeID]
	if !ok {
		p = defaultProfiles[SportRun]
		p.SportTypeID = sportTypeID
		p.Name = fmt.Sprintf("sport-%d", sportTypeID)
	}
	return p
}

// Clamp returns a copy of p with every numeric field forced into its published range.
func (p Profile) Clamp() Profile {
	def := DefaultProfile(p.SportTypeID)

	p.AccuracyThresholdM = clamp(p.AccuracyThresholdM, AccuracyRange, def.AccuracyThresholdM)
	p.MinDistanceM = clamp(p.MinDistanceM, MinDistanceRange, def.MinDistanceM)
	p.MaxRealisticSpeedMps = clamp(p.MaxRealisticSpeedMps, MaxSpeedRange, def.MaxRealisticSpeedMps)
	p.MinElevationChangeM = clamp(p.MinElevationChangeM, MinElevationChangeRange, def.MinElevationChangeM)
	p.SamplingIntervalMs = int64(clamp(float64(p.SamplingIntervalMs), SamplingIntervalRange, float64(def.SamplingIntervalMs)))
	p.DistanceIntervalM = clamp(p.DistanceIntervalM, DistanceIntervalRange, def.DistanceIntervalM)
	p.SmoothingBufferSize = int(clamp(float64(p.SmoothingBufferSize), SmoothingBufferRange, float64(def.SmoothingBufferSize)))
	p.StationarySpeedMps = clamp(p.StationarySpeedMps, StationarySpeedRange, def.StationarySpeedMps)
	p.StationaryMinDistanceM = clamp(p.StationaryMinDistanceM, StationaryFloorRange, def.StationaryMinDistanceM)
	p.PaceWindowSize = int(clamp(float64(p.PaceWindowSize), PaceWindowRange, float64(def.PaceWindowSize)))
	p.PaceMinDistanceM = clamp(p.PaceMinDistanceM, PaceMinDistanceRange, def.PaceMinDistanceM)
	p.PaceSmoothingFactor = clamp(p.PaceSmoothingFactor, PaceFactorRange, def.PaceSmoothingFactor)
	p.CaloriesPerKgKm = clamp(p.CaloriesPerKgKm, CaloriesRange, def.CaloriesPerKgKm)
	return p
}

func clamp(v float64, r Range, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = fallback
	}
	return math.Min(r.Max, math.Max(r.Min, v))
}

// Catalog maps sport type ids to clamped profiles.
type Catalog map[int64]Profile

// Profile returns the catalog entry for a sport or its built-in default.
func (c Catalog) Profile(sportTypeID int64) Profile {
	if p, ok := c[sportTypeID]; ok {
		return p
	}
	return DefaultProfile(sportTypeID).Clamp()
}

func (c Catalog) IDs() []int64 {
	ids := make([]int64, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// catalogFile mirrors the TOML layout:
//
//	[[profile]]
//	sport_type_id = 1
//	accuracy_threshold_m = 20
type catalogFile struct {
	Profiles []profileEntry `toml:"profile"`
}

type profileEntry struct {
	SportTypeID            int64    `toml:"sport_type_id"`
	Name                   *string  `toml:"name"`
	Enabled                *bool    `toml:"enabled"`
	AccuracyThresholdM     *float64 `toml:"accuracy_threshold_m"`
	MinDistanceM           *float64 `toml:"min_distance_m"`
	MaxRealisticSpeedMps   *float64 `toml:"max_realistic_speed_mps"`
	MinElevationChangeM    *float64 `toml:"min_elevation_change_m"`
	SamplingIntervalMs     *int64   `toml:"sampling_interval_ms"`
	DistanceIntervalM      *float64 `toml:"distance_interval_m"`
	SmoothingBufferSize    *int     `toml:"smoothing_buffer_size"`
	StationarySpeedMps     *float64 `toml:"stationary_speed_mps"`
	StationaryMinDistanceM *float64 `toml:"stationary_min_distance_m"`
	PaceWindowSize         *int     `toml:"pace_window_size"`
	PaceMinDistanceM       *float64 `toml:"pace_min_distance_m"`
	PaceSmoothingFactor    *float64 `toml:"pace_smoothing_factor"`
	CaloriesPerKgKm        *float64 `toml:"calories_per_kg_km"`
}

func DefaultCatalog() Catalog {
	c := Catalog{}
	for id, p := range defaultProfiles {
		c[id] = p.Clamp()
	}
	return c
}

// LoadCatalog reads a TOML profile catalog and overlays it on the built-in
// defaults. A missing file is not an error.
func LoadCatalog(path string) (Catalog, error) {
	c := DefaultCatalog()
	if path == "" {
		return c, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("failed to stat profiles: %w", err)
	}

	var file catalogFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("failed to decode profiles: %w", err)
	}
	for _, entry := range file.Profiles {
		p := DefaultProfile(entry.SportTypeID)
		entry.apply(&p)
		c[entry.SportTypeID] = p.Clamp()
	}
	return c, nil
}

func (e profileEntry) apply(p *Profile) {
	if e.Name != nil {
		p.Name = *e.Name
	}
	if e.Enabled != nil {
		p.Enabled = *e.Enabled
	}
	setFloat(&p.AccuracyThresholdM, e.AccuracyThresholdM)
	setFloat(&p.MinDistanceM, e.MinDistanceM)
	setFloat(&p.MaxRealisticSpeedMps, e.MaxRealisticSpeedMps)
	setFloat(&p.MinElevationChangeM, e.MinElevationChangeM)
	if e.SamplingIntervalMs != nil {
		p.SamplingIntervalMs = *e.SamplingIntervalMs
	}
	setFloat(&p.DistanceIntervalM, e.DistanceIntervalM)
	if e.SmoothingBufferSize != nil {
		p.SmoothingBufferSize = *e.SmoothingBufferSize
	}
	setFloat(&p.StationarySpeedMps, e.StationarySpeedMps)
	setFloat(&p.StationaryMinDistanceM, e.StationaryMinDistanceM)
	if e.PaceWindowSize != nil {
		p.PaceWindowSize = *e.PaceWindowSize
	}
	setFloat(&p.PaceMinDistanceM, e.PaceMinDistanceM)
	setFloat(&p.PaceSmoothingFactor, e.PaceSmoothingFactor)
	setFloat(&p.CaloriesPerKgKm, e.CaloriesPerKgKm)
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}
