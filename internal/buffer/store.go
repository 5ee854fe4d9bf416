package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/kv"
)

// Durable keys.
const (
	KeySnapshot     = "fg_snapshot"
	KeyBackground   = "bg_buffer"
	KeyWatermark    = "bg_synced_count"
	KeyLastPosition = "last_position"
	KeyActive       = "active_activity"
	KeyProfile      = "gps_profile"
	KeySyncState    = "sync_state"
	KeyGeneration   = "bg_generation"
)

// ErrStorage marks a durable storage failure. It degrades crash recovery but
// never the live session.
var ErrStorage = errors.New("storage failure")

// BackgroundPoint is what the background executor writes: the raw sample plus
// the deltas its own filter accepted it with.
type BackgroundPoint struct {
	Sample         gps.Sample `json:"sample"`
	DistanceM      float64    `json:"distance_m"`
	ElevationGainM float64    `json:"elevation_gain_m"`
}

// LastPosition is the last accepted smoothed position, shared with the
// background executor through storage.
type LastPosition struct {
	Position    gps.Position `json:"position"`
	TimestampMs int64        `json:"timestamp"`
}

type ActiveActivity struct {
	ID            string        `json:"id"`
	SportTypeID   int64         `json:"sport_type_id"`
	StartedAt     time.Time     `json:"started_at"`
	StartLocation *gps.Position `json:"start_location,omitempty"`
}

// Store persists buffers and session markers into a kv.Store.
type Store struct {
	kv kv.Store
	// guards read-modify-write of the background buffer
	bgMu sync.Mutex
}

func NewStore(s kv.Store) *Store {
	return &Store{kv: s}
}

func (s *Store) Put(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrStorage, key, err)
	}
	if err := s.kv.Set(ctx, key, b); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrStorage, key, err)
	}
	return nil
}

// Get loads key into v. It reports false when the key is absent.
func (s *Store) Get(ctx context.Context, key string, v any) (bool, error) {
	b, err := s.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: read %s: %w", ErrStorage, key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("%w: decode %s: %w", ErrStorage, key, err)
	}
	return true, nil
}

func (s *Store) del(ctx context.Context, keys ...string) error {
	if err := s.kv.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("%w: delete: %w", ErrStorage, err)
	}
	return nil
}

// SaveSnapshot writes the foreground buffer for crash recovery. An empty buffer
// removes the snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, samples []gps.Sample) error {
	if len(samples) == 0 {
		return s.del(ctx, KeySnapshot)
	}
	return s.Put(ctx, KeySnapshot, samples)
}

func (s *Store) LoadSnapshot(ctx context.Context) ([]gps.Sample, error) {
	var samples []gps.Sample
	if _, err := s.Get(ctx, KeySnapshot, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

func (s *Store) ClearSnapshot(ctx context.Context) error {
	return s.del(ctx, KeySnapshot)
}

func (s *Store) AppendBackground(ctx context.Context, points ...BackgroundPoint) error {
	if len(points) == 0 {
		return nil
	}
	s.bgMu.Lock()
	defer s.bgMu.Unlock()

	existing, err := s.Background(ctx)
	if err != nil {
		return err
	}
	return s.Put(ctx, KeyBackground, append(existing, points...))
}

func (s *Store) Background(ctx context.Context) ([]BackgroundPoint, error) {
	var points []BackgroundPoint
	if _, err := s.Get(ctx, KeyBackground, &points); err != nil {
		return nil, err
	}
	return points, nil
}

// Watermark is the number of background entries already known synced.
func (s *Store) Watermark(ctx context.Context) (int, error) {
	var n int
	if _, err := s.Get(ctx, KeyWatermark, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) SetWatermark(ctx context.Context, n int) error {
	return s.Put(ctx, KeyWatermark, n)
}

func (s *Store) Generation(ctx context.Context) (int64, error) {
	var g int64
	if _, err := s.Get(ctx, KeyGeneration, &g); err != nil {
		return 0, err
	}
	return g, nil
}

// PendingBackground is the unsynced tail of the background buffer as read at
// Generation. End is the buffer length at that moment.
type PendingBackground struct {
	Points     []BackgroundPoint
	Generation int64
	End        int
}

func (s *Store) Pending(ctx context.Context) (PendingBackground, error) {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()

	points, err := s.Background(ctx)
	if err != nil {
		return PendingBackground{}, err
	}
	mark, err := s.Watermark(ctx)
	if err != nil {
		return PendingBackground{}, err
	}
	gen, err := s.Generation(ctx)
	if err != nil {
		return PendingBackground{}, err
	}
	p := PendingBackground{Generation: gen, End: len(points)}
	if mark < len(points) {
		p.Points = points[mark:]
	}
	return p, nil
}

// AdvanceWatermark marks the first end entries synced, unless the buffer was
// trimmed since gen was read. It reports whether the watermark moved.
func (s *Store) AdvanceWatermark(ctx context.Context, gen int64, end int) (bool, error) {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()

	cur, err := s.Generation(ctx)
	if err != nil || cur != gen {
		return false, err
	}
	points, err := s.Background(ctx)
	if err != nil {
		return false, err
	}
	mark, err := s.Watermark(ctx)
	if err != nil {
		return false, err
	}
	end = min(end, len(points))
	if end <= mark {
		return false, nil
	}
	return true, s.SetWatermark(ctx, end)
}

// TrimBackground drops the first n background entries and resets the
// watermark. Entries appended after they were read survive.
func (s *Store) TrimBackground(ctx context.Context, n int) error {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()

	points, err := s.Background(ctx)
	if err != nil {
		return err
	}
	if err := s.bumpGeneration(ctx); err != nil {
		return err
	}
	if n >= len(points) {
		return s.del(ctx, KeyBackground, KeyWatermark)
	}
	if err := s.Put(ctx, KeyBackground, points[n:]); err != nil {
		return err
	}
	return s.del(ctx, KeyWatermark)
}

// bumpGeneration expects bgMu held.
func (s *Store) bumpGeneration(ctx context.Context) error {
	g, err := s.Generation(ctx)
	if err != nil {
		return err
	}
	return s.Put(ctx, KeyGeneration, g+1)
}

func (s *Store) SaveLastPosition(ctx context.Context, p LastPosition) error {
	return s.Put(ctx, KeyLastPosition, p)
}

func (s *Store) LastPosition(ctx context.Context) (LastPosition, bool, error) {
	var p LastPosition
	ok, err := s.Get(ctx, KeyLastPosition, &p)
	return p, ok, err
}

func (s *Store) SaveActive(ctx context.Context, a ActiveActivity) error {
	return s.Put(ctx, KeyActive, a)
}

func (s *Store) Active(ctx context.Context) (ActiveActivity, bool, error) {
	var a ActiveActivity
	ok, err := s.Get(ctx, KeyActive, &a)
	return a, ok, err
}

// SaveProfile persists the session profile so the background executor can read
// it per invocation.
func (s *Store) SaveProfile(ctx context.Context, p gps.Profile) error {
	return s.Put(ctx, KeyProfile, p)
}

// Profile loads the persisted profile, clamped again on the way in.
func (s *Store) Profile(ctx context.Context) (gps.Profile, bool, error) {
	var p gps.Profile
	ok, err := s.Get(ctx, KeyProfile, &p)
	if !ok || err != nil {
		return gps.Profile{}, ok, err
	}
	return p.Clamp(), true, nil
}

// ClearSession removes every durable trace of a session.
func (s *Store) ClearSession(ctx context.Context) error {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if err := s.bumpGeneration(ctx); err != nil {
		return err
	}
	return s.del(ctx, KeySnapshot, KeyBackground, KeyWatermark, KeyLastPosition, KeyActive, KeyProfile, KeySyncState)
}
