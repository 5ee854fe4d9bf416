// Package location adapts positioning services to the tracker and coordinates
// foreground and background acquisition.
package location

import (
	"context"
	"errors"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"
)

// ErrPermissionDenied means the user refused location access. Acquisition
// does not start; the session carries on without it.
var ErrPermissionDenied = errors.New("location permission denied")

type Mode int

const (
	ModeForeground Mode = iota
	ModeBackground
)

func (m Mode) String() string {
	if m == ModeBackground {
		return "background"
	}
	return "foreground"
}

// Source is a platform positioning service.
type Source interface {
	Subscribe(ctx context.Context, mode Mode) (Subscription, error)
}

// Subscription delivers batches of raw samples until stopped. Foreground
// batches usually hold a single sample, background batches whatever the
// platform accumulated. Batches is closed when the source runs dry; after Stop
// returns nothing more is sent.
type Subscription interface {
	Batches() <-chan []gps.Sample
	Stop()
}
