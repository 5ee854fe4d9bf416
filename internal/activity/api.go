// Package activity is the tracker's view of the remote activity API.
package activity

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrConflictingActivity = errors.New("an activity is already in progress")
	ErrNotFound            = errors.New("activity not found")
	ErrInvalidStatus       = errors.New("activity status does not allow this operation")
)

// API is the remote activity service. Every call may block on the network.
type API interface {
	// Current returns the user's non-terminal activity, or nil when there is none.
	Current(ctx context.Context) (*Activity, error)
	Start(ctx context.Context, req StartRequest) (Activity, error)
	Pause(ctx context.Context, id string) (Activity, error)
	Resume(ctx context.Context, id string) (Activity, error)
	Finish(ctx context.Context, id string, req FinishRequest) (FinishResult, error)
	Discard(ctx context.Context, id string) (Activity, error)
	AppendPoints(ctx context.Context, id string, req PointsRequest) (PointsResult, error)
}

// ExistingActivityError carries the non-terminal activity that blocked a start.
// It is never resolved silently: the caller picks a disposition.
type ExistingActivityError struct {
	Activity Activity
}

func (e *ExistingActivityError) Error() string {
	return fmt.Sprintf("%v: %s (%s)", ErrConflictingActivity, e.Activity.ID, e.Activity.Status)
}

func (e *ExistingActivityError) Unwrap() error {
	return ErrConflictingActivity
}

// StatusError is a non-2xx response from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("activity api: status %d: %s", e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == 404
	case ErrInvalidStatus:
		return e.Code == 409
	}
	return false
}
