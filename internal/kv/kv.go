// Package kv is the durable key/value storage the tracking core persists its
// crash-recovery state into.
package kv

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("kv: key not found")

// Store is implemented by Redis (shared deployments) and SQLite (on device).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
}
