package kv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Set(ctx, "a", []byte("1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "a", []byte("2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := s.Set(ctx, "b", []byte("3")); err != nil {
		t.Fatalf("set b: %v", err)
	}
	v, err := s.Get(ctx, "a")
	if err != nil || string(v) != "2" {
		t.Fatalf("expected overwritten value, got %q %v", v, err)
	}
	if err := s.Delete(ctx, "a", "b", "never-set"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted key, got %v", err)
	}
	if err := s.Delete(ctx); err != nil {
		t.Fatalf("empty delete: %v", err)
	}
}

func TestRedisStore(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	store := NewRedis(client, "tracker:dev-1:")
	exerciseStore(t, store)

	if err := store.Set(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !srv.Exists("tracker:dev-1:k") {
		t.Fatalf("expected prefixed key in redis")
	}
}

func TestRedisStoreError(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	srv.Close()
	defer client.Close()

	store := NewRedis(client, "")
	if err := store.Set(context.Background(), "k", []byte("v")); err == nil {
		t.Fatalf("expected error with closed server")
	}
	if _, err := store.Get(context.Background(), "k"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tracker.db")
	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	exerciseStore(t, store)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.db")
	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Set(context.Background(), "snapshot", []byte(`[1,2]`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	_ = store.Close()

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	v, err := reopened.Get(context.Background(), "snapshot")
	if err != nil || string(v) != "[1,2]" {
		t.Fatalf("expected persisted value, got %q %v", v, err)
	}
}
