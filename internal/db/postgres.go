package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/config"
)

var (
	newPoolFn  = pgxpool.New
	pingPoolFn = func(ctx context.Context, pool *pgxpool.Pool) error { return pool.Ping(ctx) }
)

func ConnectPostgres(cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := newPoolFn(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	if err := pingPoolFn(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Schema creates the user, activity and post tables if they do not exist.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS activities (
	id              UUID PRIMARY KEY,
	user_id         TEXT NOT NULL,
	sport_type_id   BIGINT NOT NULL,
	status          TEXT NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	ended_at        TIMESTAMPTZ,
	paused_at       TIMESTAMPTZ,
	total_paused_ms BIGINT NOT NULL DEFAULT 0,
	start_lat       DOUBLE PRECISION,
	start_lng       DOUBLE PRECISION,
	distance_m      DOUBLE PRECISION NOT NULL DEFAULT 0,
	elevation_gain_m DOUBLE PRECISION NOT NULL DEFAULT 0,
	duration_sec    BIGINT NOT NULL DEFAULT 0,
	avg_speed_mps   DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_speed_mps   DOUBLE PRECISION NOT NULL DEFAULT 0,
	calories        DOUBLE PRECISION NOT NULL DEFAULT 0,
	points_count    INT NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS activities_one_open_per_user
	ON activities (user_id) WHERE status IN ('in_progress', 'paused');
CREATE TABLE IF NOT EXISTS activity_points (
	activity_id UUID NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
	recorded_at BIGINT NOT NULL,
	lat         DOUBLE PRECISION NOT NULL,
	lng         DOUBLE PRECISION NOT NULL,
	elevation   DOUBLE PRECISION,
	accuracy    DOUBLE PRECISION,
	speed       DOUBLE PRECISION,
	PRIMARY KEY (activity_id, recorded_at)
);
CREATE TABLE IF NOT EXISTS posts (
	id          UUID PRIMARY KEY,
	user_id     TEXT NOT NULL,
	activity_id UUID REFERENCES activities(id),
	content     TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS user_follows (
	follower_id  TEXT NOT NULL,
	following_id TEXT NOT NULL,
	PRIMARY KEY (follower_id, following_id)
);`

// Migrate applies Schema.
func Migrate(ctx context.Context, q Execer) error {
	if _, err := q.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
