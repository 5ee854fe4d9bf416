package db

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/config"
)

// ConnectRedis returns nil when no address is configured. An unreachable
// server is only logged: callers fall back to in-process delivery until it
// comes up.
func ConnectRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("redis %s unreachable: %v", cfg.RedisAddr, err)
	}
	return client
}
