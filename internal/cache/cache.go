// Package cache memoizes mesh analysis by content hash.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Simplici0/printcost/internal/mesh"
)

const keyPrefix = "geometry:"

// GeometryCache stores analysis results keyed by the hash of the mesh bytes.
// A miss is reported as (nil, nil).
type GeometryCache interface {
	Get(ctx context.Context, hash string) (*mesh.GeometryStats, error)
	Set(ctx context.Context, hash string, stats mesh.GeometryStats) error
}

// ContentHash is the hex SHA-256 of a mesh payload.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Noop never hits. It is used when no Redis address is configured.
type Noop struct{}

func (Noop) Get(context.Context, string) (*mesh.GeometryStats, error) { return nil, nil }
func (Noop) Set(context.Context, string, mesh.GeometryStats) error { return nil }

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis is a GeometryCache backed by a Redis server.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{client: client, ttl: cfg.TTL}, nil
}

func (r *Redis) Get(ctx context.Context, hash string) (*mesh.GeometryStats, error) {
	raw, err := r.client.Get(ctx, keyPrefix+hash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", hash, err)
	}

	var stats mesh.GeometryStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, fmt.Errorf("decode cached geometry %s: %w", hash, err)
	}
	return &stats, nil
}

func (r *Redis) Set(ctx context.Context, hash string, stats mesh.GeometryStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode geometry %s: %w", hash, err)
	}
	if err := r.client.Set(ctx, keyPrefix+hash, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", hash, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
