package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"smc-structure-engine/internal/aggregator"
)

const mirrorKeyPrefix = "smc:signal:"

// RedisMirror writes signal snapshots to Redis so external consumers can
// read them without going through the HTTP surface. It degrades gracefully:
// a Redis outage never blocks or fails a scan, writes are just skipped until
// the next successful ping.
type RedisMirror struct {
	client  *redis.Client
	ttl     time.Duration
	logger  zerolog.Logger
	healthy atomic.Bool
}

// NewRedisMirror connects and verifies the connection. The returned mirror
// is usable even when the initial ping fails; it retries health on writes.
func NewRedisMirror(addr, password string, db, poolSize int, ttl time.Duration, logger zerolog.Logger) *RedisMirror {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	m := &RedisMirror{client: client, ttl: ttl, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", addr).
			Msg("redis unreachable, mirror degraded")
	} else {
		m.healthy.Store(true)
		logger.Info().Str("addr", addr).Msg("redis mirror connected")
	}

	return m
}

// Write stores one signal snapshot under its symbol key.
func (m *RedisMirror) Write(ctx context.Context, signal *aggregator.InstrumentSignal) {
	payload, err := json.Marshal(signal)
	if err != nil {
		m.logger.Error().Err(err).Str("symbol", signal.Symbol).Msg("mirror marshal failed")
		return
	}

	key := mirrorKeyPrefix + signal.Symbol
	if err := m.client.Set(ctx, key, payload, m.ttl).Err(); err != nil {
		if m.healthy.Swap(false) {
			m.logger.Warn().Err(err).Msg("redis write failed, mirror degraded")
		}
		return
	}
	if !m.healthy.Swap(true) {
		m.logger.Info().Msg("redis mirror recovered")
	}
}

// Healthy reports whether the last Redis operation succeeded.
func (m *RedisMirror) Healthy() bool {
	return m.healthy.Load()
}

// Close releases the connection pool.
func (m *RedisMirror) Close() error {
	if err := m.client.Close(); err != nil {
		return fmt.Errorf("closing redis mirror: %w", err)
	}
	return nil
}
