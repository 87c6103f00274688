// Package persistence provides optional distributed persistence for circuit
// breaker state, letting multiple gateway replicas share breaker
// state and survive restarts without re-learning a downed dependency from
// scratch. It is never required for correctness: internal/circuitbreaker
// works standalone with every breaker starting Closed.
package persistence

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"

	"github.com/auth-platform/api-gateway/internal/circuitbreaker"
	"github.com/auth-platform/api-gateway/internal/config"
	"github.com/auth-platform/api-gateway/internal/domain"
	"github.com/redis/go-redis/v9"
)

const stateKeyPrefix = "api-gateway:breaker-state:"

// RedisStateStore implements circuitbreaker.StateStore on top of a Redis
// client, so breaker state snapshots survive process restarts and can be
// observed across gateway replicas.
type RedisStateStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStateStore dials Redis per cfg and verifies connectivity with a
// Ping before returning, matching the fail-fast-at-startup pattern used for
// every other external dependency in this codebase.
func NewRedisStateStore(ctx context.Context, cfg config.PersistenceConfig, logger *slog.Logger) (*RedisStateStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify}
	}

	opts.DB = cfg.DB
	opts.DialTimeout = cfg.ConnectTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.MaxRetries = cfg.MaxRetries
	opts.PoolSize = cfg.PoolSize

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("connected to redis for circuit breaker state persistence",
		slog.String("url", sanitizeURL(cfg.RedisURL)),
		slog.Int("db", cfg.DB),
		slog.Bool("tls_enabled", cfg.TLSEnabled))

	return &RedisStateStore{client: client, logger: logger}, nil
}

// Save persists a breaker state snapshot with no expiry; each breaker
// overwrites its own snapshot on every state transition.
func (s *RedisStateStore) Save(state domain.CircuitBreakerState) error {
	data, err := circuitbreaker.MarshalState(state)
	if err != nil {
		return fmt.Errorf("marshal breaker state: %w", err)
	}

	ctx := context.Background()
	if err := s.client.Set(ctx, stateKey(state.ServiceName), data, 0).Err(); err != nil {
		s.logger.Error("failed to persist breaker state",
			slog.String("service", state.ServiceName),
			slog.String("error", err.Error()))
		return fmt.Errorf("save breaker state for %s: %w", state.ServiceName, err)
	}

	return nil
}

// Load retrieves a breaker state snapshot. Callers should treat
// redis.Nil (wrapped) as "no prior snapshot" and fall back to Closed.
func (s *RedisStateStore) Load(serviceName string) (domain.CircuitBreakerState, error) {
	ctx := context.Background()
	data, err := s.client.Get(ctx, stateKey(serviceName)).Result()
	if err != nil {
		return domain.CircuitBreakerState{}, fmt.Errorf("load breaker state for %s: %w", serviceName, err)
	}

	state, err := circuitbreaker.UnmarshalState([]byte(data))
	if err != nil {
		return domain.CircuitBreakerState{}, fmt.Errorf("unmarshal breaker state for %s: %w", serviceName, err)
	}

	return state, nil
}

// Delete removes a breaker state snapshot.
func (s *RedisStateStore) Delete(serviceName string) error {
	ctx := context.Background()
	if err := s.client.Del(ctx, stateKey(serviceName)).Err(); err != nil {
		return fmt.Errorf("delete breaker state for %s: %w", serviceName, err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}

func stateKey(serviceName string) string {
	return stateKeyPrefix + serviceName
}

func sanitizeURL(url string) string {
	if idx := strings.Index(url, "@"); idx != -1 {
		return "redis://***@" + url[idx+1:]
	}
	return url
}

var _ circuitbreaker.StateStore = (*RedisStateStore)(nil)
