// Package rediskv provides a kv.Store backed by a Redis server.
package rediskv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dwikikusuma/marketplace-cart/internal/platform/kv"
	"github.com/dwikikusuma/marketplace-cart/pkg/logger"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

const maxBackoff = 30 * time.Second

type Options struct {
	// Addr is either a redis:// URL or a plain host:port.
	Addr string

	// ConnectAttempts bounds the ping loop in Connect. Zero means 10.
	ConnectAttempts int

	Logger *slog.Logger
}

// Store keeps each key as a plain Redis string. Every call goes through a
// circuit breaker so a dead server fails fast instead of stalling callers.
type Store struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	log    *slog.Logger
}

// New builds a Store around an existing client.
func New(client *redis.Client, log *slog.Logger) *Store {
	log = logger.Component(log, "rediskv")
	st := gobreaker.Settings{
		Name:        "redis-kv",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, kv.ErrNotFound)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}
	return &Store{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(st),
		log:    log,
	}
}

// Connect dials Redis, installs tracing and waits for a successful ping,
// backing off exponentially between attempts.
func Connect(ctx context.Context, opts Options) (*Store, error) {
	ropts, err := redis.ParseURL(opts.Addr)
	if err != nil {
		ropts = &redis.Options{
			Addr:         opts.Addr,
			MinIdleConns: 1,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     4,
		}
	}
	client := redis.NewClient(ropts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("instrument redis tracing: %w", err)
	}

	attempts := opts.ConnectAttempts
	if attempts <= 0 {
		attempts = 10
	}

	s := New(client, opts.Logger)
	log := s.log
	for i := 0; i < attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			log.Info("connected to redis", slog.String("addr", ropts.Addr), slog.Int("attempt", i+1))
			return s, nil
		}
		if i == attempts-1 {
			break
		}

		backoff := time.Duration(1<<uint(i)) * 100 * time.Millisecond
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		log.Warn("redis ping failed, retrying",
			slog.Any("err", err),
			slog.Int("attempt", i+1),
			slog.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	_ = client.Close()
	return nil, fmt.Errorf("connect redis after %d attempts: %w", attempts, err)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.cb.Execute(func() (interface{}, error) {
		b, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, kv.ErrNotFound
		}
		return b, err
	})
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return v.([]byte), nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, key, value, 0).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
