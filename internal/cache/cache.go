package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// Debouncer lets the first press of a button through and drops repeats of
// the same key within a short window.
type Debouncer interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
	Timeout     time.Duration
}

type Redis struct {
	Db     *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedis(ctx context.Context, cfg RedisConfig, ttl time.Duration) (*Redis, error) {
	const op = "cache.NewRedis"

	db := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Redis{Db: db, ttl: ttl, prefix: "debounce:"}, nil
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	const op = "cache.Allow"

	ok, err := r.Db.SetNX(ctx, r.prefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return ok, nil
}

func (r *Redis) Close() error {
	return r.Db.Close()
}

// Memory is the single-process fallback used when no Redis is configured.
type Memory struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	ttl   time.Duration
	clock clockwork.Clock
}

func NewMemory(clock clockwork.Clock, ttl time.Duration) *Memory {
	return &Memory{seen: map[string]time.Time{}, ttl: ttl, clock: clock}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if exp, ok := m.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.seen[key] = now.Add(m.ttl)

	if len(m.seen) > 1024 {
		for k, exp := range m.seen {
			if !now.Before(exp) {
				delete(m.seen, k)
			}
		}
	}
	return true, nil
}
