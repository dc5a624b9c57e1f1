package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior. Zero values get conservative defaults.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize    int
	PoolTimeout time.Duration
	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 10
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis builds a client and fails fast if PING does not answer.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		PoolTimeout:  cfg.PoolTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

var errNilRedis = errors.New("redis client is nil")

// ProviderSlots is a cross-process lock keyed by provider id: at most one
// process holds provider:slot:<id> at a time. The key carries a TTL so a
// crashed process cannot pin a provider forever; the session meter extends it
// on every tick.
//
// Any process may release a slot. Sessions can end on a node other than the
// one that accepted them, so there is no owner check.
type ProviderSlots struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewProviderSlots(rdb *redis.Client, ttl time.Duration) *ProviderSlots {
	return &ProviderSlots{rdb: rdb, ttl: ttl}
}

func providerSlotKey(providerID string) string { return "provider:slot:" + providerID }

func (s *ProviderSlots) check(providerID string) error {
	if s == nil || s.rdb == nil {
		return errNilRedis
	}
	if providerID == "" {
		return errors.New("provider id is required")
	}
	if s.ttl <= 0 {
		return errors.New("slot ttl must be > 0")
	}
	return nil
}

// Acquire reports false when another session already holds the provider.
func (s *ProviderSlots) Acquire(ctx context.Context, providerID string) (bool, error) {
	if err := s.check(providerID); err != nil {
		return false, err
	}
	return s.rdb.SetNX(ctx, providerSlotKey(providerID), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
}

// Refresh extends a held slot. A slot that already expired is taken again so a
// long stall does not leave a live session unguarded.
func (s *ProviderSlots) Refresh(ctx context.Context, providerID string) error {
	if err := s.check(providerID); err != nil {
		return err
	}
	ok, err := s.rdb.PExpire(ctx, providerSlotKey(providerID), s.ttl).Result()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	taken, err := s.Acquire(ctx, providerID)
	if err != nil {
		return err
	}
	if !taken {
		return fmt.Errorf("provider %s slot lost", providerID)
	}
	return nil
}

func (s *ProviderSlots) Release(ctx context.Context, providerID string) error {
	if err := s.check(providerID); err != nil {
		return err
	}
	return s.rdb.Del(ctx, providerSlotKey(providerID)).Err()
}
