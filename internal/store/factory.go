package store

import (
	"time"

	"github.com/redis/go-redis/v9"
)

type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"

	defaultTTL = 7 * 24 * time.Hour
)

// NewMessageStore creates a MessageStore for the given driver.
// The redis driver requires WithRedisClient.
func NewMessageStore(t StoreType, opts ...StoreOption) (MessageStore, error) {
	cfg, err := buildConfig(t, opts)
	if err != nil {
		return nil, err
	}
	if t == StoreTypeMemory {
		return newMemoryMessageStore(), nil
	}
	return &redisMessageStore{client: cfg.redisClient, ttl: cfg.redisTTL}, nil
}

// NewModerationStore creates a ModerationStore for the given driver.
func NewModerationStore(t StoreType, opts ...StoreOption) (ModerationStore, error) {
	cfg, err := buildConfig(t, opts)
	if err != nil {
		return nil, err
	}
	if t == StoreTypeMemory {
		return newMemoryModerationStore(), nil
	}
	return &redisModerationStore{client: cfg.redisClient, ttl: cfg.redisTTL}, nil
}

func buildConfig(t StoreType, opts []StoreOption) (*storeConfig, error) {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	switch t {
	case StoreTypeMemory:
		return cfg, nil
	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		if cfg.redisTTL <= 0 {
			cfg.redisTTL = defaultTTL
		}
		return cfg, nil
	default:
		return nil, ErrInvalidStoreType
	}
}

// NewRedisClient builds a client from an address like "localhost:6379".
func NewRedisClient(addr string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, DB: db})
}
