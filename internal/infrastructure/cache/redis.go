package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bimakw/log-harvester/internal/config"
	"github.com/bimakw/log-harvester/internal/domain/entities"
)

// ErrCacheMiss indicates the key was not found in cache
var ErrCacheMiss = errors.New("cache miss")

// CapabilityCache remembers probed endpoint capabilities across runs so
// startup does not re-probe every endpoint on every invocation
type CapabilityCache struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewCapabilityCache connects to Redis and verifies the connection
func NewCapabilityCache(cfg config.RedisConfig, logger *zap.Logger) (*CapabilityCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
	)

	return &CapabilityCache{
		client: client,
		logger: logger,
		ttl:    cfg.TTL,
	}, nil
}

// Close closes the Redis connection
func (c *CapabilityCache) Close() error {
	return c.client.Close()
}

func capabilityKey(url string) string {
	return "harvester:endpoint:" + url
}

// GetEndpoint retrieves cached capabilities for an endpoint URL
func (c *CapabilityCache) GetEndpoint(ctx context.Context, url string) (*entities.Endpoint, error) {
	val, err := c.client.Get(ctx, capabilityKey(url)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var ep entities.Endpoint
	if err := json.Unmarshal([]byte(val), &ep); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached endpoint: %w", err)
	}
	return &ep, nil
}

// SetEndpoint stores probed capabilities for an endpoint URL
func (c *CapabilityCache) SetEndpoint(ctx context.Context, ep entities.Endpoint) error {
	data, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("failed to marshal endpoint: %w", err)
	}

	if err := c.client.Set(ctx, capabilityKey(ep.URL), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// Invalidate drops the cached capabilities for an endpoint URL, forcing a
// re-probe on the next run
func (c *CapabilityCache) Invalidate(ctx context.Context, url string) error {
	if err := c.client.Del(ctx, capabilityKey(url)).Err(); err != nil {
		return fmt.Errorf("failed to delete from cache: %w", err)
	}
	return nil
}

// HealthCheck checks if Redis is reachable
func (c *CapabilityCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
