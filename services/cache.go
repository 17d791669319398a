package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"transtrack-api/config"
	"transtrack-api/metrics"

	"github.com/redis/go-redis/v9"
)

const (
	ChannelLive      = "transtrack:live"
	ChannelIncidents = "transtrack:incidents"

	// KeyLatestSnapshot holds the last published snapshot for late readers.
	KeyLatestSnapshot = "transtrack:snapshot"
)

// CacheService mirrors live events into Redis. A service without a client
// accepts every call and does nothing, so Redis stays optional.
type CacheService struct {
	client *redis.Client
}

func NewCacheService(cfg config.RedisConfig) (*CacheService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	var lastErr error
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		lastErr = client.Ping(ctx).Err()
		cancel()
		if lastErr == nil {
			return &CacheService{client: client}, nil
		}
		slog.Warn("redis ping failed", "attempt", i+1, "error", lastErr)
		time.Sleep(time.Second)
	}

	_ = client.Close()
	return &CacheService{client: nil}, fmt.Errorf("redis ping failed after 5 attempts: %w", lastErr)
}

// NewCacheServiceWithClient wraps an existing client; nil disables Redis.
func NewCacheServiceWithClient(client *redis.Client) *CacheService {
	return &CacheService{client: client}
}

func (s *CacheService) Available() bool {
	return s != nil && s.client != nil
}

func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Available() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *CacheService) Publish(ctx context.Context, channel string, message interface{}) error {
	if !s.Available() {
		return nil
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, channel, data).Err(); err != nil {
		metrics.PublishFailures.Inc()
		return err
	}
	return nil
}

func (s *CacheService) Close() error {
	if !s.Available() {
		return nil
	}
	return s.client.Close()
}
