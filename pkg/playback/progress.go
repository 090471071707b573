package playback

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/types"
)

// ProgressKey identifies the resume checkpoint of a title, and of the
// episode for series.
func ProgressKey(req types.PlaybackRequest) string {
	if req.MediaType == types.MediaTypeSeries {
		return fmt.Sprintf("tv:%d:s%d:e%d", req.CatalogID, req.SeasonOrDefault(), req.EpisodeOrDefault())
	}
	return fmt.Sprintf("movie:%d", req.CatalogID)
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisProgressStore keeps resume checkpoints in Redis.
type RedisProgressStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisProgressStore connects to Redis and verifies the connection.
func NewRedisProgressStore(cfg RedisConfig, ttl time.Duration) (*RedisProgressStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return newRedisProgressStore(client, ttl), nil
}

func newRedisProgressStore(client *redis.Client, ttl time.Duration) *RedisProgressStore {
	return &RedisProgressStore{client: client, prefix: "progress:", ttl: ttl}
}

// Save stores the playback position in seconds.
func (s *RedisProgressStore) Save(ctx context.Context, key string, seconds float64) error {
	if err := s.client.Set(ctx, s.prefix+key, strconv.FormatFloat(seconds, 'f', 3, 64), s.ttl).Err(); err != nil {
		return fmt.Errorf("save progress %s: %w", key, err)
	}
	return nil
}

// Load returns the stored position. A missing key is not an error.
func (s *RedisProgressStore) Load(ctx context.Context, key string) (float64, bool, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load progress %s: %w", key, err)
	}
	return v, true, nil
}

// Clear removes the checkpoint.
func (s *RedisProgressStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("clear progress %s: %w", key, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisProgressStore) Close() error {
	return s.client.Close()
}

var _ interfaces.ProgressStore = (*RedisProgressStore)(nil)
