package input

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"evtxsigma/pkg/models"
)

// RedisConfig configures the Redis list consumer.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	Key          string
	BlockTimeout time.Duration
}

// RedisSource pops serialized event records off a Redis list. Because the
// scanner is a batch tool, a blocking pop that times out with the list empty
// is treated as end of input rather than looping forever the way a
// streaming consumer would.
type RedisSource struct {
	client       *redis.Client
	key          string
	blockTimeout time.Duration
	label        string
}

// NewRedisSource creates a Redis record source for list-based queues.
func NewRedisSource(cfg RedisConfig) (*RedisSource, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisSource{
		client:       client,
		key:          cfg.Key,
		blockTimeout: cfg.BlockTimeout,
		label:        "redis:" + cfg.Addr + "/" + cfg.Key,
	}, nil
}

// Next pops and decodes one record. ok=false on queue drain or cancellation.
func (s *RedisSource) Next(ctx context.Context) (*models.EventRecord, error, bool) {
	res, err := s.client.BLPop(ctx, s.blockTimeout, s.key).Result()
	if err == redis.Nil {
		return nil, nil, false
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, false
		}
		return nil, fmt.Errorf("pop record: %w", err), true
	}
	if len(res) < 2 {
		return nil, nil, false
	}

	rec, decodeErr := Decode([]byte(res[1]), s.label)
	if decodeErr != nil {
		return nil, decodeErr, true
	}
	return rec, nil, true
}

// Close closes the underlying client.
func (s *RedisSource) Close() error {
	return s.client.Close()
}
