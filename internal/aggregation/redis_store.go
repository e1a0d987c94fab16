package aggregation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed aggregation store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore is an alternate Store implementation built on one ZSET per
// (rule, key) plus a plain string key holding the edge-trigger flag: ZADD
// keeps the sliding window, ZREMRANGEBYSCORE prunes it, and GETSET flips
// the flag.
// Selected by configuration for low_memory or multi-instance deployments;
// the in-memory Engine remains the default Store.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore dials Redis and verifies connectivity.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "evtxsigma:agg"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis aggregation store: %w", err)
	}

	return &RedisStore{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix)}, nil
}

// Record implements Store. Each (rule, key) pair gets one ZSET member per
// hit named by a unique member string (timestamp nanos, a Redis-issued
// sequence number, then "|" and the value), scored by the hit's timestamp, so
// ZREMRANGEBYSCORE prunes exactly the entries that fall out of the sliding
// window.
func (s *RedisStore) Record(ruleID string, clause *Clause, ts time.Time, key, value string) (int64, bool) {
	if key == "" {
		key = "_"
	}
	ctx := context.Background()
	zkey := s.zsetKey(ruleID, key)
	seq, err := s.client.Incr(ctx, s.prefix+":seq").Result()
	if err != nil {
		return 0, false
	}
	member := fmt.Sprintf("%d.%d|%s", ts.UnixNano(), seq, value)

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, zkey, redis.Z{Score: float64(ts.UnixNano()), Member: member})
	if clause.Timeframe > 0 {
		cutoff := ts.Add(-clause.Timeframe).UnixNano()
		pipe.ZRemRangeByScore(ctx, zkey, "-inf", fmt.Sprintf("(%d", cutoff))
	}
	membersCmd := pipe.ZRange(ctx, zkey, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, false
	}

	members, err := membersCmd.Result()
	if err != nil {
		return 0, false
	}

	measured := measureRedisMembers(members, clause)
	satisfied := clause.CmpOp.Compare(measured, clause.CmpNum)

	triggerKey := s.triggerKey(ruleID, key)
	wasTriggered, _ := s.client.GetSet(ctx, triggerKey, strconv.FormatBool(satisfied)).Result()
	if satisfied && clause.Timeframe > 0 {
		s.client.Expire(ctx, triggerKey, clause.Timeframe)
	}
	return measured, satisfied && wasTriggered != "true"
}

func measureRedisMembers(members []string, clause *Clause) int64 {
	if clause.CountField == "" {
		return int64(len(members))
	}
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		_, v, ok := strings.Cut(m, "|")
		if !ok {
			continue
		}
		seen[v] = struct{}{}
	}
	return int64(len(seen))
}

func (s *RedisStore) zsetKey(ruleID, key string) string {
	return s.prefix + ":bucket:" + ruleID + ":" + key
}

func (s *RedisStore) triggerKey(ruleID, key string) string {
	return s.prefix + ":triggered:" + ruleID + ":" + key
}

// Close releases the underlying Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
