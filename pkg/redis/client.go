package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/canopy-network/perpindexer/pkg/cache"
	"github.com/canopy-network/perpindexer/pkg/errdefs"
	"github.com/canopy-network/perpindexer/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultStreamMaxLen = 10000 // Default max entries per stream
)

// hincrNonNegative adds ARGV[2] to field ARGV[1] of hash KEYS[1] unless the result would be
// negative. Returns {1, new} on success and {-1, current} on rejection; a zero result removes
// the field. Arithmetic runs on Lua doubles, exact up to 2^53 quantums.
var hincrNonNegative = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local nxt = cur + tonumber(ARGV[2])
if nxt < 0 then
  return {-1, string.format('%d', cur)}
end
if nxt == 0 then
  redis.call('HDEL', KEYS[1], ARGV[1])
else
  redis.call('HSET', KEYS[1], ARGV[1], string.format('%d', nxt))
end
return {1, string.format('%d', nxt)}
`)

// incrByOnce adds ARGV[3] to KEYS[2] and stores ARGV[1] at marker KEYS[1] (expiring after
// ARGV[2] ms, 0 keeps it) unless the marker exists. Returns {1, new} when applied and
// {0, current} for a repeat. Both keys must live on the same node.
var incrByOnce = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return {0, redis.call('GET', KEYS[2]) or '0'}
end
local nxt = redis.call('INCRBY', KEYS[2], ARGV[3])
if tonumber(ARGV[2]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
else
  redis.call('SET', KEYS[1], ARGV[1])
end
return {1, string.format('%d', nxt)}
`)

// Client wraps the Redis client serving the derived-state caches and the update stream.
type Client struct {
	client       *redis.Client
	logger       *zap.Logger
	streamMaxLen int64 // Max entries per stream (0 = unlimited)
}

var _ cache.Client = (*Client)(nil)

// NewClient creates a new Redis client using environment variables for configuration.
// Environment variables:
//   - REDIS_HOST: Redis host (default: "localhost")
//   - REDIS_PORT: Redis port (default: "6379")
//   - REDIS_PASSWORD: Redis password (default: "")
//   - REDIS_DB: Redis database number (default: "0")
//   - REDIS_STREAM_MAXLEN: Max entries per stream (default: 10000, 0 = unlimited)
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("REDIS_HOST", "localhost")
	port := utils.Env("REDIS_PORT", "6379")
	password := utils.Env("REDIS_PASSWORD", "")
	db := int(utils.EnvInt64("REDIS_DB", 0))
	streamMaxLen := utils.EnvInt64("REDIS_STREAM_MAXLEN", DefaultStreamMaxLen)

	addr := fmt.Sprintf("%s:%s", host, port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     utils.EnvInt("REDIS_POOL_SIZE", 20),
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errdefs.Unavailable(fmt.Sprintf("connect to Redis at %s", addr), err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", addr),
		zap.Int("db", db),
		zap.Int64("streamMaxLen", streamMaxLen))

	return NewFromClient(rdb, logger, streamMaxLen), nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(rdb *redis.Client, logger *zap.Logger, streamMaxLen int64) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{client: rdb, logger: logger, streamMaxLen: streamMaxLen}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return errdefs.Unavailable("redis ping", c.client.Ping(ctx).Err())
}

// =============================================================================
// Cache primitives
// =============================================================================

func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errdefs.Unavailable("redis get "+key, err)
	}
	return v, true, nil
}

func (c *Client) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errdefs.Unavailable("redis mget", err)
	}
	for i, v := range values {
		if s, ok := v.(string); ok {
			out[keys[i]] = s
		}
	}
	return out, nil
}

func (c *Client) Set(ctx context.Context, key, value string) error {
	return errdefs.Unavailable("redis set "+key, c.client.Set(ctx, key, value, 0).Err())
}

func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, errdefs.Unavailable("redis setnx "+key, err)
	}
	return ok, nil
}

func (c *Client) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := c.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, errdefs.Unavailable("redis incrby "+key, err)
	}
	return n, nil
}

func (c *Client) IncrByOnce(
	ctx context.Context,
	marker, markerValue string,
	ttl time.Duration,
	key string,
	delta int64,
) (int64, bool, error) {
	res, err := incrByOnce.Run(ctx, c.client, []string{marker, key}, markerValue, ttl.Milliseconds(), delta).Slice()
	if err != nil {
		return 0, false, errdefs.Unavailable("redis incrby once "+key, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("redis incrby once %s: unexpected reply %v", key, res)
	}
	status, _ := res[0].(int64)
	raw, _ := res[1].(string)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, errdefs.Corruption("key %s holds %q", key, raw)
	}
	return n, status == 1, nil
}

func (c *Client) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := c.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errdefs.Unavailable("redis hget "+key, err)
	}
	return v, true, nil
}

func (c *Client) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	ok, err := c.client.HSetNX(ctx, key, field, value).Result()
	if err != nil {
		return false, errdefs.Unavailable("redis hsetnx "+key, err)
	}
	return ok, nil
}

func (c *Client) HIncrByNonNegative(ctx context.Context, key, field string, delta int64) (int64, error) {
	res, err := hincrNonNegative.Run(ctx, c.client, []string{key}, field, delta).Slice()
	if err != nil {
		return 0, errdefs.Unavailable("redis hincr "+key, err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("redis hincr %s: unexpected reply %v", key, res)
	}
	status, _ := res[0].(int64)
	raw, _ := res[1].(string)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errdefs.Corruption("hash %s field %s holds %q", key, field, raw)
	}
	if status < 0 {
		return n, cache.ErrNegativeResult
	}
	return n, nil
}

func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	err := c.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
	return errdefs.Unavailable("redis zadd "+key, err)
}

func (c *Client) ZMaxMemberAtOrBelow(ctx context.Context, key string, max float64) (string, bool, error) {
	members, err := c.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Max:   strconv.FormatFloat(max, 'f', -1, 64),
		Min:   "-inf",
		Count: 1,
	}).Result()
	if err != nil {
		return "", false, errdefs.Unavailable("redis zrevrangebyscore "+key, err)
	}
	if len(members) == 0 {
		return "", false, nil
	}
	return members[0], true, nil
}

func (c *Client) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return errdefs.Unavailable("redis sadd "+key, c.client.SAdd(ctx, key, args...).Err())
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := c.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, errdefs.Unavailable("redis smembers "+key, err)
	}
	if members == nil {
		members = []string{}
	}
	return members, nil
}

// =============================================================================
// Redis Streams API
// =============================================================================

// XAdd adds an entry to a stream. Uses MAXLEN to cap stream size if configured.
func (c *Client) XAdd(ctx context.Context, stream string, values map[string]interface{}) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if c.streamMaxLen > 0 {
		args.MaxLen = c.streamMaxLen
		args.Approx = true
	}

	id, err := c.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", errdefs.Unavailable("redis xadd "+stream, err)
	}
	return id, nil
}

// XRead reads entries from one stream after lastID.
func (c *Client) XRead(ctx context.Context, stream, lastID string, count int64, block time.Duration) ([]redis.XStream, error) {
	return c.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   count,
		Block:   block,
	}).Result()
}

// XReadGroup reads entries from one stream using a consumer group.
// Use ">" for new entries and "0" to re-read this consumer's pending entries.
func (c *Client) XReadGroup(ctx context.Context, group, consumer, stream, lastID string, count int64, block time.Duration) ([]redis.XStream, error) {
	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, lastID},
		Count:    count,
		Block:    block,
	}).Result()
}

// XAck acknowledges that entries have been processed by a consumer group.
func (c *Client) XAck(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	return c.client.XAck(ctx, stream, group, ids...).Result()
}

// XGroupCreateMkStream creates a consumer group, creating the stream if it doesn't exist.
// An existing group is not an error.
func (c *Client) XGroupCreateMkStream(ctx context.Context, stream, group, start string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists" {
		return nil
	}
	return err
}
