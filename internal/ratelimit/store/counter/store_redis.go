package counter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"leadgate/internal/ratelimit/models"
	"leadgate/pkg/platform/sentinel"
)

// admitLua applies one attempt to a counter hash atomically.
// KEYS[1] = counter key
// ARGV[1] = now (unix ms)
// ARGV[2] = max attempts
// ARGV[3] = window (ms)
// ARGV[4] = block (ms)
//
// Returns {attempts, last_attempt, blocked_until or -1, window}.
// The key expires 2x window after the last attempt, or when the block lapses
// if that is later, so idle counters are collected by Redis itself.
var admitLua = redis.NewScript(`
local function num(v)
  if v then return tonumber(v) end
  return nil
end

local key = KEYS[1]
local now = tonumber(ARGV[1])
local maxAttempts = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local block = tonumber(ARGV[4])

local v = redis.call('HMGET', key, 'attempts', 'last_attempt', 'blocked_until', 'window')
local attempts = num(v[1]) or 0
local last = num(v[2]) or 0
local blocked = num(v[3])

if blocked and blocked > now then
  return {attempts, last, blocked, num(v[4]) or window}
end

if attempts == 0 or last < now - window or (blocked and blocked > last and blocked <= now) then
  attempts = 0
  blocked = nil
end

attempts = attempts + 1
last = now
if attempts > maxAttempts then
  blocked = now + block
end

redis.call('HSET', key, 'attempts', attempts, 'last_attempt', last, 'window', window)
if blocked then
  redis.call('HSET', key, 'blocked_until', blocked)
else
  redis.call('HDEL', key, 'blocked_until')
end

local ttl = 2 * window
if blocked and blocked - now > ttl then
  ttl = blocked - now
end
redis.call('PEXPIRE', key, ttl)

return {attempts, last, blocked or -1, window}
`)

// RedisStore keeps counters as Redis hashes keyed by models.Key.
type RedisStore struct {
	redis redis.UniversalClient
}

// NewRedis constructs a Redis-backed counter store.
func NewRedis(client redis.UniversalClient) *RedisStore {
	return &RedisStore{redis: client}
}

func (s *RedisStore) Admit(ctx context.Context, identifier string, action models.Action, policy models.Policy, now time.Time) (*models.Record, error) {
	now = now.Truncate(time.Millisecond)
	key := models.NewKey(identifier, action).String()
	res, err := admitLua.Run(ctx, s.redis, []string{key},
		now.UnixMilli(),
		policy.MaxAttempts,
		policy.Window.Milliseconds(),
		policy.Block.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("admit rate limit counter: %w", err)
	}
	if len(res) != 4 {
		return nil, fmt.Errorf("admit rate limit counter: unexpected reply length %d", len(res))
	}
	record := &models.Record{
		Identifier:    identifier,
		Action:        action,
		Attempts:      int(res[0]),
		LastAttempt:   time.UnixMilli(res[1]).UTC(),
		WindowSeconds: int(res[3] / 1000),
	}
	if res[2] >= 0 {
		until := time.UnixMilli(res[2]).UTC()
		record.BlockedUntil = &until
	}
	return record, nil
}

func (s *RedisStore) Get(ctx context.Context, identifier string, action models.Action) (*models.Record, error) {
	key := models.NewKey(identifier, action).String()
	values, err := s.redis.HMGet(ctx, key, "attempts", "last_attempt", "blocked_until", "window").Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit counter: %w", err)
	}
	if values[0] == nil {
		return nil, sentinel.ErrNotFound
	}

	fields := make([]int64, len(values))
	for i, v := range values {
		if v == nil {
			fields[i] = -1
			continue
		}
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("get rate limit counter: unexpected field type %T", v)
		}
		if fields[i], err = strconv.ParseInt(str, 10, 64); err != nil {
			return nil, fmt.Errorf("get rate limit counter: %w", err)
		}
	}

	record := &models.Record{
		Identifier:    identifier,
		Action:        action,
		Attempts:      int(fields[0]),
		LastAttempt:   time.UnixMilli(fields[1]).UTC(),
		WindowSeconds: int(fields[3] / 1000),
	}
	if fields[2] >= 0 {
		until := time.UnixMilli(fields[2]).UTC()
		record.BlockedUntil = &until
	}
	return record, nil
}

func (s *RedisStore) Delete(ctx context.Context, identifier string, action models.Action) error {
	if err := s.redis.Del(ctx, models.NewKey(identifier, action).String()).Err(); err != nil {
		return fmt.Errorf("delete rate limit counter: %w", err)
	}
	return nil
}

// DeleteStale is a no-op: every Admit sets a TTL that expires the counter
// exactly when it becomes stale.
func (s *RedisStore) DeleteStale(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

