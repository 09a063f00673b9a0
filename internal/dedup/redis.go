package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"job_harvester/internal/domain"
)

const redisKeyPrefix = "harvester:dedup:"

// checkAndInsert returns 1 if any key exists, otherwise sets every key with
// the TTL and returns 0. Redis runs the script atomically.
var checkAndInsert = redis.NewScript(`
	for i = 1, #KEYS do
		if redis.call("exists", KEYS[i]) == 1 then
			return 1
		end
	end
	for i = 1, #KEYS do
		redis.call("set", KEYS[i], ARGV[1], "PX", ARGV[2])
	end
	return 0
`)

// forget deletes every key still holding the first-seen value of KEYS[1],
// which is the set written together by checkAndInsert.
var forget = redis.NewScript(`
	local seen = redis.call("get", KEYS[1])
	if not seen then
		return 0
	end
	local n = 0
	for i = 1, #KEYS do
		if redis.call("get", KEYS[i]) == seen then
			n = n + redis.call("del", KEYS[i])
		end
	end
	return n
`)

// RedisStore is a Checker shared across processes. Capacity is bounded by
// the server's maxmemory policy; entries expire through key TTLs.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func (s *RedisStore) IsDuplicate(ctx context.Context, job *domain.NormalizedJob) (bool, error) {
	keys := Keys(job)
	if len(keys) == 0 {
		return false, nil
	}

	redisKeys := s.redisKeys(keys)

	firstSeen := s.now().UTC().Format(time.RFC3339Nano)
	res, err := checkAndInsert.Run(ctx, s.client, redisKeys, firstSeen, s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis dedup check: %w", err)
	}

	return res == 1, nil
}

func (s *RedisStore) Forget(ctx context.Context, job *domain.NormalizedJob) error {
	keys := Keys(job)
	if len(keys) == 0 {
		return nil
	}
	if err := forget.Run(ctx, s.client, s.redisKeys(keys)).Err(); err != nil {
		return fmt.Errorf("redis dedup forget: %w", err)
	}
	return nil
}

func (s *RedisStore) redisKeys(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = redisKeyPrefix + k
	}
	return out
}

// FirstSeen returns when key was first recorded.
func (s *RedisStore) FirstSeen(ctx context.Context, key string) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+key).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis get: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse first seen: %w", err)
	}
	return t, true, nil
}
