//go:build integration

package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

type RedisIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *tcredis.RedisContainer
	client    *redis.Client
}

func (s *RedisIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := tcredis.Run(s.ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container

	uri, err := container.ConnectionString(s.ctx)
	s.Require().NoError(err)

	opts, err := redis.ParseURL(uri)
	s.Require().NoError(err)
	s.client = redis.NewClient(opts)
	s.Require().NoError(s.client.Ping(s.ctx).Err())
}

func (s *RedisIntegrationSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *RedisIntegrationSuite) SetupTest() {
	s.Require().NoError(s.client.FlushDB(s.ctx).Err())
}

func TestRedisIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RedisIntegrationSuite))
}

func (s *RedisIntegrationSuite) TestIsDuplicate_AnyKey() {
	store := NewRedisStore(s.client, time.Hour)

	dup, err := store.IsDuplicate(s.ctx, job("a:1", "https://a.example/1", "fp1"))
	s.Require().NoError(err)
	s.False(dup)

	dup, err = store.IsDuplicate(s.ctx, job("b:2", "https://a.example/1", "fp2"))
	s.Require().NoError(err)
	s.True(dup)

	// Keys of a duplicate are not recorded.
	exists, err := s.client.Exists(s.ctx, redisKeyPrefix+"ext:b:2").Result()
	s.Require().NoError(err)
	s.Zero(exists)
}

func (s *RedisIntegrationSuite) TestIsDuplicate_TTL() {
	store := NewRedisStore(s.client, time.Hour)

	_, err := store.IsDuplicate(s.ctx, job("", "https://a.example/ttl", ""))
	s.Require().NoError(err)

	ttl, err := s.client.PTTL(s.ctx, redisKeyPrefix+"url:https://a.example/ttl").Result()
	s.Require().NoError(err)
	s.InDelta(time.Hour.Seconds(), ttl.Seconds(), 5)

	seen, ok, err := store.FirstSeen(s.ctx, "url:https://a.example/ttl")
	s.Require().NoError(err)
	s.True(ok)
	s.WithinDuration(time.Now(), seen, 5*time.Second)
}

func (s *RedisIntegrationSuite) TestIsDuplicate_Concurrent() {
	store := NewRedisStore(s.client, time.Hour)
	j := job("a:1", "https://a.example/1", "fp1")

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dup, err := store.IsDuplicate(s.ctx, j)
			s.NoError(err)
			if !dup {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(1, fresh)
}

func (s *RedisIntegrationSuite) TestForget() {
	store := NewRedisStore(s.client, time.Hour)
	j := job("a:1", "https://a.example/1", "fp1")

	_, err := store.IsDuplicate(s.ctx, job("b:1", "https://b.example/1", ""))
	s.Require().NoError(err)
	dup, err := store.IsDuplicate(s.ctx, j)
	s.Require().NoError(err)
	s.Require().False(dup)

	s.Require().NoError(store.Forget(s.ctx, j))

	n, err := s.client.DBSize(s.ctx).Result()
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	dup, err = store.IsDuplicate(s.ctx, j)
	s.Require().NoError(err)
	s.False(dup)
}
