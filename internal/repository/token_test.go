package repository

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestTokenRepository_RevokeAndCheck(t *testing.T) {
	client := getTestRedisClient(t)
	repo := NewTokenRepository(client)
	ctx := context.Background()

	jti := "test-jti-" + time.Now().Format("150405.000000")
	defer client.Del(ctx, buildRevokedKey(jti))

	revoked, err := repo.IsRevoked(ctx, jti)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, repo.Revoke(ctx, jti, time.Minute))

	revoked, err = repo.IsRevoked(ctx, jti)
	require.NoError(t, err)
	assert.True(t, revoked)

	ttl := client.TTL(ctx, buildRevokedKey(jti)).Val()
	assert.True(t, ttl > 0 && ttl <= time.Minute)
}

func TestTokenRepository_EdgeCases(t *testing.T) {
	client := getTestRedisClient(t)
	repo := NewTokenRepository(client)
	ctx := context.Background()

	assert.Error(t, repo.Revoke(ctx, "", time.Minute))
	assert.NoError(t, repo.Revoke(ctx, "expired", 0))

	revoked, err := repo.IsRevoked(ctx, "")
	require.NoError(t, err)
	assert.False(t, revoked)
}
