package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenRevokedPrefix 已吊销 Token: chat:token:revoked:{jti} -> 1
const tokenRevokedPrefix = "chat:token:revoked:"

// TokenRepository Token 吊销表
type TokenRepository struct {
	rdb *redis.Client
}

// NewTokenRepository 创建 Token Repository
func NewTokenRepository(rdb *redis.Client) *TokenRepository {
	return &TokenRepository{rdb: rdb}
}

func buildRevokedKey(jti string) string {
	return tokenRevokedPrefix + jti
}

// Revoke 吊销 Token，ttl 取 Token 剩余有效期即可
func (r *TokenRepository) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return errors.New("empty token id")
	}
	if ttl <= 0 {
		// 已过期的 Token 无需记录
		return nil
	}
	if err := r.rdb.Set(ctx, buildRevokedKey(jti), 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked 检查 Token 是否已吊销
func (r *TokenRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	n, err := r.rdb.Exists(ctx, buildRevokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token: %w", err)
	}
	return n > 0, nil
}
