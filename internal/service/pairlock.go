package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	pairLockPrefix   = "chat:lock:pair:"
	defaultPairTTL   = 10 * time.Second
	minRetryInterval = 10 * time.Millisecond
	maxRetryInterval = 200 * time.Millisecond
	releaseTimeout   = 2 * time.Second
)

var ErrLockTimeout = errors.New("pair lock timeout")

// 仅删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// pairLockKey 无序用户对的锁 key: chat:lock:pair:{min}:{max}
func pairLockKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s%d:%d", pairLockPrefix, a, b)
}

// RedisPairLocker 基于 SET NX PX 的跨节点用户对锁
// Redis 不可用时退化为进程内锁，唯一索引仍然兜底
type RedisPairLocker struct {
	rdb      *redis.Client
	ttl      time.Duration
	fallback *LocalPairLocker
	logger   *slog.Logger
}

// NewRedisPairLocker 创建 Redis 用户对锁
func NewRedisPairLocker(rdb *redis.Client, ttl time.Duration) *RedisPairLocker {
	if ttl <= 0 {
		ttl = defaultPairTTL
	}
	return &RedisPairLocker{
		rdb:      rdb,
		ttl:      ttl,
		fallback: NewLocalPairLocker(),
		logger:   slog.Default(),
	}
}

// Lock 获取锁，等待时间不超过 ctx 截止时间和锁 TTL
func (l *RedisPairLocker) Lock(ctx context.Context, a, b int64) (func(), error) {
	key := pairLockKey(a, b)
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	interval := minRetryInterval
	for {
		ok, err := l.rdb.SetNX(waitCtx, key, token, l.ttl).Result()
		if err != nil {
			if waitCtx.Err() != nil {
				return nil, ErrLockTimeout
			}
			l.logger.Warn("Redis pair lock unavailable, using local lock", "key", key, "error", err)
			return l.fallback.Lock(ctx, a, b)
		}
		if ok {
			return func() { l.release(key, token) }, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, ErrLockTimeout
		case <-time.After(interval):
		}
		interval *= 2
		if interval > maxRetryInterval {
			interval = maxRetryInterval
		}
	}
}

func (l *RedisPairLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
		// 释放失败时锁会在 TTL 后过期
		l.logger.Warn("Failed to release pair lock", "key", key, "error", err)
	}
}

type pairLockEntry struct {
	sem  chan struct{}
	refs int
}

// LocalPairLocker 进程内按用户对加锁，无人等待时回收
type LocalPairLocker struct {
	mu    sync.Mutex
	locks map[string]*pairLockEntry
}

// NewLocalPairLocker 创建进程内用户对锁
func NewLocalPairLocker() *LocalPairLocker {
	return &LocalPairLocker{locks: make(map[string]*pairLockEntry)}
}

// Lock 获取锁，ctx 结束时返回 ErrLockTimeout
func (l *LocalPairLocker) Lock(ctx context.Context, a, b int64) (func(), error) {
	key := pairLockKey(a, b)

	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &pairLockEntry{sem: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return nil, ErrLockTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.unref(key, e)
		})
	}, nil
}

func (l *LocalPairLocker) unref(key string, e *pairLockEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// size 当前持有或等待中的 key 数
func (l *LocalPairLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
