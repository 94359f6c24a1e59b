package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS[1]=频道元数据 KEYS[2]=成员集合, ARGV=成员
var addMembersScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
return redis.call('SADD', KEYS[2], unpack(ARGV))
`)

// KEYS[1]=频道元数据 KEYS[2]=成员集合 KEYS[3]=角色, ARGV=成员
var removeMembersScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
redis.call('HDEL', KEYS[3], unpack(ARGV))
return redis.call('SREM', KEYS[2], unpack(ARGV))
`)

// KEYS[1]=频道元数据 KEYS[2]=成员集合 KEYS[3]=角色, ARGV[1]=成员 ARGV[2]=角色
var setRoleScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 0 then
	return -2
end
return redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
`)

// RedisProvider 基于 Redis 的频道注册表
// chat:channel:{id}          -> hash (created_by, created_at)
// chat:channel:{id}:members  -> set
// chat:channel:{id}:roles    -> hash member -> role
type RedisProvider struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisProvider 创建 Redis 频道后端
func NewRedisProvider(rdb *redis.Client, keyPrefix string) *RedisProvider {
	if keyPrefix == "" {
		keyPrefix = "chat:channel:"
	}
	return &RedisProvider{rdb: rdb, prefix: keyPrefix}
}

func (p *RedisProvider) metaKey(id string) string {
	// hash tag 保证同一频道的 key 落在同一 slot
	return p.prefix + "{" + id + "}"
}

func (p *RedisProvider) membersKey(id string) string {
	return p.metaKey(id) + ":members"
}

func (p *RedisProvider) rolesKey(id string) string {
	return p.metaKey(id) + ":roles"
}

// CreateChannel 创建频道，已存在时直接返回现有频道
func (p *RedisProvider) CreateChannel(ctx context.Context, channelID string, members []string, createdBy string) (*Handle, error) {
	if channelID == "" || len(members) == 0 {
		return nil, fmt.Errorf("%w: channel id and members are required", ErrProviderRejected)
	}

	meta := p.metaKey(channelID)
	pipe := p.rdb.TxPipeline()
	pipe.HSetNX(ctx, meta, "created_by", createdBy)
	pipe.HSetNX(ctx, meta, "created_at", strconv.FormatInt(time.Now().UnixMilli(), 10))
	pipe.SAdd(ctx, p.membersKey(channelID), toAny(members)...)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable(err)
	}

	return p.GetChannel(ctx, channelID)
}

// GetChannel 获取频道
func (p *RedisProvider) GetChannel(ctx context.Context, channelID string) (*Handle, error) {
	if channelID == "" {
		return nil, fmt.Errorf("%w: empty channel id", ErrProviderRejected)
	}

	pipe := p.rdb.Pipeline()
	metaCmd := pipe.HGetAll(ctx, p.metaKey(channelID))
	membersCmd := pipe.SMembers(ctx, p.membersKey(channelID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}

	meta := metaCmd.Val()
	if len(meta) == 0 {
		return nil, ErrChannelNotFound
	}

	members := membersCmd.Val()
	sort.Strings(members)

	h := &Handle{
		ID:        channelID,
		Members:   members,
		CreatedBy: meta["created_by"],
	}
	if ms, err := strconv.ParseInt(meta["created_at"], 10, 64); err == nil {
		h.CreatedAt = time.UnixMilli(ms)
	}
	return h, nil
}

// AddMembers 添加成员，已在频道内的成员忽略
func (p *RedisProvider) AddMembers(ctx context.Context, channelID string, members []string) error {
	if len(members) == 0 {
		return nil
	}
	keys := []string{p.metaKey(channelID), p.membersKey(channelID)}
	return p.runScript(ctx, addMembersScript, keys, toAny(members)...)
}

// RemoveMembers 移除成员，不在频道内的成员忽略
func (p *RedisProvider) RemoveMembers(ctx context.Context, channelID string, members []string) error {
	if len(members) == 0 {
		return nil
	}
	keys := []string{p.metaKey(channelID), p.membersKey(channelID), p.rolesKey(channelID)}
	return p.runScript(ctx, removeMembersScript, keys, toAny(members)...)
}

// SetMemberRole 设置成员在频道中的展示角色
func (p *RedisProvider) SetMemberRole(ctx context.Context, channelID, member, role string) error {
	if member == "" || role == "" {
		return fmt.Errorf("%w: member and role are required", ErrProviderRejected)
	}
	keys := []string{p.metaKey(channelID), p.membersKey(channelID), p.rolesKey(channelID)}
	return p.runScript(ctx, setRoleScript, keys, member, role)
}

// Ping 检查 Redis 连通性
func (p *RedisProvider) Ping(ctx context.Context) error {
	if err := p.rdb.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Close Redis 客户端由调用方持有，这里不关闭
func (p *RedisProvider) Close() error {
	return nil
}

func (p *RedisProvider) runScript(ctx context.Context, script *redis.Script, keys []string, args ...any) error {
	n, err := script.Run(ctx, p.rdb, keys, args...).Int64()
	if err != nil {
		return unavailable(err)
	}
	switch n {
	case -1:
		return ErrChannelNotFound
	case -2:
		return fmt.Errorf("%w: not a channel member", ErrProviderRejected)
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
