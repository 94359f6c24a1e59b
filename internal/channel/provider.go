package channel

import (
	"context"
	"errors"
	"time"
)

var (
	ErrChannelNotFound     = errors.New("channel not found")
	ErrProviderUnavailable = errors.New("channel provider unavailable")
	ErrProviderRejected    = errors.New("channel provider rejected request")
)

// Handle 频道快照
type Handle struct {
	ID        string    `json:"id"`
	Members   []string  `json:"members"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// Provider 实时消息频道服务后端
// CreateChannel 必须幂等；AddMembers/RemoveMembers 对已存在/不存在的成员不报错
type Provider interface {
	CreateChannel(ctx context.Context, channelID string, members []string, createdBy string) (*Handle, error)
	GetChannel(ctx context.Context, channelID string) (*Handle, error)
	AddMembers(ctx context.Context, channelID string, members []string) error
	RemoveMembers(ctx context.Context, channelID string, members []string) error
	SetMemberRole(ctx context.Context, channelID, member, role string) error
	Ping(ctx context.Context) error
	Close() error
}
