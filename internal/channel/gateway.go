package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"sudooom.market.chat/internal/metrics"
	"sudooom.market.chat/internal/model"
)

const (
	channelIDPrefix = "chat-room-"
	defaultTimeout  = 8 * time.Second
)

// ChannelID 由聊天室 ID 推导频道 ID（与成员无关）
func ChannelID(roomID int64) string {
	return channelIDPrefix + strconv.FormatInt(roomID, 10)
}

// MemberID 用户在频道服务中的外部 ID
func MemberID(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// MemberIDs 批量转换
func MemberIDs(userIDs []int64) []string {
	out := make([]string, len(userIDs))
	for i, id := range userIDs {
		out[i] = MemberID(id)
	}
	return out
}

// UserToken 客户端直连频道服务的凭证
type UserToken struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"userId,string"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Gateway 频道服务网关
// 每次调用都有超时上限，超时统一返回 ErrProviderUnavailable
type Gateway struct {
	provider Provider
	tokens   *TokenIssuer
	timeout  time.Duration
	logger   *slog.Logger
	closed   atomic.Bool
}

// NewGateway 创建频道网关
func NewGateway(provider Provider, tokens *TokenIssuer, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Gateway{
		provider: provider,
		tokens:   tokens,
		timeout:  timeout,
		logger:   slog.Default(),
	}
}

// Init 启动时检查频道服务可用
func (g *Gateway) Init(ctx context.Context) error {
	if err := g.call(ctx, "ping", g.provider.Ping); err != nil {
		return err
	}
	g.logger.Info("Channel gateway initialized", "timeout", g.timeout)
	return nil
}

// Shutdown 关闭网关，之后的调用返回 ErrProviderUnavailable
func (g *Gateway) Shutdown(ctx context.Context) error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- g.provider.Close() }()

	select {
	case err := <-done:
		g.logger.Info("Channel gateway shut down")
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping 健康检查
func (g *Gateway) Ping(ctx context.Context) error {
	return g.call(ctx, "ping", g.provider.Ping)
}

// CreateChannel 幂等创建频道
func (g *Gateway) CreateChannel(ctx context.Context, channelID string, members []int64, createdBy int64) (*Handle, error) {
	var h *Handle
	err := g.call(ctx, "create", func(ctx context.Context) error {
		var err error
		h, err = g.provider.CreateChannel(ctx, channelID, MemberIDs(members), MemberID(createdBy))
		return err
	})
	return h, err
}

// GetChannel 获取频道，不存在返回 ErrChannelNotFound
func (g *Gateway) GetChannel(ctx context.Context, channelID string) (*Handle, error) {
	var h *Handle
	err := g.call(ctx, "get", func(ctx context.Context) error {
		var err error
		h, err = g.provider.GetChannel(ctx, channelID)
		return err
	})
	return h, err
}

// AddMembers 添加频道成员
func (g *Gateway) AddMembers(ctx context.Context, channelID string, userIDs []int64) error {
	return g.call(ctx, "add_members", func(ctx context.Context) error {
		return g.provider.AddMembers(ctx, channelID, MemberIDs(userIDs))
	})
}

// RemoveMembers 移除频道成员
func (g *Gateway) RemoveMembers(ctx context.Context, channelID string, userIDs []int64) error {
	return g.call(ctx, "remove_members", func(ctx context.Context) error {
		return g.provider.RemoveMembers(ctx, channelID, MemberIDs(userIDs))
	})
}

// SetMemberRole 同步成员展示角色
func (g *Gateway) SetMemberRole(ctx context.Context, channelID string, userID int64, role model.MemberRole) error {
	return g.call(ctx, "set_role", func(ctx context.Context) error {
		return g.provider.SetMemberRole(ctx, channelID, MemberID(userID), string(role))
	})
}

// IssueUserToken 签发用户 Token（本地签名，不访问频道服务）
func (g *Gateway) IssueUserToken(userID int64) (*UserToken, error) {
	if g.closed.Load() {
		return nil, ErrProviderUnavailable
	}
	token, expiresAt, err := g.tokens.Issue(MemberID(userID))
	if err != nil {
		metrics.ChannelOps.WithLabelValues("issue_token", "error").Inc()
		return nil, err
	}
	metrics.ChannelOps.WithLabelValues("issue_token", "ok").Inc()
	return &UserToken{Token: token, UserID: userID, ExpiresAt: expiresAt}, nil
}

// EnsureChannel 以聊天室为准修复频道：不存在则创建，成员不一致则补齐/剔除
func (g *Gateway) EnsureChannel(ctx context.Context, room *model.Room) (*Handle, error) {
	channelID := ChannelID(room.ID)
	memberIDs := room.MemberIDs()

	h, err := g.GetChannel(ctx, channelID)
	if errors.Is(err, ErrChannelNotFound) {
		g.logger.Info("Channel missing, recreating from room", "roomId", room.ID, "channelId", channelID)
		return g.CreateChannel(ctx, channelID, memberIDs, room.CreatedBy)
	}
	if err != nil {
		return nil, err
	}

	want := MemberIDs(memberIDs)
	missing, extra := diffMembers(want, h.Members)
	if len(missing) == 0 && len(extra) == 0 {
		return h, nil
	}

	g.logger.Info("Reconciling channel members",
		"roomId", room.ID,
		"missing", len(missing),
		"extra", len(extra),
	)
	if len(missing) > 0 {
		if err := g.call(ctx, "add_members", func(ctx context.Context) error {
			return g.provider.AddMembers(ctx, channelID, missing)
		}); err != nil {
			return nil, err
		}
	}
	if len(extra) > 0 {
		if err := g.call(ctx, "remove_members", func(ctx context.Context) error {
			return g.provider.RemoveMembers(ctx, channelID, extra)
		}); err != nil {
			return nil, err
		}
	}

	sort.Strings(want)
	h.Members = want
	return h, nil
}

// call 统一超时、错误归类和指标
func (g *Gateway) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if g.closed.Load() {
		metrics.ChannelOps.WithLabelValues(op, "unavailable").Inc()
		return fmt.Errorf("%w: gateway closed", ErrProviderUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	metrics.ChannelLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrProviderUnavailable) {
		err = fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, op, ctx.Err())
	}
	metrics.ChannelOps.WithLabelValues(op, outcome(err)).Inc()
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrChannelNotFound):
		return "not_found"
	case errors.Is(err, ErrProviderRejected):
		return "rejected"
	case errors.Is(err, ErrProviderUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// diffMembers want-have 为缺失成员，have-want 为多余成员
func diffMembers(want, have []string) (missing, extra []string) {
	haveSet := make(map[string]struct{}, len(have))
	for _, m := range have {
		haveSet[m] = struct{}{}
	}
	wantSet := make(map[string]struct{}, len(want))
	for _, m := range want {
		wantSet[m] = struct{}{}
		if _, ok := haveSet[m]; !ok {
			missing = append(missing, m)
		}
	}
	for _, m := range have {
		if _, ok := wantSet[m]; !ok {
			extra = append(extra, m)
		}
	}
	return missing, extra
}
