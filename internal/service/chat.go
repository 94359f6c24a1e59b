package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"sudooom.market.chat/internal/channel"
	"sudooom.market.chat/internal/metrics"
	"sudooom.market.chat/internal/model"
	"sudooom.market.chat/internal/repository"
	appErrors "sudooom.market.chat/pkg/errors"
	"sudooom.market.chat/pkg/snowflake"
)

// RoomStore 聊天室存储，成员数由存储层重算
// 成员写操作的 guard 在存储层行锁内针对最新状态执行
type RoomStore interface {
	FindActivePrivateRoom(ctx context.Context, a, b int64) (*model.Room, error)
	Create(ctx context.Context, room *model.Room) error
	GetByID(ctx context.Context, id int64) (*model.Room, error)
	AddMembers(ctx context.Context, roomID int64, members []model.Member, guard repository.MemberGuard) (*model.Room, error)
	RemoveMembers(ctx context.Context, roomID int64, userIDs []int64, guard repository.MemberGuard) (*model.Room, error)
	UpdateMemberRole(ctx context.Context, roomID, userID int64, role model.MemberRole, guard repository.MemberGuard) (*model.Room, error)
	SoftDelete(ctx context.Context, roomID int64) error
	ListByUser(ctx context.Context, userID int64) ([]*model.Room, error)
	ListUndersized(ctx context.Context, minGroupMembers, limit int) ([]*model.Room, error)
}

// UserDirectory 用户目录
type UserDirectory interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetPair(ctx context.Context, a, b int64) (*model.User, *model.User, error)
	GetProfiles(ctx context.Context, ids []int64) (map[int64]*model.User, error)
}

// ChannelGateway 频道服务网关
type ChannelGateway interface {
	CreateChannel(ctx context.Context, channelID string, members []int64, createdBy int64) (*channel.Handle, error)
	AddMembers(ctx context.Context, channelID string, userIDs []int64) error
	RemoveMembers(ctx context.Context, channelID string, userIDs []int64) error
	SetMemberRole(ctx context.Context, channelID string, userID int64, role model.MemberRole) error
	EnsureChannel(ctx context.Context, room *model.Room) (*channel.Handle, error)
	IssueUserToken(userID int64) (*channel.UserToken, error)
}

// PairLocker 按无序用户对加锁，返回的 unlock 必须调用
type PairLocker interface {
	Lock(ctx context.Context, a, b int64) (unlock func(), err error)
}

// Notifier 推送事件到用户个人房间
type Notifier interface {
	NotifyUsers(ctx context.Context, userIDs []int64, event *model.Event) error
}

// Options 业务参数
type Options struct {
	MinGroupMembers int
	MaxGroupMembers int
}

// ChatService 聊天室生命周期与成员管理
type ChatService struct {
	rooms    RoomStore
	users    UserDirectory
	gateway  ChannelGateway
	locker   PairLocker
	notifier Notifier
	ids      *snowflake.Node
	opts     Options
	logger   *slog.Logger
}

// NewChatService 创建聊天服务，notifier 可为 nil
func NewChatService(
	rooms RoomStore,
	users UserDirectory,
	gateway ChannelGateway,
	locker PairLocker,
	notifier Notifier,
	ids *snowflake.Node,
	opts Options,
) *ChatService {
	if opts.MinGroupMembers < 1 {
		opts.MinGroupMembers = 1
	}
	if opts.MaxGroupMembers < opts.MinGroupMembers {
		opts.MaxGroupMembers = 500
	}
	if locker == nil {
		locker = NewLocalPairLocker()
	}
	return &ChatService{
		rooms:    rooms,
		users:    users,
		gateway:  gateway,
		locker:   locker,
		notifier: notifier,
		ids:      ids,
		opts:     opts,
		logger:   slog.Default(),
	}
}

// loadRoom 读取活跃聊天室
func (s *ChatService) loadRoom(ctx context.Context, roomID int64) (*model.Room, error) {
	if roomID <= 0 {
		return nil, appErrors.ErrInvalidParams.WithMessage("invalid room id")
	}
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, s.storeErr("get_room", err)
	}
	return room, nil
}

// populateProfiles 填充成员资料，失败只记录日志
func (s *ChatService) populateProfiles(ctx context.Context, room *model.Room) {
	profiles, err := s.users.GetProfiles(ctx, room.MemberIDs())
	if err != nil {
		s.logger.Warn("Failed to load member profiles", "roomId", room.ID, "error", err)
		return
	}
	for i := range room.Members {
		room.Members[i].Profile = profiles[room.Members[i].UserID]
	}
}

// ensureChannel 读路径上的频道修复，失败不影响调用方
func (s *ChatService) ensureChannel(ctx context.Context, room *model.Room) *channel.Handle {
	h, err := s.gateway.EnsureChannel(ctx, room)
	if err != nil {
		s.syncFailed("ensure", room.ID, err)
		return nil
	}
	return h
}

// syncFailed 频道同步失败按漂移处理，下次读取时修复
func (s *ChatService) syncFailed(op string, roomID int64, err error) {
	metrics.ChannelSyncFailures.WithLabelValues(op).Inc()
	s.logger.Warn("Channel sync failed, leaving drift for reconciliation",
		"op", op,
		"roomId", roomID,
		"error", err,
	)
}

// notify 推送事件，失败只记录日志
func (s *ChatService) notify(ctx context.Context, userIDs []int64, event *model.Event) {
	if s.notifier == nil || len(userIDs) == 0 {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if err := s.notifier.NotifyUsers(ctx, userIDs, event); err != nil {
		s.logger.Warn("Failed to notify users", "type", event.Type, "roomId", event.RoomID, "error", err)
	}
}

// storeErr 存储错误归类，未知错误按 5xx 返回
func (s *ChatService) storeErr(op string, err error) error {
	// guard 拒绝的业务错误原样返回
	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, repository.ErrRoomNotFound):
		return appErrors.ErrRoomNotFound
	case errors.Is(err, repository.ErrUserNotFound):
		return appErrors.ErrUserNotFound
	case errors.Is(err, repository.ErrMemberNotFound):
		return appErrors.ErrUserNotFound.WithMessage("user is not a member of this room")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return appErrors.ErrServerError.Wrap(err)
	}
	s.logger.Error("Room store failure", "op", op, "error", err)
	return appErrors.ErrDBError.Wrap(err)
}

// providerErr 频道服务错误归类
func providerErr(err error) error {
	if errors.Is(err, channel.ErrProviderRejected) {
		return appErrors.ErrProviderRejected.Wrap(err)
	}
	return appErrors.ErrProviderUnavailable.Wrap(err)
}
