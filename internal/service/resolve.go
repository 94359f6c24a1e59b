package service

import (
	"context"
	"errors"
	"time"

	"sudooom.market.chat/internal/channel"
	"sudooom.market.chat/internal/metrics"
	"sudooom.market.chat/internal/model"
	"sudooom.market.chat/internal/repository"
	appErrors "sudooom.market.chat/pkg/errors"
)

// PrivateChatResult 私聊查找或创建结果
type PrivateChatResult struct {
	Room    *model.Room
	Channel *channel.Handle
	IsNew   bool
}

// OpenPrivateChat 返回两人之间唯一的活跃私聊，不存在时创建
// 并发请求下同一对用户只会创建一个聊天室
func (s *ChatService) OpenPrivateChat(ctx context.Context, initiator, recipient int64) (*PrivateChatResult, error) {
	if initiator <= 0 || recipient <= 0 {
		return nil, appErrors.ErrInvalidParams.WithMessage("invalid user id")
	}
	if initiator == recipient {
		return nil, appErrors.ErrCannotChatSelf
	}

	// 1. 双方用户必须存在
	if _, _, err := s.users.GetPair(ctx, initiator, recipient); err != nil {
		return nil, s.storeErr("get_users", err)
	}

	res, err := s.findOrCreatePrivate(ctx, initiator, recipient)
	if appErrors.Is(err, appErrors.ErrRoomConflict) {
		// 冲突的胜者在读取前已被删除，整体重试一次
		s.logger.Info("Private chat race winner gone, retrying", "pair", model.PairKey(initiator, recipient))
		res, err = s.findOrCreatePrivate(ctx, initiator, recipient)
	}
	if appErrors.Is(err, appErrors.ErrRoomConflict) {
		return nil, appErrors.ErrServerError.Wrap(err)
	}
	return res, err
}

// findOrCreatePrivate 查找或创建私聊
// 唯一索引冲突且读不到胜者时返回 ErrRoomConflict，由调用方重试
func (s *ChatService) findOrCreatePrivate(ctx context.Context, initiator, recipient int64) (*PrivateChatResult, error) {
	// 2. 已存在直接返回，顺带修复频道
	room, err := s.rooms.FindActivePrivateRoom(ctx, initiator, recipient)
	if err != nil {
		return nil, s.storeErr("find_private", err)
	}
	if room != nil {
		return s.existingPrivate(ctx, room), nil
	}

	// 3. 按用户对加锁；锁不可用时依赖唯一索引兜底
	unlock, err := s.locker.Lock(ctx, initiator, recipient)
	if err != nil {
		if ctx.Err() != nil {
			return nil, appErrors.ErrServerError.Wrap(ctx.Err())
		}
		s.logger.Warn("Pair lock unavailable, relying on unique index",
			"pair", model.PairKey(initiator, recipient),
			"error", err,
		)
		unlock = func() {}
	}
	defer unlock()

	// 4. 锁内再查一次
	room, err = s.rooms.FindActivePrivateRoom(ctx, initiator, recipient)
	if err != nil {
		return nil, s.storeErr("find_private", err)
	}
	if room != nil {
		return s.existingPrivate(ctx, room), nil
	}

	// 5. 创建聊天室
	id, err := s.ids.Generate()
	if err != nil {
		return nil, appErrors.ErrServerError.Wrap(err)
	}
	now := time.Now()
	room = &model.Room{
		ID:        id.Int64(),
		Type:      model.RoomTypePrivate,
		CreatedBy: initiator,
		Status:    model.RoomStatusActive,
		IsActive:  true,
		Members: []model.Member{
			{UserID: initiator, Role: model.RoleMember, JoinedAt: now},
			{UserID: recipient, Role: model.RoleMember, JoinedAt: now},
		},
	}
	room.Touch(now)

	if err := s.rooms.Create(ctx, room); err != nil {
		if errors.Is(err, repository.ErrPrivateRoomExists) {
			return s.lostRace(ctx, initiator, recipient)
		}
		return nil, s.storeErr("create_private", err)
	}
	metrics.RoomsCreated.WithLabelValues(string(model.RoomTypePrivate)).Inc()

	// 6. 创建频道；失败时聊天室照常返回，频道在下次访问时补建
	h, err := s.gateway.CreateChannel(ctx, channel.ChannelID(room.ID), room.MemberIDs(), initiator)
	if err != nil {
		s.syncFailed("create", room.ID, err)
		h = nil
	}

	s.logger.Info("Private chat created",
		"roomId", room.ID,
		"initiator", initiator,
		"recipient", recipient,
	)
	s.notify(ctx, room.MemberIDs(), &model.Event{
		Type:   model.EventRoomCreated,
		RoomID: room.ID,
		Actor:  initiator,
	})

	s.populateProfiles(ctx, room)
	return &PrivateChatResult{Room: room, Channel: h, IsNew: true}, nil
}

// lostRace 唯一索引冲突，说明其他请求已创建，返回胜者
func (s *ChatService) lostRace(ctx context.Context, a, b int64) (*PrivateChatResult, error) {
	metrics.PrivateRaceLost.Inc()

	winner, err := s.rooms.FindActivePrivateRoom(ctx, a, b)
	if err != nil {
		return nil, s.storeErr("find_private", err)
	}
	if winner == nil {
		return nil, appErrors.ErrRoomConflict
	}
	s.logger.Info("Lost private chat creation race", "roomId", winner.ID, "pair", model.PairKey(a, b))
	return s.existingPrivate(ctx, winner), nil
}

func (s *ChatService) existingPrivate(ctx context.Context, room *model.Room) *PrivateChatResult {
	h := s.ensureChannel(ctx, room)
	s.populateProfiles(ctx, room)
	return &PrivateChatResult{Room: room, Channel: h, IsNew: false}
}
