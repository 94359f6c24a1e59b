package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"sudooom.market.chat/internal/channel"
	"sudooom.market.chat/internal/metrics"
	"sudooom.market.chat/internal/model"
	appErrors "sudooom.market.chat/pkg/errors"
)

const maxRoomNameLength = 128

// CreateRoomRequest 创建群聊/社区请求
type CreateRoomRequest struct {
	Type        model.RoomType
	Name        string
	Description string
	MemberIDs   []int64
}

// RoomResult 聊天室及其频道
type RoomResult struct {
	Room    *model.Room
	Channel *channel.Handle
}

// CreateRoom 创建群聊或社区，创建者为管理员
func (s *ChatService) CreateRoom(ctx context.Context, creator int64, req CreateRoomRequest) (*RoomResult, error) {
	if req.Type != model.RoomTypeGroup && req.Type != model.RoomTypeCommunity {
		return nil, appErrors.ErrInvalidParams.WithMessage("room type must be group or community")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > maxRoomNameLength {
		return nil, appErrors.ErrInvalidParams.WithMessage("room name is required and at most 128 characters")
	}

	invitees := normalizeTargets(req.MemberIDs, creator)
	if 1+len(invitees) > s.opts.MaxGroupMembers {
		return nil, appErrors.ErrInvalidOperation.WithMessage("too many members")
	}

	all := append([]int64{creator}, invitees...)
	profiles, err := s.users.GetProfiles(ctx, all)
	if err != nil {
		return nil, s.storeErr("get_users", err)
	}
	for _, id := range all {
		if _, ok := profiles[id]; !ok {
			return nil, appErrors.ErrUserNotFound
		}
	}

	id, err := s.ids.Generate()
	if err != nil {
		return nil, appErrors.ErrServerError.Wrap(err)
	}
	now := time.Now()
	room := &model.Room{
		ID:          id.Int64(),
		Type:        req.Type,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		CreatedBy:   creator,
		Status:      model.RoomStatusActive,
		IsActive:    true,
		Members:     []model.Member{{UserID: creator, Role: model.RoleAdmin, JoinedAt: now}},
	}
	for _, uid := range invitees {
		room.Members = append(room.Members, model.Member{UserID: uid, Role: model.RoleMember, JoinedAt: now})
	}
	room.Touch(now)

	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, s.storeErr("create_room", err)
	}
	metrics.RoomsCreated.WithLabelValues(string(room.Type)).Inc()

	h, err := s.gateway.CreateChannel(ctx, channel.ChannelID(room.ID), room.MemberIDs(), creator)
	if err != nil {
		s.syncFailed("create", room.ID, err)
		h = nil
	} else if err := s.gateway.SetMemberRole(ctx, h.ID, creator, model.RoleAdmin); err != nil {
		s.syncFailed("set_role", room.ID, err)
	}

	s.logger.Info("Room created", "roomId", room.ID, "type", room.Type, "creator", creator, "members", len(room.Members))
	s.notify(ctx, room.MemberIDs(), &model.Event{
		Type:   model.EventRoomCreated,
		RoomID: room.ID,
		Actor:  creator,
	})

	s.populateProfiles(ctx, room)
	return &RoomResult{Room: room, Channel: h}, nil
}

// GetRoom 读取聊天室，社区对所有人可见，其余仅成员可见
// 读取时顺带修复频道漂移
func (s *ChatService) GetRoom(ctx context.Context, actor, roomID int64) (*RoomResult, error) {
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsMember(actor) && room.Type != model.RoomTypeCommunity {
		return nil, appErrors.ErrForbidden.WithMessage("not a member of this room")
	}

	h := s.ensureChannel(ctx, room)
	s.populateProfiles(ctx, room)
	return &RoomResult{Room: room, Channel: h}, nil
}

// MemberIDs 成员列表，调用者必须是成员
// 只读存储，不修复频道也不加载资料
func (s *ChatService) MemberIDs(ctx context.Context, actor, roomID int64) ([]int64, error) {
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsMember(actor) {
		return nil, appErrors.ErrForbidden.WithMessage("not a member of this room")
	}
	return room.MemberIDs(), nil
}

// ListRooms 用户所在的聊天室
func (s *ChatService) ListRooms(ctx context.Context, userID int64) ([]*model.Room, error) {
	rooms, err := s.rooms.ListByUser(ctx, userID)
	if err != nil {
		return nil, s.storeErr("list_rooms", err)
	}
	if rooms == nil {
		rooms = []*model.Room{}
	}
	return rooms, nil
}

// DeleteRoom 逻辑删除聊天室
// 群聊/社区需要房间管理员或平台管理员；私聊任一成员可删除
func (s *ChatService) DeleteRoom(ctx context.Context, actor int64, platformAdmin bool, roomID int64) error {
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}

	if !platformAdmin {
		m := room.Member(actor)
		switch {
		case m == nil:
			return appErrors.ErrForbidden.WithMessage("not a member of this room")
		case room.Type != model.RoomTypePrivate && m.Role != model.RoleAdmin:
			return appErrors.ErrForbidden.WithMessage("only room admins can delete this room")
		}
	}

	if err := s.rooms.SoftDelete(ctx, roomID); err != nil {
		return s.storeErr("soft_delete", err)
	}

	if err := s.gateway.RemoveMembers(ctx, channel.ChannelID(roomID), room.MemberIDs()); err != nil {
		s.syncFailed("remove_members", roomID, err)
	}

	s.logger.Info("Room deleted", "roomId", roomID, "actor", actor, "platformAdmin", platformAdmin)
	s.notify(ctx, room.MemberIDs(), &model.Event{
		Type:   model.EventRoomDeleted,
		RoomID: roomID,
		Actor:  actor,
	})
	return nil
}

// IssueChannelToken 签发客户端直连频道服务的用户凭证
func (s *ChatService) IssueChannelToken(ctx context.Context, userID int64) (*channel.UserToken, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, s.storeErr("get_user", err)
	}
	token, err := s.gateway.IssueUserToken(userID)
	if err != nil {
		s.logger.Warn("Failed to issue channel token", "userId", userID, "error", err)
		return nil, providerErr(err)
	}
	return token, nil
}
