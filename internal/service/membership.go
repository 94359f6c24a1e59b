package service

import (
	"context"
	"errors"
	"time"

	"sudooom.market.chat/internal/channel"
	"sudooom.market.chat/internal/model"
	"sudooom.market.chat/internal/repository"
	appErrors "sudooom.market.chat/pkg/errors"
)

// 成员变更的校验函数都只依赖聊天室快照：先对读到的快照校验一次，
// 写入时存储层在行锁内对最新快照再校验一次。

// AddMembers 管理员/版主向群聊或社区添加成员
// 先写存储，频道同步失败只记录漂移
func (s *ChatService) AddMembers(ctx context.Context, actor, roomID int64, targetIDs []int64) (*model.Room, error) {
	if len(targetIDs) == 0 {
		return nil, appErrors.ErrInvalidParams.WithMessage("memberIds is required")
	}

	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	newIDs, err := s.planAdd(room, actor, targetIDs)
	if err != nil {
		return nil, err
	}

	profiles, err := s.users.GetProfiles(ctx, newIDs)
	if err != nil {
		return nil, s.storeErr("get_users", err)
	}
	for _, id := range newIDs {
		if _, ok := profiles[id]; !ok {
			return nil, appErrors.ErrUserNotFound
		}
	}

	now := time.Now()
	members := make([]model.Member, 0, len(newIDs))
	for _, id := range newIDs {
		members = append(members, model.Member{UserID: id, Role: model.RoleMember, JoinedAt: now})
	}

	updated, err := s.rooms.AddMembers(ctx, roomID, members, func(current *model.Room) error {
		_, err := s.planAdd(current, actor, newIDs)
		return err
	})
	if err != nil {
		return nil, s.storeErr("add_members", err)
	}

	if err := s.gateway.AddMembers(ctx, channel.ChannelID(roomID), newIDs); err != nil {
		if errors.Is(err, channel.ErrChannelNotFound) {
			s.ensureChannel(ctx, updated)
		} else {
			s.syncFailed("add_members", roomID, err)
		}
	}

	s.logger.Info("Members added", "roomId", roomID, "actor", actor, "added", newIDs)
	s.notify(ctx, updated.MemberIDs(), &model.Event{
		Type:   model.EventRoomMembersAdded,
		RoomID: roomID,
		Actor:  actor,
		Data:   model.MembersChange{UserIDs: newIDs},
	})

	s.populateProfiles(ctx, updated)
	return updated, nil
}

// RemoveMembers 管理员/版主移除成员，移除后不得低于房间类型的下限
func (s *ChatService) RemoveMembers(ctx context.Context, actor, roomID int64, targetIDs []int64) (*model.Room, error) {
	if len(targetIDs) == 0 {
		return nil, appErrors.ErrInvalidParams.WithMessage("memberIds is required")
	}

	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	removeIDs, err := s.planRemove(room, actor, targetIDs)
	if err != nil {
		return nil, err
	}

	return s.removeFromRoom(ctx, room.ID, actor, removeIDs, func(current *model.Room) error {
		_, err := s.planRemove(current, actor, removeIDs)
		return err
	})
}

// LeaveRoom 成员主动退出，约束与移除相同；私聊不能退出
func (s *ChatService) LeaveRoom(ctx context.Context, userID, roomID int64) (*model.Room, error) {
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	guard := func(current *model.Room) error {
		return s.planLeave(current, userID)
	}
	if err := guard(room); err != nil {
		return nil, err
	}
	return s.removeFromRoom(ctx, room.ID, userID, []int64{userID}, guard)
}

// UpdateMemberRole 修改成员角色
// 授予/变更管理员角色仅管理员可操作，最后一个管理员不能降级
func (s *ChatService) UpdateMemberRole(ctx context.Context, actor, roomID, target int64, role model.MemberRole) (*model.Room, error) {
	if !role.Valid() {
		return nil, appErrors.ErrInvalidParams.WithMessage("invalid role")
	}

	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	guard := func(current *model.Room) error {
		return s.planRoleChange(current, actor, target, role)
	}
	if err := guard(room); err != nil {
		return nil, err
	}

	updated, err := s.rooms.UpdateMemberRole(ctx, roomID, target, role, guard)
	if err != nil {
		return nil, s.storeErr("update_role", err)
	}

	// 角色以本地为准，频道侧只同步展示信息
	if err := s.gateway.SetMemberRole(ctx, channel.ChannelID(roomID), target, role); err != nil {
		s.syncFailed("set_role", roomID, err)
	}

	s.logger.Info("Member role changed", "roomId", roomID, "actor", actor, "target", target, "role", role)
	s.notify(ctx, updated.MemberIDs(), &model.Event{
		Type:   model.EventRoomRoleChanged,
		RoomID: roomID,
		Actor:  actor,
		Data:   model.RoleChange{UserID: target, Role: role},
	})

	s.populateProfiles(ctx, updated)
	return updated, nil
}

// removeFromRoom 移除成员并同步频道
func (s *ChatService) removeFromRoom(ctx context.Context, roomID, actor int64, removeIDs []int64, guard repository.MemberGuard) (*model.Room, error) {
	updated, err := s.rooms.RemoveMembers(ctx, roomID, removeIDs, guard)
	if err != nil {
		return nil, s.storeErr("remove_members", err)
	}

	if err := s.gateway.RemoveMembers(ctx, channel.ChannelID(roomID), removeIDs); err != nil {
		if errors.Is(err, channel.ErrChannelNotFound) {
			s.ensureChannel(ctx, updated)
		} else {
			s.syncFailed("remove_members", roomID, err)
		}
	}

	s.logger.Info("Members removed", "roomId", roomID, "actor", actor, "removed", removeIDs)
	s.notify(ctx, append(updated.MemberIDs(), removeIDs...), &model.Event{
		Type:   model.EventRoomMembersRemoved,
		RoomID: roomID,
		Actor:  actor,
		Data:   model.MembersChange{UserIDs: removeIDs},
	})

	s.populateProfiles(ctx, updated)
	return updated, nil
}

// planAdd 校验添加权限与容量，返回尚不在房间内的目标
func (s *ChatService) planAdd(room *model.Room, actor int64, targetIDs []int64) ([]int64, error) {
	if err := s.authorizeManage(room, actor); err != nil {
		return nil, err
	}
	if room.Type == model.RoomTypePrivate {
		return nil, appErrors.ErrInvalidOperation.WithMessage("private rooms have fixed membership")
	}

	// 去重、过滤自己，再与当前成员求差集
	var newIDs []int64
	for _, id := range normalizeTargets(targetIDs, actor) {
		if !room.IsMember(id) {
			newIDs = append(newIDs, id)
		}
	}
	if len(newIDs) == 0 {
		return nil, appErrors.ErrNoOp
	}
	if len(room.Members)+len(newIDs) > s.opts.MaxGroupMembers {
		return nil, appErrors.ErrInvalidOperation.WithMessage("room is full")
	}
	return newIDs, nil
}

// planRemove 校验移除权限与下限，返回实际在房间内的目标
func (s *ChatService) planRemove(room *model.Room, actor int64, targetIDs []int64) ([]int64, error) {
	actorMember := room.Member(actor)
	if actorMember == nil {
		return nil, appErrors.ErrForbidden.WithMessage("not a member of this room")
	}

	removeIDs := presentTargets(room, targetIDs)

	// 私聊成员固定为两人，任何实际移除都会破坏下限
	if room.Type == model.RoomTypePrivate {
		if len(removeIDs) == 0 {
			return nil, appErrors.ErrNoOp.WithMessage("none of the members are present")
		}
		return nil, appErrors.ErrInvalidOperation.WithMessage("private rooms must keep both members")
	}

	if !actorMember.Role.CanManage() {
		return nil, appErrors.ErrForbidden
	}
	if len(removeIDs) == 0 {
		return nil, appErrors.ErrNoOp.WithMessage("none of the members are present")
	}
	if actorMember.Role != model.RoleAdmin {
		for _, id := range removeIDs {
			if id != actor && room.Member(id).Role == model.RoleAdmin {
				return nil, appErrors.ErrForbidden.WithMessage("moderators cannot remove admins")
			}
		}
	}
	if err := s.checkRemoval(room, removeIDs); err != nil {
		return nil, err
	}
	return removeIDs, nil
}

// planLeave 校验主动退出
func (s *ChatService) planLeave(room *model.Room, userID int64) error {
	if !room.IsMember(userID) {
		return appErrors.ErrForbidden.WithMessage("not a member of this room")
	}
	if room.Type == model.RoomTypePrivate {
		return appErrors.ErrInvalidOperation.WithMessage("private rooms cannot be left, delete the chat instead")
	}
	return s.checkRemoval(room, []int64{userID})
}

// planRoleChange 校验角色变更
func (s *ChatService) planRoleChange(room *model.Room, actor, target int64, role model.MemberRole) error {
	if err := s.authorizeManage(room, actor); err != nil {
		return err
	}
	if room.Type == model.RoomTypePrivate {
		return appErrors.ErrInvalidOperation.WithMessage("private rooms have no roles")
	}

	targetMember := room.Member(target)
	if targetMember == nil {
		return appErrors.ErrUserNotFound.WithMessage("user is not a member of this room")
	}
	actorRole := room.Member(actor).Role
	if (role == model.RoleAdmin || targetMember.Role == model.RoleAdmin) && actorRole != model.RoleAdmin {
		return appErrors.ErrForbidden.WithMessage("only admins can grant or revoke admin")
	}
	if targetMember.Role == role {
		return appErrors.ErrNoOp.WithMessage("member already has this role")
	}
	if targetMember.Role == model.RoleAdmin && room.CountRole(model.RoleAdmin) <= 1 {
		return appErrors.ErrInvalidOperation.WithMessage("room must keep at least one admin")
	}
	return nil
}

// checkRemoval 移除后至少保留 MinGroupMembers 个成员且至少一个管理员
func (s *ChatService) checkRemoval(room *model.Room, removeIDs []int64) error {
	removing := make(map[int64]struct{}, len(removeIDs))
	for _, id := range removeIDs {
		removing[id] = struct{}{}
	}

	remaining, admins := 0, 0
	for _, m := range room.Members {
		if _, ok := removing[m.UserID]; ok {
			continue
		}
		remaining++
		if m.Role == model.RoleAdmin {
			admins++
		}
	}

	if remaining < s.opts.MinGroupMembers {
		return appErrors.ErrInvalidOperation.WithMessage("room would drop below its minimum member count")
	}
	if admins == 0 {
		return appErrors.ErrInvalidOperation.WithMessage("room must keep at least one admin")
	}
	return nil
}

// authorizeManage 操作者必须是管理员或版主
func (s *ChatService) authorizeManage(room *model.Room, actor int64) error {
	m := room.Member(actor)
	if m == nil || !m.Role.CanManage() {
		return appErrors.ErrForbidden
	}
	return nil
}

// normalizeTargets 去重，过滤非法 ID 和操作者本人，保持原有顺序
func normalizeTargets(ids []int64, actor int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || id == actor {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// presentTargets 目标中当前仍在房间内的成员（去重）
func presentTargets(room *model.Room, ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	var out []int64
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if room.IsMember(id) {
			out = append(out, id)
		}
	}
	return out
}
