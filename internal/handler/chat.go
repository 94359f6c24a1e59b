package handler

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/gin-gonic/gin"

	"sudooom.market.chat/internal/channel"
	"sudooom.market.chat/internal/middleware"
	"sudooom.market.chat/internal/model"
	"sudooom.market.chat/internal/service"
	appErrors "sudooom.market.chat/pkg/errors"
	"sudooom.market.chat/pkg/response"
	"sudooom.market.chat/pkg/snowflake"
)

// ChatService 聊天室业务
type ChatService interface {
	OpenPrivateChat(ctx context.Context, initiator, recipient int64) (*service.PrivateChatResult, error)
	CreateRoom(ctx context.Context, creator int64, req service.CreateRoomRequest) (*service.RoomResult, error)
	GetRoom(ctx context.Context, actor, roomID int64) (*service.RoomResult, error)
	ListRooms(ctx context.Context, userID int64) ([]*model.Room, error)
	DeleteRoom(ctx context.Context, actor int64, platformAdmin bool, roomID int64) error
	AddMembers(ctx context.Context, actor, roomID int64, targetIDs []int64) (*model.Room, error)
	RemoveMembers(ctx context.Context, actor, roomID int64, targetIDs []int64) (*model.Room, error)
	LeaveRoom(ctx context.Context, userID, roomID int64) (*model.Room, error)
	UpdateMemberRole(ctx context.Context, actor, roomID, target int64, role model.MemberRole) (*model.Room, error)
	IssueChannelToken(ctx context.Context, userID int64) (*channel.UserToken, error)
}

// IDList 接受字符串或数字形式的 ID 数组
type IDList []int64

func (l *IDList) UnmarshalJSON(data []byte) error {
	var raw []json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ids := make([]int64, 0, len(raw))
	for _, n := range raw {
		id, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	*l = ids
	return nil
}

// OpenPrivateChatRequest 发起私聊请求
type OpenPrivateChatRequest struct {
	RecipientID json.Number `json:"recipientId" binding:"required"`
}

// CreateRoomRequest 创建群聊/社区请求
type CreateRoomRequest struct {
	Type        model.RoomType `json:"type" binding:"required"`
	Name        string         `json:"name" binding:"required"`
	Description string         `json:"description"`
	MemberIDs   IDList         `json:"memberIds"`
}

// MembersRequest 成员变更请求
type MembersRequest struct {
	MemberIDs IDList `json:"memberIds" binding:"required"`
}

// UpdateRoleRequest 修改角色请求
type UpdateRoleRequest struct {
	Role model.MemberRole `json:"role" binding:"required"`
}

// PrivateChatResponse 私聊响应
type PrivateChatResponse struct {
	Chat       *model.Room     `json:"chat"`
	StreamChat *channel.Handle `json:"streamChat"`
	IsNew      bool            `json:"isNew"`
}

// RoomResponse 聊天室响应，频道暂不可用时 streamChat 为 null
type RoomResponse struct {
	Chat       *model.Room     `json:"chat"`
	StreamChat *channel.Handle `json:"streamChat"`
}

// ChatHandler 聊天室处理器
type ChatHandler struct {
	chatService ChatService
}

// NewChatHandler 创建聊天室处理器
func NewChatHandler(chatService ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// OpenPrivateChat 获取或创建私聊
// POST /api/v1/chat/private
func (h *ChatHandler) OpenPrivateChat(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var req OpenPrivateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}
	recipientID, err := strconv.ParseInt(req.RecipientID.String(), 10, 64)
	if err != nil {
		response.InvalidParams(c, "invalid recipientId")
		return
	}

	result, err := h.chatService.OpenPrivateChat(c.Request.Context(), userID, recipientID)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	body := PrivateChatResponse{Chat: result.Room, StreamChat: result.Channel, IsNew: result.IsNew}
	if result.IsNew {
		response.Created(c, body)
		return
	}
	response.Success(c, body)
}

// CreateRoom 创建群聊或社区
// POST /api/v1/chat/room
func (h *ChatHandler) CreateRoom(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	result, err := h.chatService.CreateRoom(c.Request.Context(), userID, service.CreateRoomRequest{
		Type:        req.Type,
		Name:        req.Name,
		Description: req.Description,
		MemberIDs:   req.MemberIDs,
	})
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Created(c, RoomResponse{Chat: result.Room, StreamChat: result.Channel})
}

// ListRooms 当前用户的聊天室
// GET /api/v1/chat/rooms
func (h *ChatHandler) ListRooms(c *gin.Context) {
	userID := middleware.GetUserID(c)

	rooms, err := h.chatService.ListRooms(c.Request.Context(), userID)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, gin.H{"list": rooms})
}

// GetRoom 聊天室详情
// GET /api/v1/chat/room/:roomId
func (h *ChatHandler) GetRoom(c *gin.Context) {
	roomID, ok := pathID(c, "roomId")
	if !ok {
		return
	}

	result, err := h.chatService.GetRoom(c.Request.Context(), middleware.GetUserID(c), roomID)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, RoomResponse{Chat: result.Room, StreamChat: result.Channel})
}

// DeleteRoom 删除聊天室
// DELETE /api/v1/chat/room/:roomId
func (h *ChatHandler) DeleteRoom(c *gin.Context) {
	roomID, ok := pathID(c, "roomId")
	if !ok {
		return
	}

	identity := middleware.GetIdentity(c)
	if err := h.chatService.DeleteRoom(c.Request.Context(), identity.UserID, identity.IsAdmin(), roomID); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, nil)
}

// AddMembers 添加成员
// POST /api/v1/chat/room/:roomId/members
func (h *ChatHandler) AddMembers(c *gin.Context) {
	h.changeMembers(c, h.chatService.AddMembers)
}

// RemoveMembers 移除成员
// DELETE /api/v1/chat/room/:roomId/members
func (h *ChatHandler) RemoveMembers(c *gin.Context) {
	h.changeMembers(c, h.chatService.RemoveMembers)
}

func (h *ChatHandler) changeMembers(c *gin.Context, op func(ctx context.Context, actor, roomID int64, targetIDs []int64) (*model.Room, error)) {
	roomID, ok := pathID(c, "roomId")
	if !ok {
		return
	}

	var req MembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	room, err := op(c.Request.Context(), middleware.GetUserID(c), roomID, req.MemberIDs)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, room)
}

// UpdateMemberRole 修改成员角色
// PATCH /api/v1/chat/room/:roomId/members/:userId/role
func (h *ChatHandler) UpdateMemberRole(c *gin.Context) {
	roomID, ok := pathID(c, "roomId")
	if !ok {
		return
	}
	targetID, ok := pathID(c, "userId")
	if !ok {
		return
	}

	var req UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	room, err := h.chatService.UpdateMemberRole(c.Request.Context(), middleware.GetUserID(c), roomID, targetID, req.Role)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, room)
}

// LeaveRoom 退出聊天室
// POST /api/v1/chat/room/:roomId/leave
func (h *ChatHandler) LeaveRoom(c *gin.Context) {
	roomID, ok := pathID(c, "roomId")
	if !ok {
		return
	}

	room, err := h.chatService.LeaveRoom(c.Request.Context(), middleware.GetUserID(c), roomID)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, room)
}

// IssueChannelToken 签发频道服务用户凭证
// GET /api/v1/chat/token
func (h *ChatHandler) IssueChannelToken(c *gin.Context) {
	token, err := h.chatService.IssueChannelToken(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, token)
}

// pathID 解析路径中的 ID，失败时已写入 400 响应
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := snowflake.ParseString(c.Param(name))
	if err != nil || id <= 0 {
		response.ErrorFromAppError(c, appErrors.ErrInvalidParams.WithMessage("invalid "+name))
		return 0, false
	}
	return id.Int64(), true
}
