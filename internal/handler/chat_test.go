package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.market.chat/internal/channel"
	"sudooom.market.chat/internal/model"
	"sudooom.market.chat/internal/service"
	appErrors "sudooom.market.chat/pkg/errors"
)

// MockChatService 模拟 ChatService
type MockChatService struct {
	OpenPrivateChatFunc   func(ctx context.Context, initiator, recipient int64) (*service.PrivateChatResult, error)
	CreateRoomFunc        func(ctx context.Context, creator int64, req service.CreateRoomRequest) (*service.RoomResult, error)
	GetRoomFunc           func(ctx context.Context, actor, roomID int64) (*service.RoomResult, error)
	ListRoomsFunc         func(ctx context.Context, userID int64) ([]*model.Room, error)
	DeleteRoomFunc        func(ctx context.Context, actor int64, platformAdmin bool, roomID int64) error
	AddMembersFunc        func(ctx context.Context, actor, roomID int64, targetIDs []int64) (*model.Room, error)
	RemoveMembersFunc     func(ctx context.Context, actor, roomID int64, targetIDs []int64) (*model.Room, error)
	LeaveRoomFunc         func(ctx context.Context, userID, roomID int64) (*model.Room, error)
	UpdateMemberRoleFunc  func(ctx context.Context, actor, roomID, target int64, role model.MemberRole) (*model.Room, error)
	IssueChannelTokenFunc func(ctx context.Context, userID int64) (*channel.UserToken, error)
}

func (m *MockChatService) OpenPrivateChat(ctx context.Context, initiator, recipient int64) (*service.PrivateChatResult, error) {
	if m.OpenPrivateChatFunc != nil {
		return m.OpenPrivateChatFunc(ctx, initiator, recipient)
	}
	return nil, appErrors.ErrServerError
}

func (m *MockChatService) CreateRoom(ctx context.Context, creator int64, req service.CreateRoomRequest) (*service.RoomResult, error) {
	if m.CreateRoomFunc != nil {
		return m.CreateRoomFunc(ctx, creator, req)
	}
	return nil, appErrors.ErrServerError
}

func (m *MockChatService) GetRoom(ctx context.Context, actor, roomID int64) (*service.RoomResult, error) {
	if m.GetRoomFunc != nil {
		return m.GetRoomFunc(ctx, actor, roomID)
	}
	return nil, appErrors.ErrServerError
}

func (m *MockChatService) ListRooms(ctx context.Context, userID int64) ([]*model.Room, error) {
	if m.ListRoomsFunc != nil {
		return m.ListRoomsFunc(ctx, userID)
	}
	return []*model.Room{}, nil
}

func (m *MockChatService) DeleteRoom(ctx context.Context, actor int64, platformAdmin bool, roomID int64) error {
	if m.DeleteRoomFunc != nil {
		return m.DeleteRoomFunc(ctx, actor, platformAdmin, roomID)
	}
	return nil
}

func (m *MockChatService) AddMembers(ctx context.Context, actor, roomID int64, targetIDs []int64) (*model.Room, error) {
	if m.AddMembersFunc != nil {
		return m.AddMembersFunc(ctx, actor, roomID, targetIDs)
	}
	return nil, appErrors.ErrServerError
}

func (m *MockChatService) RemoveMembers(ctx context.Context, actor, roomID int64, targetIDs []int64) (*model.Room, error) {
	if m.RemoveMembersFunc != nil {
		return m.RemoveMembersFunc(ctx, actor, roomID, targetIDs)
	}
	return nil, appErrors.ErrServerError
}

func (m *MockChatService) LeaveRoom(ctx context.Context, userID, roomID int64) (*model.Room, error) {
	if m.LeaveRoomFunc != nil {
		return m.LeaveRoomFunc(ctx, userID, roomID)
	}
	return nil, appErrors.ErrServerError
}

func (m *MockChatService) UpdateMemberRole(ctx context.Context, actor, roomID, target int64, role model.MemberRole) (*model.Room, error) {
	if m.UpdateMemberRoleFunc != nil {
		return m.UpdateMemberRoleFunc(ctx, actor, roomID, target, role)
	}
	return nil, appErrors.ErrServerError
}

func (m *MockChatService) IssueChannelToken(ctx context.Context, userID int64) (*channel.UserToken, error) {
	if m.IssueChannelTokenFunc != nil {
		return m.IssueChannelTokenFunc(ctx, userID)
	}
	return nil, appErrors.ErrServerError
}

// APIResponse 用于解析响应体
type APIResponse struct {
	Code    int             `json:"code"`
	Kind    string          `json:"kind"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// setupTestRouter 注册路由并模拟已认证用户
func setupTestRouter(mock *MockChatService, userID int64, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Set("role", role)
		c.Next()
	})

	h := NewChatHandler(mock)
	r.POST("/chat/private", h.OpenPrivateChat)
	r.POST("/chat/room", h.CreateRoom)
	r.GET("/chat/rooms", h.ListRooms)
	r.GET("/chat/room/:roomId", h.GetRoom)
	r.DELETE("/chat/room/:roomId", h.DeleteRoom)
	r.POST("/chat/room/:roomId/members", h.AddMembers)
	r.DELETE("/chat/room/:roomId/members", h.RemoveMembers)
	r.PATCH("/chat/room/:roomId/members/:userId/role", h.UpdateMemberRole)
	r.POST("/chat/room/:roomId/leave", h.LeaveRoom)
	r.GET("/chat/token", h.IssueChannelToken)
	return r
}

func doRequest(t *testing.T, r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func privateRoom(id, a, b int64) *model.Room {
	return &model.Room{
		ID:       id,
		Type:     model.RoomTypePrivate,
		IsActive: true,
		Status:   model.RoomStatusActive,
		Members:  []model.Member{{UserID: a, Role: model.RoleMember}, {UserID: b, Role: model.RoleMember}},
	}
}

func TestChatHandler_OpenPrivateChat(t *testing.T) {
	isNew := true
	mock := &MockChatService{
		OpenPrivateChatFunc: func(ctx context.Context, initiator, recipient int64) (*service.PrivateChatResult, error) {
			assert.Equal(t, int64(1), initiator)
			assert.Equal(t, int64(1234567890123456789), recipient)
			return &service.PrivateChatResult{
				Room:    privateRoom(99, initiator, recipient),
				Channel: &channel.Handle{ID: channel.ChannelID(99), Members: []string{"1", "1234567890123456789"}},
				IsNew:   isNew,
			}, nil
		},
	}
	r := setupTestRouter(mock, 1, model.UserRoleUser)

	w, resp := doRequest(t, r, http.MethodPost, "/chat/private", `{"recipientId":"1234567890123456789"}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	var data struct {
		Chat struct {
			ID string `json:"id"`
		} `json:"chat"`
		StreamChat *channel.Handle `json:"streamChat"`
		IsNew      bool            `json:"isNew"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, "99", data.Chat.ID)
	assert.Equal(t, "chat-room-99", data.StreamChat.ID)
	assert.True(t, data.IsNew)

	isNew = false
	w, _ = doRequest(t, r, http.MethodPost, "/chat/private", `{"recipientId":1234567890123456789}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChatHandler_OpenPrivateChat_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		svcErr   error
		status   int
		wantKind string
	}{
		{"missing recipient", `{}`, nil, http.StatusBadRequest, "InvalidRequest"},
		{"bad recipient", `{"recipientId":"abc"}`, nil, http.StatusBadRequest, "InvalidRequest"},
		{"self chat", `{"recipientId":"1"}`, appErrors.ErrCannotChatSelf, http.StatusBadRequest, "InvalidRequest"},
		{"unknown user", `{"recipientId":"5"}`, appErrors.ErrUserNotFound, http.StatusNotFound, "UserNotFound"},
		{"store failure", `{"recipientId":"5"}`, appErrors.ErrDBError, http.StatusInternalServerError, "Internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockChatService{
				OpenPrivateChatFunc: func(ctx context.Context, initiator, recipient int64) (*service.PrivateChatResult, error) {
					return nil, tt.svcErr
				},
			}
			r := setupTestRouter(mock, 1, model.UserRoleUser)
			w, resp := doRequest(t, r, http.MethodPost, "/chat/private", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.wantKind, resp.Kind)
		})
	}
}

func TestChatHandler_CreateRoom(t *testing.T) {
	mock := &MockChatService{
		CreateRoomFunc: func(ctx context.Context, creator int64, req service.CreateRoomRequest) (*service.RoomResult, error) {
			assert.Equal(t, int64(1), creator)
			assert.Equal(t, model.RoomTypeGroup, req.Type)
			assert.Equal(t, []int64{2, 3}, req.MemberIDs)
			return &service.RoomResult{Room: &model.Room{ID: 5, Type: req.Type, Name: req.Name}}, nil
		},
	}
	r := setupTestRouter(mock, 1, model.UserRoleUser)

	w, resp := doRequest(t, r, http.MethodPost, "/chat/room", `{"type":"group","name":"team","memberIds":["2",3]}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, string(resp.Data), `"streamChat":null`)

	w, _ = doRequest(t, r, http.MethodPost, "/chat/room", `{"type":"group"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatHandler_MembershipErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"no op", appErrors.ErrNoOp, http.StatusBadRequest},
		{"invariant", appErrors.ErrInvalidOperation, http.StatusBadRequest},
		{"forbidden", appErrors.ErrForbidden, http.StatusForbidden},
		{"room missing", appErrors.ErrRoomNotFound, http.StatusNotFound},
		{"user missing", appErrors.ErrUserNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockChatService{
				AddMembersFunc: func(ctx context.Context, actor, roomID int64, targetIDs []int64) (*model.Room, error) {
					return nil, tt.err
				},
				RemoveMembersFunc: func(ctx context.Context, actor, roomID int64, targetIDs []int64) (*model.Room, error) {
					return nil, tt.err
				},
			}
			r := setupTestRouter(mock, 1, model.UserRoleUser)

			w, _ := doRequest(t, r, http.MethodPost, "/chat/room/10/members", `{"memberIds":["2"]}`)
			assert.Equal(t, tt.status, w.Code)
			w, _ = doRequest(t, r, http.MethodDelete, "/chat/room/10/members", `{"memberIds":["2"]}`)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestChatHandler_AddMembers(t *testing.T) {
	mock := &MockChatService{
		AddMembersFunc: func(ctx context.Context, actor, roomID int64, targetIDs []int64) (*model.Room, error) {
			assert.Equal(t, int64(10), roomID)
			assert.Equal(t, []int64{4, 5}, targetIDs)
			return &model.Room{ID: roomID}, nil
		},
	}
	r := setupTestRouter(mock, 1, model.UserRoleUser)

	w, _ := doRequest(t, r, http.MethodPost, "/chat/room/10/members", `{"memberIds":["4","5"]}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := doRequest(t, r, http.MethodPost, "/chat/room/abc/members", `{"memberIds":["4"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidRequest", resp.Kind)
}

func TestChatHandler_UpdateMemberRole(t *testing.T) {
	mock := &MockChatService{
		UpdateMemberRoleFunc: func(ctx context.Context, actor, roomID, target int64, role model.MemberRole) (*model.Room, error) {
			assert.Equal(t, int64(10), roomID)
			assert.Equal(t, int64(3), target)
			assert.Equal(t, model.RoleModerator, role)
			return &model.Room{ID: roomID}, nil
		},
	}
	r := setupTestRouter(mock, 1, model.UserRoleUser)

	w, _ := doRequest(t, r, http.MethodPatch, "/chat/room/10/members/3/role", `{"role":"moderator"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChatHandler_DeleteRoom_PassesPlatformAdmin(t *testing.T) {
	var gotAdmin bool
	mock := &MockChatService{
		DeleteRoomFunc: func(ctx context.Context, actor int64, platformAdmin bool, roomID int64) error {
			gotAdmin = platformAdmin
			return nil
		},
	}

	r := setupTestRouter(mock, 1, model.UserRoleAdmin)
	w, _ := doRequest(t, r, http.MethodDelete, "/chat/room/10", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gotAdmin)

	r = setupTestRouter(mock, 1, model.UserRoleUser)
	doRequest(t, r, http.MethodDelete, "/chat/room/10", "")
	assert.False(t, gotAdmin)
}

func TestChatHandler_GetRoomAndList(t *testing.T) {
	mock := &MockChatService{
		GetRoomFunc: func(ctx context.Context, actor, roomID int64) (*service.RoomResult, error) {
			if roomID != 10 {
				return nil, appErrors.ErrRoomNotFound
			}
			return &service.RoomResult{Room: privateRoom(10, 1, 2)}, nil
		},
	}
	r := setupTestRouter(mock, 1, model.UserRoleUser)

	w, _ := doRequest(t, r, http.MethodGet, "/chat/room/10", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = doRequest(t, r, http.MethodGet, "/chat/room/11", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp := doRequest(t, r, http.MethodGet, "/chat/rooms", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"list":[]}`, string(resp.Data))
}

func TestChatHandler_LeaveAndToken(t *testing.T) {
	mock := &MockChatService{
		LeaveRoomFunc: func(ctx context.Context, userID, roomID int64) (*model.Room, error) {
			return nil, appErrors.ErrInvalidOperation
		},
		IssueChannelTokenFunc: func(ctx context.Context, userID int64) (*channel.UserToken, error) {
			if userID == 2 {
				return nil, appErrors.ErrProviderUnavailable
			}
			return &channel.UserToken{Token: "tok", UserID: userID}, nil
		},
	}

	r := setupTestRouter(mock, 1, model.UserRoleUser)
	w, _ := doRequest(t, r, http.MethodPost, "/chat/room/10/leave", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp := doRequest(t, r, http.MethodGet, "/chat/token", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(resp.Data), `"userId":"1"`)

	r = setupTestRouter(mock, 2, model.UserRoleUser)
	w, resp = doRequest(t, r, http.MethodGet, "/chat/token", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "ProviderUnavailable", resp.Kind)
}
