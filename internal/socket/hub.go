package socket

import (
	"log/slog"
	"sync"

	"sudooom.market.chat/internal/model"
)

// Hub 已认证会话按用户分组，即用户个人房间 user:{id}
type Hub struct {
	mu        sync.RWMutex
	userConns map[int64]map[int64]*Session // userID -> sessionID -> Session
	logger    *slog.Logger
}

// NewHub 创建会话中心
func NewHub() *Hub {
	return &Hub{
		userConns: make(map[int64]map[int64]*Session),
		logger:    slog.Default(),
	}
}

// Join 已绑定身份的会话加入个人房间
func (h *Hub) Join(s *Session) {
	userID := s.UserID()
	if userID == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.userConns[userID]; !ok {
		h.userConns[userID] = make(map[int64]*Session)
	}
	h.userConns[userID][s.ID()] = s
}

// Leave 会话离开个人房间
func (h *Hub) Leave(s *Session) {
	userID := s.UserID()
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.userConns[userID]
	if !ok {
		return
	}
	delete(conns, s.ID())
	if len(conns) == 0 {
		delete(h.userConns, userID)
	}
}

// PushToUser 向用户所有会话发送帧，返回成功入队的会话数
func (h *Hub) PushToUser(userID int64, frame []byte) int {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.userConns[userID]))
	for _, s := range h.userConns[userID] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	sent := 0
	for _, s := range sessions {
		if err := s.Send(frame); err != nil {
			h.logger.Warn("Failed to push frame", "user_id", userID, "session_id", s.ID(), "error", err)
			continue
		}
		sent++
	}
	return sent
}

// DeliverEvent 以事件类型作为帧名推送
func (h *Hub) DeliverEvent(userID int64, event *model.Event) int {
	return h.PushToUser(userID, encodeFrame(event.Type, event))
}

// Count 已认证会话数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.userConns {
		n += len(conns)
	}
	return n
}

// Online 用户在本节点是否有会话
func (h *Hub) Online(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConns[userID]) > 0
}
