package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"sudooom.market.chat/internal/auth"
	"sudooom.market.chat/internal/config"
	"sudooom.market.chat/internal/metrics"
	"sudooom.market.chat/internal/model"
	"sudooom.market.chat/internal/service"
	appErrors "sudooom.market.chat/pkg/errors"
)

// Authenticator 凭证校验，与 HTTP 中间件共用
type Authenticator interface {
	Verify(ctx context.Context, token string) (*auth.Identity, error)
}

// RoomReader 读取聊天室成员，调用者必须是成员
type RoomReader interface {
	MemberIDs(ctx context.Context, actor, roomID int64) ([]int64, error)
}

// Server WebSocket 入口
// 升级请求未带凭证时首帧必须在 auth_timeout 内完成认证，失败发送一个 error 帧后关闭
type Server struct {
	cfg      config.SocketConfig
	auth     Authenticator
	rooms    RoomReader
	notifier service.Notifier
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer 创建 WebSocket 服务，notifier 可为 nil
func NewServer(cfg config.SocketConfig, authenticator Authenticator, rooms RoomReader, notifier service.Notifier, hub *Hub) *Server {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}

	s := &Server{
		cfg:      cfg,
		auth:     authenticator,
		rooms:    rooms,
		notifier: notifier,
		hub:      hub,
		logger:   slog.Default(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

// ServeHTTP 升级连接并运行会话直到断开
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageSize)

	sess := newSession(conn, s.cfg.SendBuffer, s.logger)
	sess.writeWait = s.cfg.WriteWait
	sess.pingPeriod = s.cfg.PongWait * 9 / 10
	go sess.writeLoop()

	metrics.SocketSessions.Inc()
	defer metrics.SocketSessions.Dec()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	defer func() {
		sess.Close()
		<-sess.Done()
	}()

	identity, err := s.authenticate(ctx, sess, r)
	if err != nil {
		sess.Reject(errorFrame(err))
		return
	}

	s.hub.Join(sess)
	defer s.hub.Leave(sess)

	s.logger.Info("Socket session authenticated", "session_id", sess.ID(), "user_id", identity.UserID)
	_ = sess.Send(encodeFrame(EventAuthenticated, authenticatedData{UserID: identity.UserID}))

	s.readLoop(ctx, sess)
	s.logger.Info("Socket session closed", "session_id", sess.ID(), "user_id", identity.UserID)
}

// authenticate 校验凭证并绑定身份
// 升级请求带 Authorization 头或 token 参数时直接认证，否则等待首帧
func (s *Server) authenticate(ctx context.Context, sess *Session, r *http.Request) (*auth.Identity, error) {
	sess.setState(StateAuthenticating)

	token := ExtractCredential("", r.Header.Get("Authorization"), r.URL.Query().Get("token"))
	if token == "" {
		var err error
		if token, err = s.readAuthFrame(sess); err != nil {
			return nil, err
		}
	}

	authCtx, cancel := context.WithTimeout(ctx, s.cfg.AuthTimeout)
	defer cancel()
	identity, err := s.auth.Verify(authCtx, token)
	if err != nil {
		metrics.SocketAuthFailures.WithLabelValues(string(appErrors.GetKind(err))).Inc()
		s.logger.Warn("Socket authentication failed", "session_id", sess.ID(), "error", err)
		// 凭证之外的失败也按未认证回给客户端
		if appErrors.GetKind(err) != appErrors.KindUnauthorized {
			return nil, appErrors.ErrTokenInvalid.WithMessage(appErrors.GetMessage(err)).Wrap(err)
		}
		return nil, err
	}

	if err := sess.Bind(identity); err != nil {
		return nil, appErrors.ErrServerError.Wrap(err)
	}
	return identity, nil
}

// readAuthFrame 在 auth_timeout 内读取首帧，首帧必须是 auth
func (s *Server) readAuthFrame(sess *Session) (string, error) {
	_ = sess.conn.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout))

	_, data, err := sess.conn.ReadMessage()
	if err != nil {
		reason := "read"
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			reason = "timeout"
		}
		metrics.SocketAuthFailures.WithLabelValues(reason).Inc()
		s.logger.Warn("Socket auth frame not received", "session_id", sess.ID(), "reason", reason, "error", err)
		return "", appErrors.ErrTokenInvalid.WithMessage("authentication required")
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Event != EventAuth {
		metrics.SocketAuthFailures.WithLabelValues("bad_frame").Inc()
		s.logger.Warn("First socket frame must be auth", "session_id", sess.ID(), "event", frame.Event)
		return "", appErrors.ErrTokenInvalid.WithMessage("authentication required")
	}

	var payload authData
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			metrics.SocketAuthFailures.WithLabelValues("bad_frame").Inc()
			return "", appErrors.ErrTokenInvalid.WithMessage("malformed auth payload")
		}
	}

	token := ExtractCredential(payload.Token, "", "")
	if token == "" {
		metrics.SocketAuthFailures.WithLabelValues("missing").Inc()
		return "", appErrors.ErrTokenInvalid.WithMessage("missing credential")
	}
	return token, nil
}

// readLoop 认证后的事件循环
func (s *Server) readLoop(ctx context.Context, sess *Session) {
	_ = sess.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Socket read failed", "session_id", sess.ID(), "error", err)
			}
			return
		}
		_ = sess.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = sess.Send(errorFrame(appErrors.ErrInvalidParams.WithMessage("malformed frame")))
			continue
		}
		s.handleFrame(ctx, sess, &frame)
	}
}

func (s *Server) handleFrame(ctx context.Context, sess *Session, frame *Frame) {
	switch frame.Event {
	case EventPing:
		_ = sess.Send(encodeFrame(EventPong, nil))
	case EventAuth:
		// 身份已绑定，重复认证不改变身份
		s.logger.Debug("Ignoring auth frame on authenticated session", "session_id", sess.ID(), "user_id", sess.UserID())
	case EventTyping:
		if err := s.handleTyping(ctx, sess, frame.Data); err != nil {
			_ = sess.Send(errorFrame(err))
		}
	default:
		_ = sess.Send(errorFrame(appErrors.ErrInvalidParams.WithMessage("unknown event: " + frame.Event)))
	}
}

// handleTyping 校验成员身份后推送给其他成员
func (s *Server) handleTyping(ctx context.Context, sess *Session, data json.RawMessage) error {
	var payload typingData
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID <= 0 {
		return appErrors.ErrInvalidParams.WithMessage("roomId is required")
	}

	userID := sess.UserID()
	memberIDs, err := s.rooms.MemberIDs(ctx, userID, payload.RoomID)
	if err != nil {
		return err
	}
	if s.notifier == nil {
		return nil
	}

	others := make([]int64, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id != userID {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return nil
	}
	event := &model.Event{ID: uuid.NewString(), Type: model.EventRoomTyping, RoomID: payload.RoomID, Actor: userID}
	if err := s.notifier.NotifyUsers(ctx, others, event); err != nil {
		s.logger.Warn("Failed to publish typing event", "room_id", payload.RoomID, "error", err)
	}
	return nil
}
