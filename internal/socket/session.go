package socket

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"sudooom.market.chat/internal/auth"
)

var (
	ErrAlreadyBound   = errors.New("session already bound to an identity")
	ErrSessionClosed  = errors.New("session closed")
	ErrSendBufferFull = errors.New("session send buffer full")
)

const closeMessageTimeout = time.Second

var sessionIDCounter int64

// State 会话状态
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateAuthenticated
	StateRejected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session 一个 WebSocket 连接
// 身份只能绑定一次，之后不可更改
type Session struct {
	id       int64
	conn     *websocket.Conn
	logger   *slog.Logger
	state    atomic.Int32
	bound    atomic.Bool
	identity *auth.Identity

	send       chan []byte
	closing    chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	closeCode  int
	pingPeriod time.Duration
	writeWait  time.Duration
	createTime time.Time
}

func newSession(conn *websocket.Conn, sendBuffer int, logger *slog.Logger) *Session {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:         atomic.AddInt64(&sessionIDCounter, 1),
		conn:       conn,
		logger:     logger,
		send:       make(chan []byte, sendBuffer),
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
		closeCode:  websocket.CloseNormalClosure,
		createTime: time.Now(),
	}
}

// ID 会话 ID，进程内唯一
func (s *Session) ID() int64 {
	return s.id
}

// State 当前状态
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
}

// Bind 绑定已验证身份，只有第一次调用生效
func (s *Session) Bind(identity *auth.Identity) error {
	if identity == nil {
		return errors.New("nil identity")
	}
	if !s.bound.CompareAndSwap(false, true) {
		return ErrAlreadyBound
	}
	s.identity = identity
	s.setState(StateAuthenticated)
	return nil
}

// Identity 绑定的身份，未认证时为 nil
func (s *Session) Identity() *auth.Identity {
	if !s.bound.Load() {
		return nil
	}
	return s.identity
}

// UserID 绑定的用户 ID，未认证时为 0
func (s *Session) UserID() int64 {
	if id := s.Identity(); id != nil {
		return id.UserID
	}
	return 0
}

// Send 把帧放入发送队列，队列满时返回 ErrSendBufferFull
func (s *Session) Send(data []byte) error {
	select {
	case <-s.closing:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- data:
		return nil
	case <-s.closing:
		return ErrSessionClosed
	default:
		return ErrSendBufferFull
	}
}

// writeLoop 唯一的写协程，关闭时先写完队列中的帧
func (s *Session) writeLoop() {
	defer close(s.done)

	var pings <-chan time.Time
	if s.pingPeriod > 0 {
		ticker := time.NewTicker(s.pingPeriod)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case data := <-s.send:
			if err := s.write(websocket.TextMessage, data); err != nil {
				s.logger.Debug("Session write failed", "session_id", s.id, "error", err)
				s.conn.Close()
				s.drop()
				return
			}
		case <-pings:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.conn.Close()
				s.drop()
				return
			}
		case <-s.closing:
			s.flush()
			return
		}
	}
}

func (s *Session) flush() {
	for {
		select {
		case data := <-s.send:
			if err := s.write(websocket.TextMessage, data); err != nil {
				s.conn.Close()
				return
			}
		default:
			msg := websocket.FormatCloseMessage(s.closeCode, "")
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeMessageTimeout))
			s.conn.Close()
			return
		}
	}
}

func (s *Session) write(messageType int, data []byte) error {
	if s.writeWait > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	}
	return s.conn.WriteMessage(messageType, data)
}

// drop 写失败后标记关闭，不再等待 flush
func (s *Session) drop() {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		close(s.closing)
	})
}

// Reject 发送最后一帧后以策略违规关闭
func (s *Session) Reject(frame []byte) {
	s.closeOnce.Do(func() {
		s.setState(StateRejected)
		s.closeCode = websocket.ClosePolicyViolation
		if frame != nil {
			select {
			case s.send <- frame:
			default:
			}
		}
		close(s.closing)
	})
}

// Close 关闭会话，已入队的帧会被写出
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		close(s.closing)
	})
}

// Done 写协程退出后关闭
func (s *Session) Done() <-chan struct{} {
	return s.done
}
