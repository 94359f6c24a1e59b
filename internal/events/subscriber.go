package events

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"sudooom.market.chat/internal/metrics"
	"sudooom.market.chat/internal/model"
	"sudooom.market.chat/internal/workerpool"
)

// Deliverer 本节点的会话投递
type Deliverer interface {
	DeliverEvent(userID int64, event *model.Event) int
}

// SubscriberConfig Worker Pool 配置
type SubscriberConfig struct {
	WorkerCount int
	BufferSize  int
}

// Subscriber 订阅用户事件并投递到本地会话
type Subscriber struct {
	nc           *nats.Conn
	deliverer    Deliverer
	logger       *slog.Logger
	config       SubscriberConfig
	pool         *workerpool.Pool
	subscription *nats.Subscription
	mu           sync.Mutex
}

// NewSubscriber 创建事件订阅器
func NewSubscriber(nc *nats.Conn, deliverer Deliverer, config SubscriberConfig) *Subscriber {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 16
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 4096
	}
	return &Subscriber{
		nc:        nc,
		deliverer: deliverer,
		logger:    slog.Default(),
		config:    config,
	}
}

// Start 订阅 chat.user.*
func (s *Subscriber) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pool = workerpool.New("user-events", s.config.WorkerCount, s.config.BufferSize)

	sub, err := s.nc.Subscribe(SubjectUserWildcard, s.HandleMsg)
	if err != nil {
		s.pool.Shutdown()
		s.pool = nil
		return err
	}
	s.subscription = sub

	s.logger.Info("NATS event subscriber started",
		"subject", SubjectUserWildcard,
		"workerCount", s.config.WorkerCount,
		"bufferSize", s.config.BufferSize,
	)
	return nil
}

// HandleMsg 把消息放入任务池，队列满时丢弃
func (s *Subscriber) HandleMsg(msg *nats.Msg) {
	userID, ok := ParseUserSubject(msg.Subject)
	if !ok {
		s.logger.Warn("Ignoring event on unexpected subject", "subject", msg.Subject)
		return
	}
	data := msg.Data

	submitted := s.pool != nil && s.pool.TrySubmit(func() {
		s.deliver(userID, data)
	})
	if !submitted {
		metrics.EventsDropped.Inc()
		s.logger.Warn("Event buffer full, dropping event", "userId", userID, "bufferSize", s.config.BufferSize)
	}
}

func (s *Subscriber) deliver(userID int64, data []byte) {
	var event model.Event
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Error("Failed to unmarshal event", "userId", userID, "error", err)
		return
	}
	n := s.deliverer.DeliverEvent(userID, &event)
	s.logger.Debug("Event delivered", "type", event.Type, "userId", userID, "sessions", n)
}

// Stop 取消订阅并等待已入队的事件投递完成
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscription != nil {
		if err := s.subscription.Unsubscribe(); err != nil {
			s.logger.Error("Failed to unsubscribe", "error", err)
		}
		s.subscription = nil
	}
	if s.pool != nil {
		s.pool.Shutdown()
	}

	s.logger.Info("NATS event subscriber stopped")
	return nil
}
