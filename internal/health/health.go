package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	statusUp       = "up"
	statusDown     = "down"
	statusDisabled = "not configured"
)

// Status 健康状态
type Status struct {
	Service  string `json:"service"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
	NATS     string `json:"nats"`
	Channel  string `json:"channel"`
	Sessions int    `json:"sessions"`
}

// Ready 依赖均可用
func (s *Status) Ready() bool {
	return s.Database == statusUp && s.Channel == statusUp &&
		s.Redis != statusDown && s.NATS != statusDown
}

// Pinger 依赖探活
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionCounter 会话计数
type SessionCounter interface {
	Count() int
}

// Checker 健康检查器，所有依赖均可为 nil
type Checker struct {
	db       *pgxpool.Pool
	rdb      *redis.Client
	bus      Pinger
	channel  Pinger
	sessions SessionCounter
	timeout  time.Duration
}

// NewChecker 创建健康检查器
func NewChecker(db *pgxpool.Pool, rdb *redis.Client, bus Pinger, channel Pinger, sessions SessionCounter) *Checker {
	return &Checker{
		db:       db,
		rdb:      rdb,
		bus:      bus,
		channel:  channel,
		sessions: sessions,
		timeout:  2 * time.Second,
	}
}

// Check 执行健康检查
func (h *Checker) Check(ctx context.Context) *Status {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	status := &Status{
		Service:  "chat",
		Database: statusDisabled,
		Redis:    statusDisabled,
		NATS:     statusDisabled,
		Channel:  statusDisabled,
	}

	if h.db != nil {
		status.Database = probe(h.db.Ping(ctx))
	}
	if h.rdb != nil {
		status.Redis = probe(h.rdb.Ping(ctx).Err())
	}
	if h.bus != nil {
		status.NATS = probe(h.bus.Ping(ctx))
	}
	if h.channel != nil {
		status.Channel = probe(h.channel.Ping(ctx))
	}
	if h.sessions != nil {
		status.Sessions = h.sessions.Count()
	}
	return status
}

func probe(err error) string {
	if err != nil {
		return statusDown
	}
	return statusUp
}

// Live 进程存活
// GET /health
func (h *Checker) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness 依赖检查
// GET /ready
func (h *Checker) Readiness(c *gin.Context) {
	status := h.Check(c.Request.Context())
	code := http.StatusOK
	if !status.Ready() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
