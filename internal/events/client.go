package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"sudooom.market.chat/internal/config"
	"sudooom.market.chat/internal/metrics"
)

// Client 用户事件总线的 NATS 连接
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewClient 按配置连接 NATS，连接状态变化记录日志与指标
func NewClient(cfg config.NATSConfig, name string) (*Client, error) {
	c := &Client{logger: slog.Default().With("component", "nats")}

	conn, err := nats.Connect(cfg.URL, c.options(cfg, name)...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	c.conn = conn
	c.logger.Info("NATS connected", "url", conn.ConnectedUrl(), "server", conn.ConnectedServerId())
	return c, nil
}

func (c *Client) options(cfg config.NATSConfig, name string) []nats.Option {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(c.onDisconnect),
		nats.ReconnectHandler(c.onReconnect),
		nats.ClosedHandler(c.onClosed),
		nats.ErrorHandler(c.onAsyncError),
	}
	if cfg.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnectTimeout))
	}
	if cfg.PingInterval > 0 {
		opts = append(opts, nats.PingInterval(cfg.PingInterval))
	}
	return opts
}

func (c *Client) onDisconnect(_ *nats.Conn, err error) {
	metrics.NATSConnectionEvents.WithLabelValues("disconnected").Inc()
	if err != nil {
		c.logger.Warn("NATS disconnected", "error", err)
	}
}

func (c *Client) onReconnect(nc *nats.Conn) {
	metrics.NATSConnectionEvents.WithLabelValues("reconnected").Inc()
	c.logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
}

func (c *Client) onClosed(*nats.Conn) {
	metrics.NATSConnectionEvents.WithLabelValues("closed").Inc()
	c.logger.Info("NATS connection closed")
}

// 慢消费者说明本节点投递跟不上，事件会被服务端丢弃
func (c *Client) onAsyncError(_ *nats.Conn, sub *nats.Subscription, err error) {
	subject := ""
	if sub != nil {
		subject = sub.Subject
	}
	if errors.Is(err, nats.ErrSlowConsumer) {
		metrics.NATSConnectionEvents.WithLabelValues("slow_consumer").Inc()
	}
	c.logger.Error("NATS async error", "subject", subject, "error", err)
}

// Conn 底层连接
func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// Ping 往返一次服务端，确认连接可用
func (c *Client) Ping(ctx context.Context) error {
	if c.conn == nil {
		return nats.ErrConnectionClosed
	}
	return c.conn.FlushWithContext(ctx)
}

// Close 排空订阅和待发消息后关闭
func (c *Client) Close() {
	if c.conn == nil || c.conn.IsClosed() {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("NATS drain failed, closing", "error", err)
		c.conn.Close()
	}
}
