package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go"

	"sudooom.market.chat/internal/model"
)

// Publisher 把事件发布到用户个人房间
type Publisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewPublisher 创建事件发布器
func NewPublisher(nc *nats.Conn) *Publisher {
	return &Publisher{
		nc:     nc,
		logger: slog.Default(),
	}
}

// NotifyUsers 向每个用户的 chat.user.{id} 发布同一事件
func (p *Publisher) NotifyUsers(ctx context.Context, userIDs []int64, event *model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal event", "type", event.Type, "error", err)
		return err
	}

	var errs []error
	for _, id := range userIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := p.nc.Publish(UserSubject(id), data); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		p.logger.Error("Failed to publish event", "type", event.Type, "roomId", event.RoomID, "error", err)
		return err
	}

	p.logger.Debug("Published event", "type", event.Type, "roomId", event.RoomID, "users", len(userIDs))
	return nil
}
