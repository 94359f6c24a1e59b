package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sudooom.market.chat/internal/channel"
	"sudooom.market.chat/internal/metrics"
	"sudooom.market.chat/internal/model"
	"sudooom.market.chat/internal/repository"
)

// CleanerConfig 清理任务配置
type CleanerConfig struct {
	Interval        time.Duration
	BatchSize       int
	MinGroupMembers int
}

// Cleaner 定期逻辑删除成员数低于下限的聊天室
type Cleaner struct {
	rooms    RoomStore
	gateway  ChannelGateway
	notifier Notifier
	config   CleanerConfig
	logger   *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	runningMu sync.Mutex
}

// NewCleaner 创建清理任务
func NewCleaner(rooms RoomStore, gateway ChannelGateway, notifier Notifier, config CleanerConfig) *Cleaner {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 200
	}
	if config.MinGroupMembers < 1 {
		config.MinGroupMembers = 1
	}
	return &Cleaner{
		rooms:    rooms,
		gateway:  gateway,
		notifier: notifier,
		config:   config,
		logger:   slog.Default(),
	}
}

// Start 启动定时清理
func (c *Cleaner) Start() {
	c.runningMu.Lock()
	defer c.runningMu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.wg.Add(1)
	go c.tickLoop()

	c.logger.Info("Room cleaner started", "interval", c.config.Interval, "batch", c.config.BatchSize)
}

// Stop 停止定时清理并等待当前批次结束
func (c *Cleaner) Stop() {
	c.runningMu.Lock()
	if !c.running {
		c.runningMu.Unlock()
		return
	}
	c.running = false
	c.runningMu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.logger.Info("Room cleaner stopped")
}

func (c *Cleaner) tickLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.RunOnce(c.ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("Room cleanup failed", "error", err)
			}
		}
	}
}

// RunOnce 执行一批清理，返回删除的聊天室数量
func (c *Cleaner) RunOnce(ctx context.Context) (int, error) {
	rooms, err := c.rooms.ListUndersized(ctx, c.config.MinGroupMembers, c.config.BatchSize)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, room := range rooms {
		if err := c.rooms.SoftDelete(ctx, room.ID); err != nil {
			if errors.Is(err, repository.ErrRoomNotFound) {
				continue
			}
			return cleaned, err
		}
		cleaned++
		metrics.RoomsCleaned.Inc()

		remaining := room.MemberIDs()
		if len(remaining) > 0 {
			if err := c.gateway.RemoveMembers(ctx, channel.ChannelID(room.ID), remaining); err != nil && !errors.Is(err, channel.ErrChannelNotFound) {
				metrics.ChannelSyncFailures.WithLabelValues("remove_members").Inc()
				c.logger.Warn("Failed to clear channel of cleaned room", "roomId", room.ID, "error", err)
			}
			if c.notifier != nil {
				event := &model.Event{ID: uuid.NewString(), Type: model.EventRoomDeleted, RoomID: room.ID}
				if err := c.notifier.NotifyUsers(ctx, remaining, event); err != nil {
					c.logger.Warn("Failed to notify cleaned room members", "roomId", room.ID, "error", err)
				}
			}
		}

		c.logger.Info("Undersized room cleaned",
			"roomId", room.ID,
			"type", room.Type,
			"memberCount", room.Metadata.MemberCount,
		)
	}
	return cleaned, nil
}
