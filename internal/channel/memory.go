package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memoryChannel struct {
	createdBy string
	createdAt time.Time
	members   map[string]struct{}
	roles     map[string]string
}

// MemoryProvider 进程内频道后端，用于单机开发和测试
type MemoryProvider struct {
	mu       sync.Mutex
	channels map[string]*memoryChannel
	failure  error
	creates  int
}

// NewMemoryProvider 创建进程内频道后端
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{channels: make(map[string]*memoryChannel)}
}

// SetFailure 之后的所有调用返回 err，传 nil 恢复
func (p *MemoryProvider) SetFailure(err error) {
	p.mu.Lock()
	p.failure = err
	p.mu.Unlock()
}

// Creates 实际新建的频道数量
func (p *MemoryProvider) Creates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates
}

// Drop 删除频道，模拟频道服务侧数据丢失
func (p *MemoryProvider) Drop(channelID string) {
	p.mu.Lock()
	delete(p.channels, channelID)
	p.mu.Unlock()
}

func (p *MemoryProvider) CreateChannel(ctx context.Context, channelID string, members []string, createdBy string) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	if channelID == "" || len(members) == 0 {
		return nil, fmt.Errorf("%w: channel id and members are required", ErrProviderRejected)
	}

	ch, ok := p.channels[channelID]
	if !ok {
		ch = &memoryChannel{
			createdBy: createdBy,
			createdAt: time.Now(),
			members:   make(map[string]struct{}),
			roles:     make(map[string]string),
		}
		p.channels[channelID] = ch
		p.creates++
	}
	for _, m := range members {
		ch.members[m] = struct{}{}
	}
	return ch.handle(channelID), nil
}

func (p *MemoryProvider) GetChannel(ctx context.Context, channelID string) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	ch, ok := p.channels[channelID]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return ch.handle(channelID), nil
}

func (p *MemoryProvider) AddMembers(ctx context.Context, channelID string, members []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return err
	}
	ch, ok := p.channels[channelID]
	if !ok {
		return ErrChannelNotFound
	}
	for _, m := range members {
		ch.members[m] = struct{}{}
	}
	return nil
}

func (p *MemoryProvider) RemoveMembers(ctx context.Context, channelID string, members []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return err
	}
	ch, ok := p.channels[channelID]
	if !ok {
		return ErrChannelNotFound
	}
	for _, m := range members {
		delete(ch.members, m)
		delete(ch.roles, m)
	}
	return nil
}

func (p *MemoryProvider) SetMemberRole(ctx context.Context, channelID, member, role string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return err
	}
	ch, ok := p.channels[channelID]
	if !ok {
		return ErrChannelNotFound
	}
	if _, ok := ch.members[member]; !ok {
		return fmt.Errorf("%w: not a channel member", ErrProviderRejected)
	}
	ch.roles[member] = role
	return nil
}

// Role 获取成员角色
func (p *MemoryProvider) Role(channelID, member string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.channels[channelID]; ok {
		return ch.roles[member]
	}
	return ""
}

func (p *MemoryProvider) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.check(ctx)
}

func (p *MemoryProvider) Close() error {
	return nil
}

func (p *MemoryProvider) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.failure
}

func (ch *memoryChannel) handle(id string) *Handle {
	members := make([]string, 0, len(ch.members))
	for m := range ch.members {
		members = append(members, m)
	}
	sort.Strings(members)
	return &Handle{
		ID:        id,
		Members:   members,
		CreatedBy: ch.createdBy,
		CreatedAt: ch.createdAt,
	}
}
