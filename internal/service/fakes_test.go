package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sudooom.market.chat/internal/channel"
	"sudooom.market.chat/internal/model"
	"sudooom.market.chat/internal/repository"
	"sudooom.market.chat/pkg/snowflake"
)

// fakeStore 内存聊天室存储，与数据库唯一索引同样约束活跃私聊
type fakeStore struct {
	mu          sync.Mutex
	rooms       map[int64]*model.Room
	creates     int
	err         error
	createDelay time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{rooms: make(map[int64]*model.Room)}
}

func cloneRoom(r *model.Room) *model.Room {
	c := *r
	c.Members = append([]model.Member(nil), r.Members...)
	return &c
}

func (s *fakeStore) FindActivePrivateRoom(_ context.Context, a, b int64) (*model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	key := model.PairKey(a, b)
	for _, r := range s.rooms {
		if r.IsActive && r.Type == model.RoomTypePrivate && r.PairKey == key {
			return cloneRoom(r), nil
		}
	}
	return nil, nil
}

func (s *fakeStore) Create(_ context.Context, room *model.Room) error {
	if s.createDelay > 0 {
		time.Sleep(s.createDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if room.Type == model.RoomTypePrivate {
		room.PairKey = model.PairKey(room.Members[0].UserID, room.Members[1].UserID)
		for _, r := range s.rooms {
			if r.IsActive && r.Type == model.RoomTypePrivate && r.PairKey == room.PairKey {
				return repository.ErrPrivateRoomExists
			}
		}
	}
	stored := cloneRoom(room)
	stored.Status = model.RoomStatusActive
	stored.IsActive = true
	stored.Touch(time.Now())
	s.rooms[room.ID] = stored
	s.creates++
	*room = *cloneRoom(stored)
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id int64) (*model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	r, ok := s.rooms[id]
	if !ok || !r.IsActive {
		return nil, repository.ErrRoomNotFound
	}
	return cloneRoom(r), nil
}

// locked 在 s.mu 内取出活跃聊天室并执行 guard，对应行锁后的校验
func (s *fakeStore) locked(roomID int64, guard repository.MemberGuard) (*model.Room, error) {
	if s.err != nil {
		return nil, s.err
	}
	r, ok := s.rooms[roomID]
	if !ok || !r.IsActive {
		return nil, repository.ErrRoomNotFound
	}
	if guard != nil {
		if err := guard(cloneRoom(r)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (s *fakeStore) AddMembers(_ context.Context, roomID int64, members []model.Member, guard repository.MemberGuard) (*model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.locked(roomID, guard)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if !r.IsMember(m.UserID) {
			r.Members = append(r.Members, m)
		}
	}
	r.Touch(time.Now())
	return cloneRoom(r), nil
}

func (s *fakeStore) RemoveMembers(_ context.Context, roomID int64, userIDs []int64, guard repository.MemberGuard) (*model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.locked(roomID, guard)
	if err != nil {
		return nil, err
	}
	remove := make(map[int64]bool)
	for _, id := range userIDs {
		remove[id] = true
	}
	kept := r.Members[:0]
	for _, m := range r.Members {
		if !remove[m.UserID] {
			kept = append(kept, m)
		}
	}
	r.Members = kept
	r.Touch(time.Now())
	return cloneRoom(r), nil
}

func (s *fakeStore) UpdateMemberRole(_ context.Context, roomID, userID int64, role model.MemberRole, guard repository.MemberGuard) (*model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.locked(roomID, guard)
	if err != nil {
		return nil, err
	}
	m := r.Member(userID)
	if m == nil {
		return nil, repository.ErrMemberNotFound
	}
	m.Role = role
	r.Touch(time.Now())
	return cloneRoom(r), nil
}

func (s *fakeStore) SoftDelete(_ context.Context, roomID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	r, ok := s.rooms[roomID]
	if !ok || !r.IsActive {
		return repository.ErrRoomNotFound
	}
	r.Status = model.RoomStatusDeleted
	r.IsActive = false
	return nil
}

func (s *fakeStore) ListByUser(_ context.Context, userID int64) ([]*model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Room
	for _, r := range s.rooms {
		if r.IsActive && r.IsMember(userID) {
			out = append(out, cloneRoom(r))
		}
	}
	return out, nil
}

func (s *fakeStore) ListUndersized(_ context.Context, minGroupMembers, limit int) ([]*model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Room
	for _, r := range s.rooms {
		if !r.IsActive {
			continue
		}
		floor := minGroupMembers
		if r.Type == model.RoomTypePrivate {
			floor = 2
		}
		if r.Metadata.MemberCount < floor {
			out = append(out, cloneRoom(r))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// activePrivateCount 指定用户对的活跃私聊数
func (s *fakeStore) activePrivateCount(a, b int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rooms {
		if r.IsActive && r.Type == model.RoomTypePrivate && r.PairKey == model.PairKey(a, b) {
			n++
		}
	}
	return n
}

// put 直接写入聊天室
func (s *fakeStore) put(r *model.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Status = model.RoomStatusActive
	r.IsActive = true
	r.Touch(time.Now())
	s.rooms[r.ID] = cloneRoom(r)
}

type fakeUsers struct {
	users map[int64]*model.User
}

func newFakeUsers(ids ...int64) *fakeUsers {
	u := &fakeUsers{users: make(map[int64]*model.User)}
	for _, id := range ids {
		u.users[id] = &model.User{ID: id, Username: "user", Role: model.UserRoleUser, Status: model.UserStatusNormal}
	}
	return u
}

func (u *fakeUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	if user, ok := u.users[id]; ok {
		return user, nil
	}
	return nil, repository.ErrUserNotFound
}

func (u *fakeUsers) GetPair(ctx context.Context, a, b int64) (*model.User, *model.User, error) {
	ua, err := u.GetByID(ctx, a)
	if err != nil {
		return nil, nil, err
	}
	ub, err := u.GetByID(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	return ua, ub, nil
}

func (u *fakeUsers) GetProfiles(_ context.Context, ids []int64) (map[int64]*model.User, error) {
	out := make(map[int64]*model.User)
	for _, id := range ids {
		if user, ok := u.users[id]; ok {
			out[id] = user
		}
	}
	return out, nil
}

type recordedEvent struct {
	userIDs []int64
	event   *model.Event
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *fakeNotifier) NotifyUsers(_ context.Context, userIDs []int64, event *model.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{userIDs: append([]int64(nil), userIDs...), event: event})
	return nil
}

func (n *fakeNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.events {
		out = append(out, e.event.Type)
	}
	return out
}

// nopLocker 不加锁，只靠存储层唯一约束
type nopLocker struct{}

func (nopLocker) Lock(context.Context, int64, int64) (func(), error) {
	return func() {}, nil
}

type testEnv struct {
	svc      *ChatService
	store    *fakeStore
	users    *fakeUsers
	provider *channel.MemoryProvider
	notifier *fakeNotifier
}

func newTestEnv(t *testing.T, locker PairLocker, userIDs ...int64) *testEnv {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	env := &testEnv{
		store:    newFakeStore(),
		users:    newFakeUsers(userIDs...),
		provider: channel.NewMemoryProvider(),
		notifier: &fakeNotifier{},
	}
	gateway := channel.NewGateway(env.provider, channel.NewTokenIssuer("test", time.Hour), time.Second)
	env.svc = NewChatService(env.store, env.users, gateway, locker, env.notifier, node, Options{
		MinGroupMembers: 1,
		MaxGroupMembers: 10,
	})
	return env
}

// withStore 同一环境下换用包装过的聊天室存储
func (e *testEnv) withStore(t *testing.T, store RoomStore) *ChatService {
	t.Helper()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	gateway := channel.NewGateway(e.provider, channel.NewTokenIssuer("test", time.Hour), time.Second)
	return NewChatService(store, e.users, gateway, nopLocker{}, e.notifier, node, Options{
		MinGroupMembers: 1,
		MaxGroupMembers: 10,
	})
}

// groupRoom 构造群聊：1 为管理员，2 为版主，其余为普通成员
func (e *testEnv) groupRoom(t *testing.T, id int64, memberIDs ...int64) *model.Room {
	t.Helper()
	now := time.Now()
	room := &model.Room{ID: id, Type: model.RoomTypeGroup, Name: "g", CreatedBy: memberIDs[0]}
	for i, uid := range memberIDs {
		role := model.RoleMember
		switch i {
		case 0:
			role = model.RoleAdmin
		case 1:
			role = model.RoleModerator
		}
		room.Members = append(room.Members, model.Member{UserID: uid, Role: role, JoinedAt: now})
	}
	e.store.put(room)
	_, err := e.provider.CreateChannel(context.Background(), channel.ChannelID(id), channel.MemberIDs(memberIDs), "1")
	require.NoError(t, err)
	return room
}
