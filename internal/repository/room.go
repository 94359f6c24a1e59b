package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.market.chat/internal/model"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrMemberNotFound     = errors.New("room member not found")
	ErrPrivateRoomExists  = errors.New("active private room already exists for pair")
	ErrInvalidRoomMembers = errors.New("invalid room members")
)

const (
	// 唯一约束冲突
	sqlStateUniqueViolation = "23505"
	// 活跃私聊的用户对唯一索引
	pairIndexName = "uq_chat_rooms_active_pair"
)

const roomColumns = `id, type, name, description, created_by, status, is_active,
	COALESCE(pair_key, ''), member_count, last_activity, create_at, update_at`

// MemberGuard 在聊天室行锁内对最新成员状态做校验，返回错误则整个写操作回滚
// 错误原样返回给调用方
type MemberGuard func(current *model.Room) error

// RoomRepository 聊天室数据访问
// 所有成员写操作在同一事务内以成员行重算 member_count
type RoomRepository struct {
	db *pgxpool.Pool
}

// NewRoomRepository 创建聊天室仓库
func NewRoomRepository(db *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{db: db}
}

// FindActivePrivateRoom 按无序用户对查找活跃私聊，不存在返回 nil, nil
func (r *RoomRepository) FindActivePrivateRoom(ctx context.Context, a, b int64) (*model.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM chat_rooms
		WHERE pair_key = $1 AND type = 'private' AND is_active`

	room, err := scanRoom(r.db.QueryRow(ctx, query, model.PairKey(a, b)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := loadMembers(ctx, r.db, room); err != nil {
		return nil, err
	}
	return room, nil
}

// Create 创建聊天室及成员
// 私聊用户对冲突时返回 ErrPrivateRoomExists
func (r *RoomRepository) Create(ctx context.Context, room *model.Room) error {
	if len(room.Members) == 0 {
		return ErrInvalidRoomMembers
	}
	if room.Type == model.RoomTypePrivate {
		if len(room.Members) != 2 {
			return ErrInvalidRoomMembers
		}
		room.PairKey = model.PairKey(room.Members[0].UserID, room.Members[1].UserID)
	}

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO chat_rooms (id, type, name, description, created_by, status, is_active, pair_key,
			                        member_count, last_activity, create_at, update_at)
			VALUES ($1, $2, $3, $4, $5, 'active', TRUE, NULLIF($6, ''), 0, NOW(), NOW(), NOW())
		`
		if _, err := tx.Exec(ctx, query,
			room.ID,
			room.Type,
			room.Name,
			room.Description,
			room.CreatedBy,
			room.PairKey,
		); err != nil {
			return err
		}

		if err := insertMembers(ctx, tx, room.ID, room.Members); err != nil {
			return err
		}
		return recount(ctx, tx, room.ID)
	})
	if err != nil {
		if isPairConflict(err) {
			return ErrPrivateRoomExists
		}
		return fmt.Errorf("create room: %w", err)
	}

	fresh, err := r.GetByID(ctx, room.ID)
	if err != nil {
		return err
	}
	*room = *fresh
	return nil
}

// GetByID 获取活跃聊天室（含成员）
func (r *RoomRepository) GetByID(ctx context.Context, id int64) (*model.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM chat_rooms WHERE id = $1 AND is_active`
	room, err := scanRoom(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	if err := loadMembers(ctx, r.db, room); err != nil {
		return nil, err
	}
	return room, nil
}

// AddMembers 添加成员，已存在的成员忽略，返回更新后的聊天室
func (r *RoomRepository) AddMembers(ctx context.Context, roomID int64, members []model.Member, guard MemberGuard) (*model.Room, error) {
	var room *model.Room
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockAndCheck(ctx, tx, roomID, guard); err != nil {
			return err
		}
		if err := insertMembers(ctx, tx, roomID, members); err != nil {
			return err
		}
		if err := recount(ctx, tx, roomID); err != nil {
			return err
		}
		var err error
		room, err = getInTx(ctx, tx, roomID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// RemoveMembers 移除成员，不存在的成员忽略，返回更新后的聊天室
func (r *RoomRepository) RemoveMembers(ctx context.Context, roomID int64, userIDs []int64, guard MemberGuard) (*model.Room, error) {
	var room *model.Room
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockAndCheck(ctx, tx, roomID, guard); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM chat_room_members WHERE room_id = $1 AND user_id = ANY($2)`,
			roomID, userIDs,
		); err != nil {
			return err
		}
		if err := recount(ctx, tx, roomID); err != nil {
			return err
		}
		var err error
		room, err = getInTx(ctx, tx, roomID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// UpdateMemberRole 修改成员角色
func (r *RoomRepository) UpdateMemberRole(ctx context.Context, roomID, userID int64, role model.MemberRole, guard MemberGuard) (*model.Room, error) {
	var room *model.Room
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockAndCheck(ctx, tx, roomID, guard); err != nil {
			return err
		}
		result, err := tx.Exec(ctx,
			`UPDATE chat_room_members SET role = $3 WHERE room_id = $1 AND user_id = $2`,
			roomID, userID, role,
		)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return ErrMemberNotFound
		}
		if err := recount(ctx, tx, roomID); err != nil {
			return err
		}
		room, err = getInTx(ctx, tx, roomID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// SoftDelete 逻辑删除，status 与 is_active 同时更新
func (r *RoomRepository) SoftDelete(ctx context.Context, roomID int64) error {
	query := `UPDATE chat_rooms SET status = 'deleted', is_active = FALSE, update_at = NOW()
		WHERE id = $1 AND is_active`
	result, err := r.db.Exec(ctx, query, roomID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// ListByUser 获取用户所在的活跃聊天室，按最近活跃排序
func (r *RoomRepository) ListByUser(ctx context.Context, userID int64) ([]*model.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM chat_rooms
		WHERE is_active AND id IN (SELECT room_id FROM chat_room_members WHERE user_id = $1)
		ORDER BY last_activity DESC`
	return r.listRooms(ctx, query, userID)
}

// ListUndersized 获取成员数低于下限的活跃聊天室
// 私聊下限为 2，群聊/社区为 minGroupMembers
func (r *RoomRepository) ListUndersized(ctx context.Context, minGroupMembers, limit int) ([]*model.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM chat_rooms
		WHERE is_active AND (
			(type = 'private' AND member_count < 2) OR
			(type <> 'private' AND member_count < $1)
		)
		ORDER BY last_activity
		LIMIT $2`
	return r.listRooms(ctx, query, minGroupMembers, limit)
}

func (r *RoomRepository) listRooms(ctx context.Context, query string, args ...any) ([]*model.Room, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []*model.Room
	byID := make(map[int64]*model.Room)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
		byID[room.ID] = room
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return rooms, nil
	}

	ids := make([]int64, 0, len(rooms))
	for _, room := range rooms {
		ids = append(ids, room.ID)
	}

	memberRows, err := r.db.Query(ctx,
		`SELECT room_id, user_id, role, joined_at FROM chat_room_members
		 WHERE room_id = ANY($1) ORDER BY joined_at, user_id`, ids)
	if err != nil {
		return nil, err
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var roomID int64
		var m model.Member
		if err := memberRows.Scan(&roomID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		if room, ok := byID[roomID]; ok {
			room.Members = append(room.Members, m)
		}
	}
	return rooms, memberRows.Err()
}

// queryer pool 与事务的公共读接口
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadMembers(ctx context.Context, q queryer, room *model.Room) error {
	rows, err := q.Query(ctx,
		`SELECT user_id, role, joined_at FROM chat_room_members
		 WHERE room_id = $1 ORDER BY joined_at, user_id`, room.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	room.Members = room.Members[:0]
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return err
		}
		room.Members = append(room.Members, m)
	}
	return rows.Err()
}

func getInTx(ctx context.Context, tx pgx.Tx, roomID int64) (*model.Room, error) {
	room, err := scanRoom(tx.QueryRow(ctx, `SELECT `+roomColumns+` FROM chat_rooms WHERE id = $1`, roomID))
	if err != nil {
		return nil, err
	}
	if err := loadMembers(ctx, tx, room); err != nil {
		return nil, err
	}
	return room, nil
}

// lockRoom 行锁住活跃聊天室，不存在返回 ErrRoomNotFound
func lockRoom(ctx context.Context, tx pgx.Tx, roomID int64) error {
	var id int64
	err := tx.QueryRow(ctx, `SELECT id FROM chat_rooms WHERE id = $1 AND is_active FOR UPDATE`, roomID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRoomNotFound
	}
	return err
}

// lockAndCheck 加行锁后读取最新成员并执行 guard
func lockAndCheck(ctx context.Context, tx pgx.Tx, roomID int64, guard MemberGuard) error {
	if err := lockRoom(ctx, tx, roomID); err != nil {
		return err
	}
	if guard == nil {
		return nil
	}
	current, err := getInTx(ctx, tx, roomID)
	if err != nil {
		return err
	}
	return guard(current)
}

func insertMembers(ctx context.Context, tx pgx.Tx, roomID int64, members []model.Member) error {
	batch := &pgx.Batch{}
	for _, m := range members {
		joinedAt := m.JoinedAt
		if joinedAt.IsZero() {
			joinedAt = time.Now()
		}
		batch.Queue(
			`INSERT INTO chat_room_members (room_id, user_id, role, joined_at)
			 VALUES ($1, $2, $3, $4) ON CONFLICT (room_id, user_id) DO NOTHING`,
			roomID, m.UserID, m.Role, joinedAt,
		)
	}
	return tx.SendBatch(ctx, batch).Close()
}

// recount 以成员行重算 member_count 并刷新 last_activity
func recount(ctx context.Context, tx pgx.Tx, roomID int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE chat_rooms
		SET member_count = (SELECT COUNT(*) FROM chat_room_members WHERE room_id = $1),
		    last_activity = NOW(),
		    update_at = NOW()
		WHERE id = $1`, roomID)
	return err
}

func scanRoom(row pgx.Row) (*model.Room, error) {
	room := &model.Room{}
	err := row.Scan(
		&room.ID,
		&room.Type,
		&room.Name,
		&room.Description,
		&room.CreatedBy,
		&room.Status,
		&room.IsActive,
		&room.PairKey,
		&room.Metadata.MemberCount,
		&room.Metadata.LastActivity,
		&room.CreateAt,
		&room.UpdateAt,
	)
	if err != nil {
		return nil, err
	}
	return room, nil
}

// isPairConflict 是否为私聊用户对唯一索引冲突
func isPairConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateUniqueViolation && pgErr.ConstraintName == pairIndexName
}
