package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.market.chat/internal/model"
)

var ErrUserNotFound = errors.New("user not found")

const selectUsers = `SELECT id, username, email, role, status FROM users`

// UserRepository 用户目录，只读
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository 创建用户目录
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID 按 ID 查询用户
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	rows, _ := r.db.Query(ctx, selectUsers+` WHERE id = $1`, id)
	user, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[model.User])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return user, nil
}

// GetPair 私聊双方，任一不存在返回 ErrUserNotFound
func (r *UserRepository) GetPair(ctx context.Context, a, b int64) (*model.User, *model.User, error) {
	users, err := r.GetProfiles(ctx, []int64{a, b})
	if err != nil {
		return nil, nil, err
	}
	ua, ub := users[a], users[b]
	if ua == nil || ub == nil {
		return nil, nil, ErrUserNotFound
	}
	return ua, ub, nil
}

// GetProfiles 批量查询，缺失的 ID 不在结果中
func (r *UserRepository) GetProfiles(ctx context.Context, ids []int64) (map[int64]*model.User, error) {
	if len(ids) == 0 {
		return map[int64]*model.User{}, nil
	}

	rows, _ := r.db.Query(ctx, selectUsers+` WHERE id = ANY($1)`, ids)
	users, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.User])
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}

	byID := make(map[int64]*model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	return byID, nil
}
