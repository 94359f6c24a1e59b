package model

import (
	"sort"
	"strconv"
	"time"
)

// RoomType 聊天室类型，创建后不可变
type RoomType string

const (
	RoomTypePrivate   RoomType = "private"
	RoomTypeGroup     RoomType = "group"
	RoomTypeCommunity RoomType = "community"
)

// Valid 是否为已知类型
func (t RoomType) Valid() bool {
	switch t {
	case RoomTypePrivate, RoomTypeGroup, RoomTypeCommunity:
		return true
	}
	return false
}

// MemberRole 成员角色
type MemberRole string

const (
	RoleMember    MemberRole = "member"
	RoleModerator MemberRole = "moderator"
	RoleAdmin     MemberRole = "admin"
)

// Valid 是否为已知角色
func (r MemberRole) Valid() bool {
	switch r {
	case RoleMember, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// CanManage 是否有管理成员的权限
func (r MemberRole) CanManage() bool {
	return r == RoleAdmin || r == RoleModerator
}

// RoomStatus 聊天室状态，只做逻辑删除
type RoomStatus string

const (
	RoomStatusActive  RoomStatus = "active"
	RoomStatusDeleted RoomStatus = "deleted"
)

// Member 聊天室成员
type Member struct {
	UserID   int64      `json:"userId,string" db:"user_id"`
	Role     MemberRole `json:"role" db:"role"`
	JoinedAt time.Time  `json:"joinedAt" db:"joined_at"`
	Profile  *User      `json:"profile,omitempty"`
}

// RoomMetadata 聊天室元数据
type RoomMetadata struct {
	MemberCount  int       `json:"memberCount" db:"member_count"`
	LastActivity time.Time `json:"lastActivity" db:"last_activity"`
}

// Room 聊天室
type Room struct {
	ID          int64        `json:"id,string" db:"id"`
	Type        RoomType     `json:"type" db:"type"`
	Name        string       `json:"name" db:"name"`
	Description string       `json:"description" db:"description"`
	CreatedBy   int64        `json:"createdBy,string" db:"created_by"`
	Status      RoomStatus   `json:"status" db:"status"`
	IsActive    bool         `json:"isActive" db:"is_active"`
	PairKey     string       `json:"-" db:"pair_key"`
	Members     []Member     `json:"members"`
	Metadata    RoomMetadata `json:"metadata"`
	CreateAt    time.Time    `json:"createAt" db:"create_at"`
	UpdateAt    time.Time    `json:"updateAt" db:"update_at"`
}

// Member 查找成员，不存在返回 nil
func (r *Room) Member(userID int64) *Member {
	for i := range r.Members {
		if r.Members[i].UserID == userID {
			return &r.Members[i]
		}
	}
	return nil
}

// IsMember 是否为成员
func (r *Room) IsMember(userID int64) bool {
	return r.Member(userID) != nil
}

// MemberIDs 成员 ID 列表（按加入顺序）
func (r *Room) MemberIDs() []int64 {
	ids := make([]int64, 0, len(r.Members))
	for _, m := range r.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// CountRole 统计指定角色的成员数
func (r *Room) CountRole(role MemberRole) int {
	n := 0
	for _, m := range r.Members {
		if m.Role == role {
			n++
		}
	}
	return n
}

// Recount 以成员列表为准重算 memberCount
func (r *Room) Recount() {
	r.Metadata.MemberCount = len(r.Members)
}

// Touch 重算 memberCount 并刷新 lastActivity
func (r *Room) Touch(now time.Time) {
	r.Recount()
	r.Metadata.LastActivity = now
	r.UpdateAt = now
}

// SortMembers 按加入时间排序，时间相同按用户 ID
func (r *Room) SortMembers() {
	sort.SliceStable(r.Members, func(i, j int) bool {
		if r.Members[i].JoinedAt.Equal(r.Members[j].JoinedAt) {
			return r.Members[i].UserID < r.Members[j].UserID
		}
		return r.Members[i].JoinedAt.Before(r.Members[j].JoinedAt)
	})
}

// PairKey 无序用户对的规范键 "min:max"，(A,B) 与 (B,A) 相同
func PairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return strconv.FormatInt(a, 10) + ":" + strconv.FormatInt(b, 10)
}
