package model

// UserStatus 用户状态
const (
	UserStatusDisabled = 0 // 禁用
	UserStatusNormal   = 1 // 正常
)

// 平台角色
const (
	UserRoleUser  = "user"
	UserRoleAdmin = "admin"
)

// User 用户（来自用户目录）
type User struct {
	ID       int64  `json:"id,string" db:"id"`
	Username string `json:"username" db:"username"`
	Email    string `json:"email,omitempty" db:"email"`
	Role     string `json:"role" db:"role"`
	Status   int    `json:"-" db:"status"`
}

// IsActive 是否可用
func (u *User) IsActive() bool {
	return u.Status == UserStatusNormal
}
