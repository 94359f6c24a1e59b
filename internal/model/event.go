package model

// 推送到用户个人房间的事件类型
const (
	EventRoomCreated        = "room.created"
	EventRoomDeleted        = "room.deleted"
	EventRoomMembersAdded   = "room.members_added"
	EventRoomMembersRemoved = "room.members_removed"
	EventRoomRoleChanged    = "room.role_changed"
	EventRoomTyping         = "room.typing"
)

// Event 服务端推送事件
type Event struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	RoomID int64  `json:"roomId,string"`
	Actor  int64  `json:"actor,string,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// MembersChange 成员变更事件负载
type MembersChange struct {
	UserIDs []int64 `json:"userIds"`
}

// RoleChange 角色变更事件负载
type RoleChange struct {
	UserID int64      `json:"userId,string"`
	Role   MemberRole `json:"role"`
}
