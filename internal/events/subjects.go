package events

import (
	"strconv"
	"strings"
)

const (
	// SubjectUserPrefix 用户个人房间，完整格式: chat.user.{user_id}
	SubjectUserPrefix = "chat.user."

	// SubjectUserWildcard 订阅所有用户事件，每个节点各自投递本地会话
	SubjectUserWildcard = SubjectUserPrefix + "*"
)

// UserSubject 用户个人房间 subject
func UserSubject(userID int64) string {
	return SubjectUserPrefix + strconv.FormatInt(userID, 10)
}

// ParseUserSubject 从 subject 解析用户 ID
func ParseUserSubject(subject string) (int64, bool) {
	rest, ok := strings.CutPrefix(subject, SubjectUserPrefix)
	if !ok || rest == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
