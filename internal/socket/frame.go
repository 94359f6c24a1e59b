package socket

import (
	"encoding/json"
	"strings"

	"sudooom.market.chat/internal/auth"
	appErrors "sudooom.market.chat/pkg/errors"
)

// 客户端与服务端事件
const (
	EventAuth          = "auth"
	EventAuthenticated = "authenticated"
	EventPing          = "ping"
	EventPong          = "pong"
	EventError         = "error"
	EventTyping        = "room.typing"
)

// Frame 入站帧
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type authData struct {
	Token string `json:"token"`
}

type authenticatedData struct {
	UserID int64 `json:"userId,string"`
}

type typingData struct {
	RoomID int64 `json:"roomId,string"`
}

// ErrorData error 帧负载
type ErrorData struct {
	Kind    appErrors.Kind `json:"kind"`
	Code    int            `json:"code"`
	Message string         `json:"message"`
}

func encodeFrame(event string, data any) []byte {
	b, err := json.Marshal(outFrame{Event: event, Data: data})
	if err != nil {
		b, _ = json.Marshal(outFrame{Event: EventError, Data: ErrorData{
			Kind:    appErrors.KindInternal,
			Code:    appErrors.CodeServerError,
			Message: "failed to encode frame",
		}})
	}
	return b
}

func errorFrame(err error) []byte {
	return encodeFrame(EventError, ErrorData{
		Kind:    appErrors.GetKind(err),
		Code:    appErrors.GetCode(err),
		Message: appErrors.GetMessage(err),
	})
}

// ExtractCredential 依次取 auth 帧中的 token、Authorization: Bearer 头、token 查询参数
func ExtractCredential(payloadToken, authorization, query string) string {
	if t := strings.TrimSpace(payloadToken); t != "" {
		return t
	}
	if t := auth.BearerToken(authorization); t != "" {
		return t
	}
	return strings.TrimSpace(query)
}
