package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 稳定的错误类别，客户端据此分支处理
type Kind string

const (
	KindInvalidRequest      Kind = "InvalidRequest"
	KindUnauthorized        Kind = "Unauthorized"
	KindUserNotFound        Kind = "UserNotFound"
	KindRoomNotFound        Kind = "RoomNotFound"
	KindForbidden           Kind = "Forbidden"
	KindNoOp                Kind = "NoOp"
	KindInvalidOperation    Kind = "InvalidOperation"
	KindProviderUnavailable Kind = "ProviderUnavailable"
	KindProviderRejected    Kind = "ProviderRejected"
	KindConflict            Kind = "Conflict"
	KindInternal            Kind = "Internal"
)

// AppError 应用错误类型
// 包含错误码、错误类别和用户可见的错误消息
type AppError struct {
	Code    int    // 错误码
	Kind    Kind   // 错误类别
	Message string // 用户可见的错误消息
	Err     error  // 原始错误（可选，仅用于日志）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 创建新错误
func NewError(code int, kind Kind, message string) *AppError {
	return &AppError{
		Code:    code,
		Kind:    kind,
		Message: message,
	}
}

// Wrap 包装原始错误，保留错误码与类别
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Kind:    e.Kind,
		Message: e.Message,
		Err:     err,
	}
}

// WithMessage 替换用户可见消息
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{
		Code:    e.Code,
		Kind:    e.Kind,
		Message: message,
		Err:     e.Err,
	}
}

// Is 判断是否为指定错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 获取错误码，如果不是 AppError 返回默认错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError
}

// GetKind 获取错误类别
func GetKind(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

// HTTPStatus 错误类别到 HTTP 状态码的映射
func HTTPStatus(err error) int {
	switch GetKind(err) {
	case KindInvalidRequest, KindNoOp, KindInvalidOperation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindUserNotFound, KindRoomNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindProviderUnavailable:
		return http.StatusServiceUnavailable
	case KindProviderRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 认证相关 10000-10999
	CodeTokenInvalid = 10003
	CodeTokenExpired = 10004
	CodeUserDisabled = 10005

	// 用户相关 11000-11999
	CodeUserNotFound  = 11001
	CodeInvalidParams = 11002

	// 聊天室相关 13000-13999
	CodeRoomNotFound     = 13001
	CodeForbidden        = 13002
	CodeNoOp             = 13003
	CodeInvalidOperation = 13004
	CodeCannotChatSelf   = 13005
	CodeRoomConflict     = 13006

	// 频道服务相关 14000-14999
	CodeProviderUnavailable = 14001
	CodeProviderRejected    = 14002

	// 系统错误 50000-50999
	CodeServerError   = 50001
	CodeDBError       = 50002
	CodeTooManyReqest = 50003
)

// ============== 预定义错误 ==============

// 认证相关
var (
	ErrTokenInvalid = NewError(CodeTokenInvalid, KindUnauthorized, "invalid credential")
	ErrTokenExpired = NewError(CodeTokenExpired, KindUnauthorized, "credential expired")
	ErrUserDisabled = NewError(CodeUserDisabled, KindUnauthorized, "user is disabled")
)

// 用户相关
var (
	ErrUserNotFound  = NewError(CodeUserNotFound, KindUserNotFound, "user not found")
	ErrInvalidParams = NewError(CodeInvalidParams, KindInvalidRequest, "invalid parameters")
)

// 聊天室相关
var (
	ErrRoomNotFound     = NewError(CodeRoomNotFound, KindRoomNotFound, "chat room not found")
	ErrForbidden        = NewError(CodeForbidden, KindForbidden, "not allowed to perform this action")
	ErrNoOp             = NewError(CodeNoOp, KindNoOp, "all members already present")
	ErrInvalidOperation = NewError(CodeInvalidOperation, KindInvalidOperation, "operation would violate room invariants")
	ErrCannotChatSelf   = NewError(CodeCannotChatSelf, KindInvalidRequest, "cannot create a chat with yourself")
	ErrRoomConflict     = NewError(CodeRoomConflict, KindConflict, "chat room was created concurrently")
)

// 频道服务相关
var (
	ErrProviderUnavailable = NewError(CodeProviderUnavailable, KindProviderUnavailable, "messaging provider unavailable")
	ErrProviderRejected    = NewError(CodeProviderRejected, KindProviderRejected, "messaging provider rejected the request")
)

// 系统相关
var (
	ErrServerError    = NewError(CodeServerError, KindInternal, "internal server error")
	ErrDBError        = NewError(CodeDBError, KindInternal, "database error")
	ErrTooManyRequest = NewError(CodeTooManyReqest, KindInvalidRequest, "too many requests, try again later")
)
