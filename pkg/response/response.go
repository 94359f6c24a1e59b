package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "sudooom.market.chat/pkg/errors"
)

// Response 统一响应结构
type Response struct {
	Code    int            `json:"code"`
	Kind    appErrors.Kind `json:"kind,omitempty"`
	Message string         `json:"message"`
	Data    interface{}    `json:"data"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    appErrors.CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Created 资源创建成功
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    appErrors.CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// InvalidParams 参数校验失败
func InvalidParams(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Code:    appErrors.CodeInvalidParams,
		Kind:    appErrors.KindInvalidRequest,
		Message: message,
		Data:    nil,
	})
}

// ErrorFromAppError 从 AppError 生成错误响应
// 非 AppError 统一按服务器内部错误返回，原始错误不会出现在响应里
func ErrorFromAppError(c *gin.Context, err error) {
	c.JSON(appErrors.HTTPStatus(err), Response{
		Code:    appErrors.GetCode(err),
		Kind:    appErrors.GetKind(err),
		Message: appErrors.GetMessage(err),
		Data:    nil,
	})
}

// Unauthorized 未认证
func Unauthorized(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrTokenInvalid
	}
	c.JSON(http.StatusUnauthorized, Response{
		Code:    appErrors.GetCode(err),
		Kind:    appErrors.KindUnauthorized,
		Message: appErrors.GetMessage(err),
		Data:    nil,
	})
}
