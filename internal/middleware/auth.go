package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"sudooom.market.chat/internal/auth"
	"sudooom.market.chat/pkg/response"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// Verifier 凭证校验
type Verifier interface {
	Verify(ctx context.Context, token string) (*auth.Identity, error)
}

// JWTAuth 认证中间件，身份解析失败返回 401
func JWTAuth(verifier Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			response.Unauthorized(c, nil)
			c.Abort()
			return
		}

		identity, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			response.ErrorFromAppError(c, err)
			c.Abort()
			return
		}

		c.Set(ctxUserID, identity.UserID)
		c.Set(ctxRole, identity.Role)
		c.Next()
	}
}

// GetUserID 从 context 获取 user_id
func GetUserID(c *gin.Context) int64 {
	return c.GetInt64(ctxUserID)
}

// GetIdentity 从 context 获取完整身份
func GetIdentity(c *gin.Context) auth.Identity {
	return auth.Identity{
		UserID: c.GetInt64(ctxUserID),
		Role:   c.GetString(ctxRole),
	}
}
