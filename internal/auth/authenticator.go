package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"sudooom.market.chat/internal/model"
	"sudooom.market.chat/internal/repository"
	appErrors "sudooom.market.chat/pkg/errors"
	"sudooom.market.chat/pkg/jwt"
)

// Identity 已验证的调用方身份
type Identity struct {
	UserID int64
	Role   string
}

// IsAdmin 是否为平台管理员
func (i Identity) IsAdmin() bool {
	return i.Role == model.UserRoleAdmin
}

// TokenValidator 访问令牌校验
type TokenValidator interface {
	ValidateAccessToken(token string) (*jwt.Claims, error)
}

// RevocationChecker 令牌吊销检查
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// UserLookup 用户目录
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// Authenticator HTTP 中间件与 WebSocket 共用的凭证校验
type Authenticator struct {
	tokens  TokenValidator
	revoked RevocationChecker
	users   UserLookup
	logger  *slog.Logger
}

// NewAuthenticator 创建凭证校验器，revoked 可为 nil
func NewAuthenticator(tokens TokenValidator, revoked RevocationChecker, users UserLookup) *Authenticator {
	return &Authenticator{
		tokens:  tokens,
		revoked: revoked,
		users:   users,
		logger:  slog.Default(),
	}
}

// Verify 校验签名与有效期，检查吊销，再到用户目录解析身份
// 角色以用户目录为准
func (a *Authenticator) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, appErrors.ErrTokenInvalid
	}

	claims, err := a.tokens.ValidateAccessToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.ErrTokenExpired
		}
		return nil, appErrors.ErrTokenInvalid
	}

	if a.revoked != nil {
		revoked, err := a.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			a.logger.Error("Failed to check token revocation", "userId", claims.UserID, "error", err)
			return nil, appErrors.ErrServerError.Wrap(err)
		}
		if revoked {
			return nil, appErrors.ErrTokenInvalid
		}
	}

	user, err := a.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, appErrors.ErrTokenInvalid
		}
		a.logger.Error("Failed to look up user", "userId", claims.UserID, "error", err)
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	if !user.IsActive() {
		return nil, appErrors.ErrUserDisabled
	}

	return &Identity{UserID: user.ID, Role: user.Role}, nil
}

// BearerToken 解析 "Bearer <token>"，scheme 不区分大小写
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
