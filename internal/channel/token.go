package channel

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenScope = "channel"

var ErrInvalidUserToken = errors.New("invalid channel user token")

// UserClaims 频道用户 Token 声明
type UserClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenIssuer 签发客户端直连频道服务用的用户 Token
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer 创建 Token 签发器
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue 为单个用户签发 Token
func (i *TokenIssuer) Issue(member string) (string, time.Time, error) {
	if member == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty member id", ErrProviderRejected)
	}
	now := time.Now()
	expiresAt := now.Add(i.ttl)
	claims := UserClaims{
		Scope: tokenScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   member,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify 校验 Token，返回成员 ID
func (i *TokenIssuer) Verify(tokenString string) (string, error) {
	claims := &UserClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", ErrInvalidUserToken
	}
	if claims.Scope != tokenScope || claims.Subject == "" {
		return "", ErrInvalidUserToken
	}
	return claims.Subject, nil
}
