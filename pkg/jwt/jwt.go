package jwt

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token has expired")
)

const (
	scopeAccess   = "chat.access"
	defaultLeeway = 5 * time.Second
)

// Claims 访问令牌声明，uid 以字符串编码避免前端精度丢失
type Claims struct {
	UserID int64  `json:"uid,string"`
	Role   string `json:"role"`
	Scope  string `json:"scope"`
	jwt.RegisteredClaims
}

// IssuedToken 签发结果
type IssuedToken struct {
	Token     string    `json:"token"`
	ID        string    `json:"jti"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Service HS256 访问令牌签发与校验
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
	parser *jwt.Parser
}

// NewService 创建令牌服务；issuer 非空时校验 iss
func NewService(secretKey, issuer string, ttl time.Duration) *Service {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(defaultLeeway),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Service{
		secret: []byte(secretKey),
		issuer: issuer,
		ttl:    ttl,
		parser: jwt.NewParser(opts...),
	}
}

// TTL 访问令牌有效期
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue 签发访问令牌
func (s *Service) Issue(userID int64, role string) (*IssuedToken, error) {
	if userID <= 0 {
		return nil, ErrTokenInvalid
	}
	now := time.Now()
	expiresAt := now.Add(s.ttl)
	jti := uuid.NewString()

	claims := &Claims{
		UserID: userID,
		Role:   role,
		Scope:  scopeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, err
	}
	return &IssuedToken{Token: signed, ID: jti, ExpiresAt: expiresAt}, nil
}

// ValidateAccessToken 校验签名、算法、签发方与有效期
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if claims.Scope != scopeAccess || claims.UserID <= 0 || claims.ID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
