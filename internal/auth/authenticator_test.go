package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.market.chat/internal/model"
	"sudooom.market.chat/internal/repository"
	appErrors "sudooom.market.chat/pkg/errors"
	"sudooom.market.chat/pkg/jwt"
)

type mockRevocation struct {
	revoked map[string]bool
	err     error
}

func (m *mockRevocation) IsRevoked(_ context.Context, jti string) (bool, error) {
	return m.revoked[jti], m.err
}

type mockUsers struct {
	users map[int64]*model.User
	err   error
}

func (m *mockUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

func setup() (*jwt.Service, *mockRevocation, *mockUsers) {
	svc := jwt.NewService("test-secret", "test", time.Hour)
	rev := &mockRevocation{revoked: map[string]bool{}}
	users := &mockUsers{users: map[int64]*model.User{
		1: {ID: 1, Username: "alice", Role: model.UserRoleAdmin, Status: model.UserStatusNormal},
		2: {ID: 2, Username: "bob", Role: model.UserRoleUser, Status: model.UserStatusDisabled},
	}}
	return svc, rev, users
}

func TestVerify_Success(t *testing.T) {
	svc, rev, users := setup()
	a := NewAuthenticator(svc, rev, users)

	// 令牌中的角色与目录不一致时以目录为准
	issued, err := svc.Issue(1, model.UserRoleUser)
	require.NoError(t, err)

	id, err := a.Verify(context.Background(), issued.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id.UserID)
	assert.Equal(t, model.UserRoleAdmin, id.Role)
	assert.True(t, id.IsAdmin())
}

func TestVerify_Failures(t *testing.T) {
	svc, rev, users := setup()
	a := NewAuthenticator(svc, rev, users)
	ctx := context.Background()

	expired, err := jwt.NewService("test-secret", "test", -time.Minute).Issue(1, "user")
	require.NoError(t, err)

	foreign, err := jwt.NewService("test-secret", "other-issuer", time.Hour).Issue(1, "user")
	require.NoError(t, err)

	disabled, err := svc.Issue(2, "user")
	require.NoError(t, err)

	unknown, err := svc.Issue(99, "user")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  *appErrors.AppError
	}{
		{"empty", "", appErrors.ErrTokenInvalid},
		{"garbage", "not-a-token", appErrors.ErrTokenInvalid},
		{"expired", expired.Token, appErrors.ErrTokenExpired},
		{"foreign issuer", foreign.Token, appErrors.ErrTokenInvalid},
		{"disabled user", disabled.Token, appErrors.ErrUserDisabled},
		{"unknown user", unknown.Token, appErrors.ErrTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := a.Verify(ctx, tt.token)
			assert.Nil(t, id)
			assert.True(t, appErrors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestVerify_Revoked(t *testing.T) {
	svc, rev, users := setup()
	a := NewAuthenticator(svc, rev, users)

	issued, err := svc.Issue(1, "user")
	require.NoError(t, err)

	rev.revoked[issued.ID] = true
	_, err = a.Verify(context.Background(), issued.Token)
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenInvalid))

	rev.revoked = map[string]bool{}
	rev.err = errors.New("redis down")
	_, err = a.Verify(context.Background(), issued.Token)
	assert.True(t, appErrors.Is(err, appErrors.ErrServerError))
}

func TestVerify_DirectoryError(t *testing.T) {
	svc, _, users := setup()
	users.err = errors.New("db down")
	a := NewAuthenticator(svc, nil, users)

	issued, err := svc.Issue(1, "user")
	require.NoError(t, err)

	_, err = a.Verify(context.Background(), issued.Token)
	assert.True(t, appErrors.Is(err, appErrors.ErrDBError))
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc":  "abc",
		" BEARER abc ": "abc",
		"Basic abc":    "",
		"abc":          "",
		"Bearer ":      "",
		"":             "",
	}
	for header, want := range tests {
		assert.Equal(t, want, BearerToken(header), "header %q", header)
	}
}
