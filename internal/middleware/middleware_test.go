package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.market.chat/internal/auth"
	"sudooom.market.chat/internal/model"
	appErrors "sudooom.market.chat/pkg/errors"
	"sudooom.market.chat/pkg/response"
)

type verifierFunc func(ctx context.Context, token string) (*auth.Identity, error)

func (f verifierFunc) Verify(ctx context.Context, token string) (*auth.Identity, error) {
	return f(ctx, token)
}

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestJWTAuth(t *testing.T) {
	verifier := verifierFunc(func(_ context.Context, token string) (*auth.Identity, error) {
		switch token {
		case "good":
			return &auth.Identity{UserID: 7, Role: model.UserRoleAdmin}, nil
		case "expired":
			return nil, appErrors.ErrTokenExpired
		case "disabled":
			return nil, appErrors.ErrUserDisabled
		}
		return nil, appErrors.ErrTokenInvalid
	})

	r := setupTestRouter()
	r.GET("/me", JWTAuth(verifier), func(c *gin.Context) {
		id := GetIdentity(c)
		c.JSON(http.StatusOK, gin.H{"userId": id.UserID, "admin": id.IsAdmin()})
	})

	tests := []struct {
		name     string
		header   string
		status   int
		wantCode int
	}{
		{"valid", "Bearer good", http.StatusOK, 0},
		{"missing header", "", http.StatusUnauthorized, appErrors.CodeTokenInvalid},
		{"wrong scheme", "Basic good", http.StatusUnauthorized, appErrors.CodeTokenInvalid},
		{"expired", "Bearer expired", http.StatusUnauthorized, appErrors.CodeTokenExpired},
		{"disabled user", "Bearer disabled", http.StatusUnauthorized, appErrors.CodeUserDisabled},
		{"unknown", "Bearer nope", http.StatusUnauthorized, appErrors.CodeTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			require.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.JSONEq(t, `{"userId":7,"admin":true}`, w.Body.String())
				return
			}
			var resp response.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, appErrors.KindUnauthorized, resp.Kind)
		})
	}
}

func TestCORS(t *testing.T) {
	r := setupTestRouter()
	r.Use(CORS([]string{"http://localhost:3000"}, []string{"GET", "POST"}, true))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
