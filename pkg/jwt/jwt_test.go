package jwt

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key"

func TestIssue(t *testing.T) {
	service := NewService(testSecret, "chat-test", time.Hour)

	issued, err := service.Issue(12345, "user")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	if issued.Token == "" {
		t.Error("Token should not be empty")
	}
	if issued.ID == "" {
		t.Error("Token id should not be empty")
	}
	if !issued.ExpiresAt.After(time.Now()) {
		t.Error("ExpiresAt should be in the future")
	}

	if _, err := service.Issue(0, "user"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Expected ErrTokenInvalid for zero user id, got %v", err)
	}
}

func TestValidateAccessToken_Valid(t *testing.T) {
	service := NewService(testSecret, "chat-test", time.Hour)

	issued, err := service.Issue(12345, "admin")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	claims, err := service.ValidateAccessToken(issued.Token)
	if err != nil {
		t.Fatalf("Failed to validate access token: %v", err)
	}
	if claims.UserID != 12345 {
		t.Errorf("Expected UserID 12345, got %d", claims.UserID)
	}
	if claims.Role != "admin" {
		t.Errorf("Expected Role admin, got %s", claims.Role)
	}
	if claims.ID != issued.ID {
		t.Errorf("Expected jti %s, got %s", issued.ID, claims.ID)
	}
	if claims.Subject != "12345" {
		t.Errorf("Expected subject 12345, got %s", claims.Subject)
	}
}

func TestValidateAccessToken_Expired(t *testing.T) {
	service := NewService(testSecret, "chat-test", -time.Minute)

	issued, err := service.Issue(12345, "user")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	if _, err := service.ValidateAccessToken(issued.Token); err != ErrTokenExpired {
		t.Errorf("Expected ErrTokenExpired, got %v", err)
	}
}

func TestValidateAccessToken_WrongSecret(t *testing.T) {
	signer := NewService("secret-a", "chat-test", time.Hour)
	verifier := NewService("secret-b", "chat-test", time.Hour)

	issued, err := signer.Issue(1, "user")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	if _, err := verifier.ValidateAccessToken(issued.Token); err != ErrTokenInvalid {
		t.Errorf("Expected ErrTokenInvalid, got %v", err)
	}
}

func TestValidateAccessToken_WrongIssuer(t *testing.T) {
	signer := NewService(testSecret, "someone-else", time.Hour)
	verifier := NewService(testSecret, "chat-test", time.Hour)

	issued, err := signer.Issue(1, "user")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	if _, err := verifier.ValidateAccessToken(issued.Token); err != ErrTokenInvalid {
		t.Errorf("Expected ErrTokenInvalid, got %v", err)
	}
}

func TestValidateAccessToken_ForeignScope(t *testing.T) {
	service := NewService(testSecret, "chat-test", time.Hour)

	now := time.Now()
	claims := &Claims{
		UserID: 1,
		Scope:  "stream.channel",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-1",
			Issuer:    "chat-test",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	if _, err := service.ValidateAccessToken(signed); err != ErrTokenInvalid {
		t.Errorf("Expected ErrTokenInvalid for foreign scope, got %v", err)
	}
}

func TestValidateAccessToken_NoneAlgorithm(t *testing.T) {
	service := NewService(testSecret, "", time.Hour)

	claims := &Claims{
		UserID: 1,
		Scope:  scopeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("Failed to build unsigned token: %v", err)
	}
	if _, err := service.ValidateAccessToken(signed); err != ErrTokenInvalid {
		t.Errorf("Expected ErrTokenInvalid for alg=none, got %v", err)
	}
}

func TestValidateAccessToken_Garbage(t *testing.T) {
	service := NewService(testSecret, "chat-test", time.Hour)

	for _, token := range []string{"", "abc", "a.b.c"} {
		if _, err := service.ValidateAccessToken(token); err != ErrTokenInvalid {
			t.Errorf("token %q: expected ErrTokenInvalid, got %v", token, err)
		}
	}
}
