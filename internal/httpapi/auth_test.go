package httpapi

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestJWTAuth tests token issue and validation
func TestJWTAuth(t *testing.T) {
	auth := NewJWTAuth("test-secret")

	token, expiresAt, err := auth.GenerateToken("test-client", false)
	if err != nil {
		t.Fatalf("Expected no error generating token, got %v", err)
	}
	if token == "" {
		t.Error("Expected non-empty token")
	}

	// Should expire in approximately 24 hours
	if diff := expiresAt.Sub(time.Now().Add(DefaultTokenTTL)).Abs(); diff > time.Minute {
		t.Errorf("Token expiration time off by more than 1 minute: %v", diff)
	}

	claims, err := auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("Expected no error validating token, got %v", err)
	}
	if claims.ClientID != "test-client" {
		t.Errorf("Expected ClientID 'test-client', got '%s'", claims.ClientID)
	}
	if claims.Subject != "test-client" {
		t.Errorf("Expected subject 'test-client', got '%s'", claims.Subject)
	}
	if claims.Issuer != tokenIssuer {
		t.Errorf("Expected issuer %q, got %q", tokenIssuer, claims.Issuer)
	}
	if claims.IsAdmin {
		t.Error("Expected IsAdmin to be false")
	}
}

func TestJWTAuth_AdminAndBearer(t *testing.T) {
	auth := NewJWTAuth("admin-secret")

	token, _, err := auth.GenerateToken("admin", true)
	if err != nil {
		t.Fatalf("Expected no error generating admin token, got %v", err)
	}

	claims, err := auth.ValidateToken("Bearer " + token)
	if err != nil {
		t.Fatalf("Expected no error validating bearer token, got %v", err)
	}
	if !claims.IsAdmin {
		t.Error("Expected IsAdmin to be true for admin token")
	}
}

func TestJWTAuth_Rejects(t *testing.T) {
	auth := NewJWTAuth("secret-a")
	other := NewJWTAuth("secret-b")

	if _, _, err := auth.GenerateToken("", false); !errors.Is(err, ErrEmptyClientID) {
		t.Errorf("Expected ErrEmptyClientID, got %v", err)
	}
	if _, err := auth.ValidateToken(""); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("Expected ErrEmptyToken, got %v", err)
	}
	if _, err := auth.ValidateToken("Bearer "); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("Expected ErrEmptyToken for a bare prefix, got %v", err)
	}
	if _, err := auth.ValidateToken("invalid-token"); err == nil {
		t.Error("Expected error for malformed token")
	}

	token, _, err := other.GenerateToken("client", false)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if _, err := auth.ValidateToken(token); err == nil {
		t.Error("Expected error for token signed with another key")
	}

	expired := &JWTAuth{secretKey: []byte("secret-a"), ttl: -time.Minute}
	token, _, err = expired.GenerateToken("client", false)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if _, err := auth.ValidateToken(token); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("Expected expired token error, got %v", err)
	}

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{
		ClientID: "client",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := foreign.SignedString([]byte("secret-a"))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	if _, err := auth.ValidateToken(signed); !errors.Is(err, jwt.ErrTokenInvalidIssuer) {
		t.Errorf("Expected invalid issuer error, got %v", err)
	}
}
