package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/ledger-core/pkg/config"
)

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "ledger"}
	now := time.Now().UTC()
	userID := uuid.New()

	token, err := MintAccessToken(cfg, now, userID, 30*time.Minute)
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	claims, err := ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.UserID != userID {
		t.Fatalf("expected user_id %s, got %s", userID, claims.UserID)
	}
	if claims.Issuer != cfg.Issuer {
		t.Fatalf("issuer mismatch: %s", claims.Issuer)
	}
	if claims.Subject != userID.String() {
		t.Fatalf("subject mismatch: %s", claims.Subject)
	}
}

func TestParseAccessTokenRejectsWrongIssuerAndSecret(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "ledger"}
	token, err := MintAccessToken(cfg, time.Now(), uuid.New(), time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := ParseAccessToken(config.JWTConfig{Secret: "secret", Issuer: "other"}, token); err == nil {
		t.Fatal("expected issuer mismatch to fail")
	}
	if _, err := ParseAccessToken(config.JWTConfig{Secret: "nope", Issuer: "ledger"}, token); err == nil {
		t.Fatal("expected signature mismatch to fail")
	}
}

func TestParseAccessTokenRejectsExpired(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "ledger"}
	token, err := MintAccessToken(cfg, time.Now().Add(-2*time.Hour), uuid.New(), time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	_, err = ParseAccessToken(cfg, token)
	if err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expiry error, got %v", err)
	}
}

func TestParseAccessTokenRequiresUserID(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "ledger"}
	claims := jwt.RegisteredClaims{
		Issuer:    "ledger",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAccessToken(cfg, signed); err == nil {
		t.Fatal("expected missing user_id to fail")
	}
}

func TestMintAccessTokenValidatesInput(t *testing.T) {
	now := time.Now()
	if _, err := MintAccessToken(config.JWTConfig{Issuer: "ledger"}, now, uuid.New(), time.Minute); err == nil {
		t.Fatal("expected missing secret to fail")
	}
	if _, err := MintAccessToken(config.JWTConfig{Secret: "s", Issuer: "ledger"}, now, uuid.Nil, time.Minute); err == nil {
		t.Fatal("expected nil user to fail")
	}
	if _, err := MintAccessToken(config.JWTConfig{Secret: "s", Issuer: "ledger"}, now, uuid.New(), 0); err == nil {
		t.Fatal("expected zero ttl to fail")
	}
}
