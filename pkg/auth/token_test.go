package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/bodyf1rst/billing-backend/pkg/config"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var testJWTConfig = config.JWTConfig{
	Secret: "secret",
	Issuer: "bodyf1rst",
}

func TestMintAndParseAccessToken(t *testing.T) {
	now := time.Now().UTC()
	userID := uuid.New()

	token, err := MintAccessToken(testJWTConfig, now, 30*time.Minute, AccessTokenPayload{
		UserID: userID,
		Role:   enums.RoleCoach,
	})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	claims, err := ParseAccessToken(testJWTConfig, token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.UserID != userID {
		t.Fatalf("expected user_id %s, got %s", userID, claims.UserID)
	}
	if claims.Role != enums.RoleCoach {
		t.Fatalf("unexpected role %s", claims.Role)
	}
	if claims.Issuer != testJWTConfig.Issuer {
		t.Fatalf("expected issuer %s, got %s", testJWTConfig.Issuer, claims.Issuer)
	}
	diff := claims.ExpiresAt.Sub(now.Add(30 * time.Minute))
	if diff < 0 {
		diff = -diff
	}
	if diff >= time.Second {
		t.Fatalf("unexpected expiry %v", claims.ExpiresAt)
	}
}

func TestParseAccessTokenInvalidSignature(t *testing.T) {
	token, err := MintAccessToken(testJWTConfig, time.Now(), 10*time.Minute, AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.RoleMember,
	})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	if _, err := ParseAccessToken(testJWTConfig, token+"x"); err == nil {
		t.Fatal("expected invalid signature error")
	}
	other := testJWTConfig
	other.Issuer = "someone-else"
	if _, err := ParseAccessToken(other, token); err == nil {
		t.Fatal("expected issuer mismatch error")
	}
}

func TestParseAccessTokenExpired(t *testing.T) {
	token, err := MintAccessToken(testJWTConfig, time.Now().Add(-time.Hour), 15*time.Minute, AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	_, err = ParseAccessToken(testJWTConfig, token)
	if err == nil {
		t.Fatal("expected expiration error")
	}
	if !strings.Contains(err.Error(), "expired") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMintAccessTokenInvalidRole(t *testing.T) {
	if _, err := MintAccessToken(testJWTConfig, time.Now(), time.Minute, AccessTokenPayload{UserID: uuid.New()}); err == nil {
		t.Fatal("expected invalid role error")
	}
}

func TestParseAccessTokenRejectsSubjectMismatch(t *testing.T) {
	now := time.Now()
	claims := AccessTokenClaims{
		UserID: uuid.New(),
		Role:   enums.RoleMember,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testJWTConfig.Issuer,
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTConfig.Secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAccessToken(testJWTConfig, token); err == nil || !strings.Contains(err.Error(), "subject") {
		t.Fatalf("expected subject mismatch, got %v", err)
	}
}

func TestParseAccessTokenToleratesSmallClockSkew(t *testing.T) {
	token, err := MintAccessToken(testJWTConfig, time.Now().Add(-time.Minute), time.Minute-5*time.Second, AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.RoleMember,
	})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	if _, err := ParseAccessToken(testJWTConfig, token); err != nil {
		t.Fatalf("token within skew should parse: %v", err)
	}
}
