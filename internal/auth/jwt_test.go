package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestManager() *JWTManager {
	return NewJWTManager(DefaultJWTConfig("test-secret"))
}

func TestGenerateAndValidateToken(t *testing.T) {
	m := newTestManager()
	orgID := uuid.New()

	token, err := m.GenerateToken(orgID, "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if claims.OrgID != orgID.String() {
		t.Errorf("OrgID = %q, want %q", claims.OrgID, orgID.String())
	}
	if claims.OrgName != "acme" {
		t.Errorf("OrgName = %q, want %q", claims.OrgName, "acme")
	}
	if claims.Subject != orgID.String() {
		t.Errorf("Subject = %q, want %q", claims.Subject, orgID.String())
	}
}

func TestValidateToken_WrongSecretFails(t *testing.T) {
	m1 := NewJWTManager(DefaultJWTConfig("secret-a"))
	m2 := NewJWTManager(DefaultJWTConfig("secret-b"))

	token, err := m1.GenerateToken(uuid.New(), "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m2.ValidateToken(token); err == nil {
		t.Error("expected validation to fail with a different secret")
	}
}

func TestValidateToken_ExpiredTokenReturnsErrExpiredToken(t *testing.T) {
	cfg := DefaultJWTConfig("test-secret")
	m := NewJWTManager(cfg)

	token, err := m.GenerateTokenWithExpiry(uuid.New(), "acme", -time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = m.ValidateToken(token)
	if err != ErrExpiredToken {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestValidateToken_MalformedTokenIsInvalid(t *testing.T) {
	m := newTestManager()
	if _, err := m.ValidateToken("not-a-jwt"); err == nil {
		t.Error("expected an error for a malformed token")
	}
}

func TestGetOrgID(t *testing.T) {
	m := newTestManager()
	orgID := uuid.New()
	token, _ := m.GenerateToken(orgID, "acme")

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := claims.GetOrgID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != orgID {
		t.Errorf("GetOrgID() = %v, want %v", got, orgID)
	}
}

func TestRefreshToken_IssuesNewTokenForSameOrg(t *testing.T) {
	m := newTestManager()
	orgID := uuid.New()
	token, _ := m.GenerateToken(orgID, "acme")

	refreshed, err := m.RefreshToken(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claims, err := m.ValidateToken(refreshed)
	if err != nil {
		t.Fatalf("unexpected error validating refreshed token: %v", err)
	}
	if claims.OrgID != orgID.String() {
		t.Errorf("refreshed token OrgID = %q, want %q", claims.OrgID, orgID.String())
	}
}

func TestRefreshToken_WorksOnExpiredToken(t *testing.T) {
	m := newTestManager()
	orgID := uuid.New()
	token, _ := m.GenerateTokenWithExpiry(orgID, "acme", -time.Minute)

	refreshed, err := m.RefreshToken(token)
	if err != nil {
		t.Fatalf("expected refresh of an expired-but-valid token to succeed, got %v", err)
	}
	if m.IsTokenExpired(refreshed) {
		t.Error("expected the refreshed token to not be expired")
	}
}

func TestIsTokenExpired(t *testing.T) {
	m := newTestManager()
	valid, _ := m.GenerateToken(uuid.New(), "acme")
	if m.IsTokenExpired(valid) {
		t.Error("expected freshly generated token to not be expired")
	}

	expired, _ := m.GenerateTokenWithExpiry(uuid.New(), "acme", -time.Minute)
	if !m.IsTokenExpired(expired) {
		t.Error("expected a token generated with negative expiry to be expired")
	}
}
