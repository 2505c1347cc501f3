package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"callcenter/internal/config"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "issuer",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		ServiceTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m := newManager(t)

	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.IssueAccess(now, Identity{UserID: "rep-1", Role: "agent"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := m.Verify(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Identity() != (Identity{UserID: "rep-1", Role: "agent"}) || claims.Subject != "rep-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := m.Verify(tok, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expired token to fail")
	}
	// within clock skew of issuance
	if _, err := m.Verify(tok, now.Add(-10*time.Second)); err != nil {
		t.Fatalf("expected skew tolerance, got %v", err)
	}
}

func TestServiceTokens(t *testing.T) {
	m := newManager(t)
	now := time.Unix(1700000000, 0).UTC()

	tok, err := m.IssueService(now, "dialer")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok, now); !errors.Is(err, ErrTokenType) {
		t.Fatalf("service token must not pass as access only, got %v", err)
	}
	claims, err := m.Verify(tok, now.Add(12*time.Hour), TokenTypeAccess, TokenTypeService)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "dialer" || claims.Role != ServiceRole || claims.TokenType != TokenTypeService {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := m.IssueAccess(now, Identity{UserID: "dialer", Role: ServiceRole}); !errors.Is(err, ErrTokenType) {
		t.Fatalf("expected service role refused on access token, got %v", err)
	}
	if _, err := m.IssueService(now, ""); !errors.Is(err, ErrMissingClaim) {
		t.Fatalf("expected missing claim, got %v", err)
	}
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	m := newManager(t)
	now := time.Now()

	other, _ := NewManager(config.AuthConfig{JWTSecret: "other", JWTIssuer: "issuer", JWTAudience: "aud", AccessTokenTTL: time.Minute})
	forged, _ := other.IssueAccess(now, Identity{UserID: "rep-1", Role: "agent"})
	if _, err := m.Verify(forged, now); err == nil {
		t.Fatalf("expected signature failure")
	}

	wrongAud, _ := NewManager(config.AuthConfig{JWTSecret: "secret", JWTIssuer: "issuer", JWTAudience: "elsewhere", AccessTokenTTL: time.Minute})
	tok, _ := wrongAud.IssueAccess(now, Identity{UserID: "rep-1", Role: "agent"})
	if _, err := m.Verify(tok, now); err == nil {
		t.Fatalf("expected audience mismatch")
	}
}

func TestRequireAccessToken_QueryParamOnlyWhenAllowed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newManager(t)
	tok, _ := m.IssueAccess(time.Now(), Identity{UserID: "rep-1", Role: "agent"})

	r := gin.New()
	ok := func(c *gin.Context) {
		uid, _ := UserID(c.Request.Context())
		c.String(http.StatusOK, uid)
	}
	r.GET("/api", RequireAccessToken(m), ok)
	r.GET("/live", RequireAccessToken(m, AllowQueryToken()), ok)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "rep-1" {
		t.Fatalf("expected header auth to pass, got %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api?token="+tok, nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for query token on api, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live?token="+tok, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected query token on live endpoint, got %d", w.Code)
	}
}

func TestRequireAccessToken_AcceptsServiceToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newManager(t)
	tok, _ := m.IssueService(time.Now(), "dialer")

	r := gin.New()
	r.GET("/api", RequireAccessToken(m), func(c *gin.Context) {
		id, err := IdentityFrom(c.Request.Context())
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id.Role)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != ServiceRole {
		t.Fatalf("expected service identity, got %d %q", w.Code, w.Body.String())
	}
}
