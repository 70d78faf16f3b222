package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kentiva/ops-api/internal/models"
	"github.com/kentiva/ops-api/internal/service"
	"github.com/kentiva/ops-api/pkg/config"
	"github.com/kentiva/ops-api/pkg/tokencrypto"
)

const (
	guardTestSecret = "middleware-test-secret"
	guardTestOrgID  = "5c0f1f0a-9b9f-4f7d-9a64-111111111111"
	guardTestUserID = "9d8e7f6a-5b4c-3d2e-1f0a-222222222222"
)

type stubAPITokenStore struct {
	token *models.APIToken
}

func (s *stubAPITokenStore) Create(ctx context.Context, token *models.APIToken) error {
	return nil
}

func (s *stubAPITokenStore) FindByHash(ctx context.Context, tokenHash string) (*models.APIToken, error) {
	if s.token != nil && s.token.TokenHash == tokenHash {
		return s.token, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubAPITokenStore) FindActiveByHash(ctx context.Context, tokenHash string) (*models.APIToken, error) {
	if s.token != nil && s.token.TokenHash == tokenHash && s.token.RevokedAt == nil {
		return s.token, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubAPITokenStore) ConsumeQuota(ctx context.Context, id string, now time.Time) (int, int, error) {
	if s.token == nil || s.token.ID != id {
		return 0, 0, sql.ErrNoRows
	}
	s.token.RequestsThisHour++
	return s.token.RequestsThisHour, s.token.RateLimitPerHour, nil
}

func (s *stubAPITokenStore) ListByOrg(ctx context.Context, orgID string) ([]models.APIToken, error) {
	return nil, nil
}

func (s *stubAPITokenStore) Revoke(ctx context.Context, orgID, id string, revokedAt time.Time) error {
	return nil
}

func testAPITokenConfig() config.APITokenConfig {
	return config.APITokenConfig{Prefix: "ktv_live_", MinLength: 40, DefaultRateLimit: 1000, SecretBytes: 48}
}

func newGuardServices(t *testing.T, store *stubAPITokenStore) (*service.AuthService, *service.APITokenService) {
	t.Helper()
	authSvc := service.NewAuthService(nil, nil, nil, nil, nil, nil, zap.NewNop(), service.AuthConfig{
		AccessTokenSecret: guardTestSecret,
		AccessTokenExpiry: 15 * time.Minute,
	}, nil)
	tokenSvc := service.NewAPITokenService(store, nil, nil, nil, zap.NewNop(), testAPITokenConfig(), nil)
	return authSvc, tokenSvc
}

func guardedRouter(authSvc *service.AuthService, tokenSvc *service.APITokenService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Guard(authSvc, tokenSvc))
	router.GET("/protected", func(c *gin.Context) {
		if user, ok := CurrentUser(c); ok {
			c.JSON(http.StatusOK, gin.H{"kind": "user", "id": user.UserID})
			return
		}
		if svc, ok := CurrentService(c); ok {
			c.JSON(http.StatusOK, gin.H{"kind": "service", "id": svc.ServiceAccountID})
			return
		}
		c.Status(http.StatusInternalServerError)
	})
	return router
}

func signedAccessToken(t *testing.T, expiry time.Duration) string {
	t.Helper()
	now := time.Now()
	token, err := tokencrypto.SignClaims(&models.AccessClaims{
		UserID:      guardTestUserID,
		ActiveOrgID: guardTestOrgID,
		Role:        models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}, guardTestSecret)
	require.NoError(t, err)
	return token
}

func serveGuarded(router *gin.Engine, header string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestGuardAcceptsSessionToken(t *testing.T) {
	authSvc, tokenSvc := newGuardServices(t, &stubAPITokenStore{})
	router := guardedRouter(authSvc, tokenSvc)

	recorder := serveGuarded(router, "Bearer "+signedAccessToken(t, 15*time.Minute))
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"kind":"user"`)
}

func TestGuardAcceptsSessionTokenFromCookie(t *testing.T) {
	authSvc, tokenSvc := newGuardServices(t, &stubAPITokenStore{})
	router := guardedRouter(authSvc, tokenSvc)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: signedAccessToken(t, 15*time.Minute)})
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestGuardRejectsExpiredSessionToken(t *testing.T) {
	authSvc, tokenSvc := newGuardServices(t, &stubAPITokenStore{})
	router := guardedRouter(authSvc, tokenSvc)

	recorder := serveGuarded(router, "Bearer "+signedAccessToken(t, -time.Minute))
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestGuardAcceptsAPIToken(t *testing.T) {
	raw := "ktv_live_" + strings.Repeat("a", 48)
	store := &stubAPITokenStore{token: &models.APIToken{
		ID:               "tok-1",
		OrgID:            guardTestOrgID,
		Name:             "ci",
		Role:             models.RoleMember,
		TokenHash:        tokencrypto.HashToken(raw),
		RateLimitPerHour: 100,
		HourWindowStart:  time.Now(),
	}}
	authSvc, tokenSvc := newGuardServices(t, store)
	router := guardedRouter(authSvc, tokenSvc)

	recorder := serveGuarded(router, "Bearer "+raw)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"kind":"service"`)
	assert.Equal(t, 1, store.token.RequestsThisHour)
}

type recordingAuditSink struct {
	entries []*models.AuditLog
}

func (s *recordingAuditSink) Create(ctx context.Context, entry *models.AuditLog) error {
	s.entries = append(s.entries, entry)
	return nil
}

func TestGuardRecordsAPITokenUsage(t *testing.T) {
	raw := "ktv_live_" + strings.Repeat("d", 48)
	store := &stubAPITokenStore{token: &models.APIToken{
		ID:               "tok-4",
		OrgID:            guardTestOrgID,
		TokenHash:        tokencrypto.HashToken(raw),
		RateLimitPerHour: 100,
		HourWindowStart:  time.Now(),
	}}
	sink := &recordingAuditSink{}
	audits := service.NewAuditDispatcher(sink, zap.NewNop())
	audits.Run = func(fn func()) { fn() }

	authSvc, _ := newGuardServices(t, store)
	tokenSvc := service.NewAPITokenService(store, audits, nil, nil, zap.NewNop(), testAPITokenConfig(), nil)
	router := guardedRouter(authSvc, tokenSvc)

	require.Equal(t, http.StatusOK, serveGuarded(router, "Bearer "+raw).Code)
	require.Len(t, sink.entries, 1)

	entry := sink.entries[0]
	assert.Equal(t, models.AuditActionAPITokenUsed, entry.Action)
	assert.Equal(t, guardTestOrgID, entry.OrgID)
	assert.Equal(t, "api_token", entry.EntityType)
	require.NotNil(t, entry.EntityID)
	assert.Equal(t, "tok-4", *entry.EntityID)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(entry.After, &payload))
	assert.Equal(t, http.MethodGet, payload["method"])
	assert.Equal(t, "/protected", payload["endpoint"])
	assert.Equal(t, float64(http.StatusOK), payload["status"])
	assert.Equal(t, true, payload["success"])

	// One record per request.
	require.Equal(t, http.StatusOK, serveGuarded(router, "Bearer "+raw).Code)
	assert.Len(t, sink.entries, 2)
}

func TestGuardRateLimitedAPIToken(t *testing.T) {
	raw := "ktv_live_" + strings.Repeat("b", 48)
	store := &stubAPITokenStore{token: &models.APIToken{
		ID:               "tok-2",
		OrgID:            guardTestOrgID,
		TokenHash:        tokencrypto.HashToken(raw),
		RateLimitPerHour: 1,
		HourWindowStart:  time.Now(),
	}}
	authSvc, tokenSvc := newGuardServices(t, store)
	router := guardedRouter(authSvc, tokenSvc)

	assert.Equal(t, http.StatusOK, serveGuarded(router, "Bearer "+raw).Code)
	assert.Equal(t, http.StatusTooManyRequests, serveGuarded(router, "Bearer "+raw).Code)
}

func TestGuardRejectsUnrecognizedCredential(t *testing.T) {
	authSvc, tokenSvc := newGuardServices(t, &stubAPITokenStore{})
	router := guardedRouter(authSvc, tokenSvc)

	assert.Equal(t, http.StatusUnauthorized, serveGuarded(router, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serveGuarded(router, "Bearer just-a-string").Code)
	assert.Equal(t, http.StatusUnauthorized, serveGuarded(router, "Basic dXNlcjpwYXNz").Code)
}

func TestClassifyCredential(t *testing.T) {
	_, tokenSvc := newGuardServices(t, &stubAPITokenStore{})

	assert.Equal(t, credentialAPIToken, classifyCredential("ktv_live_"+strings.Repeat("a", 40), tokenSvc))
	assert.Equal(t, credentialSession, classifyCredential("aaa.bbb.ccc", tokenSvc))
	assert.Equal(t, credentialUnknown, classifyCredential("ktv_live_short", tokenSvc))
	assert.Equal(t, credentialUnknown, classifyCredential("plain", tokenSvc))
}
