package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kentiva/ops-api/internal/middleware"
	"github.com/kentiva/ops-api/internal/models"
	"github.com/kentiva/ops-api/internal/service"
	"github.com/kentiva/ops-api/internal/shield"
)

const (
	handlerOrgID  = "5c0f1f0a-9b9f-4f7d-9a64-111111111111"
	handlerUserID = "9d8e7f6a-5b4c-3d2e-1f0a-222222222222"
)

type stubDirectory struct {
	user       *models.User
	membership *models.Membership
}

func (s *stubDirectory) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if s.user == nil || s.user.Email != email {
		return nil, sql.ErrNoRows
	}
	return s.user, nil
}

func (s *stubDirectory) FindByID(ctx context.Context, id string) (*models.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, sql.ErrNoRows
	}
	return s.user, nil
}

func (s *stubDirectory) FindMembership(ctx context.Context, orgID, userID string) (*models.Membership, error) {
	if s.membership == nil || s.membership.OrgID != orgID {
		return nil, sql.ErrNoRows
	}
	return s.membership, nil
}

func (s *stubDirectory) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return nil
}

type stubRefreshStore struct {
	byHash map[string]*models.RefreshToken
}

func (s *stubRefreshStore) Create(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = "rt-" + token.TokenHash[:8]
	}
	s.byHash[token.TokenHash] = token
	return nil
}

func (s *stubRefreshStore) FindByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	rt, ok := s.byHash[tokenHash]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (s *stubRefreshStore) Rotate(ctx context.Context, oldID string, next *models.RefreshToken, revokedAt time.Time) error {
	for _, rt := range s.byHash {
		if rt.ID == oldID && rt.RevokedAt == nil {
			if next.ID == "" {
				next.ID = "rt-" + next.TokenHash[:8]
			}
			rt.RevokedAt = &revokedAt
			rt.ReplacedByTokenID = &next.ID
			s.byHash[next.TokenHash] = next
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *stubRefreshStore) Revoke(ctx context.Context, id string, revokedAt time.Time) error {
	for _, rt := range s.byHash {
		if rt.ID == id && rt.RevokedAt == nil {
			rt.RevokedAt = &revokedAt
		}
	}
	return nil
}

type noopDetector struct{}

func (noopDetector) RegisterFailedAttempt(ctx context.Context, attempt shield.FailedAttempt) {}
func (noopDetector) ClearFailedAttempts(ctx context.Context, orgID, email string)            {}

func newHandlerAuthService(t *testing.T, password string) *service.AuthService {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	dir := &stubDirectory{
		user: &models.User{
			ID:           handlerUserID,
			Email:        "user@example.com",
			PasswordHash: string(hash),
			Active:       true,
			DefaultOrgID: handlerOrgID,
		},
		membership: &models.Membership{OrgID: handlerOrgID, UserID: handlerUserID, Role: models.RoleAdmin, Status: models.MembershipActive},
	}
	tokens := &stubRefreshStore{byHash: make(map[string]*models.RefreshToken)}
	return service.NewAuthService(dir, tokens, noopDetector{}, nil, nil, nil, zap.NewNop(), service.AuthConfig{
		AccessTokenSecret:  "handler-test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
	}, nil)
}

func postJSON(handlerFn gin.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(http.MethodPost, path, reader)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	handlerFn(c)
	c.Writer.WriteHeaderNow()
	return w
}

func TestAuthHandlerLogin(t *testing.T) {
	h := NewAuthHandler(newHandlerAuthService(t, "correct horse"))

	w := postJSON(h.Login, "/auth/login", gin.H{"email": "user@example.com", "password": "correct horse"})
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data models.LoginResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.NotEmpty(t, envelope.Data.AccessToken)
	assert.NotEmpty(t, envelope.Data.RefreshToken)
	assert.Equal(t, handlerOrgID, envelope.Data.User.OrgID)
}

func TestAuthHandlerLoginBadCredentials(t *testing.T) {
	h := NewAuthHandler(newHandlerAuthService(t, "correct horse"))

	w := postJSON(h.Login, "/auth/login", gin.H{"email": "user@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_CREDENTIALS")
}

func TestAuthHandlerLoginMalformedBody(t *testing.T) {
	h := NewAuthHandler(newHandlerAuthService(t, "correct horse"))

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	h.Login(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandlerRefreshRoundTrip(t *testing.T) {
	svc := newHandlerAuthService(t, "correct horse")
	h := NewAuthHandler(svc)

	w := postJSON(h.Login, "/auth/login", gin.H{"email": "user@example.com", "password": "correct horse"})
	require.Equal(t, http.StatusOK, w.Code)
	var loginEnvelope struct {
		Data models.LoginResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loginEnvelope))

	w = postJSON(h.Refresh, "/auth/refresh", gin.H{"refresh_token": loginEnvelope.Data.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code)

	// The consumed token is now dead.
	w = postJSON(h.Refresh, "/auth/refresh", gin.H{"refresh_token": loginEnvelope.Data.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerLogoutAlwaysSucceeds(t *testing.T) {
	h := NewAuthHandler(newHandlerAuthService(t, "correct horse"))

	assert.Equal(t, http.StatusNoContent, postJSON(h.Logout, "/auth/logout", gin.H{"refresh_token": "unknown"}).Code)
	assert.Equal(t, http.StatusNoContent, postJSON(h.Logout, "/auth/logout", nil).Code)
}

func TestAuthHandlerMe(t *testing.T) {
	h := NewAuthHandler(newHandlerAuthService(t, "correct horse"))

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/auth/me", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.Identity{UserID: handlerUserID, OrgID: handlerOrgID, Role: models.RoleAdmin})

	h.Me(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"user"`)

	// No identity at all.
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = req
	h.Me(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
