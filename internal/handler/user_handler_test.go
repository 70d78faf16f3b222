package handler

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kentiva/ops-api/internal/middleware"
	"github.com/kentiva/ops-api/internal/models"
	"github.com/kentiva/ops-api/internal/service"
)

type stubUserDirectory struct {
	user       *models.User
	membership *models.Membership
}

func (s *stubUserDirectory) FindByID(ctx context.Context, id string) (*models.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, sql.ErrNoRows
	}
	return s.user, nil
}

func (s *stubUserDirectory) FindMembership(ctx context.Context, orgID, userID string) (*models.Membership, error) {
	if s.membership == nil || s.membership.OrgID != orgID {
		return nil, sql.ErrNoRows
	}
	return s.membership, nil
}

func (s *stubUserDirectory) Deactivate(ctx context.Context, id string, ts time.Time) error {
	if s.user == nil || s.user.ID != id || !s.user.Active {
		return sql.ErrNoRows
	}
	s.user.Active = false
	return nil
}

type stubSessionRevoker struct {
	revoked []string
}

func (s *stubSessionRevoker) RevokeAllForUser(ctx context.Context, userID string, revokedAt time.Time) error {
	s.revoked = append(s.revoked, userID)
	return nil
}

type noopBulkDetector struct{}

func (noopBulkDetector) DetectBulkDeactivation(ctx context.Context, orgID, actorUserID string) {}

const targetUserID = "4f4e4d4c-0000-0000-0000-444444444444"

func newUserHandlerFixture() (*UserHandler, *stubUserDirectory, *stubSessionRevoker) {
	dir := &stubUserDirectory{
		user:       &models.User{ID: targetUserID, Active: true},
		membership: &models.Membership{OrgID: handlerOrgID, UserID: targetUserID, Status: models.MembershipActive},
	}
	sessions := &stubSessionRevoker{}
	svc := service.NewUserService(dir, sessions, noopBulkDetector{}, nil, zap.NewNop())
	return NewUserHandler(svc), dir, sessions
}

func deactivateContext(userID string, withIdentity bool) (*httptest.ResponseRecorder, *gin.Context) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/users/"+userID+"/deactivate", nil)
	c.Params = gin.Params{{Key: "id", Value: userID}}
	if withIdentity {
		c.Set(middleware.ContextUserKey, &models.Identity{UserID: handlerUserID, OrgID: handlerOrgID, Role: models.RoleOwner})
	}
	return w, c
}

func TestUserHandlerDeactivate(t *testing.T) {
	h, dir, sessions := newUserHandlerFixture()

	w, c := deactivateContext(targetUserID, true)
	h.Deactivate(c)
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, dir.user.Active)
	assert.Equal(t, []string{targetUserID}, sessions.revoked)
}

func TestUserHandlerDeactivateUnknownUser(t *testing.T) {
	h, _, _ := newUserHandlerFixture()

	w, c := deactivateContext("missing", true)
	h.Deactivate(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUserHandlerDeactivateWithoutIdentity(t *testing.T) {
	h, dir, _ := newUserHandlerFixture()

	w, c := deactivateContext(targetUserID, false)
	h.Deactivate(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.True(t, dir.user.Active)
}

func TestUserHandlerDeactivateTwice(t *testing.T) {
	h, _, _ := newUserHandlerFixture()

	w, c := deactivateContext(targetUserID, true)
	h.Deactivate(c)
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)

	w, c = deactivateContext(targetUserID, true)
	h.Deactivate(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}
