package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kentiva/ops-api/internal/models"
	appErrors "github.com/kentiva/ops-api/pkg/errors"
)

type userDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindMembership(ctx context.Context, orgID, userID string) (*models.Membership, error)
	Deactivate(ctx context.Context, id string, ts time.Time) error
}

type sessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID string, revokedAt time.Time) error
}

type deactivationDetector interface {
	DetectBulkDeactivation(ctx context.Context, orgID, actorUserID string)
}

// UserService covers account lifecycle operations. Deactivation is the only
// mutating operation exposed here; everything else lives behind the auth flow.
type UserService struct {
	users    userDirectory
	sessions sessionRevoker
	detector deactivationDetector
	audits   *AuditDispatcher
	logger   *zap.Logger

	now func() time.Time
}

// NewUserService constructs the service.
func NewUserService(users userDirectory, sessions sessionRevoker, detector deactivationDetector, audits *AuditDispatcher, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		users:    users,
		sessions: sessions,
		detector: detector,
		audits:   audits,
		logger:   logger,
		now:      time.Now,
	}
}

// Deactivate disables a user account within the caller's organization, revokes
// every outstanding refresh token for it, and feeds the bulk-deactivation
// detector. The audit entry is written before detection runs so the durable
// count already includes this action.
func (s *UserService) Deactivate(ctx context.Context, orgID, actorUserID, userID, ip, userAgent string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if _, err := s.users.FindMembership(ctx, orgID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load membership")
	}

	if !user.Active {
		return appErrors.Clone(appErrors.ErrConflict, "user is already deactivated")
	}

	now := s.now().UTC()
	if err := s.users.Deactivate(ctx, userID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "user is already deactivated")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate user")
	}

	if err := s.sessions.RevokeAllForUser(ctx, userID, now); err != nil {
		s.logger.Warn("failed to revoke refresh tokens for deactivated user",
			zap.String("user_id", userID),
			zap.Error(err))
	}

	before, _ := json.Marshal(map[string]interface{}{"active": true})
	after, _ := json.Marshal(map[string]interface{}{"active": false})
	actorRef := actorUserID
	userRef := userID
	s.audits.LogSync(ctx, &models.AuditLog{
		OrgID:       orgID,
		ActorUserID: &actorRef,
		EntityType:  "user",
		EntityID:    &userRef,
		Action:      models.AuditActionUserDeactivate,
		Before:      before,
		After:       after,
		IPAddress:   ip,
		UserAgent:   userAgent,
	})

	if s.detector != nil {
		s.detector.DetectBulkDeactivation(ctx, orgID, actorUserID)
	}
	return nil
}
