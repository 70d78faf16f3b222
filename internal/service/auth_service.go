package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kentiva/ops-api/internal/models"
	"github.com/kentiva/ops-api/internal/shield"
	appErrors "github.com/kentiva/ops-api/pkg/errors"
	"github.com/kentiva/ops-api/pkg/tokencrypto"
)

type authDirectory interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindMembership(ctx context.Context, orgID, userID string) (*models.Membership, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
}

type refreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	Rotate(ctx context.Context, oldID string, next *models.RefreshToken, revokedAt time.Time) error
	Revoke(ctx context.Context, id string, revokedAt time.Time) error
}

type threatDetector interface {
	RegisterFailedAttempt(ctx context.Context, attempt shield.FailedAttempt)
	ClearFailedAttempts(ctx context.Context, orgID, email string)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret  string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	RefreshTokenBytes  int
	Issuer             string
	Audience           []string
}

// AuthService issues and verifies session credentials: short-lived signed
// access tokens and opaque rotating refresh tokens stored only as hashes.
type AuthService struct {
	directory authDirectory
	tokens    refreshTokenStore
	detector  threatDetector
	audits    *AuditDispatcher
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig

	now func() time.Time
}

// NewAuthService constructs an AuthService instance. A nil clock defaults to
// time.Now.
func NewAuthService(directory authDirectory, tokens refreshTokenStore, detector threatDetector, audits *AuditDispatcher, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config AuthConfig, now func() time.Time) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if now == nil {
		now = time.Now
	}
	if config.RefreshTokenBytes <= 0 {
		config.RefreshTokenBytes = 48
	}
	return &AuthService{
		directory: directory,
		tokens:    tokens,
		detector:  detector,
		audits:    audits,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       now,
	}
}

// Login authenticates a user against one org and returns issued tokens.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.directory.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.detector.RegisterFailedAttempt(ctx, shield.FailedAttempt{OrgID: req.OrgID, Email: req.Email})
			s.metrics.RecordLogin(LoginOutcomeInvalidCredentials)
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if !user.Active {
		s.metrics.RecordLogin(LoginOutcomeForbidden)
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	orgID := req.OrgID
	if orgID == "" {
		orgID = user.DefaultOrgID
	}

	membership, err := s.directory.FindMembership(ctx, orgID, user.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordLogin(LoginOutcomeForbidden)
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no membership for this org")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve membership")
	}
	if membership.Status != models.MembershipActive {
		s.metrics.RecordLogin(LoginOutcomeForbidden)
		return nil, appErrors.Clone(appErrors.ErrForbidden, "membership is not active")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.detector.RegisterFailedAttempt(ctx, shield.FailedAttempt{OrgID: orgID, UserID: user.ID, Email: req.Email})
		s.metrics.RecordLogin(LoginOutcomeInvalidCredentials)
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	s.detector.ClearFailedAttempts(ctx, orgID, req.Email)

	now := s.now().UTC()
	accessToken, err := s.generateAccessToken(user, orgID, membership.Role, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	rawRefresh, refreshToken, err := s.mintRefreshToken(orgID, user.ID, req.IP, req.UserAgent, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	if err := s.tokens.Create(ctx, refreshToken); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}

	if err := s.directory.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	userID := user.ID
	s.audits.Log(&models.AuditLog{
		OrgID:       orgID,
		ActorUserID: &userID,
		EntityType:  "session",
		EntityID:    &refreshToken.ID,
		Action:      models.AuditActionLoginSuccess,
		IPAddress:   req.IP,
		UserAgent:   req.UserAgent,
	})
	s.metrics.RecordLogin(LoginOutcomeSuccess)

	return &models.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: rawRefresh,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:     now,
		User: models.UserInfo{
			ID:       user.ID,
			Email:    user.Email,
			FullName: user.FullName,
			OrgID:    orgID,
			Role:     membership.Role,
		},
	}, nil
}

// Refresh exchanges a refresh token for a new pair. The old token is revoked
// and linked to its successor atomically; a reused or lost-race token always
// fails with Unauthorized.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshRequest) (*models.RefreshResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	stored, err := s.tokens.FindByHash(ctx, tokencrypto.HashToken(req.RefreshToken))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch refresh token")
	}

	now := s.now().UTC()
	if !stored.Active(now) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is expired or revoked")
	}

	user, err := s.directory.FindByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "associated user no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "account is inactive")
	}

	membership, err := s.directory.FindMembership(ctx, stored.OrgID, user.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "org membership no longer valid")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve membership")
	}
	if membership.Status != models.MembershipActive {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "org membership no longer valid")
	}

	rawRefresh, next, err := s.mintRefreshToken(stored.OrgID, user.ID, req.IP, req.UserAgent, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	if err := s.tokens.Rotate(ctx, stored.ID, next, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The token was revoked between lookup and rotation: reuse.
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is expired or revoked")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate refresh token")
	}

	accessToken, err := s.generateAccessToken(user, stored.OrgID, membership.Role, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate access token")
	}

	userID := user.ID
	s.audits.Log(&models.AuditLog{
		OrgID:       stored.OrgID,
		ActorUserID: &userID,
		EntityType:  "session",
		EntityID:    &next.ID,
		Action:      models.AuditActionTokenRefresh,
		IPAddress:   req.IP,
		UserAgent:   req.UserAgent,
	})

	return &models.RefreshResponse{
		AccessToken:  accessToken,
		RefreshToken: rawRefresh,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:     now,
	}, nil
}

// Logout revokes the provided refresh token. Missing, unknown or
// already-revoked tokens are treated as success: logout never fails the
// caller.
func (s *AuthService) Logout(ctx context.Context, rawRefreshToken, ip, userAgent string) {
	if rawRefreshToken == "" {
		return
	}

	stored, err := s.tokens.FindByHash(ctx, tokencrypto.HashToken(rawRefreshToken))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("failed to load refresh token on logout", zap.Error(err))
		}
		return
	}
	if stored.RevokedAt != nil {
		return
	}

	if err := s.tokens.Revoke(ctx, stored.ID, s.now().UTC()); err != nil {
		s.logger.Warn("failed to revoke refresh token on logout", zap.Error(err))
		return
	}

	userID := stored.UserID
	s.audits.Log(&models.AuditLog{
		OrgID:       stored.OrgID,
		ActorUserID: &userID,
		EntityType:  "session",
		EntityID:    &stored.ID,
		Action:      models.AuditActionLogout,
		IPAddress:   ip,
		UserAgent:   userAgent,
	})
}

// Identity verifies an access token and maps its claims to an identity. A
// legacy org_id claim is accepted when active_org_id is absent.
func (s *AuthService) Identity(tokenString string) (*models.Identity, error) {
	claims := &models.AccessClaims{}
	if err := tokencrypto.ParseClaims(tokenString, s.config.AccessTokenSecret, claims); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	orgID := claims.ResolvedOrgID()
	if claims.UserID == "" || orgID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	return &models.Identity{
		UserID:   claims.UserID,
		OrgID:    orgID,
		Role:     claims.Role,
		Email:    claims.Email,
		FullName: claims.FullName,
	}, nil
}

func (s *AuthService) generateAccessToken(user *models.User, orgID string, role models.UserRole, issuedAt time.Time) (string, error) {
	expiresAt := issuedAt.Add(s.config.AccessTokenExpiry)
	claims := &models.AccessClaims{
		UserID:      user.ID,
		ActiveOrgID: orgID,
		Role:        role,
		Email:       user.Email,
		FullName:    user.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			Audience:  s.config.Audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	return tokencrypto.SignClaims(claims, s.config.AccessTokenSecret)
}

func (s *AuthService) mintRefreshToken(orgID, userID, ip, userAgent string, now time.Time) (string, *models.RefreshToken, error) {
	raw, err := tokencrypto.NewOpaqueToken(s.config.RefreshTokenBytes)
	if err != nil {
		return "", nil, err
	}
	token := &models.RefreshToken{
		OrgID:     orgID,
		UserID:    userID,
		TokenHash: tokencrypto.HashToken(raw),
		ExpiresAt: now.Add(s.config.RefreshTokenExpiry),
		IPAddress: ip,
		UserAgent: userAgent,
		CreatedAt: now,
	}
	return raw, token, nil
}
