package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kentiva/ops-api/internal/models"
	"github.com/kentiva/ops-api/pkg/config"
	appErrors "github.com/kentiva/ops-api/pkg/errors"
	"github.com/kentiva/ops-api/pkg/tokencrypto"
)

type apiTokenStore interface {
	Create(ctx context.Context, token *models.APIToken) error
	FindByHash(ctx context.Context, tokenHash string) (*models.APIToken, error)
	FindActiveByHash(ctx context.Context, tokenHash string) (*models.APIToken, error)
	ConsumeQuota(ctx context.Context, id string, now time.Time) (requests int, limit int, err error)
	ListByOrg(ctx context.Context, orgID string) ([]models.APIToken, error)
	Revoke(ctx context.Context, orgID, id string, revokedAt time.Time) error
}

// APITokenService authenticates long-lived service-account bearer tokens and
// enforces their hourly request quota.
type APITokenService struct {
	repo      apiTokenStore
	audits    *AuditDispatcher
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    config.APITokenConfig

	now func() time.Time
}

// NewAPITokenService constructs an APITokenService instance. A nil clock
// defaults to time.Now.
func NewAPITokenService(repo apiTokenStore, audits *AuditDispatcher, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg config.APITokenConfig, now func() time.Time) *APITokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if now == nil {
		now = time.Now
	}
	return &APITokenService{
		repo:      repo,
		audits:    audits,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    cfg,
		now:       now,
	}
}

// MatchesShape reports whether a raw credential has the API-token prefix and
// minimum length. Cheap rejection happens before any hashing or lookup work.
func (s *APITokenService) MatchesShape(raw string) bool {
	return strings.HasPrefix(raw, s.config.Prefix) && len(raw) >= s.config.MinLength
}

// Authenticate verifies a raw API token and consumes one unit of its hourly
// quota. Two lookups run by design: a revocation-blind one attributing usage
// audits even to revoked tokens, and the active one that alone may authorize.
func (s *APITokenService) Authenticate(ctx context.Context, raw string) (*models.ServiceIdentity, error) {
	if !s.MatchesShape(raw) {
		s.metrics.RecordAPITokenDecision(TokenDecisionRejected)
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "malformed api token")
	}

	hash := tokencrypto.HashToken(raw)

	attributed, err := s.repo.FindByHash(ctx, hash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up api token")
	}

	active, err := s.repo.FindActiveByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if attributed != nil {
				s.auditUse(attributed, false, "revoked")
			}
			s.metrics.RecordAPITokenDecision(TokenDecisionRejected)
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid api token")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up api token")
	}

	// Defense in depth: the lookup already matched on the digest, but the
	// comparison path itself stays constant-time.
	if !tokencrypto.ConstantTimeEquals(active.TokenHash, hash) {
		s.metrics.RecordAPITokenDecision(TokenDecisionRejected)
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid api token")
	}

	requests, limit, err := s.repo.ConsumeQuota(ctx, active.ID, s.now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Revoked between lookup and consume.
			s.metrics.RecordAPITokenDecision(TokenDecisionRejected)
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid api token")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply rate limit")
	}

	if requests > limit {
		s.auditUse(active, false, "rate_limited")
		s.metrics.RecordAPITokenDecision(TokenDecisionRateLimited)
		return nil, appErrors.Clone(appErrors.ErrRateLimited, "hourly request quota exceeded")
	}

	s.metrics.RecordAPITokenDecision(TokenDecisionAdmitted)
	return &models.ServiceIdentity{
		ServiceAccountID: active.ID,
		OrgID:            active.OrgID,
		Role:             active.Role,
		Scopes:           active.Scopes,
		TokenName:        active.Name,
	}, nil
}

// Create mints a new API token for an org. The raw secret is returned exactly
// once; only its digest is stored.
func (s *APITokenService) Create(ctx context.Context, orgID string, req models.CreateAPITokenRequest) (*models.CreatedAPIToken, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid api token payload")
	}

	secret, err := tokencrypto.NewOpaqueToken(s.config.SecretBytes)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate api token")
	}
	raw := s.config.Prefix + secret

	limit := req.RateLimitPerHour
	if limit <= 0 {
		limit = s.config.DefaultRateLimit
	}
	scopes := req.Scopes
	if scopes == nil {
		scopes = models.ScopeSet{}
	}

	now := s.now().UTC()
	token := &models.APIToken{
		OrgID:            orgID,
		Name:             req.Name,
		Role:             req.Role,
		TokenHash:        tokencrypto.HashToken(raw),
		Scopes:           scopes,
		RateLimitPerHour: limit,
		HourWindowStart:  now,
		CreatedAt:        now,
	}
	if err := s.repo.Create(ctx, token); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist api token")
	}

	return &models.CreatedAPIToken{Token: raw, APIToken: *token}, nil
}

// List returns an org's tokens, newest first.
func (s *APITokenService) List(ctx context.Context, orgID string) ([]models.APIToken, error) {
	tokens, err := s.repo.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list api tokens")
	}
	return tokens, nil
}

// Revoke disables a token. Unknown or already-revoked tokens yield NotFound.
func (s *APITokenService) Revoke(ctx context.Context, orgID, id string) error {
	if err := s.repo.Revoke(ctx, orgID, id, s.now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "api token not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke api token")
	}
	return nil
}

// LogUsage records one authenticated API request after its response has
// completed. Fire-and-forget: the write never delays or fails the response.
func (s *APITokenService) LogUsage(orgID, tokenID, method, endpoint, ip string, statusCode int) {
	payload, err := json.Marshal(map[string]interface{}{
		"method":   method,
		"endpoint": endpoint,
		"status":   statusCode,
		"success":  statusCode < 400,
	})
	if err != nil {
		s.logger.Warn("failed to encode api token usage", zap.Error(err))
		return
	}
	tokenRef := tokenID
	s.audits.Log(&models.AuditLog{
		OrgID:      orgID,
		EntityType: "api_token",
		EntityID:   &tokenRef,
		Action:     models.AuditActionAPITokenUsed,
		After:      payload,
		IPAddress:  ip,
	})
}

func (s *APITokenService) auditUse(token *models.APIToken, success bool, reason string) {
	payload, err := json.Marshal(map[string]interface{}{
		"success": success,
		"reason":  reason,
	})
	if err != nil {
		s.logger.Warn("failed to encode api token audit", zap.Error(err))
		return
	}
	tokenRef := token.ID
	s.audits.Log(&models.AuditLog{
		OrgID:      token.OrgID,
		EntityType: "api_token",
		EntityID:   &tokenRef,
		Action:     models.AuditActionAPITokenUsed,
		After:      payload,
	})
}
