package shield

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kentiva/ops-api/internal/models"
	"github.com/kentiva/ops-api/pkg/config"
)

type eventStore interface {
	Create(ctx context.Context, event *models.SecurityEvent) error
	ExistsSince(ctx context.Context, orgID string, eventType models.SecurityEventType, userID string, since time.Time) (bool, error)
}

type auditReader interface {
	CountActionsSince(ctx context.Context, orgID, actorUserID, action string, since time.Time) (int, error)
}

type eventCounter interface {
	RecordSecurityEvent(eventType string)
}

// FailedAttempt describes one failed login.
type FailedAttempt struct {
	OrgID  string
	UserID string
	Email  string
}

// Detector watches for failed-login bursts and bulk account deactivation.
// Event persistence never blocks or fails the caller: writes run through
// Dispatch and their errors are logged and swallowed.
type Detector struct {
	store  BucketStore
	events eventStore
	audits auditReader
	cfg    config.ShieldConfig
	logger *zap.Logger

	// Dispatch runs the durable event write. Overridable in tests for
	// deterministic assertions.
	Dispatch func(fn func())

	// Metrics, when set, counts raised events.
	Metrics eventCounter

	now func() time.Time
}

// NewDetector constructs a Detector with the given collaborators. A nil clock
// defaults to time.Now.
func NewDetector(store BucketStore, events eventStore, audits auditReader, cfg config.ShieldConfig, logger *zap.Logger, now func() time.Time) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Detector{
		store:    store,
		events:   events,
		audits:   audits,
		cfg:      cfg,
		logger:   logger,
		Dispatch: func(fn func()) { go fn() },
		now:      now,
	}
}

func bucketKey(orgID, email string) string {
	return orgID + ":" + strings.ToLower(email)
}

// RegisterFailedAttempt records one failed login. When the pruned window
// reaches the threshold and no event was raised inside the current window, a
// single FAILED_LOGIN_SPIKE event is persisted; repeated attempts within the
// same window raise nothing further.
func (d *Detector) RegisterFailedAttempt(ctx context.Context, attempt FailedAttempt) {
	now := d.now().UTC()
	windowStart := now.Add(-d.cfg.FailedLoginWindow)
	key := bucketKey(attempt.OrgID, attempt.Email)

	bucket, err := d.store.Get(ctx, key)
	if err != nil {
		d.logger.Warn("failed to load failure bucket", zap.Error(err))
		return
	}
	if bucket == nil {
		bucket = &Bucket{}
	}

	pruned := bucket.Timestamps[:0]
	for _, ts := range bucket.Timestamps {
		if ts.After(windowStart) {
			pruned = append(pruned, ts)
		}
	}
	bucket.Timestamps = append(pruned, now)

	shouldRaise := len(bucket.Timestamps) >= d.cfg.FailedLoginThreshold &&
		(bucket.LastEventAt == nil || bucket.LastEventAt.Before(windowStart))
	if shouldRaise {
		bucket.LastEventAt = &now
	}

	if err := d.store.Put(ctx, key, bucket); err != nil {
		d.logger.Warn("failed to persist failure bucket", zap.Error(err))
	}

	if !shouldRaise {
		return
	}

	event := &models.SecurityEvent{
		OrgID:       attempt.OrgID,
		Type:        models.EventFailedLoginSpike,
		Severity:    models.SeverityMedium,
		Description: fmt.Sprintf("%d failed login attempts for %s within %s", len(bucket.Timestamps), strings.ToLower(attempt.Email), d.cfg.FailedLoginWindow),
		Meta: models.EventMeta{
			"email":    strings.ToLower(attempt.Email),
			"attempts": len(bucket.Timestamps),
		},
		CreatedAt: now,
	}
	if attempt.UserID != "" {
		userID := attempt.UserID
		event.UserID = &userID
	}

	if d.Metrics != nil {
		d.Metrics.RecordSecurityEvent(string(models.EventFailedLoginSpike))
	}
	d.Dispatch(func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.events.Create(writeCtx, event); err != nil {
			d.logger.Warn("failed to persist failed-login spike event", zap.Error(err), zap.String("org_id", attempt.OrgID))
		}
	})
}

// ClearFailedAttempts deletes the bucket; called on every successful login so
// a later run of failures counts from zero.
func (d *Detector) ClearFailedAttempts(ctx context.Context, orgID, email string) {
	if err := d.store.Delete(ctx, bucketKey(orgID, email)); err != nil {
		d.logger.Warn("failed to clear failure bucket", zap.Error(err))
	}
}

// DetectBulkDeactivation checks the durable audit trail for a deactivation
// burst by one actor and raises at most one BULK_USER_DEACTIVATION event per
// window.
func (d *Detector) DetectBulkDeactivation(ctx context.Context, orgID, actorUserID string) {
	now := d.now().UTC()
	since := now.Add(-d.cfg.BulkDeactivationWindow)

	count, err := d.audits.CountActionsSince(ctx, orgID, actorUserID, models.AuditActionUserDeactivate, since)
	if err != nil {
		d.logger.Warn("failed to count deactivations", zap.Error(err))
		return
	}
	if count <= d.cfg.BulkDeactivationThreshold {
		return
	}

	exists, err := d.events.ExistsSince(ctx, orgID, models.EventBulkUserDeactivation, actorUserID, since)
	if err != nil {
		d.logger.Warn("failed to check existing deactivation events", zap.Error(err))
		return
	}
	if exists {
		return
	}

	actorID := actorUserID
	event := &models.SecurityEvent{
		OrgID:       orgID,
		Type:        models.EventBulkUserDeactivation,
		Severity:    models.SeverityHigh,
		Description: fmt.Sprintf("%d user deactivations by one actor within %s", count, d.cfg.BulkDeactivationWindow),
		UserID:      &actorID,
		Meta: models.EventMeta{
			"deactivations": count,
		},
		CreatedAt: now,
	}

	if d.Metrics != nil {
		d.Metrics.RecordSecurityEvent(string(models.EventBulkUserDeactivation))
	}
	d.Dispatch(func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.events.Create(writeCtx, event); err != nil {
			d.logger.Warn("failed to persist bulk deactivation event", zap.Error(err), zap.String("org_id", orgID))
		}
	})
}
