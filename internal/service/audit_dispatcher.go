package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kentiva/ops-api/internal/models"
)

type auditSink interface {
	Create(ctx context.Context, entry *models.AuditLog) error
}

// AuditDispatcher writes audit entries on a background goroutine with its own
// error boundary. Audit records are diagnostic: their failures are logged and
// swallowed, and the write never delays the request that produced it.
type AuditDispatcher struct {
	sink   auditSink
	logger *zap.Logger

	// Run executes the write. Overridable in tests for deterministic
	// assertions.
	Run func(fn func())
}

// NewAuditDispatcher constructs a dispatcher around the given sink.
func NewAuditDispatcher(sink auditSink, logger *zap.Logger) *AuditDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditDispatcher{
		sink:   sink,
		logger: logger,
		Run:    func(fn func()) { go fn() },
	}
}

// LogSync writes one audit entry before returning. Callers use it when a
// follow-up read must observe the entry, such as the deactivation counter
// behind bulk-deactivation detection. Failures are still logged and swallowed.
func (d *AuditDispatcher) LogSync(ctx context.Context, entry *models.AuditLog) {
	if d == nil {
		return
	}
	if err := d.sink.Create(ctx, entry); err != nil {
		d.logger.Warn("failed to record audit log",
			zap.String("action", entry.Action),
			zap.String("org_id", entry.OrgID),
			zap.Error(err))
	}
}

// Log dispatches one audit entry.
func (d *AuditDispatcher) Log(entry *models.AuditLog) {
	if d == nil {
		return
	}
	d.Run(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.sink.Create(ctx, entry); err != nil {
			d.logger.Warn("failed to record audit log",
				zap.String("action", entry.Action),
				zap.String("org_id", entry.OrgID),
				zap.Error(err))
		}
	})
}
