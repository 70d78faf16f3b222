package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kentiva/ops-api/internal/models"
	appErrors "github.com/kentiva/ops-api/pkg/errors"
	"github.com/kentiva/ops-api/pkg/export"
)

type securityEventStore interface {
	List(ctx context.Context, filter models.SecurityEventFilter) ([]models.SecurityEvent, int, error)
	Resolve(ctx context.Context, orgID, id string, resolvedAt time.Time) error
}

// Export formats supported by the security-event review surface.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

const exportPageSize = 1000

// SecurityEventService exposes the operator review surface over the durable
// event store.
type SecurityEventService struct {
	repo   securityEventStore
	logger *zap.Logger

	now func() time.Time
}

// NewSecurityEventService constructs the service.
func NewSecurityEventService(repo securityEventStore, logger *zap.Logger) *SecurityEventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityEventService{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// List returns a page of security events for review, newest first.
func (s *SecurityEventService) List(ctx context.Context, filter models.SecurityEventFilter) ([]models.SecurityEvent, *models.Pagination, error) {
	if filter.Severity != nil {
		switch *filter.Severity {
		case models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
		default:
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown severity")
		}
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	} else if filter.PageSize > 100 {
		filter.PageSize = 100
	}
	events, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list security events")
	}
	return events, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Resolve marks a reviewed event as handled. Resolving an already-resolved
// event is a no-op; an unknown event yields NotFound.
func (s *SecurityEventService) Resolve(ctx context.Context, orgID, id string) error {
	if err := s.repo.Resolve(ctx, orgID, id, s.now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "security event not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve security event")
	}
	return nil
}

// Export renders the filtered event set as a downloadable report. It pages
// through the store so large histories do not need one unbounded query.
func (s *SecurityEventService) Export(ctx context.Context, filter models.SecurityEventFilter, format string) ([]byte, string, error) {
	format = strings.ToLower(format)
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	table := export.Table{
		Columns: []string{"ID", "Type", "Severity", "Description", "User ID", "Created At", "Resolved At", "Meta"},
	}
	filter.PageSize = exportPageSize
	for page := 1; ; page++ {
		filter.Page = page
		events, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to export security events")
		}
		for _, event := range events {
			table.Rows = append(table.Rows, eventRow(event))
		}
		if len(events) == 0 || page*exportPageSize >= total {
			break
		}
	}

	switch format {
	case ExportFormatCSV:
		data, err := export.RenderCSV(table)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return data, "text/csv", nil
	default:
		data, err := export.RenderPDF(table, "Security Events", s.now().UTC())
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return data, "application/pdf", nil
	}
}

func eventRow(event models.SecurityEvent) []string {
	userID := ""
	if event.UserID != nil {
		userID = *event.UserID
	}
	resolvedAt := ""
	if event.ResolvedAt != nil {
		resolvedAt = event.ResolvedAt.UTC().Format(time.RFC3339)
	}
	meta := ""
	if len(event.Meta) > 0 {
		if raw, err := json.Marshal(event.Meta); err == nil {
			meta = string(raw)
		} else {
			meta = fmt.Sprintf("%v", event.Meta)
		}
	}
	return []string{
		event.ID,
		string(event.Type),
		string(event.Severity),
		event.Description,
		userID,
		event.CreatedAt.UTC().Format(time.RFC3339),
		resolvedAt,
		meta,
	}
}
