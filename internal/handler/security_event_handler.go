package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kentiva/ops-api/internal/models"
	"github.com/kentiva/ops-api/internal/service"
	appErrors "github.com/kentiva/ops-api/pkg/errors"
	"github.com/kentiva/ops-api/pkg/response"
)

// SecurityEventHandler exposes the threat review surface.
type SecurityEventHandler struct {
	service *service.SecurityEventService
}

// NewSecurityEventHandler creates a new handler.
func NewSecurityEventHandler(svc *service.SecurityEventService) *SecurityEventHandler {
	return &SecurityEventHandler{service: svc}
}

// List godoc
// @Summary List security events
// @Description List detected anomalies for review, newest first
// @Tags Security Events
// @Produce json
// @Security BearerAuth
// @Param severity query string false "Filter by severity (LOW, MEDIUM, HIGH, CRITICAL)"
// @Param resolved query bool false "Filter by resolution state"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size (max 100)"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /security-events [get]
func (h *SecurityEventHandler) List(c *gin.Context) {
	orgID, ok := principalOrg(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter, err := parseEventFilter(c, orgID)
	if err != nil {
		response.Error(c, err)
		return
	}

	events, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, events, pagination)
}

// Resolve godoc
// @Summary Resolve security event
// @Description Mark a reviewed event as handled
// @Tags Security Events
// @Produce json
// @Security BearerAuth
// @Param id path string true "Event ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /security-events/{id}/resolve [post]
func (h *SecurityEventHandler) Resolve(c *gin.Context) {
	orgID, ok := principalOrg(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Resolve(c.Request.Context(), orgID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Export godoc
// @Summary Export security events
// @Description Download the filtered event set as CSV or PDF
// @Tags Security Events
// @Produce octet-stream
// @Security BearerAuth
// @Param format query string true "Export format (csv or pdf)"
// @Param severity query string false "Filter by severity"
// @Param resolved query bool false "Filter by resolution state"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Router /security-events/export [get]
func (h *SecurityEventHandler) Export(c *gin.Context) {
	orgID, ok := principalOrg(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter, err := parseEventFilter(c, orgID)
	if err != nil {
		response.Error(c, err)
		return
	}

	format := c.DefaultQuery("format", service.ExportFormatCSV)
	data, contentType, err := h.service.Export(c.Request.Context(), filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("security-events.%s", format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, data)
}

func parseEventFilter(c *gin.Context, orgID string) (models.SecurityEventFilter, error) {
	filter := models.SecurityEventFilter{OrgID: orgID}

	if raw := c.Query("severity"); raw != "" {
		severity := models.SecurityEventSeverity(raw)
		filter.Severity = &severity
	}
	if raw := c.Query("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "resolved must be a boolean")
		}
		filter.Resolved = &resolved
	}
	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return filter, appErrors.Clone(appErrors.ErrValidation, "page must be a positive integer")
		}
		filter.Page = page
	}
	if raw := c.Query("page_size"); raw != "" {
		pageSize, err := strconv.Atoi(raw)
		if err != nil || pageSize < 1 {
			return filter, appErrors.Clone(appErrors.ErrValidation, "page_size must be a positive integer")
		}
		filter.PageSize = pageSize
	}
	return filter, nil
}
