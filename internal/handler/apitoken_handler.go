package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kentiva/ops-api/internal/models"
	"github.com/kentiva/ops-api/internal/service"
	appErrors "github.com/kentiva/ops-api/pkg/errors"
	"github.com/kentiva/ops-api/pkg/response"
)

// APITokenHandler exposes the service-account token admin surface.
type APITokenHandler struct {
	service *service.APITokenService
}

// NewAPITokenHandler creates a new handler.
func NewAPITokenHandler(svc *service.APITokenService) *APITokenHandler {
	return &APITokenHandler{service: svc}
}

// Create godoc
// @Summary Mint API token
// @Description Create a service-account token. The raw secret is returned exactly once.
// @Tags API Tokens
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.CreateAPITokenRequest true "Token payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /api-tokens [post]
func (h *APITokenHandler) Create(c *gin.Context) {
	orgID, ok := principalOrg(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.CreateAPITokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid api token payload"))
		return
	}

	created, err := h.service.Create(c.Request.Context(), orgID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, created)
}

// List godoc
// @Summary List API tokens
// @Description List the org's service-account tokens, digests omitted
// @Tags API Tokens
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /api-tokens [get]
func (h *APITokenHandler) List(c *gin.Context) {
	orgID, ok := principalOrg(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	tokens, err := h.service.List(c.Request.Context(), orgID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, tokens, nil)
}

// Revoke godoc
// @Summary Revoke API token
// @Description Permanently disable a service-account token
// @Tags API Tokens
// @Produce json
// @Security BearerAuth
// @Param id path string true "Token ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api-tokens/{id} [delete]
func (h *APITokenHandler) Revoke(c *gin.Context) {
	orgID, ok := principalOrg(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Revoke(c.Request.Context(), orgID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
