package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/kentiva/ops-api/internal/service"
	appErrors "github.com/kentiva/ops-api/pkg/errors"
	"github.com/kentiva/ops-api/pkg/response"
)

// UserHandler exposes account lifecycle endpoints.
type UserHandler struct {
	service *service.UserService
}

// NewUserHandler creates a new handler.
func NewUserHandler(svc *service.UserService) *UserHandler {
	return &UserHandler{service: svc}
}

// Deactivate godoc
// @Summary Deactivate user
// @Description Disable a user account and revoke its sessions
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /users/{id}/deactivate [post]
func (h *UserHandler) Deactivate(c *gin.Context) {
	identity := identityFromContext(c)
	if identity == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	err := h.service.Deactivate(c.Request.Context(), identity.OrgID, identity.UserID, c.Param("id"), c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
