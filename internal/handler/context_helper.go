package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/kentiva/ops-api/internal/middleware"
	"github.com/kentiva/ops-api/internal/models"
)

func identityFromContext(c *gin.Context) *models.Identity {
	identity, ok := middleware.CurrentUser(c)
	if !ok {
		return nil
	}
	return identity
}

func principalOrg(c *gin.Context) (string, bool) {
	return middleware.PrincipalOrg(c)
}
