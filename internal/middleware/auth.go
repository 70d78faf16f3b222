package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kentiva/ops-api/internal/models"
	"github.com/kentiva/ops-api/internal/service"
	appErrors "github.com/kentiva/ops-api/pkg/errors"
	"github.com/kentiva/ops-api/pkg/response"
)

// ContextUserKey is the gin context key storing the session identity.
const ContextUserKey = "currentUser"

// ContextServiceKey is the gin context key storing the service-account
// identity for the API-token path.
const ContextServiceKey = "currentService"

type credentialKind int

const (
	credentialUnknown credentialKind = iota
	credentialSession
	credentialAPIToken
)

// Guard protects routes by requiring either a session access token or a
// service-account API token. The credential is classified by shape before any
// verification: a malformed bearer value is rejected outright rather than
// tried against both verifiers.
func Guard(authService *service.AuthService, apiTokens *service.APITokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := extractCredential(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		switch classifyCredential(raw, apiTokens) {
		case credentialSession:
			identity, err := authService.Identity(raw)
			if err != nil {
				response.Error(c, err)
				c.Abort()
				return
			}
			c.Set(ContextUserKey, identity)
			c.Next()

		case credentialAPIToken:
			identity, err := apiTokens.Authenticate(c.Request.Context(), raw)
			if err != nil {
				response.Error(c, err)
				c.Abort()
				return
			}
			c.Set(ContextServiceKey, identity)
			c.Next()
			// One usage record per request, written after the response so
			// the status code is final.
			apiTokens.LogUsage(identity.OrgID, identity.ServiceAccountID, c.Request.Method, c.FullPath(), c.ClientIP(), c.Writer.Status())

		default:
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "unrecognized credential"))
			c.Abort()
		}
	}
}

// extractCredential pulls the bearer value from the Authorization header,
// falling back to the access_token cookie for browser sessions.
func extractCredential(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if cookie, err := c.Cookie("access_token"); err == nil && cookie != "" {
		return cookie, true
	}
	return "", false
}

// classifyCredential decides which verifier a raw credential belongs to. JWTs
// are three dot-separated segments; API tokens carry the product prefix.
func classifyCredential(raw string, apiTokens *service.APITokenService) credentialKind {
	if apiTokens != nil && apiTokens.MatchesShape(raw) {
		return credentialAPIToken
	}
	if strings.Count(raw, ".") == 2 {
		return credentialSession
	}
	return credentialUnknown
}

// CurrentUser returns the session identity attached by Guard, if any.
func CurrentUser(c *gin.Context) (*models.Identity, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	identity, ok := value.(*models.Identity)
	return identity, ok
}

// CurrentService returns the service-account identity attached by Guard, if
// any.
func CurrentService(c *gin.Context) (*models.ServiceIdentity, bool) {
	value, exists := c.Get(ContextServiceKey)
	if !exists {
		return nil, false
	}
	identity, ok := value.(*models.ServiceIdentity)
	return identity, ok
}

// PrincipalOrg resolves the org the request acts within, for either identity
// kind.
func PrincipalOrg(c *gin.Context) (string, bool) {
	if user, ok := CurrentUser(c); ok {
		return user.OrgID, true
	}
	if svc, ok := CurrentService(c); ok {
		return svc.OrgID, true
	}
	return "", false
}
