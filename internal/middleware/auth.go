package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/fixhub/internal/auth"
	"github.com/charlesng35/fixhub/pkg/errors"
	"github.com/charlesng35/fixhub/pkg/response"
)

const (
	CtxClaimsKey = "authClaims"
	CtxUserIDKey = "userID"

	// AccessTokenQuery carries the bearer token on websocket upgrades, where browsers
	// cannot set an Authorization header.
	AccessTokenQuery = "access_token"
)

// Auth enforces JWT authentication using the supplied JWT service and places the
// resulting identity in the request context for the services.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		identity := claims.Identity()
		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, identity.ID)
		c.Request = c.Request.WithContext(iauth.WithIdentity(c.Request.Context(), identity))

		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	authz := c.GetHeader("Authorization")
	if len(authz) >= 8 && strings.EqualFold(authz[:7], "Bearer ") {
		token := strings.TrimSpace(authz[7:])
		return token, token != ""
	}
	if authz != "" {
		return "", false
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		token := strings.TrimSpace(c.Query(AccessTokenQuery))
		return token, token != ""
	}
	return "", false
}
