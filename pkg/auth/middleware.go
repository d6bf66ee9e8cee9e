package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"draftdesk/pkg/ctxkeys"
)

// ServiceTokenHeader carries the operator token on job-trigger routes.
const ServiceTokenHeader = "X-Service-Token"

// ValidateServiceToken compares token against expected in constant time.
func ValidateServiceToken(token, expected string) error {
	if token == "" {
		return ErrMissingServiceToken
	}
	if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		return ErrInvalidServiceToken
	}
	return nil
}

// ServiceAuthMiddleware accepts the operator token from X-Service-Token or a Bearer header.
func ServiceAuthMiddleware(expectedToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(ServiceTokenHeader)
		if token == "" {
			token = bearerToken(c.GetHeader("Authorization"))
		}
		if err := ValidateServiceToken(token, expectedToken); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(string(ctxkeys.KeyAuthType), "service")
		c.Next()
	}
}

// JWTAuthMiddleware validates the session token from the Authorization header,
// falling back to the access_token cookie browsers send.
func JWTAuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			if cookie, err := c.Cookie("access_token"); err == nil {
				token = cookie
			}
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		claims, err := ValidateJWT(token, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(string(ctxkeys.KeyUserID), claims.UserID)
		c.Set(string(ctxkeys.KeyEmail), claims.Email)
		c.Set(string(ctxkeys.KeyAuthType), "jwt")
		c.Next()
	}
}

// UserID returns the authenticated owner set by JWTAuthMiddleware.
func UserID(c *gin.Context) string {
	return c.GetString(string(ctxkeys.KeyUserID))
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
