package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/imyashkale/mcpdeploy/internal/logger"
)

// AnonymousUserID is the user ID assigned when authentication is disabled
const AnonymousUserID = "anonymous"

var (
	ErrMissingAuthHeader = errors.New("missing authorization header")
	ErrMissingUserID     = errors.New("missing user ID in token")
)

// Authentication validates HS256 bearer tokens signed with secret and sets
// the "user_id" context key from the "sub" claim. An empty secret disables
// verification and every request runs as AnonymousUserID.
func Authentication(secret string) gin.HandlerFunc {
	if secret == "" {
		logger.Warn("AUTH_JWT_SECRET is not set, requests are not authenticated")
		return func(c *gin.Context) {
			c.Set("user_id", AnonymousUserID)
			c.Next()
		}
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	keyFunc := func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}

	return func(c *gin.Context) {
		tokenString, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			logger.WithField("path", c.Request.URL.Path).Warn("Authentication failed: missing or invalid authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Missing or invalid authorization header",
			})
			return
		}

		claims := jwt.MapClaims{}
		if _, err := parser.ParseWithClaims(tokenString, claims, keyFunc); err != nil {
			code := "invalid_token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				code = "token_expired"
			}
			logger.WithFields(map[string]interface{}{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			}).Warn("Authentication failed: token validation error")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   code,
				"message": err.Error(),
			})
			return
		}

		userId, err := claims.GetSubject()
		if err != nil || userId == "" {
			logger.WithField("path", c.Request.URL.Path).Warn("Authentication failed: missing user ID in token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_token",
				"message": ErrMissingUserID.Error(),
			})
			return
		}

		c.Set("user_id", userId)
		c.Set("token_claims", claims)

		logger.WithFields(map[string]interface{}{
			"user_id": userId,
			"path":    c.Request.URL.Path,
		}).Debug("Authentication successful")

		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) || strings.TrimSpace(header[len(prefix):]) == "" {
		return "", ErrMissingAuthHeader
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}
