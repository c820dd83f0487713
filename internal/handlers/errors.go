package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/mcpdeploy/internal/logger"
	"github.com/imyashkale/mcpdeploy/internal/queue"
	"github.com/imyashkale/mcpdeploy/internal/repository"
	"github.com/imyashkale/mcpdeploy/internal/services"
)

// userIdFromContext reads the user ID set by the auth middleware, writing the
// error response itself when it is missing
func userIdFromContext(c *gin.Context) (string, bool) {
	userId, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "User ID not found in context",
		})
		return "", false
	}

	userIdStr, ok := userId.(string)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Invalid user ID format",
		})
		return "", false
	}
	return userIdStr, true
}

// respondError maps domain errors onto HTTP responses
func respondError(c *gin.Context, err error, fallback string) {
	var apiErr *services.APIError

	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Service not found"})
	case errors.Is(err, services.ErrNotLive), errors.Is(err, services.ErrIncompleteRecord):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": err.Error()})
	case errors.Is(err, services.ErrMissingCredential):
		logger.WithError(err).Error("Provider credentials are not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "configuration_error", "message": "Provider credentials are not configured"})
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": err.Error()})
	case errors.As(err, &apiErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider_error", "message": apiErr.Message, "provider_status": apiErr.StatusCode})
	case errors.Is(err, services.ErrPollFailed), errors.Is(err, services.ErrIncompleteProviderResponse):
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider_error", "message": err.Error()})
	default:
		logger.WithFields(map[string]interface{}{
			"path":  c.Request.URL.Path,
			"error": err.Error(),
		}).Error(fallback)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": fallback})
	}
}
