package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// InFlightReporter reports the number of polls currently running
type InFlightReporter interface {
	InFlight() int
}

// HealthHandler handles health check requests
type HealthHandler struct {
	scheduler InFlightReporter
}

// NewHealthHandler creates a new health handler. scheduler may be nil.
func NewHealthHandler(scheduler InFlightReporter) *HealthHandler {
	return &HealthHandler{scheduler: scheduler}
}

// Check handles the health check endpoint
func (h *HealthHandler) Check(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"service":   "mcpdeploy",
	}
	if h.scheduler != nil {
		body["polls_in_flight"] = h.scheduler.InFlight()
	}
	c.JSON(http.StatusOK, body)
}
