package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/mcpdeploy/internal/models"
	"github.com/imyashkale/mcpdeploy/internal/services"
)

// DeploymentHandler exposes the provider's view of a deployment
type DeploymentHandler struct {
	provider services.Provisioner
}

// NewDeploymentHandler creates a new deployment handler
func NewDeploymentHandler(provider services.Provisioner) *DeploymentHandler {
	return &DeploymentHandler{provider: provider}
}

// Get returns the provider status of one deployment without touching any record
func (h *DeploymentHandler) Get(c *gin.Context) {
	info, err := h.provider.GetDeployment(c.Request.Context(), c.Param("service_id"), c.Param("deploy_id"))
	if err != nil {
		respondError(c, err, "Failed to retrieve deployment")
		return
	}

	status, known := models.ParseDeploymentStatus(info.Status)
	c.JSON(http.StatusOK, gin.H{
		"id":         info.Id,
		"status":     info.Status,
		"known":      known,
		"class":      status.Class().String(),
		"url":        info.URL,
		"created_at": info.CreatedAt,
		"updated_at": info.UpdatedAt,
	})
}
