package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/mcpdeploy/internal/models"
	"github.com/imyashkale/mcpdeploy/internal/queue"
	"github.com/imyashkale/mcpdeploy/internal/repository"
	"github.com/imyashkale/mcpdeploy/internal/services"
)

// ServiceCreator provisions a new service for a user
type ServiceCreator interface {
	CreateService(ctx context.Context, userId string, req *models.CreateServiceRequest) (*models.ServiceRecord, error)
}

// JobEnqueuer accepts background tool refresh jobs
type JobEnqueuer interface {
	Enqueue(job *queue.DiscoveryJob) error
}

// ServiceHandler handles MCP service requests
type ServiceHandler struct {
	repo       repository.ServiceRepository
	creator    ServiceCreator
	reconciler services.RecordReconciler
	jobs       JobEnqueuer
}

// NewServiceHandler creates a new service handler
func NewServiceHandler(
	repo repository.ServiceRepository,
	creator ServiceCreator,
	reconciler services.RecordReconciler,
	jobs JobEnqueuer,
) *ServiceHandler {
	return &ServiceHandler{
		repo:       repo,
		creator:    creator,
		reconciler: reconciler,
		jobs:       jobs,
	}
}

// Create handles provisioning a new MCP service
func (h *ServiceHandler) Create(c *gin.Context) {
	userId, ok := userIdFromContext(c)
	if !ok {
		return
	}

	var req models.CreateServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	record, err := h.creator.CreateService(c.Request.Context(), userId, &req)
	if err != nil {
		respondError(c, err, "Failed to create service")
		return
	}

	c.JSON(http.StatusCreated, record.ToResponse())
}

// List handles the marketplace listing, newest first. ?mine=true restricts it
// to the caller's services and ?search= filters on name and description.
func (h *ServiceHandler) List(c *gin.Context) {
	var (
		records []*models.ServiceRecord
		err     error
	)

	if c.Query("mine") == "true" {
		userId, ok := userIdFromContext(c)
		if !ok {
			return
		}
		records, err = h.repo.ListByUserId(c.Request.Context(), userId)
	} else {
		records, err = h.repo.List(c.Request.Context())
	}
	if err != nil {
		respondError(c, err, "Failed to retrieve services")
		return
	}

	searchTerm := strings.ToLower(c.Query("search"))

	responses := make([]models.ServiceResponse, 0, len(records))
	for _, record := range records {
		if searchTerm != "" &&
			!strings.Contains(strings.ToLower(record.Name), searchTerm) &&
			!strings.Contains(strings.ToLower(record.Description), searchTerm) {
			continue
		}
		responses = append(responses, record.ToResponse())
	}

	c.JSON(http.StatusOK, models.ServiceListResponse{
		Services: responses,
		Total:    len(responses),
	})
}

// Get handles retrieving a single service record
func (h *ServiceHandler) Get(c *gin.Context) {
	record, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to retrieve service")
		return
	}

	c.JSON(http.StatusOK, record.ToResponse())
}

// CheckStatus reconciles one record against the provider on demand
func (h *ServiceHandler) CheckStatus(c *gin.Context) {
	ctx := c.Request.Context()

	record, err := h.repo.Get(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to retrieve service")
		return
	}

	result, err := h.reconciler.ReconcileOnce(ctx, record)
	if err != nil {
		respondError(c, err, "Failed to check deployment status")
		return
	}

	response := models.StatusCheckResponse{
		Service:       result.Record.ToResponse(),
		StatusChanged: result.Changed,
	}
	if result.Changed {
		response.OldStatus = result.PreviousStatus
		response.NewStatus = result.Record.Status
	}

	c.JSON(http.StatusOK, response)
}

// Summary returns the caller's service counts by lifecycle class
func (h *ServiceHandler) Summary(c *gin.Context) {
	userId, ok := userIdFromContext(c)
	if !ok {
		return
	}

	records, err := h.repo.ListByUserId(c.Request.Context(), userId)
	if err != nil {
		respondError(c, err, "Failed to retrieve services")
		return
	}

	c.JSON(http.StatusOK, models.Summarize(records))
}

// Discover queues a tool refresh for a live service
func (h *ServiceHandler) Discover(c *gin.Context) {
	userId, ok := userIdFromContext(c)
	if !ok {
		return
	}

	record, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to retrieve service")
		return
	}
	if !record.Status.IsLive() {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": "Tools can only be discovered for live services",
			"status":  record.Status,
		})
		return
	}

	job := &queue.DiscoveryJob{
		RecordID:    record.Id,
		UserID:      userId,
		RequestedAt: time.Now(),
	}
	if err := h.jobs.Enqueue(job); err != nil {
		respondError(c, err, "Failed to queue tool discovery")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":      record.Id,
		"message": "Tool discovery queued",
	})
}
