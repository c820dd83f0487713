package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/mcpdeploy/internal/models"
	"github.com/imyashkale/mcpdeploy/internal/services"
)

// MaxBatchURLs caps the number of services discovered in one request
const MaxBatchURLs = 50

// ToolsHandler exposes tool discovery for arbitrary MCP services
type ToolsHandler struct {
	discovery services.Discoverer
}

// NewToolsHandler creates a new tools handler
func NewToolsHandler(discovery services.Discoverer) *ToolsHandler {
	return &ToolsHandler{discovery: discovery}
}

// Discover handles GET ?url= for one service and GET ?urls=a,b for a batch
func (h *ToolsHandler) Discover(c *gin.Context) {
	if single := strings.TrimSpace(c.Query("url")); single != "" {
		if !validServiceURL(single) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "url must be an absolute http(s) URL",
			})
			return
		}
		c.JSON(http.StatusOK, h.discovery.Discover(c.Request.Context(), single))
		return
	}

	if batch := c.Query("urls"); batch != "" {
		h.discoverMany(c, strings.Split(batch, ","))
		return
	}

	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": "Either url or urls query parameter is required",
	})
}

// DiscoverBatch handles POST {"urls": [...]}
func (h *ToolsHandler) DiscoverBatch(c *gin.Context) {
	var req models.DiscoverToolsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	h.discoverMany(c, req.URLs)
}

func (h *ToolsHandler) discoverMany(c *gin.Context, raw []string) {
	urls := make([]string, 0, len(raw))
	for _, u := range raw {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if !validServiceURL(u) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid service URL: " + u,
			})
			return
		}
		urls = append(urls, u)
	}

	if len(urls) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "At least one URL is required",
		})
		return
	}
	if len(urls) > MaxBatchURLs {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Too many URLs in one request",
			"max":     MaxBatchURLs,
		})
		return
	}

	results := h.discovery.DiscoverMany(c.Request.Context(), urls)

	online := 0
	for _, r := range results {
		if r.Online() {
			online++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"total":   len(results),
		"online":  online,
	})
}

func validServiceURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
