package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/imyashkale/mcpdeploy/internal/logger"
	"github.com/imyashkale/mcpdeploy/internal/models"
	"github.com/imyashkale/mcpdeploy/internal/pricing"
	"github.com/imyashkale/mcpdeploy/internal/x402"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"
)

const (
	discoveryClientName    = "tool-discovery-client"
	discoveryClientVersion = "1.0.0"

	// environmentCapability is the experimental capability key under which a
	// server advertises the environment variables it expects
	environmentCapability = "environment"
)

// Discoverer lists the tools of a remote MCP service
type Discoverer interface {
	Discover(ctx context.Context, serviceURL string) *models.DiscoveryResult
	DiscoverMany(ctx context.Context, urls []string) []*models.DiscoveryResult
}

// DiscoveryService opens short-lived MCP sessions to list remote tools
type DiscoveryService struct {
	creds       x402.Credentials
	timeout     time.Duration
	concurrency int
	options     []x402.Option
	now         func() time.Time
}

// NewDiscoveryService creates a discovery client. timeout bounds each session;
// concurrency caps simultaneous sessions in DiscoverMany (0 means unbounded).
func NewDiscoveryService(creds x402.Credentials, timeout time.Duration, concurrency int, opts ...x402.Option) *DiscoveryService {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &DiscoveryService{
		creds:       creds,
		timeout:     timeout,
		concurrency: concurrency,
		options:     opts,
		now:         time.Now,
	}
}

// Discover connects to serviceURL + "/mcp" and lists its tools. Failures are
// reported in the result, never returned.
func (d *DiscoveryService) Discover(ctx context.Context, serviceURL string) *models.DiscoveryResult {
	result := &models.DiscoveryResult{
		URL:   serviceURL,
		Tools: []models.ToolDescriptor{},
	}

	if err := d.discover(ctx, serviceURL, result); err != nil {
		logger.WithFields(map[string]interface{}{
			"url":   serviceURL,
			"error": err.Error(),
		}).Warn("Tool discovery failed")

		result.Status = models.DiscoveryOffline
		result.Error = err.Error()
		result.Tools = []models.ToolDescriptor{}
		result.ToolCount = 0
		result.Description = ""
		result.AdvertisedEnv = nil
	} else {
		result.Status = models.DiscoveryOnline
		logger.WithFields(map[string]interface{}{
			"url":        serviceURL,
			"tool_count": result.ToolCount,
		}).Info("Tool discovery completed")
	}

	result.LastChecked = d.now()
	return result
}

func (d *DiscoveryService) discover(ctx context.Context, serviceURL string, result *models.DiscoveryResult) error {
	if strings.TrimSpace(serviceURL) == "" {
		return x402.ErrEmptyURL
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	endpoint := strings.TrimRight(serviceURL, "/") + "/mcp"
	transport, err := x402.NewClientTransport(endpoint, d.creds, d.options...)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	mcpClient := client.NewClient(transport)
	defer mcpClient.Close()

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    discoveryClientName,
		Version: discoveryClientVersion,
	}

	initResult, err := mcpClient.Initialize(ctx, initReq)
	if err != nil {
		return fmt.Errorf("failed to initialize session: %w", err)
	}

	listResult, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]models.ToolDescriptor, 0, len(listResult.Tools))
	for _, tool := range listResult.Tools {
		tools = append(tools, toToolDescriptor(tool))
	}

	result.Tools = tools
	result.ToolCount = len(tools)
	result.Description = initResult.Instructions
	result.AdvertisedEnv = advertisedEnv(initResult.Capabilities)
	return nil
}

// DiscoverMany discovers every URL concurrently. Results keep the input order
// and one URL failing never affects another.
func (d *DiscoveryService) DiscoverMany(ctx context.Context, urls []string) []*models.DiscoveryResult {
	results := make([]*models.DiscoveryResult, len(urls))

	var g errgroup.Group
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}
	for i, u := range urls {
		g.Go(func() error {
			results[i] = d.Discover(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func toToolDescriptor(tool mcp.Tool) models.ToolDescriptor {
	clean, price := pricing.Parse(tool.Description)

	schema := tool.RawInputSchema
	if len(schema) == 0 {
		if raw, err := json.Marshal(tool.InputSchema); err == nil {
			schema = raw
		}
	}

	return models.ToolDescriptor{
		Name:                tool.Name,
		Description:         clean,
		OriginalDescription: tool.Description,
		Price:               price,
		InputSchema:         schema,
	}
}

func advertisedEnv(caps mcp.ServerCapabilities) map[string]string {
	raw, ok := caps.Experimental[environmentCapability]
	if !ok {
		return nil
	}

	entries, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}

	env := make(map[string]string, len(entries))
	for k, v := range entries {
		switch val := v.(type) {
		case string:
			env[k] = val
		default:
			env[k] = fmt.Sprint(val)
		}
	}
	return env
}
