package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/imyashkale/mcpdeploy/internal/models"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type testTool struct {
	name        string
	description string
}

// newMCPTestServer serves a real streamable HTTP MCP endpoint at <url>/mcp.
// The returned slice collects the Accept header of every request.
func newMCPTestServer(t *testing.T, instructions string, tools ...testTool) (*httptest.Server, func() []string) {
	t.Helper()

	opts := []server.ServerOption{server.WithToolCapabilities(true)}
	if instructions != "" {
		opts = append(opts, server.WithInstructions(instructions))
	}
	mcpServer := server.NewMCPServer("test-service", "1.0.0", opts...)
	for _, tool := range tools {
		mcpServer.AddTool(
			mcp.NewTool(tool.name, mcp.WithDescription(tool.description)),
			func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return mcp.NewToolResultText("ok"), nil
			},
		)
	}

	var (
		mu      sync.Mutex
		accepts []string
	)
	streamable := server.NewStreamableHTTPServer(mcpServer)

	mux := http.NewServeMux()
	mux.Handle("/mcp", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		accepts = append(accepts, r.Header.Get("Accept"))
		mu.Unlock()
		streamable.ServeHTTP(w, r)
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), accepts...)
	}
}

// unreachableURL returns the address of a server that has already shut down
func unreachableURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

// fakeProvider replays a scripted sequence of deployment statuses
type fakeProvider struct {
	mu       sync.Mutex
	statuses []string
	url      string
	err      error
	calls    int
	created  *CreatedService
	specs    []ServiceSpec
}

func (p *fakeProvider) CreateService(ctx context.Context, spec ServiceSpec) (*CreatedService, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.specs = append(p.specs, spec)
	if p.err != nil {
		return nil, p.err
	}
	return p.created, nil
}

func (p *fakeProvider) GetDeployment(ctx context.Context, serviceId, deployId string) (*DeploymentInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	status := p.statuses[0]
	if len(p.statuses) > 1 {
		p.statuses = p.statuses[1:]
	}
	info := &DeploymentInfo{Id: deployId, Status: status}
	if status == string(models.StatusLive) {
		info.URL = p.url
	}
	return info, nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeDiscoverer returns a fixed result
type fakeDiscoverer struct {
	mu     sync.Mutex
	result *models.DiscoveryResult
	urls   []string
}

func (d *fakeDiscoverer) Discover(ctx context.Context, url string) *models.DiscoveryResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	res := *d.result
	res.URL = url
	return &res
}

func (d *fakeDiscoverer) DiscoverMany(ctx context.Context, urls []string) []*models.DiscoveryResult {
	out := make([]*models.DiscoveryResult, 0, len(urls))
	for _, u := range urls {
		out = append(out, d.Discover(ctx, u))
	}
	return out
}

func onlineResult(tools ...models.ToolDescriptor) *models.DiscoveryResult {
	return &models.DiscoveryResult{
		Tools:       tools,
		ToolCount:   len(tools),
		Description: "test service",
		Status:      models.DiscoveryOnline,
		LastChecked: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func offlineResult() *models.DiscoveryResult {
	return &models.DiscoveryResult{
		Tools:  []models.ToolDescriptor{},
		Status: models.DiscoveryOffline,
		Error:  "connection refused",
	}
}

func pendingRecord(id string) *models.ServiceRecord {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return &models.ServiceRecord{
		Id:        id,
		UserId:    "user-1",
		ServiceId: "srv-" + id,
		DeployId:  "dep-" + id,
		Name:      "service " + id,
		Status:    models.StatusPending,
		Tools:     []models.ToolDescriptor{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
