package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/imyashkale/mcpdeploy/internal/logger"
	"github.com/imyashkale/mcpdeploy/internal/models"
)

// DefaultRenderBaseURL is the public Render REST endpoint
const DefaultRenderBaseURL = "https://api.render.com/v1"

var (
	// ErrMissingCredential is returned when the provider API key or owner is not configured
	ErrMissingCredential = errors.New("provider credential is not configured")
	// ErrPollFailed wraps any transient failure while fetching a deployment status
	ErrPollFailed = errors.New("deployment status poll failed")
	// ErrMissingURL is returned when a deployment is live but no service URL is known
	ErrMissingURL = errors.New("live deployment has no service url")
	// ErrIncompleteRecord is returned when a record lacks the provider identifiers needed to poll it
	ErrIncompleteRecord = errors.New("service record is missing provider identifiers")
)

// APIError is a non-2xx response from the provider API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider api error (status %d): %s", e.StatusCode, e.Message)
}

// ServiceSpec describes the web service to create on the provider
type ServiceSpec struct {
	Name         string
	Repository   string
	Branch       string
	RootDir      string
	Runtime      string
	Plan         string
	BuildCommand string
	StartCommand string
	EnvVars      []models.EnvironmentVariable
}

// CreatedService is the provider's answer to a create call
type CreatedService struct {
	ServiceId string
	DeployId  string
	URL       string
	Status    models.DeploymentStatus
}

// DeploymentInfo is the provider's view of one deployment
type DeploymentInfo struct {
	Id        string
	Status    string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Provisioner is the managed-hosting provider
type Provisioner interface {
	CreateService(ctx context.Context, spec ServiceSpec) (*CreatedService, error)
	GetDeployment(ctx context.Context, serviceId, deployId string) (*DeploymentInfo, error)
}

// RenderClient talks to the Render REST API
type RenderClient struct {
	baseURL    string
	apiKey     string
	ownerId    string
	httpClient *http.Client
}

// NewRenderClient creates a Render API client. An empty baseURL selects the public API.
func NewRenderClient(baseURL, apiKey, ownerId string, timeout time.Duration) *RenderClient {
	if baseURL == "" {
		baseURL = DefaultRenderBaseURL
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &RenderClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		ownerId:    ownerId,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type renderEnvVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type renderCreateRequest struct {
	Type           string         `json:"type"`
	Name           string         `json:"name"`
	OwnerId        string         `json:"ownerId"`
	Repo           string         `json:"repo"`
	Branch         string         `json:"branch"`
	RootDir        string         `json:"rootDir,omitempty"`
	EnvVars        []renderEnvVar `json:"envVars"`
	ServiceDetails struct {
		Runtime            string `json:"runtime"`
		Plan               string `json:"plan"`
		EnvSpecificDetails struct {
			BuildCommand string `json:"buildCommand"`
			StartCommand string `json:"startCommand"`
		} `json:"envSpecificDetails"`
	} `json:"serviceDetails"`
}

type renderServiceDetails struct {
	URL string `json:"url"`
}

type renderService struct {
	Id             string               `json:"id"`
	URL            string               `json:"url"`
	ServiceDetails renderServiceDetails `json:"serviceDetails"`
}

// renderCreateResponse covers the shapes Render has used for the create call:
// the service at the top level, or nested under "service" with a separate deploy.
type renderCreateResponse struct {
	renderService
	Service    *renderService `json:"service"`
	DeployId   string         `json:"deployId"`
	Deployment *struct {
		Id     string `json:"id"`
		Status string `json:"status"`
	} `json:"deployment"`
}

type renderDeploy struct {
	Id        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateService creates a web service from a GitHub repository
func (c *RenderClient) CreateService(ctx context.Context, spec ServiceSpec) (*CreatedService, error) {
	if c.apiKey == "" || c.ownerId == "" {
		return nil, ErrMissingCredential
	}

	body := renderCreateRequest{
		Type:    "web_service",
		Name:    spec.Name,
		OwnerId: c.ownerId,
		Repo:    spec.Repository,
		Branch:  spec.Branch,
		RootDir: spec.RootDir,
		EnvVars: make([]renderEnvVar, 0, len(spec.EnvVars)),
	}
	for _, ev := range spec.EnvVars {
		body.EnvVars = append(body.EnvVars, renderEnvVar{Key: ev.Key, Value: ev.Value})
	}
	body.ServiceDetails.Runtime = spec.Runtime
	body.ServiceDetails.Plan = spec.Plan
	body.ServiceDetails.EnvSpecificDetails.BuildCommand = spec.BuildCommand
	body.ServiceDetails.EnvSpecificDetails.StartCommand = spec.StartCommand

	var resp renderCreateResponse
	if err := c.do(ctx, http.MethodPost, "/services", body, &resp); err != nil {
		logger.WithFields(map[string]interface{}{
			"name":  spec.Name,
			"repo":  spec.Repository,
			"error": err.Error(),
		}).Error("Render service creation failed")
		return nil, err
	}

	created := &CreatedService{
		ServiceId: resp.Id,
		URL:       firstNonEmpty(resp.URL, resp.ServiceDetails.URL),
		DeployId:  resp.DeployId,
		Status:    models.StatusPending,
	}
	if resp.Service != nil {
		created.ServiceId = firstNonEmpty(created.ServiceId, resp.Service.Id)
		created.URL = firstNonEmpty(resp.Service.URL, resp.Service.ServiceDetails.URL, created.URL)
	}
	if resp.Deployment != nil {
		created.DeployId = firstNonEmpty(created.DeployId, resp.Deployment.Id)
		if status, ok := models.ParseDeploymentStatus(resp.Deployment.Status); ok {
			created.Status = status
		}
	}

	logger.WithFields(map[string]interface{}{
		"service_id": created.ServiceId,
		"deploy_id":  created.DeployId,
		"status":     created.Status,
	}).Info("Render service created")

	return created, nil
}

// GetDeployment fetches a deployment and, once it is live, the public service URL
func (c *RenderClient) GetDeployment(ctx context.Context, serviceId, deployId string) (*DeploymentInfo, error) {
	if c.apiKey == "" {
		return nil, ErrMissingCredential
	}

	var deploy renderDeploy
	path := fmt.Sprintf("/services/%s/deploys/%s", url.PathEscape(serviceId), url.PathEscape(deployId))
	if err := c.do(ctx, http.MethodGet, path, nil, &deploy); err != nil {
		return nil, err
	}

	info := &DeploymentInfo{
		Id:        firstNonEmpty(deploy.Id, deployId),
		Status:    deploy.Status,
		CreatedAt: deploy.CreatedAt,
		UpdatedAt: deploy.UpdatedAt,
	}

	if deploy.Status == string(models.StatusLive) {
		var svc renderService
		if err := c.do(ctx, http.MethodGet, "/services/"+url.PathEscape(serviceId), nil, &svc); err != nil {
			logger.WithFields(map[string]interface{}{
				"service_id": serviceId,
				"error":      err.Error(),
			}).Warn("Failed to fetch service details for live deployment")
		} else {
			info.URL = firstNonEmpty(svc.ServiceDetails.URL, svc.URL)
		}
	}

	return info, nil
}

func (c *RenderClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("render request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var body struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &body) == nil && body.Message != "" {
			apiErr.Message = body.Message
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
