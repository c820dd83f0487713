package models

import "time"

// CreateServiceRequest represents the request body for provisioning a new MCP service
type CreateServiceRequest struct {
	Name         string                `json:"name" binding:"required"`
	Repository   string                `json:"repo" binding:"required"`
	Branch       string                `json:"branch"`
	BuildCommand string                `json:"buildCommand"`
	StartCommand string                `json:"startCommand"`
	RootDir      string                `json:"rootDir"`
	Runtime      string                `json:"runtime"`
	Plan         string                `json:"plan"`
	EnvVars      []EnvironmentVariable `json:"envVars"`
}

// ServiceResponse represents the response structure for a single service record
type ServiceResponse struct {
	Id                   string                `json:"id"`
	UserId               string                `json:"user_id,omitempty"`
	Name                 string                `json:"name"`
	Repository           string                `json:"repo"`
	Branch               string                `json:"branch"`
	BuildCommand         string                `json:"build_command"`
	StartCommand         string                `json:"start_command"`
	RootDir              string                `json:"root_dir"`
	Runtime              string                `json:"runtime"`
	Plan                 string                `json:"plan"`
	EnvVars              []EnvironmentVariable `json:"env_vars"`
	ServiceId            string                `json:"render_service_id"`
	DeployId             string                `json:"deploy_id"`
	URL                  string                `json:"deploy_url,omitempty"`
	Status               DeploymentStatus      `json:"status"`
	Tools                []ToolDescriptor      `json:"tools"`
	Description          string                `json:"description,omitempty"`
	EnvironmentVariables map[string]string     `json:"environment_variables,omitempty"`
	LastDiscoveredAt     *time.Time            `json:"last_discovered_at,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

// ServiceListResponse represents the response structure for listing services
type ServiceListResponse struct {
	Services []ServiceResponse `json:"mcps"`
	Total    int               `json:"total"`
}

// StatusCheckResponse is returned by an on-demand reconciliation
type StatusCheckResponse struct {
	Service       ServiceResponse  `json:"mcp"`
	StatusChanged bool             `json:"statusChanged"`
	OldStatus     DeploymentStatus `json:"oldStatus,omitempty"`
	NewStatus     DeploymentStatus `json:"newStatus,omitempty"`
}

// ServiceSummaryResponse aggregates service counts by lifecycle class
type ServiceSummaryResponse struct {
	Total    int `json:"total"`
	Live     int `json:"live"`
	Building int `json:"building"`
	Failed   int `json:"failed"`
}

// DiscoverToolsRequest is the body of a batch discovery request
type DiscoverToolsRequest struct {
	URLs []string `json:"urls" binding:"required"`
}

// ToResponse converts a domain ServiceRecord to a ServiceResponse DTO
func (r *ServiceRecord) ToResponse() ServiceResponse {
	tools := r.Tools
	if tools == nil {
		tools = []ToolDescriptor{}
	}
	return ServiceResponse{
		Id:                   r.Id,
		UserId:               r.UserId,
		Name:                 r.Name,
		Repository:           r.Repository,
		Branch:               r.Branch,
		BuildCommand:         r.BuildCommand,
		StartCommand:         r.StartCommand,
		RootDir:              r.RootDir,
		Runtime:              r.Runtime,
		Plan:                 r.Plan,
		EnvVars:              r.EnvVars,
		ServiceId:            r.ServiceId,
		DeployId:             r.DeployId,
		URL:                  r.URL,
		Status:               r.Status,
		Tools:                tools,
		Description:          r.Description,
		EnvironmentVariables: r.AdvertisedEnv,
		LastDiscoveredAt:     r.LastDiscoveredAt,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

// Summarize counts records by lifecycle class
func Summarize(records []*ServiceRecord) ServiceSummaryResponse {
	summary := ServiceSummaryResponse{Total: len(records)}
	for _, r := range records {
		switch r.Status.Class() {
		case ClassLive:
			summary.Live++
		case ClassTransient:
			summary.Building++
		case ClassFailed:
			summary.Failed++
		}
	}
	return summary
}
