package models

import "time"

// ServiceRecord represents one provisioned remote MCP service.
// It is created once at provisioning time and afterwards mutated only through
// status reconciliation and tool discovery.
type ServiceRecord struct {
	Id        string
	UserId    string
	ServiceId string // provider-assigned service id
	DeployId  string // provider-assigned latest deployment id

	Name         string
	Repository   string
	Branch       string
	BuildCommand string
	StartCommand string
	RootDir      string
	Runtime      string
	Plan         string
	EnvVars      []EnvironmentVariable

	Status DeploymentStatus
	URL    string // set only once Status is live

	Tools            []ToolDescriptor
	Description      string
	AdvertisedEnv    map[string]string
	LastDiscoveredAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy so callers cannot mutate stored state
func (r *ServiceRecord) Clone() *ServiceRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.EnvVars != nil {
		out.EnvVars = append([]EnvironmentVariable(nil), r.EnvVars...)
	}
	if r.Tools != nil {
		out.Tools = append([]ToolDescriptor(nil), r.Tools...)
	}
	if r.AdvertisedEnv != nil {
		out.AdvertisedEnv = make(map[string]string, len(r.AdvertisedEnv))
		for k, v := range r.AdvertisedEnv {
			out.AdvertisedEnv[k] = v
		}
	}
	if r.LastDiscoveredAt != nil {
		t := *r.LastDiscoveredAt
		out.LastDiscoveredAt = &t
	}
	return &out
}

// ServicePatch is a partial update of a ServiceRecord. Nil fields are left untouched.
type ServicePatch struct {
	Status           *DeploymentStatus
	URL              *string
	Tools            *[]ToolDescriptor
	Description      *string
	AdvertisedEnv    map[string]string
	LastDiscoveredAt *time.Time
}

// ApplyTo merges the patch into the record and bumps UpdatedAt
func (p *ServicePatch) ApplyTo(r *ServiceRecord, now time.Time) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.URL != nil {
		r.URL = *p.URL
	}
	if p.Tools != nil {
		r.Tools = append([]ToolDescriptor(nil), (*p.Tools)...)
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.AdvertisedEnv != nil {
		r.AdvertisedEnv = p.AdvertisedEnv
	}
	if p.LastDiscoveredAt != nil {
		t := *p.LastDiscoveredAt
		r.LastDiscoveredAt = &t
	}
	r.UpdatedAt = now
}

// RejectsTerminalOverride reports whether applying the patch to a record in the
// given status would move it out of a terminal state
func (p *ServicePatch) RejectsTerminalOverride(current DeploymentStatus) bool {
	return p.Status != nil && current.IsTerminal() && *p.Status != current
}
