package models

import (
	"encoding/json"
	"time"
)

// ToolDescriptor is one callable capability exposed by a live MCP service
type ToolDescriptor struct {
	Name                string          `json:"name" dynamodbav:"Name"`
	Description         string          `json:"description" dynamodbav:"Description"`
	OriginalDescription string          `json:"originalDescription" dynamodbav:"OriginalDescription"`
	Price               float64         `json:"price" dynamodbav:"Price"`
	InputSchema         json.RawMessage `json:"inputSchema,omitempty" dynamodbav:"InputSchema,omitempty"`
}

// DiscoveryStatus reports whether a discovery attempt reached the service
type DiscoveryStatus string

const (
	DiscoveryOnline  DiscoveryStatus = "online"
	DiscoveryOffline DiscoveryStatus = "offline"
)

// DiscoveryResult is the outcome of listing the tools of one MCP service
type DiscoveryResult struct {
	URL           string            `json:"url"`
	Tools         []ToolDescriptor  `json:"tools"`
	ToolCount     int               `json:"toolCount"`
	Description   string            `json:"description,omitempty"`
	AdvertisedEnv map[string]string `json:"environmentVariables,omitempty"`
	Status        DiscoveryStatus   `json:"status"`
	Error         string            `json:"error,omitempty"`
	LastChecked   time.Time         `json:"lastChecked"`
}

// Online reports whether the service answered the discovery session
func (r *DiscoveryResult) Online() bool {
	return r != nil && r.Status == DiscoveryOnline
}
