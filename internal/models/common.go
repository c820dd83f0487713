package models

// EnvironmentVariable is an environment variable declared for a provisioned service
type EnvironmentVariable struct {
	Key   string `json:"key" dynamodbav:"Key" binding:"required"`
	Value string `json:"value" dynamodbav:"Value"`
}
