package models

// DeploymentStatus is the provider-reported state of a deployment
type DeploymentStatus string

const (
	// Transient states: polling continues
	StatusPending             DeploymentStatus = "pending"
	StatusCreated             DeploymentStatus = "created"
	StatusQueued              DeploymentStatus = "queued"
	StatusBuildInProgress     DeploymentStatus = "build_in_progress"
	StatusUpdateInProgress    DeploymentStatus = "update_in_progress"
	StatusPreDeployInProgress DeploymentStatus = "pre_deploy_in_progress"

	// Terminal success
	StatusLive DeploymentStatus = "live"

	// Terminal failure
	StatusBuildFailed     DeploymentStatus = "build_failed"
	StatusUpdateFailed    DeploymentStatus = "update_failed"
	StatusPreDeployFailed DeploymentStatus = "pre_deploy_failed"
	StatusCanceled        DeploymentStatus = "canceled"
	StatusDeactivated     DeploymentStatus = "deactivated"
)

// StatusClass partitions DeploymentStatus values
type StatusClass int

const (
	ClassUnknown StatusClass = iota
	ClassTransient
	ClassLive
	ClassFailed
)

func (c StatusClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassLive:
		return "live"
	case ClassFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var statusClasses = map[DeploymentStatus]StatusClass{
	StatusPending:             ClassTransient,
	StatusCreated:             ClassTransient,
	StatusQueued:              ClassTransient,
	StatusBuildInProgress:     ClassTransient,
	StatusUpdateInProgress:    ClassTransient,
	StatusPreDeployInProgress: ClassTransient,
	StatusLive:                ClassLive,
	StatusBuildFailed:         ClassFailed,
	StatusUpdateFailed:        ClassFailed,
	StatusPreDeployFailed:     ClassFailed,
	StatusCanceled:            ClassFailed,
	StatusDeactivated:         ClassFailed,
}

// AllDeploymentStatuses returns every known status in declaration order
func AllDeploymentStatuses() []DeploymentStatus {
	return []DeploymentStatus{
		StatusPending, StatusCreated, StatusQueued, StatusBuildInProgress,
		StatusUpdateInProgress, StatusPreDeployInProgress,
		StatusLive,
		StatusBuildFailed, StatusUpdateFailed, StatusPreDeployFailed,
		StatusCanceled, StatusDeactivated,
	}
}

// TerminalStatuses returns the statuses a record never leaves
func TerminalStatuses() []DeploymentStatus {
	var out []DeploymentStatus
	for _, s := range AllDeploymentStatuses() {
		if s.IsTerminal() {
			out = append(out, s)
		}
	}
	return out
}

// ParseDeploymentStatus converts a provider string into a known status
func ParseDeploymentStatus(s string) (DeploymentStatus, bool) {
	status := DeploymentStatus(s)
	_, ok := statusClasses[status]
	return status, ok
}

// Class returns the partition the status belongs to
func (s DeploymentStatus) Class() StatusClass {
	return statusClasses[s]
}

// IsTransient reports whether the deployment is still converging
func (s DeploymentStatus) IsTransient() bool {
	return s.Class() == ClassTransient
}

// IsTerminal reports whether no further transitions are expected
func (s DeploymentStatus) IsTerminal() bool {
	c := s.Class()
	return c == ClassLive || c == ClassFailed
}

// IsLive reports whether the deployment is serving traffic
func (s DeploymentStatus) IsLive() bool {
	return s == StatusLive
}

// IsFailed reports whether the deployment ended in a failure state
func (s DeploymentStatus) IsFailed() bool {
	return s.Class() == ClassFailed
}

func (s DeploymentStatus) String() string {
	return string(s)
}
