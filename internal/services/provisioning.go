package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/imyashkale/mcpdeploy/internal/logger"
	"github.com/imyashkale/mcpdeploy/internal/models"
	"github.com/imyashkale/mcpdeploy/internal/repository"
)

// Defaults applied to create requests that leave a field empty
const (
	DefaultBranch       = "main"
	DefaultRuntime      = "node"
	DefaultPlan         = "starter"
	DefaultBuildCommand = "npm run build"
	DefaultStartCommand = "npm start"
)

var (
	// ErrInvalidRequest is returned when a create request fails validation
	ErrInvalidRequest = errors.New("invalid service request")
	// ErrIncompleteProviderResponse is returned when the provider creates a service without returning its identifiers
	ErrIncompleteProviderResponse = errors.New("provider response is missing service identifiers")

	githubRepoPattern = regexp.MustCompile(`^https://github\.com/[^/]+/[^/]+$`)
)

// Notifier is told when a new record needs polling
type Notifier interface {
	Notify()
}

// ProvisioningService creates services on the provider and records them
type ProvisioningService struct {
	repo     repository.ServiceRepository
	provider Provisioner
	notifier Notifier
	now      func() time.Time
}

// NewProvisioningService creates a provisioning service. notifier may be nil.
func NewProvisioningService(repo repository.ServiceRepository, provider Provisioner, notifier Notifier) *ProvisioningService {
	return &ProvisioningService{
		repo:     repo,
		provider: provider,
		notifier: notifier,
		now:      time.Now,
	}
}

// CreateService validates req, creates the service on the provider and stores
// the resulting record in the provider's initial status. An initial live status
// is stored as pending so the live transition goes through the reconciler.
func (p *ProvisioningService) CreateService(ctx context.Context, userId string, req *models.CreateServiceRequest) (*models.ServiceRecord, error) {
	spec, err := buildServiceSpec(req)
	if err != nil {
		return nil, err
	}

	created, err := p.provider.CreateService(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to create service on provider: %w", err)
	}
	if created.ServiceId == "" || created.DeployId == "" {
		return nil, fmt.Errorf("%w: service %q deploy %q", ErrIncompleteProviderResponse, created.ServiceId, created.DeployId)
	}

	now := p.now()
	record := &models.ServiceRecord{
		Id:           uuid.New().String(),
		UserId:       userId,
		ServiceId:    created.ServiceId,
		DeployId:     created.DeployId,
		Name:         spec.Name,
		Repository:   spec.Repository,
		Branch:       spec.Branch,
		BuildCommand: spec.BuildCommand,
		StartCommand: spec.StartCommand,
		RootDir:      spec.RootDir,
		Runtime:      spec.Runtime,
		Plan:         spec.Plan,
		EnvVars:      spec.EnvVars,
		Status:       created.Status,
		Tools:        []models.ToolDescriptor{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if record.Status == "" || record.Status.IsLive() {
		// the reconciler records the url and runs discovery on the live transition
		record.Status = models.StatusPending
	}

	if err := p.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store service record: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"record_id":  record.Id,
		"service_id": record.ServiceId,
		"deploy_id":  record.DeployId,
		"user_id":    userId,
		"status":     record.Status,
	}).Info("Service provisioned")

	if p.notifier != nil && record.Status.IsTransient() {
		p.notifier.Notify()
	}

	return record, nil
}

func buildServiceSpec(req *models.CreateServiceRequest) (ServiceSpec, error) {
	name := strings.TrimSpace(req.Name)
	repo := strings.TrimSpace(req.Repository)

	if name == "" || repo == "" {
		return ServiceSpec{}, fmt.Errorf("%w: name and repository are required", ErrInvalidRequest)
	}
	if !githubRepoPattern.MatchString(repo) {
		return ServiceSpec{}, fmt.Errorf("%w: repository must be a GitHub URL like https://github.com/owner/repo", ErrInvalidRequest)
	}

	envVars := make([]models.EnvironmentVariable, 0, len(req.EnvVars))
	for _, ev := range req.EnvVars {
		if strings.TrimSpace(ev.Key) == "" {
			continue
		}
		envVars = append(envVars, ev)
	}

	return ServiceSpec{
		Name:         name,
		Repository:   repo,
		Branch:       orDefault(req.Branch, DefaultBranch),
		RootDir:      strings.TrimSpace(req.RootDir),
		Runtime:      orDefault(req.Runtime, DefaultRuntime),
		Plan:         orDefault(req.Plan, DefaultPlan),
		BuildCommand: orDefault(req.BuildCommand, DefaultBuildCommand),
		StartCommand: orDefault(req.StartCommand, DefaultStartCommand),
		EnvVars:      envVars,
	}, nil
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
