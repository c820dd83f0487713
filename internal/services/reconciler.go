package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imyashkale/mcpdeploy/internal/logger"
	"github.com/imyashkale/mcpdeploy/internal/metrics"
	"github.com/imyashkale/mcpdeploy/internal/models"
	"github.com/imyashkale/mcpdeploy/internal/repository"
)

var (
	// ErrNotLive is returned when tools are refreshed for a service that is not live
	ErrNotLive = errors.New("service is not live")
	// ErrDiscoveryFailed is returned when a tool refresh could not reach the service
	ErrDiscoveryFailed = errors.New("tool discovery failed")
)

// ReconcileResult describes the outcome of one reconciliation
type ReconcileResult struct {
	Changed        bool
	Record         *models.ServiceRecord
	PreviousStatus models.DeploymentStatus
}

// RecordReconciler brings one record in line with the provider
type RecordReconciler interface {
	ReconcileOnce(ctx context.Context, record *models.ServiceRecord) (*ReconcileResult, error)
}

// Reconciler syncs stored deployment status with the provider and runs tool
// discovery when a deployment goes live
type Reconciler struct {
	repo            repository.ServiceRepository
	provider        Provisioner
	discovery       Discoverer
	providerTimeout time.Duration
	metrics         *metrics.Metrics
	now             func() time.Time
}

// NewReconciler creates a reconciler. providerTimeout bounds each provider call.
func NewReconciler(
	repo repository.ServiceRepository,
	provider Provisioner,
	discovery Discoverer,
	providerTimeout time.Duration,
	m *metrics.Metrics,
) *Reconciler {
	if providerTimeout <= 0 {
		providerTimeout = 8 * time.Second
	}
	return &Reconciler{
		repo:            repo,
		provider:        provider,
		discovery:       discovery,
		providerTimeout: providerTimeout,
		metrics:         m,
		now:             time.Now,
	}
}

// ReconcileOnce fetches the provider status of record and persists it when it
// differs. Terminal records are returned unchanged without contacting the
// provider. On failure the stored record is left untouched.
func (r *Reconciler) ReconcileOnce(ctx context.Context, record *models.ServiceRecord) (*ReconcileResult, error) {
	result := &ReconcileResult{Record: record, PreviousStatus: record.Status}

	if record.Status.IsTerminal() {
		r.metrics.ObservePoll(metrics.PollSkipped)
		return result, nil
	}
	if record.ServiceId == "" || record.DeployId == "" {
		r.metrics.ObservePoll(metrics.PollFailed)
		return nil, fmt.Errorf("%w: %s", ErrIncompleteRecord, record.Id)
	}

	info, err := r.fetchDeployment(ctx, record)
	if err != nil {
		if errors.Is(err, ErrMissingCredential) {
			return nil, err
		}
		r.metrics.ObservePoll(metrics.PollFailed)
		return nil, fmt.Errorf("%w: %w", ErrPollFailed, err)
	}

	status, ok := models.ParseDeploymentStatus(info.Status)
	if !ok {
		r.metrics.ObservePoll(metrics.PollFailed)
		return nil, fmt.Errorf("%w: unknown deployment status %q", ErrPollFailed, info.Status)
	}

	if status == record.Status {
		r.metrics.ObservePoll(metrics.PollUnchanged)
		return result, nil
	}

	patch := &models.ServicePatch{Status: &status}
	if status.IsLive() {
		url := firstNonEmpty(record.URL, info.URL)
		if url == "" {
			r.metrics.ObservePoll(metrics.PollFailed)
			return nil, fmt.Errorf("%w: %w", ErrPollFailed, ErrMissingURL)
		}
		patch.URL = &url
		r.attachDiscovery(ctx, url, patch)
	}

	updated, err := r.repo.Update(ctx, record.Id, patch)
	if err != nil {
		if errors.Is(err, repository.ErrTerminalState) {
			// another writer finished the record first; its status stands
			fresh, getErr := r.repo.Get(ctx, record.Id)
			if getErr != nil {
				return nil, fmt.Errorf("failed to reload service record: %w", getErr)
			}
			r.metrics.ObservePoll(metrics.PollUnchanged)
			result.Record = fresh
			return result, nil
		}
		r.metrics.ObservePoll(metrics.PollFailed)
		return nil, fmt.Errorf("failed to persist deployment status: %w", err)
	}

	r.metrics.ObservePoll(metrics.PollChanged)
	r.metrics.ObserveTransition(string(status))

	logger.ForRecord(record.Id, string(status)).WithFields(map[string]interface{}{
		"service_id": record.ServiceId,
		"old_status": record.Status,
		"url":        updated.URL,
		"tool_count": len(updated.Tools),
	}).Info("Deployment status changed")

	result.Changed = true
	result.Record = updated
	return result, nil
}

func (r *Reconciler) fetchDeployment(ctx context.Context, record *models.ServiceRecord) (*DeploymentInfo, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.providerTimeout)
	defer cancel()

	return r.provider.GetDeployment(callCtx, record.ServiceId, record.DeployId)
}

// attachDiscovery adds the discovered tools to patch. An unreachable service
// leaves patch untouched so the status transition is still persisted.
func (r *Reconciler) attachDiscovery(ctx context.Context, url string, patch *models.ServicePatch) bool {
	if r.discovery == nil {
		return false
	}

	res := r.discovery.Discover(ctx, url)
	r.metrics.ObserveDiscovery(string(res.Status))
	if !res.Online() {
		return false
	}

	tools := res.Tools
	description := res.Description
	discoveredAt := res.LastChecked
	if discoveredAt.IsZero() {
		discoveredAt = r.now()
	}

	patch.Tools = &tools
	patch.Description = &description
	patch.AdvertisedEnv = res.AdvertisedEnv
	patch.LastDiscoveredAt = &discoveredAt
	return true
}

// RefreshTools re-runs discovery for a live record and replaces its tools
func (r *Reconciler) RefreshTools(ctx context.Context, id string) (*models.ServiceRecord, error) {
	record, err := r.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !record.Status.IsLive() || record.URL == "" {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotLive, id, record.Status)
	}

	patch := &models.ServicePatch{}
	if !r.attachDiscovery(ctx, record.URL, patch) {
		return nil, fmt.Errorf("%w: %s", ErrDiscoveryFailed, record.URL)
	}

	updated, err := r.repo.Update(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to store discovered tools: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"record_id":  id,
		"url":        record.URL,
		"tool_count": len(updated.Tools),
	}).Info("Service tools refreshed")

	return updated, nil
}
