package services

import (
	"context"
	"testing"
	"time"

	"github.com/imyashkale/mcpdeploy/internal/models"
	"github.com/imyashkale/mcpdeploy/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify() { c.n++ }

func TestCreateServiceAppliesDefaults(t *testing.T) {
	repo := repository.NewMemoryServiceRepository()
	provider := &fakeProvider{created: &CreatedService{ServiceId: "srv-1", DeployId: "dep-1", Status: models.StatusPending, URL: "https://x.onrender.com"}}
	notifier := &countingNotifier{}

	record, err := NewProvisioningService(repo, provider, notifier).CreateService(context.Background(), "user-1", &models.CreateServiceRequest{
		Name:       "weather",
		Repository: "https://github.com/acme/weather",
		EnvVars:    []models.EnvironmentVariable{{Key: "API_KEY", Value: "v"}, {Key: " ", Value: "dropped"}},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, record.Id)
	assert.Equal(t, "user-1", record.UserId)
	assert.Equal(t, "srv-1", record.ServiceId)
	assert.Equal(t, "dep-1", record.DeployId)
	assert.Equal(t, models.StatusPending, record.Status)
	assert.Empty(t, record.URL)
	assert.Equal(t, 1, notifier.n)

	require.Len(t, provider.specs, 1)
	spec := provider.specs[0]
	assert.Equal(t, DefaultBranch, spec.Branch)
	assert.Equal(t, DefaultRuntime, spec.Runtime)
	assert.Equal(t, DefaultPlan, spec.Plan)
	assert.Equal(t, DefaultBuildCommand, spec.BuildCommand)
	assert.Equal(t, DefaultStartCommand, spec.StartCommand)
	assert.Len(t, spec.EnvVars, 1)

	stored, err := repo.Get(context.Background(), record.Id)
	require.NoError(t, err)
	assert.Equal(t, "weather", stored.Name)
}

func TestCreateServiceRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  models.CreateServiceRequest
	}{
		{name: "missing name", req: models.CreateServiceRequest{Repository: "https://github.com/a/b"}},
		{name: "missing repository", req: models.CreateServiceRequest{Name: "x"}},
		{name: "not github", req: models.CreateServiceRequest{Name: "x", Repository: "https://gitlab.com/a/b"}},
		{name: "extra path", req: models.CreateServiceRequest{Name: "x", Repository: "https://github.com/a/b/tree/main"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{}
			_, err := NewProvisioningService(repository.NewMemoryServiceRepository(), provider, nil).
				CreateService(context.Background(), "user-1", &tt.req)

			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Empty(t, provider.specs)
		})
	}
}

func TestCreateServiceProviderFailure(t *testing.T) {
	repo := repository.NewMemoryServiceRepository()
	provider := &fakeProvider{err: ErrMissingCredential}

	_, err := NewProvisioningService(repo, provider, nil).CreateService(context.Background(), "user-1", &models.CreateServiceRequest{
		Name:       "weather",
		Repository: "https://github.com/acme/weather",
	})
	assert.ErrorIs(t, err, ErrMissingCredential)

	all, _ := repo.List(context.Background())
	assert.Empty(t, all)
}

func TestCreateServiceRejectsMissingProviderIdentifiers(t *testing.T) {
	tests := []struct {
		name    string
		created CreatedService
	}{
		{name: "no service id", created: CreatedService{DeployId: "dep-1", Status: models.StatusPending}},
		{name: "no deploy id", created: CreatedService{ServiceId: "srv-1", Status: models.StatusPending}},
		{name: "neither", created: CreatedService{Status: models.StatusPending}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := repository.NewMemoryServiceRepository()
			notifier := &countingNotifier{}
			created := tt.created

			_, err := NewProvisioningService(repo, &fakeProvider{created: &created}, notifier).CreateService(context.Background(), "user-1", &models.CreateServiceRequest{
				Name:       "weather",
				Repository: "https://github.com/acme/weather",
			})
			assert.ErrorIs(t, err, ErrIncompleteProviderResponse)
			assert.Zero(t, notifier.n)

			all, _ := repo.List(context.Background())
			assert.Empty(t, all)
		})
	}
}

func TestCreateServiceDefersInitialLiveStatus(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryServiceRepository()
	provider := &fakeProvider{
		created:  &CreatedService{ServiceId: "srv-1", DeployId: "dep-1", Status: models.StatusLive},
		statuses: []string{"live"},
		url:      "https://weather.onrender.com",
	}
	notifier := &countingNotifier{}

	record, err := NewProvisioningService(repo, provider, notifier).CreateService(ctx, "user-1", &models.CreateServiceRequest{
		Name:       "weather",
		Repository: "https://github.com/acme/weather",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, record.Status)
	assert.Empty(t, record.URL)
	assert.Equal(t, 1, notifier.n)

	discovery := &fakeDiscoverer{result: onlineResult(models.ToolDescriptor{Name: "forecast"})}
	res, err := NewReconciler(repo, provider, discovery, time.Second, nil).ReconcileOnce(ctx, record)
	require.NoError(t, err)
	assert.True(t, res.Changed)

	stored, err := repo.Get(ctx, record.Id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLive, stored.Status)
	assert.Equal(t, "https://weather.onrender.com", stored.URL)
	assert.Len(t, stored.Tools, 1)
}
