package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/imyashkale/mcpdeploy/internal/logger"
	"github.com/imyashkale/mcpdeploy/internal/models"
	"github.com/imyashkale/mcpdeploy/internal/repository"
	"github.com/imyashkale/mcpdeploy/internal/x402"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, repo *repository.MemoryServiceRepository, rec *models.ServiceRecord) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), rec))
}

// renderScript serves deployment statuses from a fixed sequence and the
// service URL once the deployment is live
type renderScript struct {
	mu       sync.Mutex
	statuses []string
	url      string
}

func (s *renderScript) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/services/srv-a/deploys/dep-a", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status := s.statuses[0]
		if len(s.statuses) > 1 {
			s.statuses = s.statuses[1:]
		}
		s.mu.Unlock()
		_, _ = w.Write([]byte(`{"id":"dep-a","status":"` + status + `"}`))
	})
	mux.HandleFunc("/services/srv-a", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"srv-a","serviceDetails":{"url":"` + s.url + `"}}`))
	})
	return mux
}

func TestReconcilePendingToLiveWithDiscovery(t *testing.T) {
	ctx := context.Background()
	mcpSrv, _ := newMCPTestServer(t, "", testTool{name: "ping", description: "Ping (COST: $0.01)"})

	script := &renderScript{statuses: []string{"build_in_progress", "live"}, url: mcpSrv.URL}
	renderSrv := httptest.NewServer(script.handler())
	defer renderSrv.Close()

	repo := repository.NewMemoryServiceRepository()
	seed(t, repo, pendingRecord("a"))

	reconciler := NewReconciler(
		repo,
		NewRenderClient(renderSrv.URL, "key", "owner", 5*time.Second),
		NewDiscoveryService(x402.ReadOnlyCredentials(""), 5*time.Second, 0),
		5*time.Second,
		nil,
	)

	rec, err := repo.Get(ctx, "a")
	require.NoError(t, err)

	first, err := reconciler.ReconcileOnce(ctx, rec)
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Equal(t, models.StatusPending, first.PreviousStatus)
	assert.Equal(t, models.StatusBuildInProgress, first.Record.Status)
	assert.Empty(t, first.Record.URL)
	assert.Empty(t, first.Record.Tools)

	second, err := reconciler.ReconcileOnce(ctx, first.Record)
	require.NoError(t, err)
	assert.True(t, second.Changed)
	assert.Equal(t, models.StatusBuildInProgress, second.PreviousStatus)

	stored, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusLive, stored.Status)
	assert.Equal(t, mcpSrv.URL, stored.URL)
	require.Len(t, stored.Tools, 1)
	assert.Equal(t, "ping", stored.Tools[0].Name)
	assert.Equal(t, "Ping", stored.Tools[0].Description)
	assert.InDelta(t, 0.01, stored.Tools[0].Price, 1e-9)
	assert.NotNil(t, stored.LastDiscoveredAt)

	// once live, the record is never polled again
	third, err := reconciler.ReconcileOnce(ctx, stored)
	require.NoError(t, err)
	assert.False(t, third.Changed)
}

func TestReconcileTerminalRecordsAreNotPolled(t *testing.T) {
	for _, status := range models.TerminalStatuses() {
		t.Run(string(status), func(t *testing.T) {
			provider := &fakeProvider{statuses: []string{"build_in_progress"}}
			repo := repository.NewMemoryServiceRepository()
			rec := pendingRecord("a")
			rec.Status = status
			seed(t, repo, rec)

			res, err := NewReconciler(repo, provider, nil, time.Second, nil).ReconcileOnce(context.Background(), rec)
			require.NoError(t, err)

			assert.False(t, res.Changed)
			assert.Equal(t, status, res.Record.Status)
			assert.Zero(t, provider.Calls())
		})
	}
}

func TestReconcileUnchangedStatusDoesNotWrite(t *testing.T) {
	provider := &fakeProvider{statuses: []string{"pending"}}
	repo := repository.NewMemoryServiceRepository()
	rec := pendingRecord("a")
	seed(t, repo, rec)

	res, err := NewReconciler(repo, provider, nil, time.Second, nil).ReconcileOnce(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	stored, err := repo.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, rec.UpdatedAt, stored.UpdatedAt)
}

func TestReconcileProviderFailureLeavesRecordUntouched(t *testing.T) {
	provider := &fakeProvider{err: &APIError{StatusCode: http.StatusBadGateway, Message: "upstream"}}
	repo := repository.NewMemoryServiceRepository()
	rec := pendingRecord("a")
	seed(t, repo, rec)

	_, err := NewReconciler(repo, provider, nil, time.Second, nil).ReconcileOnce(context.Background(), rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPollFailed)

	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))

	stored, _ := repo.Get(context.Background(), "a")
	assert.Equal(t, models.StatusPending, stored.Status)
}

func TestReconcileMissingCredentialIsNotAPollFailure(t *testing.T) {
	provider := &fakeProvider{err: ErrMissingCredential}
	repo := repository.NewMemoryServiceRepository()
	rec := pendingRecord("a")
	seed(t, repo, rec)

	_, err := NewReconciler(repo, provider, nil, time.Second, nil).ReconcileOnce(context.Background(), rec)
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.NotErrorIs(t, err, ErrPollFailed)
}

func TestReconcileUnknownStatusIsAPollFailure(t *testing.T) {
	provider := &fakeProvider{statuses: []string{"exploded"}}
	repo := repository.NewMemoryServiceRepository()
	rec := pendingRecord("a")
	seed(t, repo, rec)

	_, err := NewReconciler(repo, provider, nil, time.Second, nil).ReconcileOnce(context.Background(), rec)
	assert.ErrorIs(t, err, ErrPollFailed)
}

func TestReconcileIncompleteRecord(t *testing.T) {
	provider := &fakeProvider{statuses: []string{"live"}}
	rec := pendingRecord("a")
	rec.DeployId = ""

	_, err := NewReconciler(repository.NewMemoryServiceRepository(), provider, nil, time.Second, nil).
		ReconcileOnce(context.Background(), rec)
	assert.ErrorIs(t, err, ErrIncompleteRecord)
	assert.Zero(t, provider.Calls())
}

func TestReconcileLiveWithoutURLIsRetried(t *testing.T) {
	provider := &fakeProvider{statuses: []string{"live"}}
	repo := repository.NewMemoryServiceRepository()
	rec := pendingRecord("a")
	seed(t, repo, rec)

	_, err := NewReconciler(repo, provider, nil, time.Second, nil).ReconcileOnce(context.Background(), rec)
	assert.ErrorIs(t, err, ErrMissingURL)
	assert.ErrorIs(t, err, ErrPollFailed)

	stored, _ := repo.Get(context.Background(), "a")
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Empty(t, stored.URL)
}

func TestReconcileLiveWithOfflineDiscoveryStillPersists(t *testing.T) {
	provider := &fakeProvider{statuses: []string{"live"}, url: "https://a.onrender.com"}
	discovery := &fakeDiscoverer{result: offlineResult()}
	repo := repository.NewMemoryServiceRepository()
	rec := pendingRecord("a")
	seed(t, repo, rec)

	res, err := NewReconciler(repo, provider, discovery, time.Second, nil).ReconcileOnce(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, res.Changed)

	stored, _ := repo.Get(context.Background(), "a")
	assert.Equal(t, models.StatusLive, stored.Status)
	assert.Equal(t, "https://a.onrender.com", stored.URL)
	assert.Empty(t, stored.Tools)
	assert.Nil(t, stored.LastDiscoveredAt)
	assert.Equal(t, []string{"https://a.onrender.com"}, discovery.urls)
}

func TestReconcilePrefersRecordURL(t *testing.T) {
	provider := &fakeProvider{statuses: []string{"live"}, url: "https://provider.example"}
	discovery := &fakeDiscoverer{result: onlineResult(models.ToolDescriptor{Name: "ping"})}
	repo := repository.NewMemoryServiceRepository()
	rec := pendingRecord("a")
	rec.URL = "https://custom.example"
	seed(t, repo, rec)

	res, err := NewReconciler(repo, provider, discovery, time.Second, nil).ReconcileOnce(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "https://custom.example", res.Record.URL)
	assert.Equal(t, "test service", res.Record.Description)
	assert.Len(t, res.Record.Tools, 1)
}

func TestReconcileLosesRaceToTerminalWriter(t *testing.T) {
	provider := &fakeProvider{statuses: []string{"build_failed"}}
	repo := repository.NewMemoryServiceRepository()

	stored := pendingRecord("a")
	stored.Status = models.StatusLive
	stored.URL = "https://a.onrender.com"
	seed(t, repo, stored)

	// the caller still holds the pre-live snapshot
	stale := pendingRecord("a")

	res, err := NewReconciler(repo, provider, nil, time.Second, nil).ReconcileOnce(context.Background(), stale)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, models.StatusLive, res.Record.Status)

	fresh, _ := repo.Get(context.Background(), "a")
	assert.Equal(t, models.StatusLive, fresh.Status)
}

func TestRefreshTools(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryServiceRepository()

	live := pendingRecord("live")
	live.Status = models.StatusLive
	live.URL = "https://live.example"
	live.Tools = []models.ToolDescriptor{{Name: "old"}}
	seed(t, repo, live)
	seed(t, repo, pendingRecord("pending"))

	discovery := &fakeDiscoverer{result: onlineResult(models.ToolDescriptor{Name: "new", Price: 2})}
	reconciler := NewReconciler(repo, &fakeProvider{}, discovery, time.Second, nil)

	updated, err := reconciler.RefreshTools(ctx, "live")
	require.NoError(t, err)
	require.Len(t, updated.Tools, 1)
	assert.Equal(t, "new", updated.Tools[0].Name)
	assert.Equal(t, models.StatusLive, updated.Status)

	_, err = reconciler.RefreshTools(ctx, "pending")
	assert.ErrorIs(t, err, ErrNotLive)

	_, err = reconciler.RefreshTools(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	discovery.result = offlineResult()
	_, err = reconciler.RefreshTools(ctx, "live")
	assert.ErrorIs(t, err, ErrDiscoveryFailed)

	kept, _ := repo.Get(ctx, "live")
	assert.Equal(t, "new", kept.Tools[0].Name)
}

func TestReconcileLogsTransitionForRecord(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithOutput("INFO", &buf)
	t.Cleanup(func() { logger.InitWithOutput("INFO", io.Discard) })

	provider := &fakeProvider{statuses: []string{"build_in_progress"}}
	repo := repository.NewMemoryServiceRepository()
	rec := pendingRecord("a")
	seed(t, repo, rec)

	_, err := NewReconciler(repo, provider, nil, time.Second, nil).ReconcileOnce(context.Background(), rec)
	require.NoError(t, err)

	var entry map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var e map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &e))
		if e["message"] == "Deployment status changed" {
			entry = e
		}
	}
	require.NotNil(t, entry)
	assert.Equal(t, "a", entry["record_id"])
	assert.Equal(t, "build_in_progress", entry["status"])
	assert.Equal(t, "pending", entry["old_status"])
}
