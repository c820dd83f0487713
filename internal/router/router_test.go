package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/mcpdeploy/internal/handlers"
	"github.com/imyashkale/mcpdeploy/internal/metrics"
	"github.com/imyashkale/mcpdeploy/internal/repository"
	"github.com/imyashkale/mcpdeploy/internal/services"
	"github.com/imyashkale/mcpdeploy/internal/x402"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T, secret string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ObservePoll(metrics.PollChanged)

	repo := repository.NewMemoryServiceRepository()
	provider := services.NewRenderClient("http://127.0.0.1:1", "", "", 0)
	discovery := services.NewDiscoveryService(x402.ReadOnlyCredentials(""), 0, 0)
	reconciler := services.NewReconciler(repo, provider, discovery, 0, m)

	return Setup(Handlers{
		Health:      handlers.NewHealthHandler(nil),
		Services:    handlers.NewServiceHandler(repo, services.NewProvisioningService(repo, provider, nil), reconciler, nil),
		Deployments: handlers.NewDeploymentHandler(provider),
		Tools:       handlers.NewToolsHandler(discovery),
	}, secret, reg)
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthIsPublic(t *testing.T) {
	w := get(newRouter(t, "secret"), "/api/v1/health")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRequiresTokenWhenSecretSet(t *testing.T) {
	w := get(newRouter(t, "secret"), "/api/v1/services")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListingWithoutSecret(t *testing.T) {
	w := get(newRouter(t, ""), "/api/v1/services")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"mcps":[],"total":0}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	w := get(newRouter(t, "secret"), "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mcpdeploy_")
}
