package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/imyashkale/mcpdeploy/internal/config"
	"github.com/imyashkale/mcpdeploy/internal/database"
	"github.com/imyashkale/mcpdeploy/internal/handlers"
	"github.com/imyashkale/mcpdeploy/internal/lease"
	"github.com/imyashkale/mcpdeploy/internal/logger"
	"github.com/imyashkale/mcpdeploy/internal/metrics"
	"github.com/imyashkale/mcpdeploy/internal/queue"
	"github.com/imyashkale/mcpdeploy/internal/repository"
	"github.com/imyashkale/mcpdeploy/internal/router"
	"github.com/imyashkale/mcpdeploy/internal/services"
	"github.com/imyashkale/mcpdeploy/internal/x402"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load application configuration
	cfg := config.New()
	logger.Init(cfg.LogLevel)
	log.Println("Configuration loaded successfully")

	// Initialize the record store
	repo, closeStore, err := newServiceRepository(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize %s record store: %v", cfg.StoreBackend, err)
	}
	defer closeStore()

	// Metrics registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Optional Redis lease so several replicas never poll the same record at once
	var locker lease.Locker
	if cfg.HasRedis() {
		rdb := lease.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rdb.Close()
		locker = lease.NewRedisLocker(rdb, "mcpdeploy:poll:")
		log.Printf("Redis poll lease enabled at %s", cfg.RedisAddr)
	}

	if cfg.RenderAPIKey == "" {
		logger.Warn("RENDER_API_KEY is not set, provisioning and status polling will fail")
	}

	provider := services.NewRenderClient(cfg.RenderBaseURL, cfg.RenderAPIKey, cfg.RenderOwnerID, cfg.ProviderTimeout)
	discovery := services.NewDiscoveryService(
		x402.ReadOnlyCredentials(cfg.DiscoveryPrivateKey),
		cfg.DiscoveryTimeout,
		cfg.DiscoveryConcurrency,
	)
	reconciler := services.NewReconciler(repo, provider, discovery, cfg.ProviderTimeout, m)

	scheduler := services.NewScheduler(repo, reconciler, locker, services.SchedulerConfig{
		Interval:    cfg.PollInterval,
		MaxBackoff:  cfg.PollMaxBackoff,
		MaxAttempts: cfg.PollMaxAttempts,
		LeaseTTL:    cfg.PollLeaseTTL,
	}, m)

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := scheduler.Run(ctx); err != nil {
			logger.WithError(err).Error("Reconciliation scheduler stopped with error")
		}
	}()
	log.Printf("Reconciliation scheduler started (interval %s)", cfg.PollInterval)

	provisioning := services.NewProvisioningService(repo, provider, scheduler)

	// Background tool refresh
	jobQueue := queue.NewJobQueue(100)
	workerPool := queue.NewWorkerPool(jobQueue, cfg.DiscoveryWorkers)
	workerPool.Start(ctx, func(ctx context.Context, job *queue.DiscoveryJob) error {
		_, err := reconciler.RefreshTools(ctx, job.RecordID)
		return err
	})
	log.Printf("Discovery worker pool started with %d workers", cfg.DiscoveryWorkers)

	r := router.Setup(router.Handlers{
		Health:      handlers.NewHealthHandler(scheduler),
		Services:    handlers.NewServiceHandler(repo, provisioning, reconciler, jobQueue),
		Deployments: handlers.NewDeploymentHandler(provider),
		Tools:       handlers.NewToolsHandler(discovery),
	}, cfg.AuthJWTSecret, registry)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown: %v", err)
	}

	// Stop accepting jobs, then wait for in-flight refreshes
	jobQueue.Close()
	workerPool.Wait()
	log.Println("All workers stopped")

	<-schedulerDone
	log.Println("Scheduler stopped")
}

// newServiceRepository builds the record store selected by STORE_BACKEND
func newServiceRepository(ctx context.Context, cfg *config.Config) (repository.ServiceRepository, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		store, err := database.NewServiceStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		log.Println("Repositories initialized with PostgreSQL backend")
		return repository.NewPostgresServiceRepository(store), store.Close, nil

	case config.BackendMemory:
		log.Println("Repositories initialized with in-memory backend")
		return repository.NewMemoryServiceRepository(), func() {}, nil

	default:
		dbConfig := database.NewConfig(cfg)
		log.Printf("Initializing DynamoDB client for table: %s in region: %s", dbConfig.TableName, dbConfig.Region)

		client, err := database.NewClient(ctx, dbConfig)
		if err != nil {
			return nil, nil, err
		}
		log.Println("Repositories initialized with DynamoDB backend")
		return repository.NewDynamoServiceRepository(database.NewServiceTable(client, client.TableName)), func() {}, nil
	}
}
