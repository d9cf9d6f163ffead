package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/circuitbreaker"
	"github.com/estio/agentcore/internal/classifier"
	"github.com/estio/agentcore/internal/compaction"
	cfg "github.com/estio/agentcore/internal/config"
	"github.com/estio/agentcore/internal/db"
	"github.com/estio/agentcore/internal/embeddings"
	"github.com/estio/agentcore/internal/events"
	"github.com/estio/agentcore/internal/health"
	"github.com/estio/agentcore/internal/httpapi"
	"github.com/estio/agentcore/internal/llm"
	"github.com/estio/agentcore/internal/memory"
	_ "github.com/estio/agentcore/internal/metrics" // Import for side effects
	"github.com/estio/agentcore/internal/orchestrator"
	"github.com/estio/agentcore/internal/policy"
	"github.com/estio/agentcore/internal/predictor"
	"github.com/estio/agentcore/internal/pricing"
	"github.com/estio/agentcore/internal/ratecontrol"
	"github.com/estio/agentcore/internal/reflexion"
	"github.com/estio/agentcore/internal/sandbox"
	"github.com/estio/agentcore/internal/schedules"
	"github.com/estio/agentcore/internal/search"
	"github.com/estio/agentcore/internal/sentiment"
	"github.com/estio/agentcore/internal/skills"
	"github.com/estio/agentcore/internal/tools"
	"github.com/estio/agentcore/internal/tools/crm"
	"github.com/estio/agentcore/internal/tracing"
	"github.com/estio/agentcore/internal/vectordb"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config, err := cfg.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := cfg.NewLogger(config.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// ------------------------------------------------------------------
	// Admin HTTP server comes up first so health checks answer while the rest of
	// the pipeline is still starting.
	// ------------------------------------------------------------------
	hm := health.NewManager(config.Admin.HealthInterval, logger)
	adminMux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(adminMux)
	_ = hm.RegisterChecker(health.NewBreakerHealthChecker(circuitbreaker.DefaultRegistry.Snapshot))
	adminServer := &http.Server{
		Addr:         ":" + strconv.Itoa(config.Admin.Port),
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: config.Admin.RequestTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Admin HTTP server listening", zap.Int("port", config.Admin.Port))
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()

	shutdownTracing, err := tracing.Initialize(tracing.Config{
		Enabled:      config.Tracing.Enabled,
		ServiceName:  config.Tracing.ServiceName,
		OTLPEndpoint: config.Tracing.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	}

	// Database
	dbClient, err := db.Open(ctx, db.Config{
		Driver:          config.Database.Driver,
		DSN:             config.Database.DSN,
		MaxOpenConns:    config.Database.MaxOpenConns,
		MaxIdleConns:    config.Database.MaxIdleConns,
		ConnMaxLifetime: config.Database.ConnMaxLifetime,
		WriteQueueSize:  config.Database.WriteQueueSize,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database client", zap.Error(err))
	}
	defer dbClient.Close()
	if err := dbClient.Migrate(ctx, config.Embeddings.Dimensions); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	_ = hm.RegisterChecker(health.NewDatabaseHealthChecker(dbClient.Wrapper()))

	// Redis: v9 backs the sync queue, limiter and compaction cache; the
	// embedding cache sits behind the v8 breaker wrapper.
	rdb := redis.NewClient(&redis.Options{Addr: config.Redis.Addr, Password: config.Redis.Password, DB: config.Redis.DB})
	defer rdb.Close()
	cacheRedis := redisv8.NewClient(&redisv8.Options{Addr: config.Redis.Addr, Password: config.Redis.Password, DB: config.Redis.DB})
	defer cacheRedis.Close()
	_ = hm.RegisterChecker(health.NewRedisHealthChecker(rdb, config.Predictor.Limiter == "redis"))

	// Side files
	if config.Pricing.OverridePath != "" {
		if err := pricing.SetOverridePath(config.Pricing.OverridePath); err != nil {
			logger.Warn("Pricing override not loaded", zap.String("path", config.Pricing.OverridePath), zap.Error(err))
		}
	}
	limits, err := ratecontrol.Load(config.RateLimits.Path, logger)
	if err != nil {
		logger.Fatal("Failed to load rate limits", zap.Error(err))
	}

	// Models
	router := llm.NewRouter(config.LLM)
	client := llm.NewOpenAIClient(config.LLM, logger, llm.WithPacer(ratecontrol.NewPacer(limits)))

	embedder, err := embeddings.NewFromConfig(ctx, config.Embeddings, cacheRedis, logger)
	if err != nil {
		logger.Fatal("Failed to initialize embeddings", zap.Error(err))
	}
	if config.Embeddings.Provider == "http" && config.Embeddings.BaseURL != "" {
		_ = hm.RegisterChecker(health.NewServiceHealthChecker("embeddings", config.Embeddings.BaseURL+"/health", false))
	}

	// Memory and search
	var repo memory.Repository
	switch config.Memory.Backend {
	case "qdrant":
		qc := vectordb.New(vectordb.Config{
			URL:         config.Qdrant.URL,
			Timeout:     config.Qdrant.Timeout,
			ExpectedDim: config.Embeddings.Dimensions,
			Distance:    "Cosine",
		}, logger)
		qr := memory.NewQdrantRepository(qc, config.Qdrant.Collection)
		if err := qr.Init(ctx, config.Embeddings.Dimensions); err != nil {
			logger.Warn("Qdrant collection not ready", zap.Error(err))
		}
		if err := qc.ValidateDimensions(ctx, qr.Collection()); err != nil {
			logger.Fatal("Qdrant collection does not match the embedding model", zap.Error(err))
		}
		_ = hm.RegisterChecker(health.NewServiceHealthChecker("qdrant", config.Qdrant.URL+"/healthz", false))
		repo = qr
	case "memory":
		repo = memory.NewMemoryRepository()
	default:
		repo = memory.NewPostgresRepository(dbClient)
	}
	insights := memory.NewStore(repo, embedder, logger)
	hybrid := search.NewHybrid(search.NewSQLRepository(dbClient), embedder, logger)

	// Sync queue
	queue := events.NewQueue(rdb, config.Events, logger)

	// Tools and skills
	registry := tools.NewRegistry()
	if err := crm.Register(registry, crm.Deps{
		Search: hybrid,
		Memory: insights,
		Queue:  queue,
		Logger: logger,
	}); err != nil {
		logger.Fatal("Failed to register tools", zap.Error(err))
	}
	registry.Freeze()
	index, err := tools.BuildIndex(ctx, registry, embedder, logger)
	if err != nil {
		logger.Warn("Tool search index unavailable", zap.Error(err))
	}
	catalog := skills.NewCatalog(skills.ResolveRoots(config.Skills.Root), logger)
	dispatcher, err := tools.NewDispatcher(registry, catalog.MetaFuncs(index), logger)
	if err != nil {
		logger.Fatal("Failed to build tool dispatcher", zap.Error(err))
	}
	executor := skills.NewExecutor(client, router, dispatcher, logger,
		skills.WithSandbox(sandbox.NewExecutor(sandbox.Options{Timeout: config.Sandbox.Timeout}, logger)),
	)

	// Guardrails
	engine := policy.NewEngine(policy.FromConfig(config.Environment, config.Policy), logger)

	// Pipeline
	traceStore := db.NewTraceStore(dbClient)
	orch := orchestrator.New(orchestrator.Deps{
		Classifier: classifier.New(client, router, logger),
		Sentiment:  sentiment.New(client, router, logger),
		Memory:     insights,
		Skills:     catalog,
		Executor:   executor,
		Policy:     engine,
		Critic:     reflexion.New(client, router, logger),
	}, tracing.NewRecorder(traceStore, logger), logger)

	// Predictor on the event bus
	bus := events.NewBus(0, logger)
	limiter, err := predictor.NewLimiter(config.Predictor.Limiter, rdb, dbClient, logger)
	if err != nil {
		logger.Fatal("Failed to create draft limiter", zap.Error(err))
	}
	pred := predictor.New(predictor.Deps{
		Pipeline:  orch,
		Limiter:   limiter,
		History:   dbClient,
		Compactor: compaction.New(dbClient, client, router, rdb, config.Compaction, logger),
		Drafts:    dbClient,
	}, config.Predictor, logger)
	pred.Register(bus)

	// Schedules
	followUps := schedules.NewStore(dbClient, logger)
	scheduler := schedules.NewManager(bus, schedules.Config{MinIntervalMins: config.Schedules.MinIntervalMins}, logger)
	if err := scheduler.FromConfig(config.Schedules, followUps); err != nil {
		logger.Fatal("Failed to register schedules", zap.Error(err))
	}
	scheduler.Start()

	go func() {
		if err := queue.Run(ctx, syncHandler(followUps, logger)); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Sync queue stopped", zap.Error(err))
		}
	}()

	// Hot reload of side files
	watchers := startWatchers(ctx, config, engine, limits, logger)

	// Admin API
	httpapi.NewIngestHandler(bus, logger).RegisterRoutes(adminMux)
	httpapi.NewAgentHandler(orch, traceStore, dbClient, config.Admin.RequestTimeout, logger).RegisterRoutes(adminMux)
	hm.Start(ctx)

	// Prometheus metrics endpoint
	var metricsServer *http.Server
	if config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: ":" + strconv.Itoa(config.Metrics.Port), Handler: mux}
		go func() {
			logger.Info("Metrics server listening", zap.Int("port", config.Metrics.Port))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	logger.Info("Agent core started",
		zap.String("environment", config.Environment),
		zap.String("policy_mode", string(engine.Mode())),
		zap.String("limiter", config.Predictor.Limiter),
	)

	<-ctx.Done()
	logger.Info("Shutting down agent core")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	scheduler.Stop(shutdownCtx)
	hm.Stop()
	for _, w := range watchers {
		_ = w.Stop()
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Admin HTTP server shutdown failed", zap.Error(err))
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if err := dbClient.Flush(shutdownCtx); err != nil {
		logger.Warn("Pending trace writes dropped", zap.Error(err))
	}
	if shutdownTracing != nil {
		_ = shutdownTracing(shutdownCtx)
	}
}

// syncHandler consumes sync tasks. Follow-ups are stored for the scheduler;
// tasks for external systems are acknowledged and logged for the CRM worker.
func syncHandler(store *schedules.Store, logger *zap.Logger) events.TaskHandler {
	return func(ctx context.Context, t events.Task) error {
		if t.Type == events.TaskCreateFollowUp {
			return store.HandleTask(ctx, t)
		}
		logger.Info("Sync task forwarded",
			zap.String("task_id", t.ID),
			zap.String("type", t.Type),
			zap.String("key", t.Key),
		)
		return nil
	}
}

func startWatchers(ctx context.Context, config *cfg.Config, engine *policy.Engine, limits *ratecontrol.Limits, logger *zap.Logger) []*cfg.Watcher {
	if !config.Watch.Enabled {
		return nil
	}
	var watchers []*cfg.Watcher
	start := func(dir string, register func(w *cfg.Watcher) error) {
		if dir == "" {
			return
		}
		if _, err := os.Stat(dir); err != nil {
			logger.Debug("Watch directory missing", zap.String("dir", dir))
			return
		}
		w, err := cfg.NewWatcher(dir, logger)
		if err != nil {
			logger.Warn("Watcher init failed", zap.String("dir", dir), zap.Error(err))
			return
		}
		if err := register(w); err != nil {
			logger.Warn("Watcher registration failed", zap.String("dir", dir), zap.Error(err))
			return
		}
		if err := w.Start(ctx); err != nil {
			logger.Warn("Watcher start failed", zap.String("dir", dir), zap.Error(err))
			return
		}
		watchers = append(watchers, w)
	}

	start(config.Policy.OverlayDir, func(w *cfg.Watcher) error {
		return w.On("*.rego", engine.ReloadHandler())
	})
	start(config.Watch.Dir, func(w *cfg.Watcher) error {
		if p := config.Pricing.OverridePath; p != "" {
			if err := w.On(filepath.Base(p), func(cfg.ChangeEvent) error { return pricing.Reload() }); err != nil {
				return err
			}
		}
		if p := config.RateLimits.Path; p != "" {
			if err := w.On(filepath.Base(p), func(cfg.ChangeEvent) error { return limits.Reload() }); err != nil {
				return err
			}
		}
		return nil
	})
	return watchers
}
