package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"foodflow/copilot/internal/chat"
	copilotconfig "foodflow/copilot/internal/config"
	"foodflow/copilot/internal/documents"
	"foodflow/copilot/internal/mcpserver"
	"foodflow/copilot/internal/telemetry"
	"foodflow/copilot/internal/tools"
	"foodflow/copilot/pkg/clients"
	insightsclient "foodflow/copilot/pkg/clients/insights"
	"foodflow/copilot/pkg/config"
	"foodflow/copilot/pkg/database"
	"foodflow/copilot/pkg/llm"
	"foodflow/copilot/pkg/logging"
	"foodflow/copilot/pkg/monitoring"
	"foodflow/copilot/pkg/server"
	"foodflow/copilot/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("copilot")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting FoodFlow Copilot")

	cfg := copilotconfig.LoadConfig()

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = cfg.DatabaseURL
	db := database.MustConnect(dbConfig, logger)
	defer func() { _ = db.Close() }()

	if err := database.EnsureSchema(db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to ensure database schema")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("copilot", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("copilot", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": cfg.DatabaseURL,
	}))

	// LLM provider with retries and a circuit breaker
	baseProvider, err := llm.NewProvider(llm.Config{
		Provider: cfg.LLMProvider,
		Model:    cfg.LLMModel,
		APIKey:   cfg.LLMAPIKey,
		APIURL:   cfg.LLMAPIURL,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize LLM provider")
	}
	llmBreaker := clients.NewCircuitBreaker(clients.CircuitBreakerConfig{
		Name:          "llm-provider",
		Logger:        logger,
		OnStateChange: clients.CircuitBreakerMetricsCallback("llm-provider"),
	})
	provider := llm.NewResilientProvider(baseProvider, llm.ResilientConfig{
		MaxRetries: cfg.LLMRetryMax,
		Breaker:    llmBreaker,
		Logger:     logger,
	})
	healthChecker.AddCheck("llm_breaker", monitoring.CircuitBreakerHealthCheck("llm-provider", provider.BreakerState))

	// Insights service is optional; tools fall back to direct SQL answers
	// for the operations that do not need it.
	var insights *insightsclient.Client
	if cfg.InsightsURL != "" {
		insights = insightsclient.NewClient(cfg.InsightsURL, cfg.InsightsToken)
	} else {
		logger.Warn("INSIGHTS_URL not set - insights-backed tools disabled")
	}

	// Document search is optional; without an embeddings model the
	// search_documents capability reports itself unavailable.
	var searcher *documents.Searcher
	if cfg.EmbeddingsModel != "" {
		embedder, err := llm.NewEmbeddingClient(llm.Config{
			Provider: cfg.LLMProvider,
			Model:    cfg.EmbeddingsModel,
			APIKey:   cfg.EmbeddingsAPIKey,
			APIURL:   cfg.EmbeddingsAPIURL,
		})
		if err != nil {
			logger.WithError(err).Warn("Failed to initialize embedding client - document search disabled")
		} else {
			searcher, err = documents.NewSearcher(documents.NewStore(db), embedder, logger)
			if err != nil {
				logger.WithError(err).Warn("Failed to initialize document searcher - document search disabled")
				searcher = nil
			}
		}
	} else {
		logger.Warn("EMBEDDINGS_MODEL not set - document search disabled")
	}

	usageTracker := telemetry.NewUsageTracker(telemetry.UsageTrackerConfig{
		DB:            db,
		Logger:        logger,
		Model:         cfg.LLMModel,
		FlushInterval: cfg.UsageFlushInterval,
	})
	usageTracker.Start()
	defer usageTracker.Stop()

	catalogs, err := tools.Catalogs(tools.Deps{
		DB:       db,
		Insights: insights,
		Searcher: searcher,
		Usage:    usageTracker,
		Logger:   logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to build workspace catalogs")
	}

	conversationStore := chat.NewConversationStore(db)
	sink := telemetry.NewSink(db, logger)

	orchestrator := chat.NewOrchestrator(chat.OrchestratorConfig{
		Provider:        provider,
		ProviderName:    cfg.LLMProvider,
		Model:           cfg.LLMModel,
		Catalogs:        catalogs,
		Store:           conversationStore,
		Sink:            sink,
		Usage:           usageTracker,
		Logger:          logger,
		MaxIterations:   cfg.LLMMaxIterations,
		RunTimeout:      cfg.LLMRequestTimeout,
		ToolTimeout:     cfg.ToolTimeout,
		ToolParallelism: cfg.ToolParallelism,
		HistoryWindow:   cfg.ConversationWindow,
		LockWait:        cfg.ConversationLockWait,
	})

	// Setup router with unified monitoring (health/metrics only)
	router := server.SetupServiceRouter(logger, "copilot", healthChecker, metricsCollector)
	chat.RegisterRoutes(router, chat.NewHandler(orchestrator, conversationStore, sink, logger))

	// MCP endpoint for agent hosts, on its own listener.
	if cfg.MCPEnabled {
		mcpCfg := mcpserver.Config{
			Orchestrator: orchestrator,
			Logger:       logger,
		}
		if searcher != nil {
			mcpCfg.Searcher = searcher
		}
		mcpSrv := mcpserver.NewServer(mcpCfg)
		mcpHandler := mcp.NewStreamableHTTPHandler(
			func(_ *http.Request) *mcp.Server { return mcpSrv },
			&mcp.StreamableHTTPOptions{Stateless: true},
		)
		mcpRouter := gin.New()
		mcpRouter.Any("/mcp/*path", gin.WrapH(mcpHandler))
		go func() {
			logger.WithField("addr", cfg.MCPListenAddr).Info("Starting MCP listener")
			if err := http.ListenAndServe(cfg.MCPListenAddr, mcpRouter); err != nil {
				logger.WithError(err).Error("MCP listener stopped")
			}
		}()
	}

	// Start HTTP server with graceful shutdown
	serverConfig := server.DefaultConfig("copilot", cfg.Port)
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
