package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/LCodingX/influence-dashboard/internal/backend"
	"github.com/LCodingX/influence-dashboard/internal/catalog"
	"github.com/LCodingX/influence-dashboard/internal/db"
	"github.com/LCodingX/influence-dashboard/internal/handlers"
	"github.com/LCodingX/influence-dashboard/internal/logger"
	"github.com/LCodingX/influence-dashboard/internal/middleware"
	"github.com/LCodingX/influence-dashboard/internal/observability"
	"github.com/LCodingX/influence-dashboard/internal/repos"
	"github.com/LCodingX/influence-dashboard/internal/server"
	"github.com/LCodingX/influence-dashboard/internal/services"
	"github.com/LCodingX/influence-dashboard/internal/sse"
	"github.com/LCodingX/influence-dashboard/internal/utils"
	"github.com/LCodingX/influence-dashboard/internal/vault"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	masterKeyHex := utils.GetEnv("VAULT_MASTER_KEY", "", log)

	// Tracing (opt-in)
	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "influence-dashboard",
		Environment: utils.GetEnv("DEPLOY_ENV", "development", log),
		Version:     utils.GetEnv("SERVICE_VERSION", "", log),
	})
	if otelShutdown != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(ctx)
		}()
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Vault
	credentialVault, err := vault.New(masterKeyHex, log)
	if err != nil {
		log.Error("Could not init credential vault", "error", err)
		os.Exit(1)
	}

	// Repos
	log.Info("Setting up Repos from main...")
	jobRepo := repos.NewJobRepo(thePG, log)
	jobLogRepo := repos.NewJobLogRepo(thePG, log)
	credentialRepo := repos.NewCredentialRepo(thePG, log)
	endpointRepo := repos.NewEndpointRepo(thePG, log)

	// SSE
	log.Info("Setting up SSE hub now...")
	sseHub := sse.NewSSEHub(log)
	var sseBus services.SSEBus
	if os.Getenv("REDIS_ADDR") != "" {
		bus, busErr := services.NewRedisSSEBus(log)
		if busErr != nil {
			log.Warn("Could not init Redis SSE bus, running single-replica", "error", busErr)
		} else if fErr := bus.StartForwarder(context.Background(), sseHub.Broadcast); fErr != nil {
			log.Warn("Could not start Redis SSE forwarder", "error", fErr)
		} else {
			sseBus = bus
		}
	}

	// Catalog
	modelCatalog, err := catalog.Load(log)
	if err != nil {
		log.Error("Could not load model catalog", "error", err)
		os.Exit(1)
	}

	// Services
	log.Info("Setting up Services from main...")
	runpodClient := backend.NewClient(log)
	selector := backend.NewSelector(log, runpodClient, credentialVault, credentialRepo, endpointRepo)
	reconciler := services.NewLogReconciler(log, jobRepo, jobLogRepo)
	notifier := services.NewJobNotifier(sseHub, sseBus)
	orchestrator := services.NewJobOrchestrator(thePG, log, jobRepo, jobLogRepo, selector, reconciler, notifier)
	webhookService := services.NewWebhookService(thePG, log, jobRepo, reconciler, notifier)
	credentialService := services.NewCredentialService(thePG, log, credentialVault, selector, credentialRepo, endpointRepo)

	// Handlers
	log.Info("Setting up handlers from main...")
	jobHandler := handlers.NewJobHandler(orchestrator)
	webhookHandler := handlers.NewWebhookHandler(webhookService)
	credentialHandler := handlers.NewCredentialHandler(credentialService)
	modelsHandler := handlers.NewModelsHandler(modelCatalog)
	sseHandler := handlers.NewSSEHandler(log, sseHub)

	// Middleware
	log.Info("Setting up middleware from main...")
	authMiddleware := middleware.NewAuthMiddleware(log, jwtSecretKey)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		AuthMiddleware:    authMiddleware,
		JobHandler:        jobHandler,
		WebhookHandler:    webhookHandler,
		CredentialHandler: credentialHandler,
		ModelsHandler:     modelsHandler,
		SSEHandler:        sseHandler,
		AllowOrigins:      server.SplitOrigins(utils.GetEnv("CORS_ALLOW_ORIGINS", "", log)),
		TracingOn:         otelShutdown != nil,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Server exited", "error", err)
	}
}
