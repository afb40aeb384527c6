package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"github.com/shihanpietersz/migration-manager/internal/api/handlers"
	"github.com/shihanpietersz/migration-manager/internal/api/routes"
	"github.com/shihanpietersz/migration-manager/internal/config"
	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/repository"
	"github.com/shihanpietersz/migration-manager/internal/services/azure"
	"github.com/shihanpietersz/migration-manager/internal/services/executions"
	"github.com/shihanpietersz/migration-manager/internal/services/scripts"
	"github.com/shihanpietersz/migration-manager/internal/services/security"
	"github.com/shihanpietersz/migration-manager/internal/services/validation"
	"github.com/shihanpietersz/migration-manager/pkg/postgres"
	"github.com/shihanpietersz/migration-manager/pkg/ratelimit"
	"github.com/shihanpietersz/migration-manager/pkg/redis"
)

func main() {
	ctxCancel, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	logrusLevel, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.WithError(err).Fatal("Failed to parse log level")
	}

	logger.SetLevel(logrusLevel)

	// Set Gin mode based on environment
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Setup CORS
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Initialize database
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	if sqlDB, err := db.DB.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := db.Migrate(
		&models.ScriptEntity{},
		&models.ExecutionEntity{},
		&models.ExecutionTargetEntity{},
		&models.ValidationTestEntity{},
		&models.TestSuiteEntity{},
		&models.VmTestAssignmentEntity{},
		&models.VmTestResultEntity{},
		&models.TestNotificationEntity{},
		&models.ActivityLogEntity{},
	); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	// Initialize repositories
	scriptRepo := repository.NewScriptRepository(db.DB)
	executionRepo := repository.NewExecutionRepository(db.DB)
	activityRepo := repository.NewActivityRepository(db.DB)
	testRepo := repository.NewValidationTestRepository(db.DB)
	suiteRepo := repository.NewTestSuiteRepository(db.DB)
	assignmentRepo := repository.NewAssignmentRepository(db.DB)
	resultRepo := repository.NewTestResultRepository(db.DB)
	notificationRepo := repository.NewNotificationRepository(db.DB)

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize Redis client")
	}

	// Initialize the Azure remote command client
	tokenProvider := azure.NewClientCredentialsProvider(&cfg.Azure, logger)
	armRateLimiter := ratelimit.NewARMRateLimiter(&cfg.Azure, logger)
	armRateLimiter.StartCleanupExpired(ctxCancel)
	azureClient := azure.NewClient(&cfg.Azure, logger, tokenProvider, armRateLimiter, redisClient)

	// Initialize services
	scanner := security.NewScanner()
	scriptService := scripts.NewScriptService(logger, scriptRepo, scanner)
	if err := scriptService.SeedBuiltIn(ctxCancel); err != nil {
		logger.WithError(err).Fatal("Failed to seed built-in scripts")
	}
	orchestrator := executions.NewOrchestrator(logger, &cfg.Orchestrator, executionRepo, scriptRepo, activityRepo, azureClient)

	// Telegram is optional: without a bot token the channel stays disabled
	// and failure notifications fall back to webhooks and the activity log.
	var bot *telebot.Bot
	if cfg.Telegram.BotToken != "" {
		bot, err = telebot.NewBot(telebot.Settings{
			Token:  cfg.Telegram.BotToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) {
				logger.WithError(err).Error("Telegram bot error")
			},
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to create telegram bot")
		}
	}
	notifier := validation.NewNotifier(logger, notificationRepo, resultRepo, activityRepo, bot, &cfg.Telegram)
	engine := validation.NewEngine(logger, &cfg.Validation, testRepo, suiteRepo, assignmentRepo, resultRepo, activityRepo, azureClient, notifier)

	scheduler := validation.NewScheduler(logger, &cfg.Validation, assignmentRepo, engine)
	scheduler.Start(ctxCancel)

	// Initialize handlers
	systemHandler := handlers.NewSystemHandler(activityRepo, logger)
	scriptHandler := handlers.NewScriptHandler(scriptService, logger)
	executionHandler := handlers.NewExecutionHandler(orchestrator, logger)
	validationHandler := handlers.NewValidationHandler(engine, notificationRepo, logger)

	// Setup routes
	routes.SetupRoutes(router, systemHandler, scriptHandler, executionHandler, validationHandler)

	// Create HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	cancel()

	armRateLimiter.StopCleanupExpired()

	// Wait for the validation scheduler to drain with a timeout
	schedulerDone := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(schedulerDone)
	}()
	select {
	case <-schedulerDone:
		logger.Info("Validation scheduler stopped successfully")
	case <-time.After(15 * time.Second):
		logger.Warn("Timeout waiting for validation scheduler to stop, proceeding with server shutdown")
	}

	logger.Info("Shutting down HTTP server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	} else {
		logger.Info("HTTP server shutdown completed successfully")
	}

	logger.Info("Server exited")
}
