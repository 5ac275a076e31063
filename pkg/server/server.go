// Package server wires configuration, infrastructure and services into a
// runnable HTTP server.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/tutorline/replybank/internal/api"
	"github.com/tutorline/replybank/internal/config"
	"github.com/tutorline/replybank/internal/services/cache"
	"github.com/tutorline/replybank/internal/services/circuitbreaker"
	"github.com/tutorline/replybank/internal/services/confidence"
	"github.com/tutorline/replybank/internal/services/database"
	"github.com/tutorline/replybank/internal/services/embedding"
	"github.com/tutorline/replybank/internal/services/generator"
	"github.com/tutorline/replybank/internal/services/orchestrator"
)

// Server is a ReplyBank server instance.
type Server struct {
	config    *config.Config
	app       *fiber.App
	redis     *redis.Client
	db        *database.DB
	worker    *cache.Worker
	scheduler *orchestrator.Scheduler
}

func New(cfg *config.Config) *Server {
	if cfg == nil {
		panic("config cannot be nil - use config.LoadFromFile() to create config")
	}
	return &Server{config: cfg}
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogLevel(s.config)

	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}
	listenAddr := ":" + port

	s.app = createFiberApp(s.config)

	if err := s.initializeInfrastructure(); err != nil {
		return err
	}
	defer func() {
		if err := s.redis.Close(); err != nil {
			fiberlog.Errorf("Failed to close Redis client: %v", err)
		}
	}()
	defer func() {
		if err := s.db.Close(); err != nil {
			fiberlog.Errorf("Failed to close database connection: %v", err)
		}
	}()

	setupMiddleware(s.app, s.config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.setupServices(ctx); err != nil {
		return fmt.Errorf("failed to set up services: %w", err)
	}
	defer s.worker.Stop()
	defer s.scheduler.Stop()

	s.app.Get("/", welcomeHandler())

	fmt.Printf("ReplyBank starting on %s\n", listenAddr)
	fmt.Printf("   Environment: %s\n", s.config.Server.Environment)
	fmt.Printf("   Go version: %s\n", runtime.Version())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := s.app.Listen(listenAddr); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		fiberlog.Infof("Received signal: %v. Starting graceful shutdown...", sig)
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		fiberlog.Info("Context cancelled, starting shutdown...")
	}

	fiberlog.Info("Server shutting down gracefully...")
	if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	fiberlog.Info("Server shutdown completed successfully")
	return nil
}

func (s *Server) initializeInfrastructure() error {
	redisClient, err := createRedisClient(s.config.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to create Redis client: %w", err)
	}
	s.redis = redisClient
	fiberlog.Info("Redis client initialized successfully")

	db, err := database.New(s.config.Database)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	s.db = db
	fiberlog.Infof("Database (%s) initialized successfully", db.DriverName())

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	fiberlog.Info("Database migrations completed successfully")

	return nil
}

func (s *Server) setupServices(ctx context.Context) error {
	embeddingClient, err := embedding.NewClient(ctx, s.config.Embedding)
	if err != nil {
		return fmt.Errorf("embedding client initialization failed: %w", err)
	}
	embedder := embedding.NewCoalescer(embeddingClient)

	primaryBreaker := circuitbreaker.NewForBackend(s.redis, "primary")
	fallbackBreaker := circuitbreaker.NewForBackend(s.redis, "fallback")

	primary, err := generator.NewGemini(ctx, "primary", s.config.Generators.Primary, primaryBreaker)
	if err != nil {
		return fmt.Errorf("primary generator initialization failed: %w", err)
	}
	fallback, err := generator.NewGemini(ctx, "fallback", s.config.Generators.Fallback, fallbackBreaker)
	if err != nil {
		return fmt.Errorf("fallback generator initialization failed: %w", err)
	}

	store := cache.NewStore(s.db.DB, s.redis, embedder, s.config.Cache)
	s.worker = cache.NewWorker(store, s.config.Orchestrator.WorkerPoolSize, s.config.Orchestrator.WorkerBufferSize)
	matcher := cache.NewMatcher(embedder, store, s.worker, s.config.Cache)
	scorer := confidence.NewScorer(s.db.DB)
	warmup := cache.NewWarmup(s.db.DB, store, scorer, s.config.Cache)

	locker := orchestrator.NewRedisLocker(s.redis)
	orch := orchestrator.New(s.db.DB, matcher, store, scorer, s.worker, primary, fallback, locker, s.config.Orchestrator)

	maintenance := orchestrator.NewMaintenance(store, warmup, scorer, s.config.Cache)
	s.scheduler = orchestrator.NewScheduler(orch, maintenance, s.config.Orchestrator)
	go s.scheduler.Start(ctx)

	setupRoutes(s.app, s.db, s.redis, orch, matcher, store, warmup, scorer, s.config)
	return nil
}

func setupRoutes(
	app *fiber.App,
	db *database.DB,
	redisClient *redis.Client,
	orch *orchestrator.Orchestrator,
	matcher *cache.Matcher,
	store *cache.Store,
	warmup *cache.Warmup,
	scorer *confidence.Scorer,
	cfg *config.Config,
) {
	healthHandler := api.NewHealthHandler(db, redisClient)
	app.Get("/health", healthHandler.HealthCheck)

	responsesHandler := api.NewResponsesHandler(orch)
	v1 := app.Group("/v1")
	v1.Post("/messages/:messageId/response", responsesHandler.Generate)
	v1.Get("/responses/pending", responsesHandler.Pending)
	v1.Post("/responses/:responseId/approve", responsesHandler.Approve)
	v1.Post("/responses/:responseId/edit", responsesHandler.Edit)
	v1.Post("/responses/sweep", responsesHandler.Sweep)

	cacheHandler := api.NewCacheHandler(matcher, store, warmup, scorer, cfg.Cache)
	cacheGroup := v1.Group("/cache")
	cacheGroup.Post("/search", cacheHandler.Search)
	cacheGroup.Post("/entries", cacheHandler.Save)
	cacheGroup.Put("/entries/:cacheId/answer", cacheHandler.UpdateAnswer)
	cacheGroup.Get("/statistics", cacheHandler.Statistics)
	cacheGroup.Post("/cleanup", cacheHandler.Cleanup)
	cacheGroup.Post("/warmup", cacheHandler.Warmup)
	cacheGroup.Post("/recalculate", cacheHandler.Recalculate)
}

func createFiberApp(cfg *config.Config) *fiber.App {
	isProd := cfg.IsProduction()

	return fiber.New(fiber.Config{
		AppName:           "ReplyBank v1.0",
		EnablePrintRoutes: !isProd,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		CaseSensitive:     true,
		ServerHeader:      "ReplyBank",
	})
}

func setupMiddleware(app *fiber.App, cfg *config.Config) {
	isProd := cfg.IsProduction()

	app.Use(recover.New(recover.Config{
		EnableStackTrace: !isProd,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:               600,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	if isProd {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency} ${bytesSent}b\n",
			Output: os.Stdout,
		}))
	} else {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path} ${error}\n",
			Output: os.Stdout,
		}))
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Server.AllowedOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods:  "GET, POST, PUT, DELETE, OPTIONS",
		MaxAge:        86400,
		ExposeHeaders: "Content-Length, Content-Type, X-Request-ID",
	}))

	if !isProd {
		app.Use(pprof.New())
	}
}

func setupLogLevel(cfg *config.Config) {
	logLevel := cfg.GetNormalizedLogLevel()

	switch logLevel {
	case "trace":
		fiberlog.SetLevel(fiberlog.LevelTrace)
	case "debug":
		fiberlog.SetLevel(fiberlog.LevelDebug)
	case "info":
		fiberlog.SetLevel(fiberlog.LevelInfo)
	case "warn", "warning":
		fiberlog.SetLevel(fiberlog.LevelWarn)
	case "error":
		fiberlog.SetLevel(fiberlog.LevelError)
	default:
		fiberlog.SetLevel(fiberlog.LevelInfo)
		fiberlog.Warnf("Unknown log level '%s', defaulting to 'info'", logLevel)
	}

	fiberlog.Infof("Log level set to: %s", logLevel)
}

func createRedisClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.ConnMaxLifetime = 30 * time.Minute
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.MaxRetries = 3

	client := redis.NewClient(opt)
	return testRedisConnectionWithRetry(client)
}

func testRedisConnectionWithRetry(client *redis.Client) (*redis.Client, error) {
	const maxAttempts = 3
	const baseDelay = 1 * time.Second

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()

		if err == nil {
			fiberlog.Infof("Redis connection established successfully (attempt %d/%d)", attempt, maxAttempts)
			return client, nil
		}

		fiberlog.Warnf("Redis connection failed (attempt %d/%d): %v", attempt, maxAttempts, err)
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt) * baseDelay)
		}
	}

	if err := client.Close(); err != nil {
		fiberlog.Errorf("Failed to close Redis client after connection failures: %v", err)
	}
	return nil, fmt.Errorf("failed to connect to Redis after %d attempts", maxAttempts)
}

func welcomeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message":    "Welcome to ReplyBank!",
			"version":    "1.0.0",
			"go_version": runtime.Version(),
			"status":     "running",
			"endpoints": fiber.Map{
				"generate":   "/v1/messages/:messageId/response",
				"pending":    "/v1/responses/pending",
				"cache":      "/v1/cache/search",
				"statistics": "/v1/cache/statistics",
				"health":     "/health",
			},
		})
	}
}
