package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rentscope/api/internal/client"
	"github.com/rentscope/api/internal/config"
	"github.com/rentscope/api/internal/handler"
	"github.com/rentscope/api/internal/logger"
	"github.com/rentscope/api/internal/middleware"
	"github.com/rentscope/api/internal/notify"
	"github.com/rentscope/api/internal/queue"
	"github.com/rentscope/api/internal/service"
	"github.com/rentscope/api/internal/storage"
	ws "github.com/rentscope/api/internal/websocket"
	"github.com/rentscope/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	sugar, err := logger.New(cfg.Server.LogLevel, cfg.Server.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer sugar.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres
	pool, err := storage.OpenPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		sugar.Fatalw("postgres unavailable", "error", err)
	}
	defer pool.Close()
	if err := storage.Bootstrap(ctx, pool); err != nil {
		sugar.Fatalw("schema bootstrap failed", "error", err)
	}

	jobRepo := storage.NewJobRepository(pool)
	locationRepo := storage.NewLocationRepository(pool)
	propertyRepo := storage.NewPropertyRepository(pool)

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		sugar.Warnw("redis not available", "error", err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub(sugar.Named("hub"))
	go hub.Run(ctx)

	// Initialize services
	publisher := queue.NewPublisher(
		asynqClient,
		time.Duration(cfg.Queue.JobTTLMinutes)*time.Minute,
		cfg.Queue.MaxRetry,
		sugar.Named("publisher"),
	)
	planner := service.NewSamplingPlanner(time.Now)
	orchestrator := service.NewOrchestrator(jobRepo, locationRepo, publisher, planner, hub, sugar.Named("orchestrator"))
	coordinator := service.NewBatchCoordinator(orchestrator, locationRepo, sugar.Named("batch"))
	defer coordinator.Close()

	notifier := notify.NewNotifier(redisClient, 5*time.Second, sugar.Named("notify"))
	propertyCache := notify.NewPropertyCache(
		redisClient,
		time.Duration(cfg.Cache.TTLMinutes)*time.Minute,
		propertyRepo.ListByLocation,
		sugar.Named("cache"),
	)
	go func() {
		if err := propertyCache.ListenForUpdates(ctx); err != nil {
			sugar.Warnw("cache invalidation listener stopped", "error", err)
		}
	}()

	archive, err := newResultArchive(ctx, &cfg.Archive)
	if err != nil {
		sugar.Fatalw("archive misconfigured", "error", err)
	}

	// Initialize handlers
	jobHandler := handler.NewJobHandler(orchestrator, validate)
	batchHandler := handler.NewBatchHandler(coordinator, validate, handler.BatchDefaults{
		DelayMinutes: cfg.Batch.DefaultDelayMinutes,
		StaleDays:    cfg.Batch.DefaultStaleDays,
	})
	locationHandler := handler.NewLocationHandler(locationRepo, propertyCache, validate)

	rateLimiter := middleware.NewRateLimiter(redisClient, sugar.Named("ratelimit"))

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    4 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"service": "rentscope-api", "status": "ok"})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		status := fiber.Map{"status": "ok", "postgres": "ok", "redis": "ok"}
		if err := pool.Ping(c.Context()); err != nil {
			status["status"], status["postgres"] = "degraded", err.Error()
		}
		if err := redisClient.Ping(c.Context()).Err(); err != nil {
			status["status"], status["redis"] = "degraded", err.Error()
		}
		return c.JSON(status)
	})

	// API routes
	api := app.Group("/api")

	jobs := api.Group("/jobs", rateLimiter.JobsLimit(cfg.RateLimit.JobsPerMin))
	jobs.Post("/", jobHandler.Create)
	jobs.Post("/batch", jobHandler.Batch)
	jobs.Get("/", jobHandler.List)
	jobs.Get("/:jobId", jobHandler.Get)
	jobs.Post("/:jobId/retry", jobHandler.Retry)

	batch := api.Group("/batch")
	batch.Post("/start", rateLimiter.BatchLimit(cfg.RateLimit.BatchPerDay), batchHandler.Start)
	batch.Get("/progress", batchHandler.Progress)
	batch.Post("/cancel", batchHandler.Cancel)

	locations := api.Group("/locations")
	locations.Put("/:locationId", locationHandler.Upsert)
	locations.Get("/:locationId", locationHandler.Get)
	locations.Get("/:locationId/properties", locationHandler.Properties)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/locations/:locationId", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("locationId"))
	}))

	// Start Asynq worker server and scheduler
	resultWorker := worker.NewResultWorker(jobRepo, propertyRepo, locationRepo, notifier, archive, hub, validate, sugar.Named("results"))
	sweepWorker := worker.NewSweepWorker(orchestrator, time.Duration(cfg.Scheduler.TimeoutMinutes)*time.Minute, sugar.Named("sweep"))

	srv := startWorkerServer(cfg, redisOpt, resultWorker, sweepWorker, sugar)

	var scheduler *asynq.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler = startScheduler(cfg, redisOpt, sugar)
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		sugar.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			sugar.Errorw("server shutdown error", "error", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	sugar.Infow("server starting", "addr", addr)
	if err := app.Listen(addr); err != nil {
		sugar.Errorw("server error", "error", err)
	}

	if scheduler != nil {
		scheduler.Shutdown()
	}
	srv.Shutdown()
}

// newResultArchive returns nil when archiving is not configured. The nil
// check keeps a nil *ArchiveClient from turning into a non-nil interface.
func newResultArchive(ctx context.Context, cfg *config.ArchiveConfig) (client.ResultArchive, error) {
	archive, err := client.NewArchiveClient(ctx, cfg)
	if err != nil || archive == nil {
		return nil, err
	}
	return archive, nil
}

func startWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, results *worker.ResultWorker, sweep *worker.SweepWorker, sugar *zap.SugaredLogger) *asynq.Server {
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Queue.Concurrency,
			Queues:      queue.ServerQueues(),
			Logger:      sugar.Named("asynq"),
			LogLevel:    logger.AsynqLevel(cfg.Server.LogLevel),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskTypeJobCompleted, results.ProcessCompleted)
	mux.HandleFunc(queue.TaskTypeJobFailed, results.ProcessFailed)
	mux.HandleFunc(queue.TaskTypeSweep, sweep.ProcessTask)

	if err := srv.Start(mux); err != nil {
		sugar.Fatalw("asynq worker failed to start", "error", err)
	}
	return srv
}

func startScheduler(cfg *config.Config, redisOpt asynq.RedisClientOpt, sugar *zap.SugaredLogger) *asynq.Scheduler {
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Logger:   sugar.Named("scheduler"),
		LogLevel: logger.AsynqLevel(cfg.Server.LogLevel),
	})

	entryID, err := scheduler.Register(cfg.Scheduler.SweepCron, worker.NewSweepTask(), asynq.Queue(queue.QueueMaintenance), asynq.Unique(time.Minute))
	if err != nil {
		sugar.Fatalw("failed to register timeout sweep", "cron", cfg.Scheduler.SweepCron, "error", err)
	}
	if err := scheduler.Start(); err != nil {
		sugar.Fatalw("scheduler failed to start", "error", err)
	}
	sugar.Infow("timeout sweep scheduled", "cron", cfg.Scheduler.SweepCron, "entryId", entryID)
	return scheduler
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
