package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/cors"

	"github.com/gorilla/mux"

	cfg "github.com/quayside/conveyor/config"
	"github.com/quayside/conveyor/internal/handlers"
	"github.com/quayside/conveyor/internal/queue"
	"github.com/quayside/conveyor/internal/server"
	"github.com/quayside/conveyor/internal/tasks"
	"github.com/quayside/conveyor/internal/usecases"
	repository "github.com/quayside/conveyor/internal/usecases/repository"
	"github.com/quayside/conveyor/internal/workers"
	"github.com/quayside/conveyor/pkg/database"
)

func main() {
	time.Local = time.UTC

	// Parse configuration; an unrecognized DEBUG value fails here,
	// before anything is connected.
	config, err := cfg.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	// Setup logging
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if config.Mode.IsDevelopment() {
		opts.Level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))
	logger.Info("Starting application with configuration",
		"mode", config.Mode.String(),
		"server_port", config.HTTP.Port,
		"database_url", config.DB.DatabaseURL,
		"redis_host", config.Redis.Host,
		"worker_concurrency", config.Workers.Concurrency)

	// Cancelled on SIGINT/SIGTERM; everything winds down from this.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to Database
	pg, err := database.New(config,
		database.MaxPoolSize(config.DB.PoolMax),
		database.ConnTimeout(config.DB.ConnectTimeout),
		database.HealthCheckPeriod(config.DB.HealthCheckPeriod),
		database.Isolation(pgx.ReadCommitted),
	)
	if err != nil {
		logger.Error("postgres connection failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pg.Close()

	// Connect to the broker
	broker, err := queue.NewBroker(config)
	if err != nil {
		logger.Error("redis connection failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer broker.Close()

	resultBackend := queue.NewResultBackend(broker.Client(),
		time.Duration(config.Workers.ResultTTL)*time.Second)

	// Repositories, services and workers
	registry := tasks.NewRegistry()
	runsRepository := repository.NewTaskRunsRepository(logger, pg)
	websocketManager := handlers.NewWebSocketManager(logger)
	taskService := usecases.NewTaskService(logger, registry, runsRepository, broker, resultBackend, websocketManager)

	// Built-in handlers, including the DB-backed purge task.
	if err = tasks.RegisterBuiltins(registry, taskService); err != nil {
		log.Fatal(err)
	}

	// Handlers and router
	httpHandler := handlers.NewHTTPHandler(logger, taskService, pg.Pool, broker, config.HTTP.StaticDir)
	wsHandler := handlers.NewWebSocketHandler(logger, websocketManager)

	router := mux.NewRouter()

	// Register WebSocket routes before HTTP routes
	wsHandler.RegisterRoutes(router)
	httpHandler.RegisterRoutes(router)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handler := c.Handler(router)

	// Migrate, pick the server for the configured mode and serve until
	// a shutdown signal arrives.
	launcher := server.NewHTTPLauncher(logger, config, handler, websocketManager,
		func(ctx context.Context) error {
			if err := database.RunMigrations(logger, config.DB.DatabaseURL, migrationsPath()); err != nil {
				return err
			}
			// Workers only start once the schema is in place.
			initAndRunWorkers(ctx, logger, config, registry, broker, resultBackend, runsRepository, websocketManager, taskService)
			return nil
		})

	if err = launcher.Run(ctx); err != nil {
		logger.Error("Startup failed", "error", err)
		log.Fatal(err)
	}
}

// migrationsPath locates the migrations directory relative to the
// working directory, falling back one level up for local runs from cmd/.
func migrationsPath() string {
	path := "./migrations"
	if workDir, err := os.Getwd(); err == nil {
		if _, err := os.Stat(filepath.Join(workDir, "migrations")); !os.IsNotExist(err) {
			path = filepath.Join(workDir, "migrations")
		} else if _, err := os.Stat(filepath.Join(workDir, "..", "migrations")); !os.IsNotExist(err) {
			path = filepath.Join(workDir, "..", "migrations")
		}
	}
	return path
}

func initAndRunWorkers(
	ctx context.Context,
	logger *slog.Logger,
	config *cfg.Config,
	registry *tasks.Registry,
	broker *queue.Broker,
	resultBackend *queue.ResultBackend,
	runsRepository *repository.TaskRunsRepository,
	websocketManager *handlers.Manager,
	taskService *usecases.TaskService,
) {
	workerPool := workers.NewWorkerPool(
		logger,
		registry,
		broker,
		resultBackend,
		runsRepository,
		websocketManager,
		config.Workers.Concurrency,
		time.Duration(config.Workers.PollIntervalMs)*time.Millisecond,
		time.Duration(config.Workers.TaskTimeout)*time.Second,
	)

	runCleaner := workers.NewRunCleaner(
		logger,
		taskService,
		time.Duration(config.Workers.RunRetention)*time.Minute,
		time.Duration(config.Workers.CleanupInterval)*time.Minute,
	)

	go func() {
		logger.Info("Starting task worker pool")
		workerPool.Start(ctx)
	}()

	go func() {
		logger.Info("Starting run cleaner worker")
		runCleaner.Start(ctx)
	}()

	logger.Info("All workers initialized and started")
}
