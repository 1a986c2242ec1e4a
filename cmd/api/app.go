package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lumenview/wallet-backend/internal/config"
	"github.com/lumenview/wallet-backend/internal/database"
	"github.com/lumenview/wallet-backend/internal/handlers"
	"github.com/lumenview/wallet-backend/internal/middleware"
	"github.com/lumenview/wallet-backend/internal/repository"
	"github.com/lumenview/wallet-backend/internal/scheduler"
	"github.com/lumenview/wallet-backend/internal/services"
	"github.com/lumenview/wallet-backend/internal/utils"
)

type appDeps struct {
	cfg        *config.Config
	logger     *zap.SugaredLogger
	repo       repository.TimeSeriesRepository
	priceCache services.PriceCacheService
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zapLogger, err := utils.NewLogger(utils.LogConfig{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	logger := zapLogger.Sugar()

	logger.Infow("Starting wallet backend", "env", cfg.Environment)

	redisClient, err := database.NewRedisClient(cfg.Cache)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	defer redisClient.Close()

	deps := buildDependencies(cfg, redisClient, logger)

	app := newFiberApp(deps)
	setupRoutes(app, deps)

	sched, err := setupScheduler(deps)
	if err != nil {
		return fmt.Errorf("setup scheduler: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startBootstrapThenScheduler(ctx, sched, deps)

	serverErrCh := startHTTPServer(app, cfg.Port, logger)

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErrCh:
		if err != nil {
			return err
		}
	}

	return shutdown(app, sched, logger)
}

func buildDependencies(cfg *config.Config, redisClient *redis.Client, logger *zap.SugaredLogger) appDeps {
	repo := repository.NewTimeSeriesRepository(redisClient, logger)
	horizonClient := services.NewHorizonClient(logger, cfg.HorizonBaseURL)
	catalogClient := services.NewCatalogClient(logger, cfg.AssetCatalogBaseURL)
	deriver := services.NewPriceDeriver(horizonClient, logger)
	priceCache := services.NewPriceCacheService(repo, deriver, catalogClient, logger)

	return appDeps{
		cfg:        cfg,
		logger:     logger,
		repo:       repo,
		priceCache: priceCache,
	}
}

func newFiberApp(deps appDeps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "Wallet Backend API",
		ServerHeader: "wallet-backend",
		ErrorHandler: fiberErrorHandler(deps.logger),
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: deps.cfg.CorsOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	app.Use(middleware.NewRequestLogger(middleware.RequestLoggerConfig{Logger: deps.logger}))

	return app
}

func fiberErrorHandler(logger *zap.SugaredLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.Errorw("Request error",
			"error", err,
			"path", c.Path(),
			"method", c.Method(),
			"status", code,
		)

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}

func setupRoutes(app *fiber.App, deps appDeps) {
	healthHandler := handlers.NewHealthHandler(deps.repo)
	priceHandler := handlers.NewPriceHandler(deps.priceCache, deps.logger)

	app.Get("/health", healthHandler.Check)

	api := app.Group("/api/v1", middleware.NewRateLimiter(middleware.RateLimiterConfig{}))
	api.Get("/token-prices", priceHandler.GetTokenPrice)
	api.Post("/token-prices/sync", priceHandler.SyncTokenPrices)
}

func setupScheduler(deps appDeps) (*scheduler.Scheduler, error) {
	sched := scheduler.New(deps.logger)
	jobs := scheduler.NewJobs(deps.priceCache, deps.repo, deps.logger)

	// The update pass walks the whole catalog with a 5s pause between
	// batches, so it runs without a deadline; the scheduler skips ticks
	// that land while a pass is still in flight.
	if err := sched.AddJob("update_token_prices", deps.cfg.PriceUpdateSchedule, 0, jobs.UpdateTokenPrices); err != nil {
		return nil, fmt.Errorf("add price update job: %w", err)
	}

	return sched, nil
}

func startBootstrapThenScheduler(ctx context.Context, sched *scheduler.Scheduler, deps appDeps) {
	jobs := scheduler.NewJobs(deps.priceCache, deps.repo, deps.logger)

	go func() {
		bootstrapCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
		defer cancel()

		if err := jobs.BootstrapPriceCache(bootstrapCtx); err != nil {
			deps.logger.Errorw("Price cache bootstrap failed", "error", err)
		}

		select {
		case <-ctx.Done():
			deps.logger.Info("Scheduler start skipped: shutting down")
			return
		default:
		}

		sched.Start()
	}()
}

func startHTTPServer(app *fiber.App, port string, logger *zap.SugaredLogger) <-chan error {
	errCh := make(chan error, 1)

	logger.Infow("Starting HTTP server", "port", port)
	go func() {
		err := app.Listen(":" + port)
		if err == nil || isExpectedServerClose(err) {
			errCh <- nil
			return
		}
		errCh <- fmt.Errorf("listen: %w", err)
	}()

	return errCh
}

func isExpectedServerClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrClosed) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "server closed") || strings.Contains(msg, "use of closed network connection")
}

func shutdown(app *fiber.App, sched *scheduler.Scheduler, logger *zap.SugaredLogger) error {
	logger.Info("Shutting down server...")
	sched.Stop()

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Errorw("Server forced to shutdown", "error", err)
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
