package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/comptoir-erp/comptoir-erp/internal/app"
	"github.com/comptoir-erp/comptoir-erp/internal/inventory"
	"github.com/comptoir-erp/comptoir-erp/internal/ledger"
	"github.com/comptoir-erp/comptoir-erp/internal/masterdata/products"
	"github.com/comptoir-erp/comptoir-erp/internal/masterdata/warehouses"
	"github.com/comptoir-erp/comptoir-erp/internal/observability"
	"github.com/comptoir-erp/comptoir-erp/internal/platform/cache"
	"github.com/comptoir-erp/comptoir-erp/internal/platform/db"
	"github.com/comptoir-erp/comptoir-erp/internal/shared"
	"github.com/comptoir-erp/comptoir-erp/internal/stats"
	"github.com/comptoir-erp/comptoir-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, stats cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotency := shared.NewIdempotencyStore(dbpool)

	ledgerRepo := ledger.NewRepository(dbpool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, idempotency, metrics)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	inventoryRepo := inventory.NewRepository(dbpool)
	inventoryService := inventory.NewService(logger, inventoryRepo, inventoryRepo, ledgerService, auditLogger, metrics)
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	productsRepo := products.NewRepository(dbpool)
	productsService := products.NewService(productsRepo)
	productsHandler := products.NewHandler(logger, productsService)

	warehousesRepo := warehouses.NewRepository(dbpool)
	warehousesHandler := warehouses.NewHandler(logger, warehousesRepo)

	statsRepo := stats.NewRepository(dbpool)
	statsService := stats.NewService(logger, statsRepo, redisClient, cfg.StatsTTL)
	statsHandler := stats.NewHandler(logger, statsService)

	var jobHandler *jobs.Handler
	if redisClient != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("asynq inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		ProductsHandler:   productsHandler,
		WarehousesHandler: warehousesHandler,
		LedgerHandler:     ledgerHandler,
		InventoryHandler:  inventoryHandler,
		StatsHandler:      statsHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
}
