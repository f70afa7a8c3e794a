package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/inventory-scan/internal/adapter/handler"
	"github.com/rl1809/inventory-scan/internal/adapter/storage"
	"github.com/rl1809/inventory-scan/internal/config"
	"github.com/rl1809/inventory-scan/internal/core/service"
	"github.com/rl1809/inventory-scan/internal/observability"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.MySQLMaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQLMaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return err
	}
	logger.Info("connected to mysql")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: cfg.RedisPoolSize,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	logger.Info("connected to redis", "addr", cfg.RedisAddr)

	// Initialize adapters
	redisAdapter := storage.NewRedisAdapter(rdb)
	mysqlAdapter := storage.NewMySQLAdapter(db)

	// Initialize services
	normalizer := service.NewNormalizer(service.NormalizerConfig{
		PublicHosts: cfg.PublicHosts,
		PathMarker:  cfg.ScanPathMarker,
		Patterns:    service.DefaultIdentifierPatterns(cfg.InventoryPrefixes, cfg.ProductPrefixes),
	})
	resolver := service.NewResolverService(redisAdapter, normalizer, service.ResolverConfig{
		ScanBatchSize:     cfg.ScanBatchSize,
		ScanMaxIterations: cfg.ScanMaxIterations,
		ScanTimeout:       cfg.ScanTimeout,
	}, logger)
	registration := service.NewRegistrationService(redisAdapter, cfg.CodeMaxAttempts, cfg.QueueSize, logger)

	// Start worker pool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		service.RunPersistencePool(cfg.WorkerCount, registration.Jobs(), mysqlAdapter, registration, logger)
	}()
	logger.Info("started persistence workers", "count", cfg.WorkerCount)

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterScanServiceServer(grpcServer, handler.NewGRPCHandler(resolver, registration, cfg.ScanRejectTampered, logger))
	healthServer := health.NewServer()
	healthServer.SetServingStatus(handler.ScanServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "error", err)
		}
	}()

	// Initialize HTTP server
	mux := http.NewServeMux()
	handler.NewHTTPHandler(resolver, registration, cfg.ScanRejectTampered, logger).Routes(mux)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", "error", err)
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// Close job queue and wait for workers to drain it. Handlers still running
	// after a timed-out shutdown get ErrQueueClosed.
	registration.Close()
	wg.Wait()
	logger.Info("workers stopped")

	return nil
}
