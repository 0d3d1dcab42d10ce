// main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/akhenakh/rasterblock/gdalio"
	"github.com/akhenakh/rasterblock/geotiff"
	"github.com/akhenakh/rasterblock/raster"
	"github.com/akhenakh/rasterblock/split"
)

const appName = "rasterblock-service"

var grpcMetrics = grpcprom.NewServerMetrics(grpcprom.WithServerHandlingTimeHistogram(
	grpcprom.WithHistogramBuckets([]float64{0.01, 0.1, 0.3, 0.6, 1, 3, 6, 9}),
))

// Config holds all configuration for the application, loaded from environment variables.
type Config struct {
	LogLevel          string   `env:"LOG_LEVEL" envDefault:"INFO"`
	HTTPPort          int      `env:"HTTP_PORT" envDefault:"8080"`
	APIPort           int      `env:"API_PORT" envDefault:"9200"`
	HealthPort        int      `env:"HEALTH_PORT" envDefault:"6666"`
	HTTPMetricsPort   int      `env:"METRICS_PORT" envDefault:"8888"`
	RasterSource      string   `env:"RASTER_SOURCE,required"`
	RasterBackend     string   `env:"RASTER_BACKEND" envDefault:"gdal"`
	OutputDir         string   `env:"OUTPUT_DIR" envDefault:"blocks"`
	BlockSize         int      `env:"BLOCK_SIZE" envDefault:"256"`
	Overlap           float64  `env:"OVERLAP" envDefault:"0"`
	Workers           int      `env:"WORKERS" envDefault:"1"`
	WriteIndex        bool     `env:"WRITE_INDEX" envDefault:"true"`
	CreationOptions   []string `env:"GTIFF_CREATION_OPTIONS" envSeparator:","`
	CacheMaxSize      int64    `env:"CACHE_MAX_SIZE" envDefault:"128"`
	CacheItemsToPrune uint32   `env:"CACHE_ITEMS_TO_PRUNE" envDefault:"16"`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		fmt.Printf("failed to parse config: %+v\n", err)
		os.Exit(1)
	}

	logger := createLogger(cfg, appName)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(ctx)

	src, dst, err := setupBackends(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize raster backend, shutting down", "error", err)
		os.Exit(1)
	}
	metrics, err := split.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("failed to register split metrics", "error", err)
		os.Exit(1)
	}
	srv, err := NewServer(cfg, src, dst, logger, metrics)
	if err != nil {
		logger.Error("failed to read source raster, shutting down", "error", err, "source", cfg.RasterSource)
		os.Exit(1)
	}
	defer srv.Close()

	// Servers are built here and only started in the group, shutdown reads them below.
	healthServer := health.NewServer()
	grpcHealthServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcHealthServer, healthServer)

	prometheus.MustRegister(grpcMetrics)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	httpMetricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPMetricsPort), Handler: metricsMux}

	grpcAPIServer := newGRPCServer(logger, srv)
	httpRestServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPPort), Handler: srv.Handler()}

	// gRPC Health Server
	g.Go(func() error {
		return startHealthServer(logger, cfg, grpcHealthServer)
	})

	// HTTP Metrics Server (Prometheus)
	g.Go(func() error {
		return serveHTTP(logger, "HTTP metrics server", httpMetricsServer)
	})

	// gRPC API Server
	g.Go(func() error {
		return startGRPCAPIServer(logger, cfg, healthServer, grpcAPIServer)
	})

	// HTTP REST Server
	g.Go(func() error {
		return serveHTTP(logger, "HTTP REST server", httpRestServer)
	})

	// Wait for termination signal or an error from one of the services
	select {
	case <-interrupt:
		slog.Warn("received termination signal, starting graceful shutdown")
		cancel()
	case <-ctx.Done():
		slog.Warn("context cancelled, starting graceful shutdown")
	}

	// Graceful Shutdown
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpMetricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP metrics server shutdown error", "error", err)
	}
	if err := httpRestServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP REST server shutdown error", "error", err)
	}
	grpcHealthServer.GracefulStop()
	grpcAPIServer.GracefulStop()

	// Wait for all services in the errgroup to finish
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server group returned an error", "error", err)
		os.Exit(2)
	}
}

func startHealthServer(logger *slog.Logger, cfg Config, s *grpc.Server) error {
	addr := fmt.Sprintf(":%d", cfg.HealthPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gRPC Health server failed to listen: %w", err)
	}
	logger.Info("gRPC health server listening", "address", addr)
	return s.Serve(lis)
}

// serveHTTP runs s until it is shut down.
func serveHTTP(logger *slog.Logger, name string, s *http.Server) error {
	logger.Info(name+" listening", "address", s.Addr)
	if err := s.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

// newGRPCServer builds the API server with its recovery, logging and metrics interceptors.
func newGRPCServer(logger *slog.Logger, srv BlockServiceServer) *grpc.Server {
	lopts := []logging.Option{logging.WithLogOnEvents(logging.StartCall, logging.FinishCall)}
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			recovery.UnaryServerInterceptor(recovery.WithRecoveryHandler(func(p any) error {
				logger.Error("recovered from panic in gRPC handler", "panic", p)
				return status.Errorf(codes.Internal, "internal error")
			})),
			logging.UnaryServerInterceptor(
				InterceptorLogger(logger),
				lopts...),
			grpcMetrics.UnaryServerInterceptor(),
		),
	)
	RegisterBlockServiceServer(s, srv)
	reflection.Register(s) // Enable reflection for tools like grpcurl
	return s
}

func startGRPCAPIServer(logger *slog.Logger, cfg Config, healthServer *health.Server, s *grpc.Server) error {
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gRPC API server failed to listen: %w", err)
	}

	// Set initial health status
	healthServer.SetServingStatus(BlockService_ServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	logger.Info("gRPC API server listening", "address", addr)
	return s.Serve(lis)
}

// setupBackends returns the backend reading the source and the one writing tiles.
// Tiles are always written with GDAL, the cog backend is read-only.
func setupBackends(cfg Config, logger *slog.Logger) (raster.Opener, raster.Creator, error) {
	gdal := gdalio.New(cfg.CreationOptions...)
	switch strings.ToLower(cfg.RasterBackend) {
	case "gdal":
		logger.Info("using GDAL backend", "creation_options", cfg.CreationOptions)
		return gdal, gdal, nil
	case "cog":
		logger.Info("configuring tile cache", "max_size", cfg.CacheMaxSize, "items_to_prune", cfg.CacheItemsToPrune)
		return &geotiff.Backend{
			CacheMaxSize:      cfg.CacheMaxSize,
			CacheItemsToPrune: cfg.CacheItemsToPrune,
			Logger:            logger,
		}, gdal, nil
	default:
		return nil, nil, raster.ConfigErrorf("unknown RASTER_BACKEND %q, want gdal or cog", cfg.RasterBackend)
	}
}

func createLogger(cfg Config, appName string) *slog.Logger {
	var programLevel slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		programLevel = slog.LevelDebug
	case "INFO":
		programLevel = slog.LevelInfo
	case "WARN":
		programLevel = slog.LevelWarn
	case "ERROR":
		programLevel = slog.LevelError
	default:
		programLevel = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     programLevel,
		AddSource: programLevel <= slog.LevelDebug,
	}).WithAttrs([]slog.Attr{slog.String("app", appName)})
	return slog.New(handler)
}

func InterceptorLogger(l *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		l.Log(ctx, slog.Level(lvl), msg, fields...)
	})
}
