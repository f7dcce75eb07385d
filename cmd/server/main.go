// Command fitsync-server starts the FitSync gRPC server and its ops HTTP endpoint.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/fitsync/internal/changes"
	"github.com/and161185/fitsync/internal/config"
	"github.com/and161185/fitsync/internal/limiter"
	"github.com/and161185/fitsync/internal/metrics"
	"github.com/and161185/fitsync/internal/migrate"
	"github.com/and161185/fitsync/internal/repository/postgres"
	"github.com/and161185/fitsync/internal/rpc"
	grpcserver "github.com/and161185/fitsync/internal/server/grpc"
	"github.com/and161185/fitsync/internal/service"
	"github.com/and161185/fitsync/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, runs migrations and serves gRPC plus the ops endpoint until signalled.
func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	if err := config.LoadDotEnv(".env"); err != nil {
		logger.Fatal("dotenv", zap.Error(err))
	}
	cfg, err := config.LoadServer(os.Args[1:])
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Server, logger *zap.Logger) error {
	if err := migrate.Up(ctx, cfg.DSN); err != nil {
		return err
	}

	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	// Change bus
	var bus changes.Bus = changes.NewMemoryBus()
	if cfg.RedisAddr != "" {
		client := red.NewClient(&red.Options{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		bus = changes.NewRedisBus(client, "", logger.Named("changes"))
		logger.Info("change bus: redis", zap.String("addr", cfg.RedisAddr))
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// Services
	schemas, err := service.NewSchemas()
	if err != nil {
		return err
	}
	tokens := token.NewIssuer([]byte(cfg.JWTKey), cfg.AccessTTL, nil)
	docSvc := service.NewDocumentService(postgres.NewDocumentRepo(db), bus, schemas, collector, logger.Named("documents"))
	idSvc := service.NewIdentityService(service.IdentityDeps{
		Accounts:     postgres.NewAccountRepo(db),
		Docs:         docSvc,
		Limiter:      limiter.NewPG(db.Pool, limiter.DefaultPolicy),
		Tokens:       tokens,
		ReauthWindow: cfg.ReauthWindow,
		Observer:     collector,
		Log:          logger.Named("identity"),
	})

	// gRPC server with interceptors
	peers := grpcserver.NewPeerLimiter(cfg.RateLimit, cfg.RateBurst)
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.MetricsUnary(collector),
			grpcserver.LoggingUnary(logger),
			grpcserver.RateLimitUnary(peers),
			grpcserver.AuthUnary(tokens, rpc.PublicMethods),
		),
		grpc.ChainStreamInterceptor(
			grpcserver.RecoverStream(logger),
			grpcserver.MetricsStream(collector),
			grpcserver.LoggingStream(logger),
			grpcserver.RateLimitStream(peers),
			grpcserver.AuthStream(tokens, rpc.PublicMethods),
		),
	}
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return err
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("serving without TLS")
	}
	s := grpc.NewServer(opts...)
	rpc.RegisterFitSyncServer(s, grpcserver.New(idSvc, docSvc, tokens, logger))

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	if cfg.Dev {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("tls", cfg.TLSCert != ""))
		return s.Serve(lis)
	})

	var ops *http.Server
	if cfg.OpsAddr != "" {
		ops = &http.Server{
			Addr:              cfg.OpsAddr,
			Handler:           metrics.Router(reg, db.Ping),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("ops listening", zap.String("addr", cfg.OpsAddr))
			if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	// Wait for stop
	g.Go(func() error {
		<-gctx.Done()
		hs.Shutdown()
		if ops != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ops.Shutdown(sctx)
		}
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
		return nil
	})

	return g.Wait()
}
