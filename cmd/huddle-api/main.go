package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/Alexander-D-Karpov/huddle/internal/audit"
	"github.com/Alexander-D-Karpov/huddle/internal/auth/interceptor"
	"github.com/Alexander-D-Karpov/huddle/internal/auth/jwt"
	"github.com/Alexander-D-Karpov/huddle/internal/chat"
	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/Alexander-D-Karpov/huddle/internal/common/logging"
	"github.com/Alexander-D-Karpov/huddle/internal/common/netinfo"
	"github.com/Alexander-D-Karpov/huddle/internal/common/pagination"
	"github.com/Alexander-D-Karpov/huddle/internal/events"
	"github.com/Alexander-D-Karpov/huddle/internal/gateway"
	"github.com/Alexander-D-Karpov/huddle/internal/infra"
	"github.com/Alexander-D-Karpov/huddle/internal/infra/cache"
	"github.com/Alexander-D-Karpov/huddle/internal/media"
	"github.com/Alexander-D-Karpov/huddle/internal/messages"
	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
	"github.com/Alexander-D-Karpov/huddle/internal/middleware"
	"github.com/Alexander-D-Karpov/huddle/internal/observability"
	"github.com/Alexander-D-Karpov/huddle/internal/ratelimit"
	"github.com/Alexander-D-Karpov/huddle/internal/stream"
	"github.com/Alexander-D-Karpov/huddle/internal/version"
)

const healthService = "huddle.v1.Chat"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.Init(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting huddle-api",
		zap.String("version", version.String()),
		zap.String("store", cfg.Store.Driver),
		zap.Int("http_port", cfg.Server.Port),
		zap.Int("grpc_port", cfg.Server.GRPCPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(logger)
	healthChecker := observability.NewHealthChecker(logger, version.String())

	gen := infra.NewSnowflakeGenerator(cfg.Server.WorkerID)
	store, closeStore, err := openStore(ctx, cfg, gen, metrics, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	healthChecker.RegisterCheck("store", observability.PingCheck(store.Ping, false))

	var cacheClient *cache.Cache
	if cfg.Redis.Enabled {
		cacheClient, err = cache.New(cfg.Redis)
		if err != nil {
			logger.Warn("failed to connect to Redis, continuing without cache", zap.Error(err))
			cacheClient = nil
		} else {
			defer func() {
				if err := cacheClient.Close(); err != nil {
					logger.Error("failed to close cache", zap.Error(err))
				}
			}()
			logger.Info("connected to Redis")
			healthChecker.RegisterCheck("redis", observability.PingCheck(cacheClient.Ping, true))
		}
	}

	hub := events.NewHub(cfg.Hub, logger, metrics)
	dispatcher := events.NewDispatcher(store, hub, cfg.Outbox, logger)
	dispatcher.SetObserver(metrics)
	metrics.RegisterBreaker("outbox", func() int { return int(dispatcher.BreakerState()) })

	host := media.New(cfg.Media)
	if remote, ok := host.(*media.RemoteHost); ok {
		metrics.RegisterBreaker("media", func() int { return int(remote.BreakerState()) })
		logger.Info("media hosting enabled", zap.String("service_url", cfg.Media.ServiceURL))
	}
	enricher := chat.NewEnricher(store, host, cfg.Media.Timeout, logger)
	enricher.SetObserver(metrics)

	limits := pagination.Limits{Default: cfg.Pagination.DefaultLimit, Max: cfg.Pagination.MaxLimit}
	opts := []chat.Option{
		chat.WithEnricher(enricher),
		chat.WithLimits(limits),
	}
	if cacheClient != nil {
		head := chat.NewRedisHeadCache(cacheClient, cache.NewMetrics(), cfg.Redis.HeadTTL)
		metrics.RegisterCacheMetrics("head_page", head.Metrics())
		opts = append(opts, chat.WithHeadCache(head))
		warmHeadPage(ctx, head, cacheClient, store, limits.Default, logger)
	}
	chatService := chat.NewService(store, dispatcher, opts...)
	chatHandler := chat.NewHandler(chatService)
	chatHandler.SetAudit(audit.NewLogger(logger))

	jwtManager := jwt.NewManager(cfg.Auth.JWTSecret)
	authInterceptor := interceptor.NewAuthInterceptor(jwtManager, cfg.Auth.CookieName, cfg.Auth.Disabled, middleware.WriteError)
	if cfg.Auth.Disabled {
		logger.Warn("authentication disabled")
	}

	rateLimiter := ratelimit.NewLimiter(cacheClient, cfg.RateLimit)
	defer rateLimiter.Close()
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled", zap.Bool("shared", cacheClient != nil))
	}

	httpGateway := gateway.New(cfg.Server, gateway.Handlers{
		Chat:      chatHandler,
		Stream:    stream.NewHandler(hub, cfg.Hub, cfg.Server.AllowedOrigins),
		Auth:      authInterceptor,
		RateLimit: ratelimit.NewInterceptor(rateLimiter, middleware.WriteError),
		Metrics:   metrics,
	}, logger)

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			middleware.RecoveryInterceptor(logger),
			metrics.UnaryServerInterceptor(),
		),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("create listener: %w", err)
	}

	advertised := netinfo.Advertise(cfg.Server.Host, cfg.Server.Port)
	logger.Info("serving",
		zap.String("messages", advertised.URL("http", "/messages")),
		zap.String("socket", advertised.URL("ws", "/ws")),
		zap.String("grpc", listener.Addr().String()),
	)

	// The dispatcher outlives the listeners so that writes accepted while
	// draining, and enrichment results, are still relayed.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		_ = dispatcher.Run(dispatchCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpGateway.Start(gctx, cfg.Server.Port); err != nil {
			return fmt.Errorf("http gateway: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := metrics.Start(gctx, cfg.Server.MetricsPort); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := healthChecker.Start(gctx, cfg.Server.HealthPort); err != nil {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		healthChecker.SyncGRPC(gctx, healthServer, healthService, 10*time.Second)
		return nil
	})
	g.Go(func() error {
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve grpc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		return nil
	})

	<-gctx.Done()
	if ctx.Err() != nil {
		logger.Info("received shutdown signal")
	}
	logger.Info("shutting down gracefully...")

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := enricher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("enrichment did not finish", zap.Error(err))
	}
	if n, err := dispatcher.DispatchPending(shutdownCtx); err != nil {
		logger.Warn("final outbox drain failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("relayed pending events", zap.Int("count", n))
	}
	stopDispatch()
	<-dispatchDone

	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Warn("hub shutdown", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return runErr
}

func warmHeadPage(ctx context.Context, head *chat.RedisHeadCache, c *cache.Cache, store messages.Store, limit int, logger *zap.Logger) {
	entry, err := head.WarmEntry(ctx, limit, func(ctx context.Context) ([]*messaging.Message, error) {
		return store.Page(ctx, nil, limit)
	})
	if err != nil {
		logger.Warn("skipping head page warmup", zap.Error(err))
		return
	}
	if n := cache.NewWarmer(c, logger).Warm(ctx, entry); n > 0 {
		logger.Debug("head page warmed", zap.Int("limit", limit))
	}
}
