package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/charlykso/vibe-tribe-backend-sub004/internal/adapter/cache"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/audit"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/config"
	httptransport "github.com/charlykso/vibe-tribe-backend-sub004/internal/http"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/http/handler"
	httpmiddleware "github.com/charlykso/vibe-tribe-backend-sub004/internal/http/middleware"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/jwt"
	apimiddleware "github.com/charlykso/vibe-tribe-backend-sub004/internal/middleware"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/platform"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/repository"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/scheduler"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/server"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/service/connect"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/statestore"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/statetoken"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newLinkedAccountRepository,
			newAuditRepository,
			newRedisClient,
			newStateStore,
			newStateTokenIssuer,
			newPlatformFactory,
			newAuditSink,
			newScheduler,
			newConnectService,
			newSessionVerifier,
			newRateLimiter,
			newAuthMiddleware,
			handler.NewConnectHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, rehydrateScheduler, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newLinkedAccountRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.LinkedAccountRepository {
	return repository.NewPostgresLinkedAccountRepo(pool, node)
}

func newAuditRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.AuditRepository {
	return repository.NewPostgresAuditRepo(pool, node)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newStateStore(client redis.UniversalClient) statestore.Store {
	return cacheadapter.NewRedisStateStore(client)
}

func newStateTokenIssuer(cfg config.Config) (*statetoken.Issuer, error) {
	return statetoken.NewIssuer([]byte(cfg.StateSigningKey), cfg.StateTTL)
}

func newPlatformFactory(cfg config.Config) *platform.Factory {
	return platform.NewFactory(cfg)
}

func newAuditSink(lc fx.Lifecycle, repo repository.AuditRepository, logger *zap.Logger) audit.Sink {
	sink := audit.NewAsyncSink(repo, logger)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			sink.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return sink.Stop(ctx)
		},
	})
	return sink
}

func newScheduler(lc fx.Lifecycle, accounts repository.LinkedAccountRepository, factory *platform.Factory, sink audit.Sink, cfg config.Config, logger *zap.Logger) *scheduler.Scheduler {
	s := scheduler.New(accounts, factory, sink, logger, cfg.RefreshLeadTime)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			s.Close()
			return nil
		},
	})
	return s
}

func newConnectService(
	tokens *statetoken.Issuer,
	states statestore.Store,
	factory *platform.Factory,
	accounts repository.LinkedAccountRepository,
	timers *scheduler.Scheduler,
	sink audit.Sink,
	cfg config.Config,
	logger *zap.Logger,
) *connect.Service {
	return connect.New(tokens, states, factory, accounts, timers, sink, cfg.StateTTL, logger)
}

func newSessionVerifier(cfg config.Config) (*jwt.Verifier, error) {
	return jwt.NewVerifier([]byte(cfg.SessionJWTSecret))
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newAuthMiddleware(verifier *jwt.Verifier) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Verifier: verifier}
}

func rehydrateScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Rehydrate(ctx)
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
