package app

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	libdb "openocpp/backend/libs/db"
	libredis "openocpp/backend/libs/redis"
	"openocpp/backend/libs/registry"
	"openocpp/backend/services/pm-server/internal/config"
	"openocpp/backend/services/pm-server/internal/meter"
)

// App wires the discovery responder and the ingest server.
type App struct {
	cfg       *config.Config
	db        *sql.DB
	redis     *goredis.Client
	discovery *meter.Discovery
	ingest    *meter.Ingest
	logger    *zap.Logger
}

// New builds the application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	client, err := libredis.NewRedisClient(ctx, libredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.redis = client

	store, err := a.registryStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	reg := registry.New(store)

	host := cfg.Ingest.AdvertiseHost
	if host == "" {
		host = meter.LocalIP()
	}

	a.discovery = meter.NewDiscovery(reg, host, cfg.Ingest.Port, logger)
	a.ingest = meter.NewIngest(reg, meter.NewRedisPublisher(client, cfg.Redis.Channel),
		secondsDuration(cfg.Ingest.ReadTimeoutSeconds), logger)
	return a, nil
}

func (a *App) registryStore(ctx context.Context) (registry.Store, error) {
	switch a.cfg.Registry.Backend {
	case config.BackendPostgres:
		sqlDB, err := libdb.NewPostgresDB(ctx, a.cfg.Registry.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.db = sqlDB
		store := registry.NewPostgresStore(sqlDB, a.cfg.Registry.DocumentName, a.logger)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendRedis:
		return registry.NewRedisStore(a.redis, a.cfg.Registry.RedisKey, a.logger), nil
	default:
		return registry.NewFileStore(a.cfg.Registry.File, a.logger), nil
	}
}

// Run serves discovery and ingest until ctx ends or either listener fails to start.
func (a *App) Run(ctx context.Context) error {
	packetConn, err := net.ListenPacket("udp", a.cfg.DiscoveryAddress())
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	ln, err := net.Listen("tcp", a.cfg.IngestAddress())
	if err != nil {
		packetConn.Close()
		return fmt.Errorf("listen tcp: %w", err)
	}

	a.logger.Info("starting power meter server",
		zap.String("udp_addr", packetConn.LocalAddr().String()),
		zap.String("tcp_addr", ln.Addr().String()),
		zap.String("channel", a.cfg.Redis.Channel))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.discovery.Serve(gctx, packetConn) })
	g.Go(func() error { return a.ingest.Serve(gctx, ln) })
	return g.Wait()
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}

func secondsDuration(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
