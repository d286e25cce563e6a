package app

import (
	"context"
	"database/sql"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libdb "openocpp/backend/libs/db"
	libredis "openocpp/backend/libs/redis"
	"openocpp/backend/libs/registry"
	"openocpp/backend/services/ocpp-server/internal/auth"
	"openocpp/backend/services/ocpp-server/internal/bridge"
	"openocpp/backend/services/ocpp-server/internal/config"
	"openocpp/backend/services/ocpp-server/internal/handlers"
	httpserver "openocpp/backend/services/ocpp-server/internal/http"
	httphandlers "openocpp/backend/services/ocpp-server/internal/http/handlers"
	"openocpp/backend/services/ocpp-server/internal/http/middleware"
	"openocpp/backend/services/ocpp-server/internal/metrics"
	"openocpp/backend/services/ocpp-server/internal/ocpp"
	"openocpp/backend/services/ocpp-server/internal/ocpp/protocol"
	"openocpp/backend/services/ocpp-server/internal/repository"
	"openocpp/backend/services/ocpp-server/internal/service"
	"openocpp/backend/services/ocpp-server/internal/ws"
)

// App wires all dependencies for the OCPP server.
type App struct {
	httpServer *httpserver.Server
	db         *sql.DB
	redis      *goredis.Client
	manager    *ws.Manager
	logger     *zap.Logger
}

// New builds the application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}

	if cfg.NeedsPostgres() {
		sqlDB, err := libdb.NewPostgresDB(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.db = sqlDB
	}

	store, err := a.registryStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	reg := registry.New(store)

	var logRepo ocpp.OCPPLogRepository
	if cfg.Database.Journal {
		journal := repository.NewOCPPLogRepository(a.db)
		if err := journal.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, err
		}
		logRepo = journal
	}

	promRegistry := metrics.NewRegistry()
	appMetrics := metrics.NewAppMetrics(promRegistry)

	manager := ws.NewManager(ws.ManagerConfig{
		PingInterval:       cfg.PingInterval(),
		HeartbeatInterval:  cfg.HeartbeatInterval(),
		HeartbeatOverrides: cfg.HeartbeatOverrides(),
	}, appMetrics, logger)
	a.manager = manager

	b := bridge.New(manager, bridge.Config{
		Timeout:  cfg.BridgeTimeout(),
		VendorID: cfg.Bridge.VendorID,
	}, appMetrics, logger)
	manager.Subscribe(b)

	clock := handlers.NewClock()
	stationState := service.NewStationState()

	router := ocpp.NewRouter()
	router.Register(protocol.ActionBootNotification, handlers.NewBootNotificationHandler(reg, manager, stationState, clock, logger))
	router.Register(protocol.ActionHeartbeat, handlers.NewHeartbeatHandler(stationState, clock))
	router.Register(protocol.ActionAuthorize, handlers.NewAuthorizeHandler(reg, b, clock, logger))
	router.Register(protocol.ActionStatusNotification, handlers.NewStatusNotificationHandler(stationState, clock, logger))
	router.Register(protocol.ActionDataTransfer, handlers.NewDataTransferHandler(logger))

	processor := ocpp.NewProcessor(ocpp.NewParser(), router, b, logRepo, appMetrics, logger)

	wsServer := ws.NewServer(manager, processor, reg, ws.ServerConfig{
		WriteTimeout:       cfg.WriteTimeout(),
		ReadTimeout:        cfg.ReadTimeout(),
		RejectUnregistered: cfg.OCPP.RejectUnregistered,
		RatePerSecond:      cfg.WebSocket.RateLimitPerSecond,
		RateBurst:          cfg.WebSocket.RateLimitBurst,
	}, logger)

	deps := httpserver.RouterDeps{
		SendHandler:      httphandlers.NewSendHandler(b, cfg.Bridge.AuthorizeCarried, logger),
		StationsHandlers: httphandlers.NewStationsHandlers(reg, manager, stationState, b, logger),
		CardsHandler:     httphandlers.NewCardsHandler(b, reg, cfg.Registry.DefaultExpiryDays, logger),
		HealthHandler:    httphandlers.NewHealthHandler(manager),
		Metrics:          metrics.Handler(promRegistry),
		StationEndpoint:  wsServer.HandleWS,
	}

	var validator middleware.TokenValidator
	if cfg.AdminAuthEnabled() {
		tokens := auth.NewTokenService(cfg.Admin.JWTSecret, cfg.TokenTTL())
		admin := auth.NewAdmin(cfg.Admin.Username, cfg.Admin.PasswordHash, auth.NewBcryptHasher(0), tokens)
		deps.Login = httphandlers.NewLoginHandler(admin)
		validator = tokens
	} else {
		logger.Warn("admin auth disabled, admin routes are open")
	}

	handler := httpserver.NewRouter(deps, middleware.AuthMiddleware(validator))
	a.httpServer = httpserver.NewServer(cfg.HTTPAddress(), handler, cfg.HTTPWriteTimeout(), logger,
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
	)
	if cfg.HTTP.TLSCertFile != "" {
		a.httpServer.EnableTLS(cfg.HTTP.TLSCertFile, cfg.HTTP.TLSKeyFile)
	}

	return a, nil
}

func (a *App) registryStore(ctx context.Context, cfg *config.Config) (registry.Store, error) {
	switch cfg.Registry.Backend {
	case config.BackendPostgres:
		store := registry.NewPostgresStore(a.db, cfg.Registry.DocumentName, a.logger)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendRedis:
		client, err := libredis.NewRedisClient(ctx, libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		return registry.NewRedisStore(client, cfg.Registry.RedisKey, a.logger), nil
	default:
		return registry.NewFileStore(cfg.Registry.File, a.logger), nil
	}
}

// Run starts the ping loop and HTTP server and blocks until ctx ends or the server fails.
func (a *App) Run(ctx context.Context) error {
	go a.manager.Start(ctx)
	return a.httpServer.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.manager != nil {
		a.manager.CloseAll()
	}
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
