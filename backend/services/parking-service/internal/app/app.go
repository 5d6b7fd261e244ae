package app

import (
	"context"
	"database/sql"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libredis "parkwise/backend/libs/redis"
	"parkwise/backend/services/parking-service/internal/auth"
	"parkwise/backend/services/parking-service/internal/config"
	"parkwise/backend/services/parking-service/internal/db"
	httpserver "parkwise/backend/services/parking-service/internal/http"
	"parkwise/backend/services/parking-service/internal/http/handlers"
	"parkwise/backend/services/parking-service/internal/http/middleware"
	"parkwise/backend/services/parking-service/internal/metrics"
	"parkwise/backend/services/parking-service/internal/pricing"
	redisstore "parkwise/backend/services/parking-service/internal/redis"
	"parkwise/backend/services/parking-service/internal/repository"
	"parkwise/backend/services/parking-service/internal/service"
	"parkwise/backend/services/parking-service/internal/token"
	"parkwise/backend/services/parking-service/internal/ws"
)

// App wires parking service dependencies.
type App struct {
	server  *httpserver.Server
	manager *ws.Manager
	sweeper *service.OverdueSweeper
	db      *sql.DB
	redis   *goredis.Client
	cancel  context.CancelFunc
	logger  *zap.Logger
}

// New constructs application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := db.NewPostgres(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a := &App{db: sqlDB, logger: logger}

	if cfg.Database.Migrate {
		if err := db.Migrate(context.Background(), sqlDB); err != nil {
			a.Close()
			return nil, err
		}
	}

	codec, err := token.NewCodec(cfg.Token.Secret, cfg.Token.Freshness)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("token codec: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		a.Close()
		return nil, err
	}

	var (
		cache  service.ActiveSessionCache
		locker service.Locker
	)
	if cfg.RedisEnabled() {
		client, err := libredis.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		cache = redisstore.NewStore(client, cfg.Redis.ActiveSessionTTL)
		locker = libredis.NewLocker(client)
	} else {
		logger.Info("redis disabled, active session cache and sweep lease are off")
	}

	m := metrics.New()

	sessionRepo := repository.NewSessionRepository(sqlDB)
	chargeRepo := repository.NewChargeRepository(sqlDB)
	policyRepo := repository.NewRatePolicyRepository(sqlDB)
	invoiceRepo := repository.NewInvoiceRepository(sqlDB)
	registryRepo := repository.NewRegistryRepository(sqlDB)
	backlogRepo := repository.NewBacklogRepository(sqlDB)

	policyService := service.NewRatePolicyService(policyRepo, logger)
	gateService := service.NewGateService(service.GateDeps{
		Tokens:     codec,
		Sessions:   sessionRepo,
		Registry:   registryRepo,
		Policies:   policyService,
		Calculator: pricing.NewCalculator(cfg.PricingOptions()),
		Backlog:    backlogRepo,
		Cache:      cache,
		Metrics:    m,
		Logger:     logger,
	})
	invoiceService := service.NewInvoiceService(chargeRepo, invoiceRepo, service.InvoiceOptions{
		Location:             loc,
		OverdueGrace:         cfg.Billing.OverdueGrace,
		OverdueSurchargeRate: cfg.Billing.OverdueSurchargeRate,
	}, m, logger)
	a.sweeper = service.NewOverdueSweeper(invoiceService, locker, cfg.Billing.SweepInterval, m, logger)

	baseCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.manager = ws.NewManager(cfg.WebSocket.PingInterval, m)
	wsServer := ws.NewServer(baseCtx, a.manager, ws.NewGateProcessor(gateService, logger), func(ctx context.Context) string {
		agentID, _ := middleware.AgentIDFromContext(ctx)
		return agentID
	}, cfg.WebSocket.WriteTimeout, logger)

	gateHandler := handlers.NewGateHandler(gateService, logger)
	policyHandler := handlers.NewRatePolicyHandler(policyService, logger)
	invoiceHandler := handlers.NewInvoiceHandler(invoiceService, logger)

	routes := httpserver.Routes{
		Health:          handlers.NewHealthHandler(sqlDB),
		Metrics:         m.Handler(),
		GateEntry:       gateHandler.Entry,
		GateExit:        gateHandler.Exit,
		GateWS:          wsServer.HandleWS,
		ActiveSession:   gateHandler.ActiveSession,
		Sessions:        gateHandler.Sessions,
		Charges:         invoiceHandler.Charges,
		ListPolicies:    policyHandler.List,
		CreatePolicy:    policyHandler.Create,
		UpdatePolicy:    policyHandler.Update,
		Invoices:        invoiceHandler.Invoices,
		GenerateInvoice: invoiceHandler.Generate,
		RecordPayment:   invoiceHandler.Pay,
		Backlog:         handlers.NewBacklogHandler(backlogRepo, logger),
	}

	tokens := auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.TTL)
	router := httpserver.NewRouter(routes, middleware.Auth(tokens))
	a.server = httpserver.NewServer(cfg.HTTPAddress(), router, logger,
		middleware.Recover(logger),
		middleware.Logging(logger),
	)
	return a, nil
}

// Run starts background jobs and the HTTP server.
func (a *App) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		a.cancel()
	}()
	go a.manager.Start(ctx)
	go a.sweeper.RunForever(ctx)

	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
