package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chargebridge/internal/cfos"
	"chargebridge/internal/charging"
	"chargebridge/internal/cobot"
	"chargebridge/internal/config"
	httpserver "chargebridge/internal/http"
	"chargebridge/internal/http/handlers"
	"chargebridge/internal/http/middleware"
	"chargebridge/internal/metrics"
	"chargebridge/internal/monitor"
	"chargebridge/internal/seal"
	"chargebridge/internal/session"
	"chargebridge/internal/storage"
	"chargebridge/internal/ws"
)

// Status snapshots are pushed to dashboards this often.
const statusPushInterval = 5 * time.Second

// App wires the application dependency graph.
type App struct {
	server   *httpserver.Server
	monitor  *monitor.Monitor
	hub      *ws.Hub
	kv       storage.KeyValue
	pushFeed ws.StatusFetcher
	logger   *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	sealer, err := seal.New(cfg.Auth.SealPassword)
	if err != nil {
		return nil, err
	}

	kv, err := storage.Open(cfg.Storage.URI, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	settingsStore := storage.NewSettingsStore(kv)
	tokenStore := storage.NewTokenStore(kv)

	gateway, err := cfos.New(cfg.CFOS.BaseURL, cfg.CFOS.Username, cfg.CFOS.Password, cfg.CFOS.RFIDID, logger)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("cfos client: %w", err)
	}
	ledger := cobot.New(cfg.Cobot.ClientID, cfg.Cobot.ClientSecret, logger)

	queries := session.NewQueryEngine(ledger, logger)
	appMetrics := metrics.New()
	engine := charging.New(gateway, ledger, queries, appMetrics, logger)
	sweep := monitor.New(settingsStore, queries, gateway, engine, appMetrics, cfg.Monitor.Interval, logger)

	auth := middleware.NewAuthenticator(ledger, sealer, settingsStore,
		cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.UserDetailsTTL, logger)

	hub := ws.NewHub(logger)
	chargerHandlers := handlers.NewChargerHandlers(gateway, queries, engine, logger)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		ChargerHandlers:  chargerHandlers,
		HistoryHandlers:  handlers.NewHistoryHandlers(queries, logger),
		SettingsHandlers: handlers.NewSettingsHandlers(settingsStore, ledger, logger),
		OAuthHandlers:    handlers.NewOAuthHandlers(ledger, sealer, auth, tokenStore, settingsStore, cfg.HTTP.BaseURL, logger),
		StatusSocket:     handlers.StatusSocket(hub),
		MetricsHandler:   appMetrics.Handler(),
		HealthHandler:    handlers.NewHealthHandler(),
	}, auth.Middleware)

	server := httpserver.NewServer(
		cfg.HTTPAddress(),
		router,
		logger,
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
	)

	pushFeed := func(ctx context.Context, spaceID string) (interface{}, error) {
		settings, err := settingsStore.Get(ctx, spaceID)
		if err != nil {
			return nil, err
		}
		if settings == nil {
			return nil, fmt.Errorf("space %s is not installed", spaceID)
		}
		return chargerHandlers.CombinedStatus(ctx, settings)
	}

	return &App{
		server:   server,
		monitor:  sweep,
		hub:      hub,
		kv:       kv,
		pushFeed: pushFeed,
		logger:   logger,
	}, nil
}

// Run starts the sweep, the status push loop and the HTTP server, and blocks
// until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.monitor.Start()
	defer a.monitor.Stop()

	go a.hub.Run(ctx, statusPushInterval, a.pushFeed)

	if err := a.server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases storage resources.
func (a *App) Close() {
	if err := a.kv.Close(); err != nil {
		a.logger.Warn("storage close failed", zap.Error(err))
	}
}
