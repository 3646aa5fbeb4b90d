package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gateway/internal/api"
	"gateway/internal/audit"
	"gateway/internal/auth"
	"gateway/internal/config"
	"gateway/internal/hub"
	"gateway/internal/logging"
	"gateway/internal/metrics"
	"gateway/internal/ratelimit"
	"gateway/internal/router"
	"gateway/internal/websocket"
	dbconfig "gateway/pkg/database"
	"gateway/pkg/interfaces"
	"gateway/pkg/types"
)

const jwksFetchAttempts = 5

// Application coordinates all gateway components.
// Component initialization follows strict dependency order:
// Logger → Metrics → Audit → Limiter → Verifier → Hubs → Router → API → HTTP
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	audit      interfaces.AuditStore
	limiter    *ratelimit.Limiter
	jwks       *keyfunc.JWKS
	verifier   *auth.Verifier
	hubs       *hub.Registry
	router     *router.Router
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewApplication creates a new application instance with all components initialized.
// A nil logger is built from the log section of cfg.
func NewApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Logger
	if logger == nil {
		built, err := logging.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, err
		}
		logger = built
	}

	app := &Application{config: cfg, logger: logger}
	ready := false
	defer func() {
		// Release whatever was built before the failing step
		if !ready {
			_ = app.closeComponents()
		}
	}()

	// STEP 2: Metrics on a process-owned registry
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.metrics = metrics.New(app.registry)

	// STEP 3: Audit journal
	app.audit = audit.Nop{}
	if cfg.Audit.Enabled {
		journal, err := audit.Open(dbconfig.DefaultConfig(cfg.Audit.Path), audit.Options{
			BufferSize: cfg.Audit.BufferSize,
			Logger:     logger,
			Metrics:    app.metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open audit journal: %w", err)
		}
		app.audit = journal
	}

	// STEP 4: Rate limiter
	var store ratelimit.Store
	switch cfg.RateLimit.Store {
	case config.StoreRedis:
		store = ratelimit.DialRedisStore(cfg.RateLimit.RedisAddr)
	default:
		store = ratelimit.NewMemoryStore()
	}
	app.limiter = ratelimit.New(store, ratelimit.Options{
		FailOpen: cfg.RateLimit.FailOpen,
		Logger:   logger.Named("ratelimit"),
		Metrics:  app.metrics,
	})

	// STEP 5: Credential verifiers
	if err := app.buildVerifier(ctx); err != nil {
		return nil, err
	}

	// STEP 6: Room registry
	app.hubs = hub.NewRegistry(hub.Options{
		QueueSize: cfg.WebSocket.BufferSize,
		Logger:    logger.Named("hub"),
		Metrics:   app.metrics,
		Recorder:  app.audit,
	})

	// STEP 7: Reverse proxy router
	table, err := router.NewTable(cfg.Routes)
	if err != nil {
		return nil, fmt.Errorf("failed to build routing table: %w", err)
	}
	app.router = router.New(router.Options{
		Table:      table,
		Verifier:   app.verifier,
		CookieName: cfg.Auth.CookieName,
		Transport:  router.NewTransport(cfg.Proxy.DialTimeout, cfg.Proxy.ResponseHeaderTimeout),
		Logger:     logger.Named("router"),
		Metrics:    app.metrics,
		Recorder:   app.audit,
	})

	// STEP 8: Realtime upgrade handlers
	origins := api.NewOriginPolicy(cfg.CORS.AllowedOrigins)
	realtime := make(map[string]http.Handler, 2)
	for path, mount := range map[string]struct {
		ns        types.Namespace
		roomParam string
	}{
		"/ws/whiteboards": {types.NamespaceCanvas, "boardId"},
		"/ws/chat":        {types.NamespaceChat, "channelId"},
	} {
		handler, err := app.realtimeHandler(mount.ns, mount.roomParam, origins)
		if err != nil {
			return nil, err
		}
		realtime[path] = handler
	}

	// STEP 9: Public HTTP surface
	upgrades, err := api.NewUpgradeThrottle(cfg.WebSocket.UpgradesPerMinute, cfg.WebSocket.UpgradeBurst)
	if err != nil {
		return nil, err
	}
	routePolicies := make([]api.RoutePolicy, 0, len(cfg.RateLimit.Routes))
	for _, p := range cfg.RateLimit.Routes {
		routePolicies = append(routePolicies, api.RoutePolicy{
			PathPrefix: p.PathPrefix,
			Policy:     app.limiter.Policy(p.Name, p.Window, p.MaxRequests),
		})
	}
	// Only a shared store can become unreachable
	var rateLimitStore api.HealthChecker
	if cfg.RateLimit.Store == config.StoreRedis {
		rateLimitStore = app.limiter
	}
	app.apiServer = api.NewServer(api.Options{
		Router:            app.router,
		Realtime:          realtime,
		APIPolicy:         app.limiter.Policy("api", cfg.RateLimit.Window, cfg.RateLimit.MaxRequests),
		RoutePolicies:     routePolicies,
		Upgrades:          upgrades,
		Verifier:          app.verifier,
		AuditSubjects:     cfg.Auth.AuditSubjects,
		Audit:             app.audit,
		RateLimitStore:    rateLimitStore,
		Hubs:              app.hubs,
		Gatherer:          app.registry,
		Origins:           origins,
		TrustProxyHeaders: cfg.HTTP.TrustProxyHeaders,
		Logger:            logger,
	})

	// STEP 10: HTTP server. WriteTimeout does not apply to hijacked WebSocket connections.
	app.httpServer = &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      app.apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		ErrorLog:     zap.NewStdLog(logger.Named("http")),
	}

	ready = true
	return app, nil
}

func (app *Application) buildVerifier(ctx context.Context) error {
	cfg := app.config.Auth
	jwtOpts := auth.JWTOptions{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
	}
	if cfg.JWKSURL != "" {
		jwks, err := auth.FetchJWKS(ctx, cfg.JWKSURL, jwksFetchAttempts, app.logger.Named("jwks"))
		if err != nil {
			return err
		}
		app.jwks = jwks
		jwtOpts.Keyfunc = jwks.Keyfunc
	}

	jwtVerifier, err := auth.NewJWTVerifier(jwtOpts)
	if err != nil {
		return fmt.Errorf("failed to build jwt verifier: %w", err)
	}

	var legacy interfaces.Verifier
	if secret := cfg.LegacySecretOrDefault(); secret != "" {
		legacy = auth.NewLegacyVerifier(secret, nil)
	}
	app.verifier = auth.NewVerifier(jwtVerifier, legacy, app.metrics)
	return nil
}

func (app *Application) realtimeHandler(ns types.Namespace, roomParam string, origins *api.OriginPolicy) (http.Handler, error) {
	h, ok := app.hubs.Hub(ns)
	if !ok {
		return nil, fmt.Errorf("%w: %s", hub.ErrUnknownNamespace, ns)
	}
	ws := app.config.WebSocket
	return websocket.NewHandler(websocket.HandlerOptions{
		Hub:            h,
		RoomParam:      roomParam,
		Verifier:       app.verifier.Legacy(),
		RequireAuth:    app.config.Auth.RequireRealtimeAuth,
		CheckOrigin:    origins.Allowed,
		PingInterval:   ws.PingInterval,
		PongWait:       ws.PongWait,
		WriteTimeout:   ws.WriteTimeout,
		BufferSize:     ws.BufferSize,
		MaxMessageSize: ws.MaxMessageSize,
		Logger:         app.logger.Named("websocket"),
		Recorder:       app.audit,
	}), nil
}

// Start binds the listener, starts background maintenance and serves in the background
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return errors.New("application already started")
	}

	// STEP 1: Bind first so address errors surface synchronously
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	// STEP 2: Expired bucket sweeper
	bgCtx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.limiter.RunSweeper(bgCtx, app.config.RateLimit.CleanupInterval)
	}()

	// STEP 3: Accept connections
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	app.logger.Info("gateway started",
		zap.String("addr", listener.Addr().String()),
		zap.Int("routes", len(app.config.Routes)),
		zap.String("rate_limit_store", app.config.RateLimit.Store),
		zap.Bool("audit", app.config.Audit.Enabled),
	)
	return nil
}

// Stop gracefully shuts down the application.
// Reverse dependency order: HTTP → Hubs → Limiter → Verifier keys → Audit
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down gateway")

	var err error
	// STEP 1: Stop accepting new connections and drain in-flight requests
	if shutdownErr := app.httpServer.Shutdown(ctx); shutdownErr != nil {
		err = multierr.Append(err, fmt.Errorf("HTTP server shutdown: %w", shutdownErr))
	}

	// STEP 2: Background work
	app.mu.Lock()
	if app.cancel != nil {
		app.cancel()
	}
	app.mu.Unlock()
	app.wg.Wait()

	// STEP 3: Components
	err = multierr.Append(err, app.closeComponents())

	if err != nil {
		app.logger.Error("gateway shutdown finished with errors", zap.Error(err))
	} else {
		app.logger.Info("gateway shutdown complete")
	}
	_ = app.logger.Sync()
	return err
}

// closeComponents releases everything NewApplication may have built
func (app *Application) closeComponents() error {
	var err error
	if app.hubs != nil {
		err = multierr.Append(err, app.hubs.Close())
	}
	if app.limiter != nil {
		err = multierr.Append(err, app.limiter.Close())
	}
	if app.jwks != nil {
		app.jwks.EndBackground()
	}
	if app.audit != nil {
		err = multierr.Append(err, app.audit.Close())
	}
	return err
}

// Handler returns the gateway's root HTTP handler
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Addr returns the bound address once started, otherwise the configured one
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
