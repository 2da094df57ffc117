// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/fraudpop/fraudpop/internal/actions"
	"github.com/fraudpop/fraudpop/internal/auth"
	"github.com/fraudpop/fraudpop/internal/config"
	"github.com/fraudpop/fraudpop/internal/health"
	"github.com/fraudpop/fraudpop/internal/logging"
	"github.com/fraudpop/fraudpop/internal/metafields"
	"github.com/fraudpop/fraudpop/internal/metrics"
	"github.com/fraudpop/fraudpop/internal/notify"
	"github.com/fraudpop/fraudpop/internal/projections"
	"github.com/fraudpop/fraudpop/internal/ratelimit"
	"github.com/fraudpop/fraudpop/internal/realtime"
	"github.com/fraudpop/fraudpop/internal/retry"
	"github.com/fraudpop/fraudpop/internal/risk"
	"github.com/fraudpop/fraudpop/internal/security"
	"github.com/fraudpop/fraudpop/internal/sessions"
	"github.com/fraudpop/fraudpop/internal/settings"
	"github.com/fraudpop/fraudpop/internal/shopify"
	"github.com/fraudpop/fraudpop/internal/syncutil"
	"github.com/fraudpop/fraudpop/internal/validation"
)

// Version is reported by /health and the tracer resource.
const Version = "0.3.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	sessions     sessions.Store
	settings     settings.Store
	platform     *shopify.Factory
	upserter     *metafields.Upserter
	actions      *actions.Runner
	bootstrapper *metafields.Bootstrapper
	decoder      *risk.Decoder
	projections  *projections.Service
	gate         *auth.Gate
	verifier     *auth.TokenVerifier
	notifier     *notify.Notifier
	realtimeHub  *realtime.Hub
	health       *health.Registry
	rateLimiter  *ratelimit.Limiter
	shopLocks    *syncutil.ShopLock
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	now          func() time.Time
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPlatform sets the platform client factory (tests point it at a fake).
func WithPlatform(f *shopify.Factory) Option {
	return func(s *Server) {
		s.platform = f
	}
}

// WithSessionStore sets the offline session store.
func WithSessionStore(store sessions.Store) Option {
	return func(s *Server) {
		s.sessions = store
	}
}

// WithSettingsStore sets the shop settings store.
func WithSettingsStore(store settings.Store) Option {
	return func(s *Server) {
		s.settings = store
	}
}

// WithNotifier sets the alert notifier.
func WithNotifier(n *notify.Notifier) Option {
	return func(s *Server) {
		s.notifier = n
	}
}

// WithClock sets the clock used for read windows and feedback dates.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if s.sessions == nil || s.settings == nil {
		if err := s.initStorage(ctx); err != nil {
			return nil, err
		}
	}

	if s.platform == nil {
		s.platform = shopify.NewFactory(cfg.ShopifyAPIVersion, cfg.ShopifyTimeout)
	}
	if s.notifier == nil {
		s.notifier = notify.New(s.logger)
	}

	if cfg.InternalSharedSecret == "" {
		s.logger.Warn("INTERNAL_SHARED_SECRET is empty; internal endpoints reject every caller")
	}

	s.decoder = risk.NewDecoder(risk.Verdict(cfg.UnknownVerdictPolicy))
	s.upserter = metafields.NewUpserter()
	s.actions = actions.NewRunner()
	s.bootstrapper = metafields.NewBootstrapper()
	s.projections = projections.New(s.decoder)
	s.gate = auth.NewGate(cfg.InternalSharedSecret)
	s.verifier = auth.NewTokenVerifier(cfg.ShopifyAPIKey, cfg.ShopifyAPISecret)
	s.realtimeHub = realtime.NewHub(s.logger)
	s.shopLocks = syncutil.NewShopLock(0)

	s.health = health.NewRegistry(2 * time.Second)
	if s.db != nil {
		s.health.Register("database", health.Ping("database", s.db.PingContext))
	}
	s.health.Register("platform", health.Breakers("platform", s.platform.Breaker().OpenKeys))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.router.HandleMethodNotAllowed = true
	// Order GIDs arrive percent-encoded in a single path segment.
	s.router.UseRawPath = true
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// initStorage picks Postgres when DATABASE_URL is set, otherwise memory.
// Stores supplied through options are kept.
func (s *Server) initStorage(ctx context.Context) error {
	if s.cfg.DatabaseURL == "" {
		if s.sessions == nil {
			s.sessions = sessions.NewMemoryStore()
		}
		if s.settings == nil {
			s.settings = settings.NewMemoryStore()
		}
		s.logger.Warn("using in-memory storage; offline sessions are lost on restart")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	policy := retry.Startup
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.logger.Warn("database not reachable, retrying", "attempt", attempt, "wait", wait, "error", err)
	}
	if err := retry.Do(ctx, policy, db.PingContext); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	s.db = db
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))

	if s.sessions == nil {
		store := sessions.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate session store", "error", err)
		}
		s.sessions = store
	}
	if s.settings == nil {
		store := settings.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate settings store", "error", err)
		}
		s.settings = store
	}
	return nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		exception(c, fmt.Sprint(recovered))
	}))

	s.router.Use(s.requestIDMiddleware())
	s.router.Use(security.HeadersMiddleware())

	origins := append([]string{}, security.FrameAncestors...)
	if s.cfg.AppURL != "" {
		origins = append(origins, s.cfg.AppURL)
	}
	s.router.Use(security.CORSMiddleware(origins))

	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.loggingMiddleware())

	s.router.NoMethod(methodNotAllowed)
	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": codeNotFound})
	})
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Server-to-server: external scorer and the OAuth collaborator
	internal := s.router.Group("", auth.RequireInternal(s.gate))
	internal.POST("/internal/metafields-set", s.metafieldsSetHandler)
	internal.POST("/api/metafields-set", s.metafieldsSetHandler)
	internal.POST("/internal/bootstrap", s.bootstrapHandler)
	internal.POST("/internal/orders/:id/risk", validation.OrderParamMiddleware(), s.ingestRiskHandler)
	internal.PUT("/internal/sessions/:shop", validation.ShopParamMiddleware(), s.putSessionHandler)
	internal.DELETE("/internal/sessions/:shop", validation.ShopParamMiddleware(), s.deleteSessionHandler)

	// Storefront app proxy
	rl := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rl.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rl)
	proxy := s.router.Group("/proxy/v1", s.rateLimiter.Middleware(ratelimit.ByShopAndIP))
	proxy.GET("/capture", s.captureAliveHandler)
	proxy.POST("/capture", s.captureHandler)

	// Embedded admin pages
	app := s.router.Group("/app", auth.RequireMerchant(s.verifier, s.sessions, s.initializeShop))
	app.GET("", s.dashboardHandler)
	app.GET("/alerts", s.alertsHandler)
	app.GET("/evidence/:id", s.evidenceHandler)
	app.GET("/orders/:id", s.orderHandler)
	app.POST("/orders/:id/feedback", validation.OrderParamMiddleware(), s.feedbackHandler)
	app.GET("/settings", s.settingsHandler)
	app.POST("/settings", s.saveSettingsHandler)
	app.GET("/ws", s.wsHandler)
}

// initializeShop declares the metafield definitions on a shop's first
// authenticated visit. Concurrent first visits bootstrap once.
func (s *Server) initializeShop(ctx context.Context, sess *sessions.Session) error {
	unlock, err := s.shopLocks.Lock(ctx, sess.Shop)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := s.sessions.Get(ctx, sess.Shop)
	if err != nil {
		return err
	}
	if current.MetafieldsInitialized {
		return nil
	}
	if _, err := s.bootstrapper.Run(ctx, s.platform.Client(current.Shop, current.AccessToken)); err != nil {
		return err
	}
	// Marked under the lock so a waiting request sees the flag.
	return s.sessions.MarkInitialized(ctx, current.Shop)
}

// clientFor returns a platform client for shop using its offline session.
func (s *Server) clientFor(ctx context.Context, shop string) (*shopify.Client, error) {
	sess, err := s.sessions.Get(ctx, shop)
	if err != nil {
		return nil, err
	}
	return s.platform.Client(sess.Shop, sess.AccessToken), nil
}

// merchantClient returns the platform client of the authenticated shop.
func (s *Server) merchantClient(c *gin.Context) (*shopify.Client, string, bool) {
	sess, ok := s.merchantSession(c)
	if !ok {
		return nil, "", false
	}
	return s.platform.Client(sess.Shop, sess.AccessToken), sess.Shop, true
}

func (s *Server) merchantSession(c *gin.Context) (*sessions.Session, bool) {
	sess, ok := auth.SessionFrom(c)
	if !ok {
		exception(c, "merchant session missing")
		return nil, false
	}
	return sess, true
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Realtime  map[string]any  `json:"realtime,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Realtime:  s.realtimeHub.Stats(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	healthy, checks := s.health.CheckAll(c.Request.Context())
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"api_version", s.cfg.ShopifyAPIVersion,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Let in-flight alert deliveries finish; each is bounded by its own timeout.
	s.notifier.Wait()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
