// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
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
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/settleline/recon/internal/adjustment"
	"github.com/settleline/recon/internal/admin"
	"github.com/settleline/recon/internal/alerts"
	"github.com/settleline/recon/internal/config"
	"github.com/settleline/recon/internal/exception"
	"github.com/settleline/recon/internal/fx"
	"github.com/settleline/recon/internal/idempotency"
	"github.com/settleline/recon/internal/ledger"
	"github.com/settleline/recon/internal/logging"
	"github.com/settleline/recon/internal/matching"
	"github.com/settleline/recon/internal/metrics"
	"github.com/settleline/recon/internal/ratelimit"
	"github.com/settleline/recon/internal/rules"
	"github.com/settleline/recon/internal/security"
	"github.com/settleline/recon/internal/tenant"
	"github.com/settleline/recon/internal/transaction"
	"github.com/settleline/recon/internal/validation"
	"github.com/settleline/recon/internal/watcher"
	"github.com/settleline/recon/internal/webhooks"
	"github.com/settleline/recon/internal/worker"
)

// Server wraps the HTTP server and dependencies.
type Server struct {
	cfg *config.Config

	tenants     tenant.Store
	txns        transaction.Store
	matches     matching.Store
	exceptions  exception.Store
	ruleStore   rules.Store
	adjustments adjustment.Store
	entries     ledger.Store
	fxRates     fx.Store
	guard       idempotency.Guard
	webhookSubs webhooks.Store

	ruleEngine  *rules.Engine
	excManager  *exception.Manager
	matchEngine *matching.Engine
	reprocessor *matching.Reprocessor
	poster      *ledger.Poster
	workflow    *adjustment.Workflow
	pipeline    *worker.Pipeline
	consumer    *worker.Consumer
	alertHub    *alerts.Hub
	escalator   *watcher.Watcher

	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Storage: Postgres when DATABASE_URL is set, otherwise in-memory.
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.tenants = tenant.NewPostgresStore(db)
		s.txns = transaction.NewPostgresStore(db)
		s.matches = matching.NewPostgresStore(db)
		s.exceptions = exception.NewPostgresStore(db)
		s.ruleStore = rules.NewPostgresStore(db)
		s.adjustments = adjustment.NewPostgresStore(db)
		s.entries = ledger.NewPostgresStore(db)
		s.fxRates = fx.NewPostgresStore(db)
		s.guard = idempotency.NewPostgresGuard(db)
		s.webhookSubs = webhooks.NewPostgresStore(db)
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		memTxns := transaction.NewMemoryStore()
		s.tenants = tenant.NewMemoryStore()
		s.txns = memTxns
		s.matches = matching.NewMemoryStore()
		s.exceptions = exception.NewMemoryStore()
		s.ruleStore = rules.NewMemoryStore()
		s.adjustments = adjustment.NewMemoryStore()
		s.entries = ledger.NewMemoryStore(memTxns)
		s.fxRates = fx.NewMemoryStore()
		s.guard = idempotency.NewMemoryGuard()
		s.webhookSubs = webhooks.NewMemoryStore()
	}

	// Alert routing: every event goes to the WebSocket hub and to any
	// webhook subscriptions the tenant has registered.
	s.alertHub = alerts.NewHub(s.logger)
	router := alerts.NewMultiRouter(s.alertHub, webhooks.NewDispatcher(s.webhookSubs))

	// Domain engines, leaves first.
	s.ruleEngine = rules.NewEngine(s.ruleStore)
	s.excManager = exception.NewManager(s.exceptions, s.ruleEngine, router)
	converter := fx.NewConverter(s.fxRates)
	s.matchEngine = matching.NewEngine(s.txns, s.matches, converter, s.excManager, s.ruleEngine, router)
	s.reprocessor = matching.NewReprocessor(s.matchEngine, s.txns, cfg.ReprocessBatchSize)
	s.poster = ledger.NewPoster(s.entries)
	s.workflow = adjustment.NewWorkflow(s.adjustments, s.txns, s.matchEngine, s.poster, s.excManager, router)
	s.pipeline = worker.NewPipeline(s.guard, s.txns, s.tenants, s.matchEngine, s.reprocessor, s.poster)
	s.escalator = watcher.New(watcher.DefaultConfig(), s.tenants, s.exceptions, router, s.logger)

	if cfg.KafkaBrokers != "" {
		s.consumer = worker.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaConsumerGroup, s.pipeline)
		s.logger.Info("kafka feed enabled", "topic", cfg.KafkaTopic, "group", cfg.KafkaConsumerGroup)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// identityMiddleware resolves the caller's tenant and admin standing.
// Authentication itself is a gateway concern; the headers here are trusted
// the way the ingestion collaborator's signatures are — upstream. In
// development mode with no admin secret configured, every caller is admin.
func (s *Server) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret := c.GetHeader("X-Admin-Secret"); secret != "" && s.cfg.AdminSecret != "" {
			if subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.AdminSecret)) == 1 {
				c.Set("isAdmin", true)
			}
		} else if s.cfg.AdminSecret == "" && s.cfg.IsDevelopment() {
			c.Set("isAdmin", true)
		}

		if tenantID := c.GetHeader("X-Tenant-ID"); validation.IsValidID(tenantID) {
			c.Set("tenantID", tenantID)
		}
		c.Next()
	}
}

// requireAdmin guards admin-only routes such as tenant creation.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool("isAdmin") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "admin access required",
			})
			return
		}
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

		// Log level based on status code
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

	// API info
	s.router.GET("/api", s.infoHandler)

	// WebSocket alert feed. Tenant scoping comes from the same identity
	// headers as the REST surface; admins may omit the tenant and see all.
	s.router.GET("/ws/alerts", s.identityMiddleware(), func(c *gin.Context) {
		tenantID := c.GetString("tenantID")
		if tenantID == "" && !c.GetBool("isAdmin") {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "tenant identity required"})
			return
		}
		s.alertHub.HandleWebSocket(c.Writer, c.Request, tenantID)
	})

	// V1 API group
	v1 := s.router.Group("/v1")
	v1.Use(validation.TenantParamMiddleware())
	v1.Use(s.identityMiddleware())

	tenantHandler := tenant.NewHandler(s.tenants)
	tenantHandler.RegisterProtectedRoutes(v1)

	adminGroup := v1.Group("")
	adminGroup.Use(s.requireAdmin())
	tenantHandler.RegisterAdminRoutes(adminGroup)
	admin.NewHandler().
		WithTenantDirectory(s.tenants).
		WithFeedStats(s.alertHub).
		WithSweeper(s.escalator).
		RegisterRoutes(adminGroup)


	worker.NewHandler(s.pipeline).RegisterRoutes(v1)
	transaction.NewHandler(s.txns).RegisterRoutes(v1)
	matching.NewHandler(s.matches, s.reprocessor, s.tenants).RegisterRoutes(v1)
	exception.NewHandler(s.excManager, s.exceptions).RegisterRoutes(v1)
	rules.NewHandler(s.ruleStore, s.ruleEngine).RegisterRoutes(v1)
	adjustment.NewHandler(s.workflow, s.adjustments, s.tenants).RegisterRoutes(v1)
	ledger.NewHandler(s.entries).RegisterRoutes(v1)
	fx.NewHandler(s.fxRates).RegisterRoutes(v1)
	webhooks.NewHandler(s.webhookSubs).RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "in-memory"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v == "unhealthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
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
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Settleline",
		"description": "PSP reconciliation matching and ledger posting engine",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
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
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start alert hub
	go s.alertHub.Run(runCtx)

	// Start the stale-exception escalator
	s.escalator.Start(runCtx)

	// Start kafka consumer
	if s.consumer != nil {
		go func() {
			if err := s.consumer.Run(runCtx); err != nil {
				s.logger.Error("kafka consumer stopped", "error", err)
			}
		}()
	}

	// DB pool stats into Prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
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

	// Cancel the context for all background goroutines (hub, consumer)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Stop the stale-exception escalator and wait for an in-flight sweep
	if s.escalator != nil {
		s.escalator.Stop()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(b)
}
