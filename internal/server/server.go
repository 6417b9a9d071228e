// Package server is the proxy's HTTP surface: the /v1 Messages passthrough,
// the monitor API over the observation store, the config API, and the
// embedded monitor page.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/browser"
	"github.com/sirupsen/logrus"

	"switchboard/internal/config"
	"switchboard/internal/logging"
	"switchboard/internal/obs"
	"switchboard/internal/protocol/token"
	"switchboard/internal/server/middleware"
	"switchboard/internal/store"
	"switchboard/internal/util"
)

// Server owns the gin engine and every collaborator behind it.
type Server struct {
	config     *config.Config
	store      *store.Store
	engine     *gin.Engine
	httpServer *http.Server
	watcher    *config.Watcher
	clientPool *ClientPool
	tokens     *token.Counter
	errorLog   *middleware.ErrorLog

	ring    *logging.Ring
	tracker *obs.Tracker

	// options
	openBrowser bool
	version     string

	startedAt time.Time
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithVersion sets the version string reported by GET /health.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithLogRing exposes the process log ring on GET /api/monitor/logs.
func WithLogRing(ring *logging.Ring) Option {
	return func(s *Server) {
		s.ring = ring
	}
}

// WithUsageTracker records per-request usage metrics.
func WithUsageTracker(tracker *obs.Tracker) Option {
	return func(s *Server) {
		s.tracker = tracker
	}
}

// WithOpenBrowser opens the monitor page once the port accepts connections.
func WithOpenBrowser(enabled bool) Option {
	return func(s *Server) {
		s.openBrowser = enabled
	}
}

// NewServer wires the observation store, middleware chain, routes, and the
// config watcher.
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:     cfg,
		engine:     gin.New(),
		clientPool: NewClientPool(),
		startedAt:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.store = store.New(store.Options{
		Capacity: cfg.GetStoreCapacity(),
		MaxAge:   cfg.GetRetention(),
	})

	counter, err := token.NewCounter()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token counter: %w", err)
	}
	s.tokens = counter

	errorLog, err := middleware.NewErrorLog(cfg.ErrorLogPath())
	if err != nil {
		return nil, err
	}
	s.errorLog = errorLog

	watcher, err := config.NewWatcher(cfg)
	if err != nil {
		logrus.WithError(err).Warn("config watcher unavailable, hot reload disabled")
	} else {
		watcher.AddCallback(s.applyConfig)
		s.watcher = watcher
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// Store exposes the observation store for the CLI and tests.
func (s *Server) Store() *store.Store {
	return s.store
}

// GetRouter exposes the gin engine for tests.
func (s *Server) GetRouter() *gin.Engine {
	return s.engine
}

// applyConfig applies the hot-reloadable subset of a fresh config. Routing
// mode, model mappings, base URLs and timeouts are read per request and need
// no action here.
func (s *Server) applyConfig(cfg *config.Config) {
	if err := logging.SetLevel(cfg.GetLogLevel()); err != nil {
		logrus.WithError(err).Warn("reloaded config carries an invalid log level")
	}
	logrus.WithFields(logrus.Fields{
		"mode":      cfg.GetMode(),
		"log_level": cfg.GetLogLevel(),
	}).Info("configuration applied")
}

func (s *Server) setupMiddleware() {
	s.engine.Use(middleware.Recovery())
	s.engine.Use(middleware.RequestLog(s.ring))
	s.engine.Use(s.errorLog.Middleware())
	s.engine.Use(middleware.Usage(s.tracker))
	s.engine.Use(middleware.CORS())
}

func (s *Server) setupRoutes() {
	v1 := s.engine.Group("/v1")
	{
		v1.POST("/messages", s.handleMessages)
		v1.POST("/messages/count_tokens", s.handleCountTokens)
	}

	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	{
		monitor := api.Group("/monitor")
		{
			monitor.GET("/requests", s.handleMonitorRequests)
			monitor.GET("/requests/:id", s.handleMonitorRequest)
			monitor.GET("/stats", s.handleMonitorStats)
			monitor.GET("/stream", s.handleMonitorStream)
			monitor.POST("/clear", s.handleMonitorClear)
			monitor.GET("/export", s.handleMonitorExport)
			monitor.GET("/analyze", s.handleMonitorAnalyze)
			monitor.GET("/logs", s.handleMonitorLogs)
		}

		api.GET("/config", s.handleConfigGet)
		api.POST("/config", s.handleConfigPatch)
	}

	s.setupStatic()
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status  string `json:"status"`
	Mode    string `json:"mode"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Mode:    s.config.GetMode(),
		Uptime:  time.Since(s.startedAt).Round(time.Second).String(),
		Version: s.version,
	})
}

// Start runs the server until it fails or Stop is called.
func (s *Server) Start() error {
	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			logrus.WithError(err).Warn("failed to start config watcher")
		}
	}

	addr := s.config.Address()
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	serverError := make(chan error, 1)
	go func() {
		serverError <- s.httpServer.ListenAndServe()
	}()

	if err := waitForPort(addr, 2*time.Second); err != nil {
		select {
		case e := <-serverError:
			return e
		default:
			return fmt.Errorf("server did not start on %s: %w", addr, err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"addr":    addr,
		"mode":    s.config.GetMode(),
		"version": s.version,
	}).Info("proxy listening")

	if s.openBrowser {
		host := util.ResolveHost(s.config.GetHost())
		monitorURL := fmt.Sprintf("http://%s:%d/monitor", host, s.config.GetPort())
		if err := browser.OpenURL(monitorURL); err != nil {
			logrus.WithError(err).Debug("failed to open monitor page")
		}
	}

	err := <-serverError
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// waitForPort polls until the listener accepts connections.
func waitForPort(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("port %s not reachable", addr)
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.errorLog != nil {
		s.errorLog.Stop()
	}
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			logrus.WithError(err).Debug("config watcher stop")
		}
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
