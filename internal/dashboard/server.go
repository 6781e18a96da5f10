package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"coinview/config"
	"coinview/internal/auth"
	"coinview/internal/metrics"
	"coinview/internal/view"
	"coinview/logger"
)

// Refresher runs a manual refresh. *refresh.Scheduler satisfies it.
type Refresher interface {
	Refresh(ctx context.Context) error
	Fetching() bool
}

// Deps are the components the API serves. Refresher, Auth and Metrics are
// optional; their routes are left out when nil.
type Deps struct {
	Store     *view.Store
	Refresher Refresher
	Auth      *auth.Service
	Metrics   http.Handler
}

// Server hosts the market API, the websocket event feed and the operational
// endpoints.
type Server struct {
	cfg             config.DashboardConfig
	deps            Deps
	log             *logger.Log
	metricStore     *metricStore
	logStore        *logStore
	metricHandler   metrics.MetricHandlerID
	resourceSampler *resourceSampler
	hub             *hub
	httpServer      *http.Server
}

// NewServer returns nil when the API is disabled.
func NewServer(cfg config.DashboardConfig, deps Deps, log *logger.Log) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("dashboard requires a view store")
	}
	if log == nil {
		log = logger.GetLogger()
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}

	metricStore := newMetricStore(cfg.LogHistory)
	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:             cfg,
		deps:            deps,
		log:             log,
		metricStore:     metricStore,
		logStore:        logStore,
		metricHandler:   metrics.RegisterMetricHandler(metricStore.handle),
		resourceSampler: newResourceSampler(cfg.LogHistory, cfg.ResourceInterval, "/", log),
		hub:             newHub(deps.Store, log),
	}, nil
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.resourceSampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("starting api server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.hub.close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	s.logStore.close()
	s.resourceSampler.stop()
	s.hub.close()
}

// Address reports the normalised listen address.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", s.health)
	if s.deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
	router.GET("/ws", s.hub.serve)

	api := router.Group("/api")
	api.GET("/markets", s.markets)
	api.POST("/markets/sort", s.toggleSort)
	api.GET("/markets/search", s.search)
	api.GET("/selection", s.selection)
	api.PUT("/selection/:id", s.selectRecord)
	api.DELETE("/selection", s.deselect)
	api.GET("/notices", s.notices)
	if s.deps.Refresher != nil {
		api.POST("/refresh", s.refresh)
	}
	if s.deps.Auth != nil {
		authGroup := api.Group("/auth")
		authGroup.POST("/register", s.register)
		authGroup.POST("/signin", s.signIn)
		authGroup.POST("/signout", s.signOut)
		authGroup.GET("/session", s.session)
	}

	api.GET("/metrics", s.recentMetrics)
	api.GET("/logs", s.recentLogs)
	api.GET("/resources", s.resources)

	return router, nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithComponent("dashboard").WithFields(logger.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": float64(time.Since(start).Nanoseconds()) / 1e6,
		}).Debug("request served")
	}
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
