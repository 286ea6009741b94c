package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"arbflow/config"
	"arbflow/internal/metrics"
	"arbflow/logger"
)

// StatusFunc returns a JSON serialisable view of a running component.
type StatusFunc func() interface{}

// Server serves recent metrics, logs, host resources and component status as
// JSON for operators watching a running instance.
type Server struct {
	cfg             config.DashboardConfig
	log             *logger.Log
	metricStore     *metricStore
	logStore        *logStore
	metricHandler   metrics.MetricHandlerID
	httpServer      *http.Server
	resourceSampler *resourceSampler

	statusMu sync.RWMutex
	status   map[string]StatusFunc
}

// NewServer returns nil when the dashboard is disabled.
func NewServer(cfg config.DashboardConfig, log *logger.Log) *Server {
	if !cfg.Enabled {
		return nil
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 5 * time.Second
	}
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}
	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:             cfg,
		log:             log,
		metricStore:     metricStore,
		logStore:        logStore,
		metricHandler:   metrics.RegisterMetricHandler(metricStore.handle),
		resourceSampler: newResourceSampler(cfg.MetricsHistory, cfg.SampleInterval, "/", log),
		status:          make(map[string]StatusFunc),
	}
}

// AddStatus publishes fn under name in /api/status.
func (s *Server) AddStatus(name string, fn StatusFunc) {
	if s == nil || fn == nil {
		return
	}
	s.statusMu.Lock()
	s.status[name] = fn
	s.statusMu.Unlock()
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	s.resourceSampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithComponent("dashboard").WithField("address", s.cfg.Address).Info("dashboard listening")

	select {
	case <-ctx.Done():
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
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"app": appName, "status": "ok"})
	})

	router.GET("/api/status", func(c *gin.Context) {
		s.statusMu.RLock()
		names := make([]string, 0, len(s.status))
		for name := range s.status {
			names = append(names, name)
		}
		sort.Strings(names)
		payload := make(gin.H, len(names))
		for _, name := range names {
			payload[name] = s.status[name]()
		}
		s.statusMu.RUnlock()
		c.JSON(http.StatusOK, gin.H{"app": appName, "components": payload})
	})

	router.GET("/api/metrics", func(c *gin.Context) {
		venue := c.Query("venue")
		metricsSnapshot := s.metricStore.snapshot()
		payload := make([]gin.H, 0, len(metricsSnapshot))
		for _, m := range metricsSnapshot {
			if venue != "" && !strings.EqualFold(m.Venue, venue) {
				continue
			}
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"venue":     m.Venue,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		records := s.logStore.snapshot()
		if venue := c.Query("venue"); venue != "" {
			filtered := records[:0]
			for _, r := range records {
				if strings.EqualFold(r.Venue, venue) {
					filtered = append(filtered, r)
				}
			}
			records = filtered
		}
		c.JSON(http.StatusOK, gin.H{"logs": records})
	})

	router.GET("/api/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
	})

	return router, nil
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
