// Package dashboard serves a JSON status API next to the replay: recent
// metrics and logs, pipeline and host load, the latest feature batch per pair and the
// Prometheus exposition.
package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"cryptosignal/config"
	"cryptosignal/internal/channel/feed"
	"cryptosignal/internal/metrics"
	"cryptosignal/logger"
	"cryptosignal/models"
)

// Server hosts the status API.
type Server struct {
	cfg               config.DashboardConfig
	log               *logger.Log
	metricStore       *metricStore
	logStore          *logStore
	featureStore      *featureStore
	metricHandler     metrics.MetricHandlerID
	httpServer        *http.Server
	refreshIntervalMs int
	loadSampler       *loadSampler
	started           time.Time
}

// NewServer returns nil when the dashboard is disabled.
func NewServer(cfg config.DashboardConfig, log *logger.Log) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cfg.Address = normalizeAddress(cfg.Address)

	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}

	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}

	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	sampler := newLoadSampler(cfg.MetricsHistory, cfg.RefreshInterval, log)

	return &Server{
		cfg:               cfg,
		log:               log,
		metricStore:       metricStore,
		logStore:          logStore,
		featureStore:      newFeatureStore(),
		metricHandler:     handlerID,
		refreshIntervalMs: int(cfg.RefreshInterval / time.Millisecond),
		loadSampler:       sampler,
		started:           time.Now(),
	}, nil
}

// ObserveBatch records the batch as the latest of its pair.
func (s *Server) ObserveBatch(batch models.FeatureBatch) {
	if s == nil {
		return
	}
	s.featureStore.observe(batch)
}

// Watch attaches the running processor and its feed channels to the load
// sampler. It may be called before or after Run.
func (s *Server) Watch(proc StatsSource, ch *feed.Channels) {
	if s == nil {
		return
	}
	s.loadSampler.watch(proc, ch)
}

// Run starts the HTTP server and blocks until ctx is cancelled or the server
// fails.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	s.loadSampler.start(ctx)

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

	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("dashboard listening")

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
	if s.logStore != nil {
		s.logStore.close()
	}
	s.loadSampler.stop()
}

// Address reports the network address the server listens on.
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

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"app":                 appName,
			"uptime_seconds":      time.Since(s.started).Seconds(),
			"refresh_interval_ms": s.refreshIntervalMs,
			"ingestion":           metrics.Totals(),
		})
	})

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.GET("/api/metrics", func(c *gin.Context) {
		metricsSnapshot := s.metricStore.snapshot()
		payload := make([]gin.H, 0, len(metricsSnapshot))
		for _, m := range metricsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"unit":      m.Unit,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		logsSnapshot := s.logStore.snapshot()
		if level := c.Query("level"); level != "" {
			filtered := logsSnapshot[:0]
			for _, l := range logsSnapshot {
				if l.Level == level {
					filtered = append(filtered, l)
				}
			}
			logsSnapshot = filtered
		}
		c.JSON(http.StatusOK, gin.H{"logs": logsSnapshot})
	})

	router.GET("/api/load", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"load": s.loadSampler.snapshot()})
	})

	router.GET("/api/features", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pairs": s.featureStore.snapshot()})
	})

	// Pair names contain a slash, e.g. BTCUSDT:bybit/bitget.
	router.GET("/api/features/*pair", func(c *gin.Context) {
		pair, ok := s.featureStore.snapshot()[strings.TrimPrefix(c.Param("pair"), "/")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown pair"})
			return
		}
		c.JSON(http.StatusOK, pair)
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
