// Package metrics exposes the orchestrator's live peer state as
// Prometheus metrics over HTTP.
//
// Grounded on runZeroInc-sockstats/pkg/exporter/exporter.go's custom
// prometheus.Collector (mutex-protected Collect over a live connection
// set, one prometheus.Desc per exported field) and
// server/api.go's echo.New()-plus-middleware.Recover()-plus-
// registerRoutes() HTTP server shape, reused here for the /metrics and
// /healthz endpoints.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rdcast/session"
)

var (
	activePeersDesc = prometheus.NewDesc(
		"rdcast_active_peers", "Number of peers currently registered with the orchestrator.", nil, nil)
	targetBitrateDesc = prometheus.NewDesc(
		"rdcast_target_bitrate_bps", "Current target bitrate in bits per second.", []string{"peer"}, nil)
	workingBitrateDesc = prometheus.NewDesc(
		"rdcast_working_bitrate_bps", "Current working bitrate in bits per second.", []string{"peer"}, nil)
	videoNackCountDesc = prometheus.NewDesc(
		"rdcast_video_last_nacked_id", "Highest video frame id for which a NACK has been sent.", []string{"peer"}, nil)
	audioQueuedBytesDesc = prometheus.NewDesc(
		"rdcast_audio_queued_bytes", "Estimated audio sink backlog in bytes.", []string{"peer"}, nil)
)

// Collector adapts a session.Orchestrator to prometheus.Collector.
type Collector struct {
	orch *session.Orchestrator
}

// NewCollector builds a Collector over orch.
func NewCollector(orch *session.Orchestrator) *Collector {
	return &Collector{orch: orch}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- activePeersDesc
	descs <- targetBitrateDesc
	descs <- workingBitrateDesc
	descs <- videoNackCountDesc
	descs <- audioQueuedBytesDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	peers := c.orch.Peers()
	metrics <- prometheus.MustNewConstMetric(activePeersDesc, prometheus.GaugeValue, float64(len(peers)))

	for _, p := range peers {
		label := idLabel(p.ID)
		metrics <- prometheus.MustNewConstMetric(targetBitrateDesc, prometheus.GaugeValue, float64(p.Bitrate.Target()), label)
		metrics <- prometheus.MustNewConstMetric(workingBitrateDesc, prometheus.GaugeValue, float64(p.Bitrate.Working()), label)
		metrics <- prometheus.MustNewConstMetric(videoNackCountDesc, prometheus.GaugeValue, float64(p.VideoBuf.LastNackedID()), label)
		metrics <- prometheus.MustNewConstMetric(audioQueuedBytesDesc, prometheus.GaugeValue, float64(p.AudioSched.QueuedBytes()), label)
	}
}

func idLabel(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}

// Server serves /metrics and /healthz on its own listener, separate from
// any media transport.
type Server struct {
	echo *echo.Echo
	addr string
}

// NewServer registers a Collector for orch and builds the HTTP server.
func NewServer(addr string, orch *session.Orchestrator) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(orch))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return &Server{echo: e, addr: addr}
}

// Run serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutdownCtx)
	}()

	err := s.echo.Start(s.addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
