package query

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scadaflow/internal/alarms"
	"scadaflow/internal/alertstore"
	"scadaflow/internal/connections"
	"scadaflow/internal/dispatch"
	"scadaflow/internal/logger"
	"scadaflow/internal/metrics"
	"scadaflow/internal/pipeline"
)

// Server exposes the operator-facing read API.
type Server struct {
	echo        *echo.Echo
	pipe        *pipeline.Pipeline
	tracker     *alarms.Tracker
	alerts      *alertstore.Store
	connections *connections.Registry
	dispatcher  *dispatch.Dispatcher
}

func NewServer(pipe *pipeline.Pipeline, tracker *alarms.Tracker, alerts *alertstore.Store, conns *connections.Registry, dispatcher *dispatch.Dispatcher, m *metrics.Metrics) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:        e,
		pipe:        pipe,
		tracker:     tracker,
		alerts:      alerts,
		connections: conns,
		dispatcher:  dispatcher,
	}

	e.GET("/healthz", s.handleHealth)
	e.GET("/stats", s.handleStats)
	e.GET("/alarms/active", s.handleActiveAlarms)
	e.GET("/alerts/recent", s.handleRecentAlerts)
	e.GET("/alerts/critical", s.handleCriticalAlerts)
	e.GET("/connections", s.handleConnections)
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))
	}
	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	logger.Infof("query API listening on %s", addr)
	err := s.echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type healthResponse struct {
	Status         string         `json:"status"`
	ActiveAlarms   int            `json:"active_alarms"`
	ActionFailures map[string]int `json:"action_failures,omitempty"`
}

// handleHealth reports degraded when any dispatcher action has failed,
// so alerting trouble is visible before the next incident.
func (s *Server) handleHealth(c echo.Context) error {
	resp := healthResponse{Status: "ok"}
	if s.tracker != nil {
		resp.ActiveAlarms = s.tracker.Len()
	}
	if s.dispatcher != nil {
		resp.ActionFailures = s.dispatcher.FailureCounts()
		if len(resp.ActionFailures) > 0 {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.pipe.StatsSnapshot())
}

func (s *Server) handleActiveAlarms(c echo.Context) error {
	return c.JSON(http.StatusOK, s.tracker.ListActive())
}

func (s *Server) handleRecentAlerts(c echo.Context) error {
	return c.JSON(http.StatusOK, s.alerts.Recent(limitParam(c)))
}

func (s *Server) handleCriticalAlerts(c echo.Context) error {
	return c.JSON(http.StatusOK, s.alerts.CriticalRecent(limitParam(c)))
}

func (s *Server) handleConnections(c echo.Context) error {
	return c.JSON(http.StatusOK, s.connections.Snapshot())
}

func limitParam(c echo.Context) int {
	raw := c.QueryParam("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
