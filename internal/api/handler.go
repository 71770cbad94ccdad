// Package api is the HTTP surface (spec §6.1): approvals, rules,
// kill-switch, portfolio, and a server-sent event stream on top of the
// supervisor's core packages. Grounded on the teacher's gin.New()
// middleware stack and route-grouping shape, generalized from a
// JWT-authenticated multi-user REST API into a single-owner surface
// gated by one shared header.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sentinel/internal/anomaly"
	"sentinel/internal/bus"
	"sentinel/internal/killswitch"
	"sentinel/internal/monitor"
	"sentinel/internal/pipeline"
	"sentinel/internal/rules"
	"sentinel/internal/scheduler"
	"sentinel/internal/snapshot"
	"sentinel/internal/store"
	"sentinel/pkg/config"
)

// Server wires every HTTP endpoint around the supervisor's core
// packages. All fields are read-only after NewServer; none require
// their own locking.
type Server struct {
	Router *gin.Engine

	cfg       *config.Config
	store     *store.Store
	bus       *bus.Bus
	pipeline  *pipeline.Pipeline
	rules     *rules.Evaluator
	snapshot  *snapshot.Engine
	killswitch *killswitch.Controller
	anomaly   *anomaly.Detector
	scheduler *scheduler.Supervisor
	metrics   *monitor.SystemMetrics
	version   string
}

// NewServer builds the router and registers every route.
func NewServer(
	cfg *config.Config,
	st *store.Store,
	b *bus.Bus,
	pl *pipeline.Pipeline,
	re *rules.Evaluator,
	se *snapshot.Engine,
	ks *killswitch.Controller,
	an *anomaly.Detector,
	sc *scheduler.Supervisor,
	metrics *monitor.SystemMetrics,
	version string,
) *Server {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:     r,
		cfg:        cfg,
		store:      st,
		bus:        b,
		pipeline:   pl,
		rules:      re,
		snapshot:   se,
		killswitch: ks,
		anomaly:    an,
		scheduler:  sc,
		metrics:    metrics,
		version:    version,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/health/full", s.healthFull)
	s.Router.GET("/env", s.env)
	s.Router.GET("/live", s.live)

	s.Router.GET("/portfolio/current", s.portfolioCurrent)

	s.Router.GET("/approvals", s.listApprovals)
	s.Router.GET("/rules", s.listRules)
	s.Router.GET("/kill-switch", s.getKillSwitch)

	owned := s.Router.Group("")
	owned.Use(OwnerAuthMiddleware(s.cfg))
	{
		owned.POST("/portfolio/snapshot/force", s.forceSnapshot)

		owned.POST("/approvals", s.createApproval)
		owned.PATCH("/approvals/:id", s.decideApproval)
		owned.POST("/approvals/:id/execute", s.executeApproval)

		owned.POST("/rules", s.saveRule)
		owned.POST("/rules/:id/activate", s.activateRule)
		owned.POST("/rules/evaluate", s.evaluateRule)

		owned.POST("/kill-switch", s.setKillSwitch)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"db":     !s.store.Degraded(),
		"dryRun": s.cfg.DryRun,
	})
}

func (s *Server) env(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"dryRun":          s.cfg.DryRun,
		"ownerConfigured": s.cfg.OwnerID != "",
		"autoExecute":     s.cfg.AutoExecuteEnabled,
		"version":         s.version,
	})
}

// healthFull is read-only diagnostics: kill-switch state, recent
// alerts, learned preferences, and the supervisor's own API/task
// metrics, in one call for an operator dashboard.
func (s *Server) healthFull(c *gin.Context) {
	ctx := c.Request.Context()

	ks, err := s.store.ReadKillSwitch(ctx)
	if err != nil {
		respondErr(c, err)
		return
	}
	alerts, err := s.store.RecentAlerts(ctx, 20)
	if err != nil {
		respondErr(c, err)
		return
	}
	prefs, _ := s.store.Preferences(ctx)

	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"db":          !s.store.Degraded(),
		"dryRun":      s.cfg.DryRun,
		"killSwitch":  ks,
		"alerts":      alerts,
		"preferences": prefs,
		"metrics":     s.metrics.GetSnapshot(),
	})
}
