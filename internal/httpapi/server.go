// Package httpapi exposes the safeguard pipeline over HTTP. Handlers
// convert between wire shapes and internal types and delegate to the
// pipeline, trail, and monitor; no validation or rollback logic lives here.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/safeguard-project/safeguard/internal/audit"
	"github.com/safeguard-project/safeguard/internal/monitor"
	"github.com/safeguard-project/safeguard/internal/pipeline"
	"github.com/safeguard-project/safeguard/pkg/errclass"
	"github.com/safeguard-project/safeguard/pkg/logging"
	"github.com/safeguard-project/safeguard/pkg/metrics"
	"github.com/safeguard-project/safeguard/pkg/model"
)

// Server bundles the handler dependencies. Monitor may be nil when the
// daemon runs without a metric backend; session routes then report
// monitoring as disabled.
type Server struct {
	Pipeline *pipeline.Pipeline
	Trail    *audit.Trail
	Monitor  *monitor.Monitor
	Registry *metrics.Registry
	Log      *logging.Logger
}

// Register wires all routes onto the engine. Everything under /v1 requires
// an agent token; /healthz is public.
func (s *Server) Register(r *gin.Engine, authMW gin.HandlerFunc) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.POST("/changes", s.processChanges)
		v1.GET("/audit/entries", s.listEntries)
		v1.GET("/audit/entries/:id", s.getEntry)
		v1.POST("/audit/verify", s.verifyTrail)
		v1.GET("/sessions", s.listSessions)
		v1.POST("/sessions/:id/stop", s.stopSession)
		v1.GET("/metrics", s.processMetrics)
	}
}

// statusFor maps error classes to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errclass.ErrInvalidInput),
		errors.Is(err, errclass.ErrPolicyInvalid),
		errors.Is(err, errclass.ErrExportFormat):
		return http.StatusBadRequest
	case errors.Is(err, errclass.ErrEntryNotFound),
		errors.Is(err, errclass.ErrDeploymentGone):
		return http.StatusNotFound
	case errors.Is(err, errclass.ErrSessionTerminal):
		return http.StatusConflict
	case errors.Is(err, errclass.ErrCollectorUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) abortErr(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && s.Log != nil {
		s.Log.ErrorErr("request failed", err, map[string]any{"path": c.FullPath()})
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

type processRequest struct {
	Version        string         `json:"version"`
	Changes        []model.Change `json:"changes"`
	Baseline       *model.Metrics `json:"baseline,omitempty"`
	SkipMonitoring bool           `json:"skip_monitoring,omitempty"`
}

type processResponse struct {
	Accepted     bool                     `json:"accepted"`
	Validation   *model.ValidationResult  `json:"validation"`
	EntryID      string                   `json:"entry_id"`
	DeploymentID string                   `json:"deployment_id,omitempty"`
	Session      *model.MonitoringSession `json:"session,omitempty"`
}

func (s *Server) processChanges(c *gin.Context) {
	agent, ok := agentFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "agent identity missing"})
		return
	}

	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := s.Pipeline.ProcessAgentChanges(c.Request.Context(), req.Changes, agent, pipeline.Options{
		Version:        req.Version,
		Baseline:       req.Baseline,
		SkipMonitoring: req.SkipMonitoring,
	})
	if err != nil {
		s.abortErr(c, err)
		return
	}

	resp := processResponse{
		Accepted:     res.Accepted,
		Validation:   res.Validation,
		EntryID:      res.Entry.ID,
		DeploymentID: res.DeploymentID,
	}
	if res.Session != nil {
		snap := res.Session.Status()
		resp.Session = &snap
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listEntries(c *gin.Context) {
	f := audit.Filter{
		EventType:    model.EventType(c.Query("type")),
		AgentID:      c.Query("agent_id"),
		DeploymentID: c.Query("deployment_id"),
	}

	var err error
	if f.From, err = parseTimeParam(c.Query("from")); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp"})
		return
	}
	if f.To, err = parseTimeParam(c.Query("to")); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp"})
		return
	}
	if raw := c.Query("limit"); raw != "" {
		if f.Limit, err = strconv.Atoi(raw); err != nil || f.Limit < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
	}

	entries, err := s.Trail.Query(c.Request.Context(), f)
	if err != nil {
		s.abortErr(c, err)
		return
	}
	if entries == nil {
		entries = []*model.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (s *Server) getEntry(c *gin.Context) {
	entry, err := s.Trail.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

type verifyRequest struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (s *Server) verifyTrail(c *gin.Context) {
	var req verifyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	report, err := s.Trail.VerifyIntegrity(c.Request.Context(), audit.Range{From: req.From, To: req.To})
	if err != nil {
		s.abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) listSessions(c *gin.Context) {
	sessions := []model.MonitoringSession{}
	if s.Monitor != nil {
		sessions = s.Monitor.Sessions()
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

func (s *Server) stopSession(c *gin.Context) {
	if s.Monitor == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "monitoring disabled"})
		return
	}

	sess, ok := s.Monitor.Session(c.Param("id"))
	if !ok {
		s.abortErr(c, errclass.ErrEntryNotFound.WithMessagef("no session for deployment %s", c.Param("id")))
		return
	}

	if snap := sess.Status(); snap.Status.Terminal() {
		status := statusFor(errclass.ErrSessionTerminal)
		c.AbortWithStatusJSON(status, gin.H{
			"error":   errclass.ErrSessionTerminal.WithMessagef("session for deployment %s already %s", snap.DeploymentID, snap.Status).Error(),
			"session": snap,
		})
		return
	}

	sess.Stop()
	c.JSON(http.StatusOK, gin.H{"session": sess.Status()})
}

func (s *Server) processMetrics(c *gin.Context) {
	snapshot := map[string]any{}
	if s.Registry != nil {
		snapshot = s.Registry.Snapshot()
	}
	c.JSON(http.StatusOK, snapshot)
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
