// Package api exposes the diagnostic consensus core over a thin REST surface:
// decision submission, audit verification and export, case history, and
// clinician review capture.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/madnx-diagnostic-core/internal/config"
	"github.com/madnx-diagnostic-core/internal/ledger"
	"github.com/madnx-diagnostic-core/internal/middleware"
	"github.com/madnx-diagnostic-core/internal/review"
	"github.com/madnx-diagnostic-core/internal/service"
)

// Server is the HTTP server for the diagnostic core.
type Server struct {
	logger   *logrus.Logger
	cfg      *config.Config
	pipeline *service.Pipeline
	audit    *ledger.Ledger
	reviews  review.Store
	router   *gin.Engine
	server   *http.Server
}

// NewServer wires the routes and middleware.
func NewServer(logger *logrus.Logger, cfg *config.Config, pipeline *service.Pipeline, audit *ledger.Ledger, reviews review.Store) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RateLimit(cfg.Server.RatePerSecond, cfg.Server.RateBurst))
	router.NoRoute(middleware.NoRoute())

	s := &Server{
		logger:   logger,
		cfg:      cfg,
		pipeline: pipeline,
		audit:    audit,
		reviews:  reviews,
		router:   router,
	}
	s.setupRoutes()
	return s
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)

	v1 := s.router.Group("/v1")
	{
		v1.POST("/diagnose", s.handleDiagnose)
		v1.GET("/audit/verify", s.handleAuditVerify)
		v1.GET("/audit/case/:case_id", s.handleAuditCase)
		v1.POST("/audit/export", s.handleAuditExport)
		v1.POST("/review", s.handleSaveReview)
		v1.GET("/review/:case_id", s.handleGetReview)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"ledger":    s.audit.Head() != "",
	})
}

// DiagnoseRequest is the decision submission payload. Reports maps analyzer
// name to its raw output (structured object, JSON string, or free text with
// embedded JSON); Input is the raw clinical input, stored in the ledger only
// as a hash plus a bounded preview.
type DiagnoseRequest struct {
	CaseID  string            `json:"case_id"`
	Reports map[string]any    `json:"reports"`
	Input   map[string]string `json:"input"`
}

func (s *Server) handleDiagnose(c *gin.Context) {
	var req DiagnoseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	bundle, err := s.pipeline.Diagnose(c.Request.Context(), req.CaseID, req.Reports, req.Input)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, bundle)
}

func (s *Server) handleAuditVerify(c *gin.Context) {
	result, err := s.audit.Verify()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleAuditCase(c *gin.Context) {
	caseID := c.Param("case_id")
	entries, err := s.audit.EntriesForCase(caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"case_id": caseID,
		"count":   len(entries),
		"entries": entries,
	})
}

// ExportRequest bounds an audit export by RFC-3339 timestamps; empty means
// unbounded on that side.
type ExportRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (s *Server) handleAuditExport(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	doc, err := s.audit.Export(req.Start, req.End)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleSaveReview(c *gin.Context) {
	var r review.Review
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if r.CaseID == "" || r.Reviewer == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "case_id and reviewer are required"})
		return
	}
	switch r.Outcome {
	case review.OutcomeConfirmed, review.OutcomeOverridden, review.OutcomeDeferred:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid outcome: %s", r.Outcome)})
		return
	}
	if r.Outcome == review.OutcomeOverridden && r.FinalDiagnosis == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "final_diagnosis is required when outcome is overridden"})
		return
	}

	if err := s.reviews.Save(c.Request.Context(), &r); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) handleGetReview(c *gin.Context) {
	caseID := c.Param("case_id")
	r, err := s.reviews.Get(c.Request.Context(), caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no review for case %s", caseID)})
		return
	}
	c.JSON(http.StatusOK, r)
}
