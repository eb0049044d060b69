// Package api serves the HTTP status surface: health, workspace status,
// and in-flight runs.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apierrors "github.com/pochihq/pochi/internal/common/errors"
	"github.com/pochihq/pochi/internal/common/logger"
	"github.com/pochihq/pochi/internal/workspace"
)

// Deps are the read-only views the API exposes.
type Deps struct {
	Log          *logger.Logger
	Workspace    func() *workspace.Config
	Runs         func() []workspace.RunInfo
	Engines      func() []string
	BusConnected func() bool
}

// Server is the HTTP status server.
type Server struct {
	log     *logger.Logger
	deps    Deps
	engine  *gin.Engine
	srv     *http.Server
	started time.Time
}

// New builds the server and its routes.
func New(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		log:     deps.Log.WithFields(zap.String("component", "api")),
		deps:    deps,
		engine:  gin.New(),
		started: time.Now(),
	}
	s.engine.Use(gin.Recovery(), s.requestLog())
	s.routes()
	return s
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func (s *Server) routes() {
	s.engine.GET("/health", s.health)

	v1 := s.engine.Group("/api/v1")
	v1.GET("/status", s.status)
	v1.GET("/runs", s.runs)

	s.engine.NoRoute(func(c *gin.Context) {
		err := apierrors.NotFound("route", c.Request.URL.Path)
		c.JSON(err.HTTPStatus, gin.H{"error": err})
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) status(c *gin.Context) {
	cfg := s.deps.Workspace()
	if cfg == nil {
		err := apierrors.Unavailable("workspace")
		c.JSON(err.HTTPStatus, gin.H{"error": err})
		return
	}
	busOK := false
	if s.deps.BusConnected != nil {
		busOK = s.deps.BusConnected()
	}
	var engines []string
	if s.deps.Engines != nil {
		engines = s.deps.Engines()
	}
	c.JSON(http.StatusOK, gin.H{
		"workspace":      cfg.Workspace.Name,
		"default_engine": cfg.Workspace.DefaultEngine,
		"folders":        len(cfg.Folders),
		"engines":        engines,
		"bus_connected":  busOK,
	})
}

func (s *Server) runs(c *gin.Context) {
	var runs []workspace.RunInfo
	if s.deps.Runs != nil {
		runs = s.deps.Runs()
	}
	if runs == nil {
		runs = []workspace.RunInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.engine}
	s.log.Info("status api listening", zap.String("addr", addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
