// Package server exposes the conversation stream and the knowledge write
// paths over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/artouc/ego-graphica/internal/cache"
	"github.com/artouc/ego-graphica/internal/guard"
	"github.com/artouc/ego-graphica/internal/knowledge"
	"github.com/artouc/ego-graphica/internal/observe"
	"github.com/artouc/ego-graphica/internal/persona"
	"github.com/artouc/ego-graphica/internal/runtime"
	"github.com/artouc/ego-graphica/internal/store"
	"github.com/gin-gonic/gin"
)

// MaxUploadBytes caps an ingested file.
const MaxUploadBytes = 10 << 20

// Deps wires a Server.
type Deps struct {
	Conversation *runtime.Conversation
	Knowledge    *knowledge.Service
	Store        store.Storage
	Contexts     *cache.ContextCache
	Vectors      *cache.VectorCache
	Embeddings   *cache.EmbeddingCache
	Guard        *guard.Guard
	Obs          *observe.Observer
}

type Server struct {
	Deps
	engine  *gin.Engine
	started time.Time
}

func New(d Deps) *Server {
	if d.Guard == nil {
		d.Guard = guard.New(guard.DefaultPolicy)
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{Deps: d, engine: gin.New(), started: time.Now()}
	s.engine.Use(gin.Recovery(), s.requestLog())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(s.Obs.Metrics().Handler()))

	api := s.engine.Group("/api")
	api.DELETE("/cache/embeddings", s.handleClearEmbeddings)

	t := api.Group("/tenants/:tenant")
	t.Use(s.tenantScope())
	{
		t.POST("/chat", s.handleChat)
		t.GET("/persona", s.handleGetPersona)
		t.PUT("/persona", s.handlePutPersona)
		t.POST("/works", s.handleCreateWork)
		t.PUT("/works/:id", s.handleUpdateWork)
		t.POST("/files", s.handleIngestFile)
		t.POST("/urls", s.handleIngestURL)
		t.POST("/cache/invalidate", s.handleInvalidate)
		t.DELETE("/cache/vectors", s.handleInvalidateVectors)
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.Obs.Log().Info().Str("addr", addr).Msg("server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.Obs.Log().Debug().Str("method", c.Request.Method).Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).Int("ms", int(time.Since(started).Milliseconds())).Msg("request")
	}
}

func (s *Server) tenantScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v := s.Guard.CheckTenant(c.Param("tenant")); v != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": v.Error()})
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// writeError maps domain errors onto status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var v *guard.Violation
	switch {
	case errors.As(err, &v),
		errors.Is(err, persona.ErrInvalid),
		errors.Is(err, knowledge.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
