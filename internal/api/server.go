package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/home-monitor/video-svr/internal/processor"
	"github.com/home-monitor/video-svr/internal/services"
	"github.com/home-monitor/video-svr/internal/storage"
	"github.com/home-monitor/video-svr/pkg/schema"
)

// Service is what the HTTP surface needs from the processor.
type Service interface {
	Preview(ctx context.Context) (*processor.PreviewResult, error)
	Commit(ctx context.Context) (*processor.CommitResult, error)
	ListVideoFiles(ctx context.Context) ([]schema.VideoFile, error)
	DeleteFiles(ctx context.Context, paths []string) services.BatchResult
	ReplayPending(ctx context.Context) (*processor.ReplayResult, error)
	ListPasses(ctx context.Context, limit int) ([]storage.PassRecord, error)
}

type Options struct {
	Port        int
	CORSOrigins []string
}

// Server owns the gin engine and the underlying http.Server.
type Server struct {
	logger     *zap.Logger
	svc        Service
	feed       *Feed
	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
}

func NewServer(logger *zap.Logger, opts Options, svc Service, feed *Feed) *Server {
	s := &Server{
		logger: logger,
		svc:    svc,
		feed:   feed,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger), cors.New(corsConfig(opts.CORSOrigins)))
	s.registerRoutes(engine)
	s.engine = engine

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(opts.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cfg
}

func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	video := r.Group("/video")
	video.GET("/movement", s.previewMovement)
	video.PUT("/movement/process", s.processMovement)
	video.DELETE("", s.deleteVideos)
	video.POST("/reports/retry", s.retryReports)
	video.GET("/passes", s.listPasses)

	r.GET("/video-files", s.listVideoFiles)

	if s.feed != nil {
		r.GET("/ws/passes", func(c *gin.Context) { s.feed.ServeWS(c.Writer, c.Request) })
	}

	r.NoRoute(func(c *gin.Context) {
		s.logger.Warn("Unrecognized request", zap.String("method", c.Request.Method), zap.String("url", c.Request.URL.RequestURI()))
		respond(c, http.StatusNotFound, gin.H{"error": "not found"})
	})
}

// Handler exposes the routed engine, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start binds the listener and serves in the background. Bind errors are returned.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown closes the feed, then drains in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.feed != nil {
		s.feed.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}
