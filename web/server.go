package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"persona-recall/config"
	"persona-recall/memory"
	"persona-recall/web/handlers"
	"persona-recall/web/middleware"
)

type Server struct {
	router  *gin.Engine
	engine  *memory.Engine
	limiter *middleware.ProfileRateLimiter
	logger  *zap.Logger
	config  *config.Config
	started time.Time
}

func NewServer(engine *memory.Engine, logger *zap.Logger, cfg *config.Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	limiter := middleware.NewProfileRateLimiter(middleware.RateLimiterConfig{
		RequestsPerMinute: cfg.RateLimitPerMinute,
		BurstSize:         cfg.RateLimitBurstSize,
	}, logger)

	server := &Server{
		router:  router,
		engine:  engine,
		limiter: limiter,
		logger:  logger,
		config:  cfg,
		started: time.Now(),
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	retrieveHandler := handlers.NewRetrieveHandler(s.engine, s.logger)
	factHandler := handlers.NewFactHandler(s.engine, s.logger)
	maintenanceHandler := handlers.NewMaintenanceHandler(s.engine, s.logger)

	s.router.GET("/healthz", handlers.Healthz(s.started))

	api := s.router.Group("/api/v1")
	limited := middleware.RateLimitMiddleware(s.limiter, s.logger)

	api.POST("/retrieve", limited, retrieveHandler.Retrieve)
	api.POST("/facts", factHandler.Store)
	api.POST("/facts/check", factHandler.Check)
	api.POST("/facts/dispute", factHandler.Dispute)
	api.POST("/entities/alias", factHandler.Alias)
	api.POST("/maintenance/deep-scan", limited, maintenanceHandler.DeepScan)
	api.POST("/maintenance/backfill", limited, maintenanceHandler.Backfill)
}

// requestLogger records every API call with its latency and status.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) Start(ctx context.Context, addr string) error {
	s.logger.Info("Starting web server", zap.String("address", addr))

	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Web server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()

	s.logger.Info("Shutting down web server")
	s.limiter.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down web server: %w", err)
	}
	return nil
}
