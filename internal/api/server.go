package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/report-variables-server/internal/domain"
	"github.com/report-variables-server/internal/middleware"
	"github.com/report-variables-server/internal/reducer"
	"github.com/report-variables-server/internal/remote"
)

// Source is the part of the remote sync layer the HTTP API uses.
type Source interface {
	Ping(ctx context.Context) error
	LoadVariableSet(ctx context.Context, token domain.VariableIDToken, store *reducer.Store) (*remote.LoadResult, error)
	FetchVariableSets(ctx context.Context, entityID, entityVersionID string) ([]*domain.VariableSet, error)
	CreateVariable(ctx context.Context, v *domain.Variable) error
	UpsertVariable(ctx context.Context, v *domain.Variable) error
}

// Server represents the HTTP server
type Server struct {
	cfg     *domain.Config
	router  *gin.Engine
	server  *http.Server
	store   *reducer.Store
	source  Source
	hub     *Hub
	limiter *middleware.RateLimiter
	logger  *logrus.Logger
	detach  func()
}

// NewServer creates a new HTTP server instance over store. Every state
// transition is published on the /ws change feed.
func NewServer(cfg *domain.Config, store *reducer.Store, source Source, logger *logrus.Logger) (*Server, error) {
	if err := registerValidators(); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	limiter := middleware.NewRateLimiter(cfg.API.RateLimit, cfg.API.RateBurst, 10*time.Minute)

	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestLogger(logger))
	router.Use(instrument())

	s := &Server{
		cfg:     cfg,
		router:  router,
		store:   store,
		source:  source,
		hub:     NewHub(logger),
		limiter: limiter,
		logger:  logger,
	}
	s.detach = s.hub.Attach(store)

	s.setupRoutes()
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfg.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()

	for {
		select {
		case err, ok := <-errCh:
			s.Close()
			if ok {
				return fmt.Errorf("failed to start server: %w", err)
			}
			return nil
		case now := <-sweep.C:
			s.limiter.Sweep(now)
		case <-ctx.Done():
			// Graceful shutdown
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			s.Close()
			return s.server.Shutdown(shutdownCtx)
		}
	}
}

// Close detaches the change feed from the store and disconnects its clients.
func (s *Server) Close() {
	s.detach()
	s.hub.Close()
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", s.hub.ServeWS)

	v1 := s.router.Group("/api/v1")
	v1.Use(s.limiter.Middleware(), middleware.RequestTimeout(s.cfg.API.RequestTimeout))
	{
		variables := v1.Group("/variables")
		variables.GET("", s.handleListVariables)
		variables.POST("", s.handleCreateVariable)
		variables.POST("/hidden", s.handleHideVariables)
		variables.POST("/persist", s.handlePersistVariables)
		variables.GET("/:key", s.handleGetVariable)
		variables.PATCH("/:key", s.handlePatchVariable)
		variables.DELETE("/:key", s.handleDeleteVariable)
		variables.PUT("/:key/value", s.handleSetValue)
		variables.GET("/:key/content", s.handleGetContent)

		sets := v1.Group("/sets")
		sets.GET("", s.handleListSets)
		sets.POST("/load", s.handleLoadSet)
		sets.GET("/:key", s.handleGetSet)
		sets.DELETE("/:key", s.handleDeleteSet)

		v1.GET("/entities/:entity/versions/:version/sets", s.handleAvailableSets)

		derive := v1.Group("/derive")
		derive.POST("/percentile", s.handlePercentile)
		derive.POST("/descriptor", s.handleDescriptor)
	}
}

// handleHealth reports the backend reachability and store size
func (s *Server) handleHealth(c *gin.Context) {
	state := s.store.State()
	body := gin.H{
		"status":     "healthy",
		"timestamp":  time.Now().UTC(),
		"variables":  state.Len(),
		"version":    state.Version(),
		"ws_clients": s.hub.ClientCount(),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := s.source.Ping(ctx); err != nil {
		s.logger.WithError(err).Warn("Health check failed")
		body["status"] = "unhealthy"
		body["error"] = "backend unreachable"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
