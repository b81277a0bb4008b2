// Package http assembles the gin engine and owns the HTTP server lifecycle.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turtacn/obo/internal/config"
	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/internal/infrastructure/monitoring"
	"github.com/turtacn/obo/internal/interfaces/http/handlers"
	"github.com/turtacn/obo/internal/interfaces/http/middleware"
	"github.com/turtacn/obo/pkg/logger"
)

// Router owns the gin engine and the net/http server around it.
type Router struct {
	engine   *gin.Engine
	config   *config.Config
	log      logger.Logger
	server   *http.Server
	slips    *handlers.SlipHandler
	callback *handlers.CallbackHandler
	health   *handlers.HealthHandler
	keys     *handlers.KeysHandler
	issuer   service.TokenIssuer
	metrics  *monitoring.Metrics
}

// NewRouter creates the router. Routes are registered by SetupRoutes.
func NewRouter(
	cfg *config.Config,
	log logger.Logger,
	slips *handlers.SlipHandler,
	callback *handlers.CallbackHandler,
	health *handlers.HealthHandler,
	keys *handlers.KeysHandler,
	issuer service.TokenIssuer,
	metrics *monitoring.Metrics,
) *Router {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	return &Router{
		engine:   gin.New(),
		config:   cfg,
		log:      log.WithComponent("router"),
		slips:    slips,
		callback: callback,
		health:   health,
		keys:     keys,
		issuer:   issuer,
		metrics:  metrics,
	}
}

// SetupRoutes installs middleware and the route table.
func (r *Router) SetupRoutes() {
	r.engine.Use(gin.Recovery())
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.Logger(r.log))
	r.engine.Use(middleware.Metrics(r.metrics))

	corsConfig := cors.DefaultConfig()
	if len(r.config.Server.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = r.config.Server.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", "X-Request-ID")
	r.engine.Use(cors.New(corsConfig))

	r.engine.GET("/health", r.health.Health)
	r.engine.GET("/ready", r.health.Ready)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(r.engine)

	v1 := r.engine.Group("/v1")
	{
		// The callback is hit by the principal's browser after the upstream
		// authorization page; it carries no bearer token.
		v1.GET("/callback/:target", r.callback.Handle)

		authed := v1.Group("", middleware.JWTAuth(r.issuer))
		{
			authed.POST("/slips", r.slips.Create)
			authed.GET("/slips", r.slips.List)
			authed.GET("/slips/:id", r.slips.Get)
			authed.POST("/slips/:id/complete", r.slips.Complete)
			authed.GET("/slips/:id/token", r.slips.RevealToken)
			authed.DELETE("/slips/:id", r.slips.Revoke)
			authed.POST("/slips/cleanup", r.slips.Cleanup)
			authed.GET("/keys", r.keys.List)
		}
	}
}

// Engine exposes the gin engine for tests.
func (r *Router) Engine() *gin.Engine { return r.engine }

// Start runs the HTTP server until the context is cancelled, then drains it.
func (r *Router) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", r.config.Server.Host, r.config.Server.Port)
	r.server = &http.Server{
		Addr:         addr,
		Handler:      r.engine,
		ReadTimeout:  time.Duration(r.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(r.config.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		r.log.Info(ctx, "http server listening", logger.Fields{"addr": addr})
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	r.log.Info(shutdownCtx, "draining http server")
	return r.server.Shutdown(shutdownCtx)
}
