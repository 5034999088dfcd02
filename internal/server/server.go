package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/provisioning/internal/config"
	"github.com/smallbiznis/provisioning/internal/observability"
	obslogger "github.com/smallbiznis/provisioning/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/provisioning/internal/observability/metrics"
	obstracing "github.com/smallbiznis/provisioning/internal/observability/tracing"
	"github.com/smallbiznis/provisioning/internal/provisioning/ingest"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// maxBodyBytes bounds webhook payloads.
const maxBodyBytes = 1 << 20

// Module serves the ingest API. It expects a domain.Publisher in the graph.
var Module = fx.Module("http.server",
	ingest.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

// HealthModule serves only /health and /metrics, for processes without the
// ingest API.
var HealthModule = fx.Module("http.health",
	fx.Provide(registerGin),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type ServerParams struct {
	fx.In

	Engine  *gin.Engine
	Gateway *ingest.Gateway
}

type Server struct {
	engine  *gin.Engine
	gateway *ingest.Gateway
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:  p.Engine,
		gateway: p.Gateway,
	}
}

func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/api")
	api.POST("/provisioning/ingest", s.IngestPurchase)
	api.POST("/webhooks/purchase", s.IngestPurchase)
}
