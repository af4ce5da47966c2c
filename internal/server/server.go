package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/adl/internal/config"
	"github.com/smallbiznis/adl/internal/observability"
	obslogger "github.com/smallbiznis/adl/internal/observability/logger"
	obstracing "github.com/smallbiznis/adl/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const probeTimeout = 2 * time.Second

var Module = fx.Module("http.server",
	fx.Provide(NewServer),
	fx.Invoke(run),
)

// Server is the operational HTTP surface: liveness, readiness and the
// Prometheus scrape endpoint.
type Server struct {
	engine *gin.Engine
	db     *gorm.DB
	redis  *redis.Client
	log    *zap.Logger
	ready  atomic.Bool
}

type ServerParams struct {
	fx.In

	ObsCfg observability.Config
	DB     *gorm.DB
	Log    *zap.Logger
	Redis  *redis.Client `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	if gin.Mode() != gin.TestMode && !p.ObsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		db:    p.DB,
		redis: p.Redis,
		log:   p.Log.Named("http"),
	}
	s.engine = s.newEngine()
	return s
}

func (s *Server) newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(s.log))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", s.Healthz)
	r.GET("/readyz", s.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// MarkReady flips readiness once every other start hook has run.
func (s *Server) MarkReady(ready bool) {
	s.ready.Store(ready)
}

// Healthz pings the database and, when configured, redis.
func (s *Server) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
	defer cancel()

	checks := gin.H{}
	var failed error
	if err := s.pingDB(ctx); err != nil {
		checks["database"] = err.Error()
		failed = errors.Join(failed, err)
	} else {
		checks["database"] = "ok"
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			failed = errors.Join(failed, err)
		} else {
			checks["redis"] = "ok"
		}
	}

	if failed != nil {
		s.log.Warn("health check failed", zap.Error(failed))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
}

func (s *Server) Readyz(c *gin.Context) {
	if !s.ready.Load() {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) pingDB(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database not configured")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.log.Error("http server stopped", zap.Error(err))
				}
			}()
			s.MarkReady(true)
			s.log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.MarkReady(false)
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
