// Package httpserver exposes the thin ops-only HTTP surface: liveness
// and metrics endpoints for the scheduler/worker/sweeper processes.
// The CRUD surface over users, phone numbers, schedules, and campaigns
// is owned by a separate collaborating service and is out of scope
// here.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/acme/outbound-dialer/internal/config"
	"github.com/acme/outbound-dialer/pkg/logger"
)

// Server serves /healthz on Fiber at the configured port and /metrics on
// a plain net/http mux at the next port up (Port+1).
type Server struct {
	app     *fiber.App
	cfg     config.HTTPConfig
	log     *logger.Logger
	metrics *http.Server
}

// New constructs the ops HTTP server. db and redisClient may be nil if
// a given process does not hold that dependency (e.g. the sweeper passes
// no Redis client); the corresponding check is skipped.
func New(cfg config.HTTPConfig, db *sqlx.DB, redisClient *redis.Client, log *logger.Logger) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorHandler: func(ctx *fiber.Ctx, err error) error {
			log.Error("httpserver: request failed", zap.Error(err))
			return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})
	app.Use(otelfiber.Middleware())

	app.Get("/healthz", func(ctx *fiber.Ctx) error {
		healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
		defer cancel()

		errs := make(map[string]string)

		if db != nil {
			if err := db.PingContext(healthCtx); err != nil {
				errs["postgres"] = err.Error()
			}
		}
		if redisClient != nil {
			if err := redisClient.Ping(healthCtx).Err(); err != nil {
				errs["redis"] = err.Error()
			}
		}

		status := fiber.StatusOK
		if len(errs) > 0 {
			status = fiber.StatusServiceUnavailable
		}
		return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port+1), Handler: mux}

	return &Server{app: app, cfg: cfg, log: log, metrics: metricsSrv}
}

// Start begins serving HTTP traffic until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)

	go func() {
		if err := s.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("httpserver: metrics listener failed", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.Shutdown()
	}()

	return s.app.Listen(addr)
}

// Shutdown gracefully stops both listeners.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.metrics.Shutdown(ctx)
	return s.app.ShutdownWithContext(ctx)
}
