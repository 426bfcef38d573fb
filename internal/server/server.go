package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/campsuite/campsuite/internal/clock"
	"github.com/campsuite/campsuite/internal/config"
	"github.com/campsuite/campsuite/internal/idempotency"
	"github.com/campsuite/campsuite/internal/routes"
	"github.com/campsuite/campsuite/internal/storedvalue"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app    *fiber.App
	cfg    config.Config
	db     *pgxpool.Pool
	cache  *redis.Client
	engine *storedvalue.Service
}

// New instantiates the HTTP server. The stored-value engine is built here so
// the route handlers and the sweeper share one instance; without a database
// it falls back to the in-memory stores for development.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	var ledgerStore storedvalue.Store
	var keyStore idempotency.Store
	if db != nil {
		ledgerStore = storedvalue.NewPostgresStore(db)
		keyStore = idempotency.NewPostgresStore(db)
	} else {
		ledgerStore = storedvalue.NewMemoryStore()
		keyStore = idempotency.NewMemoryStore()
	}

	clk := clock.Real{}
	guard := idempotency.NewGuard(keyStore, cfg.GuardWindow, clk)
	engine := storedvalue.NewService(ledgerStore, guard, clk, cfg.HoldTTL, logger)

	if err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger, Engine: engine}); err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, db: db, cache: cache, engine: engine}, nil
}

// Engine exposes the shared stored-value service for background workers.
func (s *Server) Engine() *storedvalue.Service {
	return s.engine
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
