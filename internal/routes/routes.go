package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/splitledger/splitledger/internal/authorization"
	"github.com/splitledger/splitledger/internal/config"
	"github.com/splitledger/splitledger/internal/ledger"
	"github.com/splitledger/splitledger/internal/middleware"
	"github.com/splitledger/splitledger/internal/notification"
	"github.com/splitledger/splitledger/internal/posting"
	"github.com/splitledger/splitledger/internal/projection"
	"github.com/splitledger/splitledger/internal/refund"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Memory-backed stores are a dev convenience only.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)

	var store ledger.Store
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
	} else {
		store = ledger.NewMemory()
	}

	var projRepo projection.Repository
	var authzRepo authorization.Repository
	if d.DB != nil {
		projRepo = projection.NewPostgresRepository(d.DB)
		authzRepo = authorization.NewPostgresRepository(d.DB)
	} else {
		projRepo = projection.NewMemoryRepository()
		authzRepo = authorization.NewMemoryRepository()
	}

	notifier := notification.NewLoggerNotifier(d.Logger)
	projector := projection.NewService(projRepo, d.Logger)

	postingHandler := posting.NewHandler(posting.NewService(store, d.Logger))
	refundHandler := refund.NewHandler(refund.NewService(store, refund.StaticProcessor{}, notifier, d.Logger))
	authzSvc := authorization.NewService(authzRepo, store, projector, notifier, d.Logger, d.Cfg.DecisionTTL)
	authzHandler := authorization.NewHandler(authzSvc, authzRepo)
	projHandler := projection.NewHandler(projector, projRepo, store)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterLedgerRoutes(api, postingHandler, refundHandler)
	RegisterAuthorizationRoutes(api, authzHandler)
	RegisterProjectionRoutes(api, projHandler)

	return nil
}
