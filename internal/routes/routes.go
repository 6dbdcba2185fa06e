package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bahi-khata/bahi_khata/internal/auth"
	"github.com/bahi-khata/bahi_khata/internal/config"
	"github.com/bahi-khata/bahi_khata/internal/customer"
	"github.com/bahi-khata/bahi_khata/internal/ledger"
	"github.com/bahi-khata/bahi_khata/internal/middleware"
	"github.com/bahi-khata/bahi_khata/internal/notification"
	"github.com/bahi-khata/bahi_khata/internal/otp"
	"github.com/bahi-khata/bahi_khata/internal/shopkeeper"
	"github.com/bahi-khata/bahi_khata/internal/transactions"
	"github.com/bahi-khata/bahi_khata/internal/verification"
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
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !isDev(d.Cfg.Env) {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}
	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	// Services and handlers
	var books ledger.Ledger
	if d.DB != nil {
		books = ledger.NewPostgresLedger(d.DB)
	} else {
		books = ledger.NewInMemory()
	}

	var customerRepo customer.Repository
	if d.DB != nil {
		customerRepo = customer.NewPostgresRepository(d.DB)
	} else {
		customerRepo = customer.NewMemoryRepository()
	}

	var keeperRepo shopkeeper.Repository
	if d.DB != nil {
		keeperRepo = shopkeeper.NewPostgresRepository(d.DB)
	} else {
		keeperRepo = shopkeeper.NewMemoryRepository()
	}
	keeperSvc := shopkeeper.NewService(keeperRepo)
	authSvc := auth.NewService(d.Cfg, keeperRepo)
	authHandler := auth.NewHandler(keeperSvc, authSvc)

	var challengeStore otp.Store
	if d.Cache != nil {
		challengeStore = otp.NewRedisStore(d.Cache)
	} else {
		challengeStore = otp.NewMemoryStore()
	}
	sender := notification.NewLoggerSender(d.Logger)
	gate := otp.NewGate(challengeStore, sender, d.Logger, d.Cfg.OtpTTL, d.Cfg.OtpMaxAttempts)

	resolver := verification.NewResolver(customerRepo, books, verification.StaticVerifier{}, gate, d.Logger, 2*d.Cfg.OtpTTL)
	orchestrator := transactions.NewOrchestrator(customerRepo, books, resolver, gate, d.Logger)
	txHandler := transactions.NewHandler(orchestrator)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	RegisterShopkeeperRoutes(api, keeperSvc, d.Logger)
	RegisterAuthRoutes(api, authHandler)

	// Protected routes
	jwtmw := middleware.JWTAuth(d.Cfg, keeperRepo)
	protected := api.Group("", jwtmw)

	otpLimiter := middleware.OtpRateLimit(d.Cache, 5)
	RegisterCustomerRoutes(protected, orchestrator, resolver, customerRepo, books, otpLimiter)

	var idem fiber.Handler
	if d.Cache != nil {
		idem = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}
	RegisterTransactionRoutes(protected, txHandler, otpLimiter, idem)

	return nil
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}
