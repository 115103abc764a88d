package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/betwallet/balance_engine/internal/balancecache"
	"github.com/betwallet/balance_engine/internal/config"
	"github.com/betwallet/balance_engine/internal/game"
	"github.com/betwallet/balance_engine/internal/ledger"
	"github.com/betwallet/balance_engine/internal/member"
	"github.com/betwallet/balance_engine/internal/middleware"
	"github.com/betwallet/balance_engine/internal/seamless"
	"github.com/betwallet/balance_engine/internal/wallet"
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
	if d.Cache == nil {
		return fmt.Errorf("redis is required for the balance cache")
	}
	if d.DB == nil && !isDev(d.Cfg.AppEnv) {
		return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	var (
		store   ledger.Store
		members member.Directory
	)
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
		members = member.NewPostgresDirectory(d.DB)
	} else {
		d.Logger.Warn("no database configured, using in-memory ledger", slog.String("app_env", d.Cfg.AppEnv))
		store = ledger.NewMemoryStore()
		members = member.NewMemoryDirectory()
	}

	cache := balancecache.New(d.Cache, d.Cfg.BalanceCacheTTL, d.Logger)
	store.OnCommit(cache.InvalidateOnCommit())

	engine := game.NewEngine(store, cache, d.Logger)
	seamlessSvc := seamless.NewService(engine, store, members, seamless.Options{
		Secret:           d.Cfg.SeamlessSecret,
		MaxWagers:        d.Cfg.WalletBatchSize,
		RequireSignature: d.Cfg.RequireSignature,
	}, d.Logger)
	walletSvc := wallet.NewService(wallet.NewLedgerBackend(store), store, cache, d.Logger)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.GetRequestID(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterSeamlessRoutes(api, seamless.NewHandler(seamlessSvc))
	RegisterWalletRoutes(api, wallet.NewHandler(walletSvc, d.Logger),
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))

	return nil
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
