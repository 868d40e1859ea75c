package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/satellite-dispatch/internal/observability"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// RegisterHealthRoutes wires the liveness and readiness checks. brokerConnected
// is reported but does not gate readiness since sends can fall back to the
// phone lines.
func RegisterHealthRoutes(app fiber.Router, sqlDB *sql.DB, rdb *redis.Client, brokerConnected func() bool) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(sqlDB, rdb, brokerConnected))
}

func RegisterMetricsRoute(app fiber.Router, metrics *observability.Metrics) {
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	}
}

// ReadyzHandler answers 503 when postgres or redis fail to ping.
func ReadyzHandler(sqlDB *sql.DB, rdb *redis.Client, brokerConnected func() bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		pgOK := sqlDB.PingContext(ctx) == nil
		redisOK := rdb.Ping(ctx).Err() == nil

		checks := fiber.Map{
			"postgres": checkStatus(pgOK),
			"redis":    checkStatus(redisOK),
		}
		if brokerConnected != nil {
			checks["rabbitmq"] = checkStatus(brokerConnected())
		}

		if !pgOK || !redisOK {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not_ready",
				"checks": checks,
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
			"checks": checks,
		})
	}
}

func checkStatus(ok bool) string {
	if ok {
		return "ok"
	}
	return "down"
}
