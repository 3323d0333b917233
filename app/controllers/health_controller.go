package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vpn-sentinel/sentinel/internal/pkg/cache"
	"github.com/vpn-sentinel/sentinel/internal/pkg/database"
)

// HandleHealth reports the status of the service's dependencies. The CA
// check runs a real command over SSH and is the slowest probe.
func HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
	defer cancel()

	checks := fiber.Map{}
	healthy := true

	dbStatus := "ok"
	if sqlDB, err := database.GetDB().DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		dbStatus = "unavailable"
		healthy = false
	}
	checks["database"] = dbStatus

	cacheStatus := "ok"
	if err := cache.GetClient().Ping(ctx).Err(); err != nil {
		cacheStatus = "unavailable"
		healthy = false
	}
	checks["cache"] = cacheStatus

	pkiStatus := "ok"
	if !container.CA.HealthCheck(ctx) {
		pkiStatus = "unavailable"
		healthy = false
	}
	checks["pki"] = pkiStatus

	status := fiber.StatusOK
	overall := "ok"
	if !healthy {
		status = fiber.StatusServiceUnavailable
		overall = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{"status": overall, "checks": checks})
}
