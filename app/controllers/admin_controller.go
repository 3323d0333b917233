package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/vpn-sentinel/sentinel/internal/pkg/metrics/counter"
	"github.com/vpn-sentinel/sentinel/internal/pkg/statistics"
)

// HandleAdminQueueStats exposes job queue counters for operations.
func HandleAdminQueueStats(c *fiber.Ctx) error {
	queue := container.Jobs.GetQueue()

	stats, err := queue.GetJobStats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Erreur serveur"})
	}
	pending, _ := queue.GetQueueSize(c.Context())
	processing, _ := queue.GetProcessingSize(c.Context())

	return c.JSON(fiber.Map{
		"stats":      stats,
		"pending":    pending,
		"processing": processing,
	})
}

// HandleAdminOverviewStats returns aggregate counts plus the running
// webhook and job counters.
func HandleAdminOverviewStats(c *fiber.Ctx) error {
	overview := statistics.GetStatisticsData()

	webhooks, err := counter.WebhookOutcomes()
	if err != nil {
		log.Warnf("[Admin] reading webhook counters failed: %v", err)
	}
	jobs, err := counter.JobResults()
	if err != nil {
		log.Warnf("[Admin] reading job counters failed: %v", err)
	}

	return c.JSON(fiber.Map{
		"overview": overview,
		"webhooks": webhooks,
		"jobs":     jobs,
	})
}

// HandleAdminRefreshCRL triggers an immediate CRL regeneration.
func HandleAdminRefreshCRL(c *fiber.Ctx) error {
	if err := container.Jobs.RefreshCRLOnce(); err != nil {
		log.Errorf("[Admin] Manual CRL refresh failed: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "bad_gateway", "message": "La régénération de la CRL a échoué"})
	}
	return c.JSON(fiber.Map{"message": "CRL régénérée"})
}
