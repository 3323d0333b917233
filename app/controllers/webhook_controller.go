package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/vpn-sentinel/sentinel/internal/pkg/metrics/counter"
)

// HandleStripeWebhook receives provider deliveries. The raw body is passed
// through untouched: the signature covers those exact bytes.
func HandleStripeWebhook(c *fiber.Ctx) error {
	res := container.Ingestor.Ingest(c.Context(), c.Body(), c.Get("Stripe-Signature"))

	if res.Outcome != "" {
		if err := counter.AddWebhookOutcome(res.Outcome); err != nil {
			log.Warnf("[Webhook] outcome counter update failed: %v", err)
		}
	}

	body := fiber.Map{"received": res.StatusCode < 500}
	if res.Message != "" {
		body["message"] = res.Message
	}
	return c.Status(res.StatusCode).JSON(body)
}
