package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vpn-sentinel/sentinel/app/controllers"
)

type WebhookRouter struct {
}

// InstallRouter registers the provider webhook endpoint. No auth middleware:
// the HMAC signature over the raw body is the authentication.
func (h WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post("/webhook/stripe", controllers.HandleStripeWebhook)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}
