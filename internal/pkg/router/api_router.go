package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/vpn-sentinel/sentinel/app/controllers"
	"github.com/vpn-sentinel/sentinel/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(), middleware.UserContextMiddleware)

	api.Get("/health", controllers.HandleHealth)

	auth := api.Group("/auth")
	auth.Post("/register", controllers.HandleRegister)
	auth.Post("/login", controllers.HandleLogin)
	auth.Post("/logout", middleware.RequireAuth, controllers.HandleLogout)
	auth.Get("/me", middleware.RequireAuth, controllers.HandleMe)

	payment := api.Group("/payment", middleware.RequireAuth)
	payment.Post("/checkout", controllers.HandleCreateCheckout)
	payment.Get("/session/:id", controllers.HandleCheckoutSessionStatus)

	subscription := api.Group("/subscription", middleware.RequireAuth)
	subscription.Get("/", controllers.HandleGetSubscription)
	subscription.Post("/cancel", controllers.HandleCancelSubscription)
	subscription.Post("/reactivate", controllers.HandleReactivateSubscription)
	subscription.Get("/invoices", controllers.HandleListInvoices)

	certificate := api.Group("/certificate", middleware.RequireAuth)
	certificate.Get("/", controllers.HandleGetCertificate)
	certificate.Get("/download", controllers.HandleDownloadCertificate)
	certificate.Post("/revoke", controllers.HandleRevokeCertificate)

	admin := api.Group("/admin", middleware.RequireAdmin)
	admin.Get("/stats", controllers.HandleAdminOverviewStats)
	admin.Get("/queue/stats", controllers.HandleAdminQueueStats)
	admin.Post("/pki/refresh-crl", controllers.HandleAdminRefreshCRL)
	admin.Post("/subscriptions/:id/revoke-certificate", controllers.HandleAdminRevokeCertificate)
	admin.Post("/certificates/:id/retry-issuance", controllers.HandleAdminRetryIssuance)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
