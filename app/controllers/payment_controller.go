package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/vpn-sentinel/sentinel/app/models"
	"github.com/vpn-sentinel/sentinel/internal/pkg/database"
	"github.com/vpn-sentinel/sentinel/internal/pkg/usercontext"
)

// HandleCreateCheckout starts a provider checkout for the authenticated
// user. Activation itself only ever happens through the webhook.
func HandleCreateCheckout(c *fiber.Ctx) error {
	ctx := usercontext.GetUserContext(c)

	var user models.User
	if err := database.GetDB().Where("id = ?", ctx.UserID).First(&user).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Utilisateur introuvable"})
	}

	sub, err := container.BillingRepo.GetSubscriptionByUser(user.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Erreur serveur"})
	}
	if sub != nil && sub.Status == models.SubscriptionStatusActive {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Vous avez déjà un abonnement actif"})
	}

	customerID := ""
	if sub != nil {
		customerID = sub.StripeCustomerID
	}
	if customerID == "" {
		customerID, err = container.Provider.CreateCustomer(c.Context(), &user)
		if err != nil {
			log.Errorf("[Payment] Customer creation failed for %s: %v", user.ID, err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "bad_gateway", "message": "Le service de paiement est indisponible"})
		}
	}

	session, err := container.Provider.CreateCheckoutSession(c.Context(), &user, customerID)
	if err != nil {
		log.Errorf("[Payment] Checkout session failed for %s: %v", user.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "bad_gateway", "message": "Le service de paiement est indisponible"})
	}

	return c.JSON(fiber.Map{
		"session_id": session.ID,
		"url":        session.URL,
	})
}

// HandleCheckoutSessionStatus reports provider-side checkout progress for
// the post-redirect poll. It never mutates local state; the webhook does.
func HandleCheckoutSessionStatus(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Identifiant de session manquant"})
	}

	status, err := container.Provider.GetCheckoutSession(c.Context(), sessionID)
	if err != nil {
		log.Errorf("[Payment] Session status lookup failed for %s: %v", sessionID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "bad_gateway", "message": "Le service de paiement est indisponible"})
	}

	return c.JSON(status)
}
