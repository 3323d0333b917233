package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/vpn-sentinel/sentinel/app/models"
	"github.com/vpn-sentinel/sentinel/internal/pkg/usercontext"
)

// HandleGetSubscription returns the authenticated user's subscription.
func HandleGetSubscription(c *fiber.Ctx) error {
	sub, err := container.BillingRepo.GetSubscriptionByUser(usercontext.GetUserID(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Erreur serveur"})
	}
	if sub == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Aucun abonnement trouvé"})
	}
	return c.JSON(fiber.Map{"subscription": sub})
}

// HandleCancelSubscription schedules the cancellation for the end of the
// current billing period. The definitive local state change happens when the
// provider confirms it via webhook.
func HandleCancelSubscription(c *fiber.Ctx) error {
	sub, err := container.BillingRepo.GetSubscriptionByUser(usercontext.GetUserID(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Erreur serveur"})
	}
	if sub == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Aucun abonnement trouvé"})
	}
	if sub.Status != models.SubscriptionStatusActive {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Aucun abonnement actif à annuler"})
	}
	if sub.CancelAtPeriodEnd {
		return c.JSON(fiber.Map{"message": "L'annulation est déjà programmée"})
	}

	if err := container.Provider.CancelAtPeriodEnd(c.Context(), sub.StripeSubscriptionID); err != nil {
		log.Errorf("[Subscription] Cancel failed for %s: %v", sub.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "bad_gateway", "message": "Le service de paiement est indisponible"})
	}

	sub.CancelAtPeriodEnd = true
	if err := container.BillingRepo.UpdateSubscriptionVersioned(sub); err != nil {
		// The provider-side flag is set; the next subscription.updated event
		// will converge the local row.
		log.Warnf("[Subscription] Local cancel flag not persisted for %s: %v", sub.ID, err)
	}

	return c.JSON(fiber.Map{"message": "Votre abonnement sera annulé à la fin de la période en cours"})
}

// HandleReactivateSubscription removes a scheduled cancellation.
func HandleReactivateSubscription(c *fiber.Ctx) error {
	sub, err := container.BillingRepo.GetSubscriptionByUser(usercontext.GetUserID(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Erreur serveur"})
	}
	if sub == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Aucun abonnement trouvé"})
	}
	if sub.Status != models.SubscriptionStatusActive || !sub.CancelAtPeriodEnd {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Aucune annulation programmée"})
	}

	if err := container.Provider.Reactivate(c.Context(), sub.StripeSubscriptionID); err != nil {
		log.Errorf("[Subscription] Reactivate failed for %s: %v", sub.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "bad_gateway", "message": "Le service de paiement est indisponible"})
	}

	sub.CancelAtPeriodEnd = false
	if err := container.BillingRepo.UpdateSubscriptionVersioned(sub); err != nil {
		log.Warnf("[Subscription] Local reactivate flag not persisted for %s: %v", sub.ID, err)
	}

	return c.JSON(fiber.Map{"message": "Votre abonnement a été réactivé"})
}

// HandleListInvoices returns the provider-side invoice history.
func HandleListInvoices(c *fiber.Ctx) error {
	sub, err := container.BillingRepo.GetSubscriptionByUser(usercontext.GetUserID(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Erreur serveur"})
	}
	if sub == nil || sub.StripeCustomerID == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Aucun abonnement trouvé"})
	}

	invoices, err := container.Provider.ListInvoices(c.Context(), sub.StripeCustomerID)
	if err != nil {
		log.Errorf("[Subscription] Invoice listing failed for %s: %v", sub.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "bad_gateway", "message": "Le service de paiement est indisponible"})
	}
	return c.JSON(fiber.Map{"invoices": invoices})
}
