package controllers

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/vpn-sentinel/sentinel/app/models"
	"github.com/vpn-sentinel/sentinel/internal/pkg/certmanager"
	"github.com/vpn-sentinel/sentinel/internal/pkg/usercontext"
)

const expiringSoonDays = 30

// HandleGetCertificate returns the authenticated user's certificate status.
func HandleGetCertificate(c *fiber.Ctx) error {
	sub, err := container.BillingRepo.GetSubscriptionByUser(usercontext.GetUserID(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Erreur serveur"})
	}
	if sub == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Aucun abonnement trouvé"})
	}

	cert, err := container.CertRepo.FindBySubscription(sub.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Erreur serveur"})
	}
	if cert == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Aucun certificat trouvé"})
	}

	return c.JSON(fiber.Map{
		"certificate": cert,
		"health":      certificateHealth(cert),
		"days_until_expiration": func() interface{} {
			if d := cert.DaysUntilExpiration(); d != nil {
				return *d
			}
			return nil
		}(),
	})
}

// HandleDownloadCertificate streams the PKCS#12 bundle. Only valid,
// unexpired certificates are downloadable; the state check is the access
// control here, revoked bundles stay on disk for audit.
func HandleDownloadCertificate(c *fiber.Ctx) error {
	cert, err := container.CertRepo.FindActiveByUser(usercontext.GetUserID(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Erreur serveur"})
	}
	if cert == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Aucun certificat valide trouvé"})
	}
	if cert.IsExpired() {
		return c.Status(fiber.StatusGone).JSON(fiber.Map{"error": "gone", "message": "Le certificat a expiré"})
	}

	bundle, err := container.Store.Read(cert.BundleRef)
	if err != nil {
		log.Errorf("[Certificate] Bundle read failed for %s: %v", cert.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Le certificat est momentanément indisponible"})
	}

	c.Set(fiber.HeaderContentType, "application/x-pkcs12")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename=%q`, cert.CommonName+".p12"))
	return c.Send(bundle)
}

// HandleRevokeCertificate revokes the authenticated user's own certificate,
// typically after a device loss. The subscription keeps running; a new
// certificate needs an admin reissue.
func HandleRevokeCertificate(c *fiber.Ctx) error {
	sub, err := container.BillingRepo.GetSubscriptionByUser(usercontext.GetUserID(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Erreur serveur"})
	}
	if sub == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Aucun abonnement trouvé"})
	}

	err = container.Certs.Revoke(c.Context(), sub.ID)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"message": "Votre certificat a été révoqué"})
	case errors.Is(err, certmanager.ErrRevocationIncomplete):
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "Révocation en cours, reprise automatique programmée"})
	case errors.Is(err, certmanager.ErrNotRevocable):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Aucun certificat révocable"})
	default:
		log.Errorf("[Certificate] User revoke failed for subscription %s: %v", sub.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Erreur serveur"})
	}
}

// HandleAdminRevokeCertificate revokes a subscription's certificate
// out-of-band (abuse, key compromise). Billing state is not touched.
func HandleAdminRevokeCertificate(c *fiber.Ctx) error {
	subscriptionID := c.Params("id")

	err := container.Certs.Revoke(c.Context(), subscriptionID)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"message": "Certificat révoqué"})
	case errors.Is(err, certmanager.ErrRevocationIncomplete):
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "Révocation en cours, reprise automatique programmée"})
	case errors.Is(err, certmanager.ErrNotRevocable):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Le certificat est en cours d'émission"})
	default:
		log.Errorf("[Certificate] Admin revoke failed for subscription %s: %v", subscriptionID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Erreur serveur"})
	}
}

// HandleAdminRetryIssuance re-runs issuance for a failed certificate.
func HandleAdminRetryIssuance(c *fiber.Ctx) error {
	certID := c.Params("id")

	cert, err := container.Certs.RetryIssue(c.Context(), certID)
	if err != nil {
		if errors.Is(err, certmanager.ErrIssuanceFailed) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "bad_gateway", "message": "L'émission a de nouveau échoué"})
		}
		log.Errorf("[Certificate] Admin retry failed for %s: %v", certID, err)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Le certificat ne peut pas être réémis dans son état actuel"})
	}
	return c.JSON(fiber.Map{"message": "Certificat réémis", "certificate": cert})
}

func certificateHealth(cert *models.Certificate) string {
	switch cert.State {
	case models.CertificateStateValid:
		if cert.IsExpired() {
			return "expired"
		}
		if d := cert.DaysUntilExpiration(); d != nil && *d <= expiringSoonDays {
			return "expiring_soon"
		}
		return "valid"
	default:
		return cert.State
	}
}
