package notify

import (
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/vpn-sentinel/sentinel/app/models"
	"github.com/vpn-sentinel/sentinel/internal/pkg/env"
	"github.com/vpn-sentinel/sentinel/internal/pkg/mail"
)

// Notifier is the best-effort side channel for user-facing and operator
// messages. Implementations must never propagate failures back into
// reconciliation; delivery problems are logged and dropped.
type Notifier interface {
	IssuanceSucceeded(user *models.User, cert *models.Certificate, unlockSecret string)
	IssuanceFailed(user *models.User, subscriptionID string, cause error)
	CertificateRevoked(user *models.User, cert *models.Certificate)
	PaymentFailed(user *models.User, invoiceURL string)
}

// MailNotifier sends notifications over SMTP.
type MailNotifier struct {
	FrontendURL string
	OpsEmail    string
}

func NewMailNotifierFromEnv() *MailNotifier {
	return &MailNotifier{
		FrontendURL: env.GetEnv("FRONTEND_URL", ""),
		OpsEmail:    env.GetEnv("OPS_ALERT_EMAIL", ""),
	}
}

func (n *MailNotifier) IssuanceSucceeded(user *models.User, cert *models.Certificate, unlockSecret string) {
	subject := "Bienvenue — votre certificat VPN est prêt"
	body := fmt.Sprintf(
		"<p>Bonjour %s,</p>"+
			"<p>Votre abonnement est actif et votre certificat client (<b>%s</b>) a été généré.</p>"+
			"<p>Mot de passe du fichier .p12 : <code>%s</code></p>"+
			"<p><a href=\"%s/dashboard?tab=certificate\">Télécharger mon certificat</a></p>",
		user.Firstname, cert.CommonName, unlockSecret, n.FrontendURL,
	)
	n.send(user.Email, subject, body)
}

func (n *MailNotifier) IssuanceFailed(user *models.User, subscriptionID string, cause error) {
	// Issuance failures are operator business: the user cannot fix a CA
	// outage, so no user-facing mail is sent here.
	if n.OpsEmail == "" {
		log.Errorf("[Notify] Issuance failed for subscription %s and no OPS_ALERT_EMAIL configured: %v", subscriptionID, cause)
		return
	}
	subject := fmt.Sprintf("[ALERTE] Échec d'émission de certificat (abonnement %s)", subscriptionID)
	body := fmt.Sprintf(
		"<p>L'émission du certificat pour l'abonnement <b>%s</b> (utilisateur %s) a échoué :</p><pre>%v</pre>"+
			"<p>Une intervention manuelle est requise (retry-issue).</p>",
		subscriptionID, user.Email, cause,
	)
	n.send(n.OpsEmail, subject, body)
}

func (n *MailNotifier) CertificateRevoked(user *models.User, cert *models.Certificate) {
	subject := "Votre certificat VPN a été révoqué"
	body := fmt.Sprintf(
		"<p>Bonjour %s,</p>"+
			"<p>Le certificat <b>%s</b> associé à votre abonnement a été révoqué. "+
			"Votre accès VPN n'est plus actif.</p>",
		user.Firstname, cert.CommonName,
	)
	n.send(user.Email, subject, body)
}

func (n *MailNotifier) PaymentFailed(user *models.User, invoiceURL string) {
	subject := "Échec de paiement — action requise"
	body := fmt.Sprintf(
		"<p>Bonjour %s,</p>"+
			"<p>Le dernier paiement de votre abonnement a échoué. "+
			"Merci de mettre à jour votre moyen de paiement.</p>"+
			"<p><a href=\"%s\">Voir la facture</a></p>",
		user.Firstname, invoiceURL,
	)
	n.send(user.Email, subject, body)
}

func (n *MailNotifier) send(to, subject, body string) {
	if to == "" {
		return
	}
	go func() {
		if err := mail.SendMail(to, subject, body); err != nil {
			log.Errorf("[Notify] Could not send %q to %s: %v", subject, to, err)
		}
	}()
}
