package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/vpn-sentinel/sentinel/app/models"
	"github.com/vpn-sentinel/sentinel/internal/pkg/certmanager"
	"github.com/vpn-sentinel/sentinel/internal/pkg/database"
)

// processCertificateIssueJob provisions a certificate for a freshly activated
// subscription. The certificate manager is idempotent per subscription, so a
// redelivered or sweeper-recovered job is harmless.
func (q *Queue) processCertificateIssueJob(ctx context.Context, job *Job) error {
	payload, err := CertificateIssueJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid issue payload: %w", err)
	}
	if payload.SubscriptionID == "" || payload.UserID == "" {
		return fmt.Errorf("issue payload missing subscription or user id")
	}

	db := database.GetDB()

	var sub models.Subscription
	if err := db.Where("id = ?", payload.SubscriptionID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[JobQueue] Issue job %s: subscription %s no longer exists", job.ID, payload.SubscriptionID)
			return nil
		}
		return fmt.Errorf("load subscription %s: %w", payload.SubscriptionID, err)
	}
	if sub.Status != models.SubscriptionStatusActive {
		// The subscription lapsed between enqueue and processing; issuing
		// now would hand out access the billing state no longer covers.
		log.Infof("[JobQueue] Issue job %s skipped: subscription %s is %s", job.ID, sub.ID, sub.Status)
		return nil
	}

	var user models.User
	if err := db.Where("id = ?", payload.UserID).First(&user).Error; err != nil {
		return fmt.Errorf("load user %s: %w", payload.UserID, err)
	}

	if _, err := q.certs.Issue(ctx, &sub, &user); err != nil {
		if errors.Is(err, certmanager.ErrIssuanceFailed) {
			// The manager already compensated (failed state, ops alerted).
			// Re-running the job would repeat the non-retryable issue step.
			log.Errorf("[JobQueue] Issue job %s: issuance failed for subscription %s, manual retry required", job.ID, sub.ID)
			return nil
		}
		return err
	}
	return nil
}

// processCertificateRevokeJob revokes the certificate of a cancelled or
// expired subscription.
func (q *Queue) processCertificateRevokeJob(ctx context.Context, job *Job) error {
	payload, err := CertificateRevokeJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid revoke payload: %w", err)
	}
	if payload.SubscriptionID == "" {
		return fmt.Errorf("revoke payload missing subscription id")
	}

	if err := q.certs.Revoke(ctx, payload.SubscriptionID); err != nil {
		if errors.Is(err, certmanager.ErrRevocationIncomplete) {
			// Stays in revoking; the staleness sweeper owns recovery from
			// here, the job must not race it.
			log.Warnf("[JobQueue] Revoke job %s: revocation incomplete for subscription %s, sweeper will finish", job.ID, payload.SubscriptionID)
			return nil
		}
		// ErrNotRevocable (still issuing) and transport failures go through
		// the job retry budget.
		return err
	}
	return nil
}
