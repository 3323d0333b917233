package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/vpn-sentinel/sentinel/app/models"
)

// DefaultAckBudget bounds how long a delivery may be processed before the
// provider would consider it timed out and redeliver anyway.
const DefaultAckBudget = 15 * time.Second

// IngestResult tells the webhook handler what to answer. StatusCode is the
// HTTP status; 2xx acknowledges the delivery, 5xx requests redelivery.
type IngestResult struct {
	StatusCode int
	Outcome    string
	Message    string
}

// Ingestor is the single entry point for provider webhook deliveries:
// signature check over the raw bytes, idempotency ledger, then reconciler.
type Ingestor struct {
	repo       Repository
	reconciler *Reconciler
	secret     string
	tolerance  time.Duration
	ackBudget  time.Duration
}

func NewIngestor(repo Repository, reconciler *Reconciler, webhookSecret string) *Ingestor {
	return &Ingestor{
		repo:       repo,
		reconciler: reconciler,
		secret:     webhookSecret,
		tolerance:  DefaultSignatureTolerance,
		ackBudget:  DefaultAckBudget,
	}
}

// Ingest processes one delivery. The payload must be the raw request body;
// any re-serialization would break signature verification.
func (i *Ingestor) Ingest(ctx context.Context, payload []byte, signatureHeader string) IngestResult {
	if !VerifyStripeWebhookSignature(payload, signatureHeader, i.secret, i.tolerance) {
		log.Warn("[Billing] Webhook delivery rejected: invalid signature")
		return IngestResult{StatusCode: 400, Message: "invalid signature"}
	}

	ev, parseErr := ParseEvent(payload)

	eventID := ""
	eventType := "unknown"
	if ev != nil {
		eventID = ev.ID
		eventType = ev.Type
	}
	if eventID == "" {
		// No usable event id; hash the payload so even broken deliveries
		// are deduplicated and auditable.
		sum := sha256.Sum256(payload)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	row := &models.WebhookEvent{
		Provider:        ProviderStripe,
		ProviderEventID: eventID,
		EventType:       eventType,
		PayloadJSON:     string(payload),
	}
	created, stored, err := i.repo.CreateWebhookEventIfNotExists(row)
	if err != nil {
		log.Errorf("[Billing] Ledger insert failed for %s: %v", eventID, err)
		return IngestResult{StatusCode: 500, Message: "ledger unavailable"}
	}
	if !created {
		// Redelivery of an already-seen event. The original outcome stands;
		// only the delivery counter moves.
		if err := i.repo.IncrementWebhookDelivery(stored.ID); err != nil {
			log.Warnf("[Billing] Delivery counter update failed for %s: %v", eventID, err)
		}
		return IngestResult{StatusCode: 200, Outcome: models.WebhookOutcomeDuplicate, Message: "duplicate delivery"}
	}

	if parseErr != nil {
		i.finish(stored.ID, models.WebhookOutcomeRejected, parseErr)
		return IngestResult{StatusCode: 200, Outcome: models.WebhookOutcomeRejected, Message: "malformed event"}
	}

	applyCtx, cancel := context.WithTimeout(ctx, i.ackBudget)
	defer cancel()

	switch err := i.reconciler.Apply(applyCtx, ev); {
	case err == nil:
		i.finish(stored.ID, models.WebhookOutcomeApplied, nil)
		return IngestResult{StatusCode: 200, Outcome: models.WebhookOutcomeApplied, Message: "applied"}

	case IsStructural(err):
		log.Warnf("[Billing] Event %s (%s) rejected: %v", eventID, eventType, err)
		i.finish(stored.ID, models.WebhookOutcomeRejected, err)
		return IngestResult{StatusCode: 200, Outcome: models.WebhookOutcomeRejected, Message: "rejected"}

	default:
		// Transient: drop the ledger row so the provider's redelivery is
		// processed instead of deduplicated, and answer 5xx to trigger it.
		log.Errorf("[Billing] Event %s (%s) failed transiently: %v", eventID, eventType, err)
		if delErr := i.repo.DeleteWebhookEvent(stored.ID); delErr != nil {
			log.Errorf("[Billing] Could not release ledger row %d: %v", stored.ID, delErr)
		}
		return IngestResult{StatusCode: 500, Message: "processing failed, retry expected"}
	}
}

func (i *Ingestor) finish(rowID uint, outcome string, cause error) {
	if err := i.repo.MarkWebhookOutcome(rowID, outcome, cause); err != nil {
		log.Warnf("[Billing] Outcome update failed for ledger row %d: %v", rowID, err)
	}
}
