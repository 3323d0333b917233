package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpn-sentinel/sentinel/app/models"
)

func newTestIngestor(t *testing.T) (*Ingestor, *fakeRepo, *fakeProvider, *fakeRequester) {
	t.Helper()
	repo := newFakeRepo()
	provider := newFakeProvider()
	requester := &fakeRequester{}
	reconciler := NewReconciler(repo, provider, requester, &fakeNotifier{})
	return NewIngestor(repo, reconciler, testWebhookSecret), repo, provider, requester
}

func checkoutPayload(eventID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"customer": "cus_42",
			"subscription": "sub_stripe_1",
			"metadata": {"userId": "user_1"}
		}}
	}`, eventID))
}

func TestIngestAppliesValidDelivery(t *testing.T) {
	ing, repo, _, requester := newTestIngestor(t)
	repo.addUser(billingUser())

	payload := checkoutPayload("evt_1")
	res := ing.Ingest(context.Background(), payload, signPayload(t, payload, time.Now(), testWebhookSecret))

	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, models.WebhookOutcomeApplied, res.Outcome)

	entry := repo.ledgerEntry("evt_1")
	require.NotNil(t, entry)
	assert.Equal(t, models.WebhookOutcomeApplied, entry.Outcome)
	require.NotNil(t, entry.ProcessedAt)
	assert.Len(t, requester.issued(), 1)
}

func TestIngestDeduplicatesRedeliveries(t *testing.T) {
	ing, repo, _, requester := newTestIngestor(t)
	repo.addUser(billingUser())
	payload := checkoutPayload("evt_1")

	for i := 0; i < 5; i++ {
		res := ing.Ingest(context.Background(), payload, signPayload(t, payload, time.Now(), testWebhookSecret))
		assert.Equal(t, 200, res.StatusCode)
	}

	entry := repo.ledgerEntry("evt_1")
	require.NotNil(t, entry)
	assert.Equal(t, models.WebhookOutcomeApplied, entry.Outcome, "original outcome must survive redeliveries")
	assert.Equal(t, 5, entry.DeliveryCount)
	assert.Len(t, requester.issued(), 1, "side effects must run exactly once")
}

func TestIngestRejectsBadSignatureWithoutLedgerRow(t *testing.T) {
	ing, repo, _, _ := newTestIngestor(t)
	payload := checkoutPayload("evt_1")

	res := ing.Ingest(context.Background(), payload, signPayload(t, payload, time.Now(), "whsec_wrong"))

	assert.Equal(t, 400, res.StatusCode)
	assert.Nil(t, repo.ledgerEntry("evt_1"), "unauthenticated deliveries must not touch the ledger")
}

func TestIngestAcksMalformedEventAsRejected(t *testing.T) {
	ing, repo, _, _ := newTestIngestor(t)
	payload := []byte(`{"type":"invoice.payment_failed","data":{"object":{}}}`)

	res := ing.Ingest(context.Background(), payload, signPayload(t, payload, time.Now(), testWebhookSecret))

	assert.Equal(t, 200, res.StatusCode, "structural failures are acked to stop redelivery")
	assert.Equal(t, models.WebhookOutcomeRejected, res.Outcome)

	// Without an event id the ledger keys on a payload hash.
	found := false
	repo.mu.Lock()
	for key, e := range repo.ledger {
		if strings.HasPrefix(key, "hash:") && e.Outcome == models.WebhookOutcomeRejected {
			found = true
		}
	}
	repo.mu.Unlock()
	assert.True(t, found)
}

func TestIngestAcksStructuralReconcileFailure(t *testing.T) {
	ing, repo, _, _ := newTestIngestor(t)
	payload := []byte(`{
		"id": "evt_orphan",
		"type": "customer.subscription.deleted",
		"data": {"object": {"id": "sub_unknown", "status": "canceled"}}
	}`)

	res := ing.Ingest(context.Background(), payload, signPayload(t, payload, time.Now(), testWebhookSecret))

	assert.Equal(t, 200, res.StatusCode)
	entry := repo.ledgerEntry("evt_orphan")
	require.NotNil(t, entry, "rejected events stay in the ledger for audit")
	assert.Equal(t, models.WebhookOutcomeRejected, entry.Outcome)
	assert.Contains(t, entry.ProcessingError, "unknown subscription")
}

func TestIngestReleasesLedgerOnTransientFailure(t *testing.T) {
	ing, repo, provider, requester := newTestIngestor(t)
	repo.addUser(billingUser())
	provider.retrieveErr = errors.New("connection refused")

	payload := checkoutPayload("evt_1")
	res := ing.Ingest(context.Background(), payload, signPayload(t, payload, time.Now(), testWebhookSecret))

	assert.Equal(t, 500, res.StatusCode, "transient failures must request redelivery")
	assert.Nil(t, repo.ledgerEntry("evt_1"), "ledger row must be released so the redelivery is processed")

	// Provider recovers; the redelivery now goes through end to end.
	provider.retrieveErr = nil
	res = ing.Ingest(context.Background(), payload, signPayload(t, payload, time.Now(), testWebhookSecret))
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, models.WebhookOutcomeApplied, res.Outcome)
	assert.Len(t, requester.issued(), 1)
}

func TestIngestAcksUnknownEventTypes(t *testing.T) {
	ing, repo, _, _ := newTestIngestor(t)
	payload := []byte(`{"id":"evt_misc","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)

	res := ing.Ingest(context.Background(), payload, signPayload(t, payload, time.Now(), testWebhookSecret))

	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, models.WebhookOutcomeApplied, res.Outcome)
	entry := repo.ledgerEntry("evt_misc")
	require.NotNil(t, entry)
	assert.Equal(t, "customer.created", entry.EventType)
}
