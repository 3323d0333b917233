package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpn-sentinel/sentinel/app/models"
)

func newTestReconciler(t *testing.T) (*Reconciler, *fakeRepo, *fakeProvider, *fakeRequester, *fakeNotifier) {
	t.Helper()
	repo := newFakeRepo()
	provider := newFakeProvider()
	requester := &fakeRequester{}
	notifier := &fakeNotifier{}
	return NewReconciler(repo, provider, requester, notifier), repo, provider, requester, notifier
}

func billingUser() *models.User {
	return &models.User{ID: "user_1", Firstname: "Jean", Lastname: "Dupont", Email: "jean@example.com"}
}

func activeSubscription() *models.Subscription {
	start := time.Now().Add(-15 * 24 * time.Hour).UTC()
	end := time.Now().Add(15 * 24 * time.Hour).UTC()
	return &models.Subscription{
		ID:                   "local_1",
		UserID:               "user_1",
		StripeCustomerID:     "cus_42",
		StripeSubscriptionID: "sub_stripe_1",
		Status:               models.SubscriptionStatusActive,
		CurrentPeriodStart:   &start,
		CurrentPeriodEnd:     &end,
		Version:              1,
	}
}

func checkoutEvent() *Event {
	return &Event{
		ID:   "evt_checkout",
		Type: EventCheckoutCompleted,
		Checkout: &CheckoutSession{
			ID:             "cs_1",
			UserID:         "user_1",
			CustomerID:     "cus_42",
			SubscriptionID: "sub_stripe_1",
		},
	}
}

func TestCheckoutCreatesActiveSubscriptionAndRequestsIssue(t *testing.T) {
	r, repo, _, requester, _ := newTestReconciler(t)
	repo.addUser(billingUser())

	require.NoError(t, r.Apply(context.Background(), checkoutEvent()))

	sub, err := repo.GetSubscriptionByProviderID("sub_stripe_1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "cus_42", sub.StripeCustomerID)
	require.NotNil(t, sub.CurrentPeriodEnd, "billing periods must come from the provider")

	require.Len(t, requester.issued(), 1)
	assert.Equal(t, sub.ID, requester.issued()[0])
}

func TestCheckoutIsIdempotentForKnownProviderSubscription(t *testing.T) {
	r, repo, provider, requester, _ := newTestReconciler(t)
	repo.addUser(billingUser())
	repo.addSubscription(activeSubscription())

	require.NoError(t, r.Apply(context.Background(), checkoutEvent()))

	assert.Equal(t, 0, provider.retrieveCalls, "no provider round-trip for an already-known subscription")
	require.Len(t, requester.issued(), 1)
	assert.Equal(t, "local_1", requester.issued()[0])
}

func TestCheckoutWithoutUserMetadataIsStructural(t *testing.T) {
	r, _, _, _, _ := newTestReconciler(t)

	ev := checkoutEvent()
	ev.Checkout.UserID = ""
	err := r.Apply(context.Background(), ev)
	require.ErrorIs(t, err, ErrMalformedEvent)
	assert.True(t, IsStructural(err))
}

func TestCheckoutForUnknownUserIsStructural(t *testing.T) {
	r, _, _, _, _ := newTestReconciler(t)

	err := r.Apply(context.Background(), checkoutEvent())
	require.ErrorIs(t, err, ErrUnknownUser)
}

func TestCheckoutProviderOutageIsTransient(t *testing.T) {
	r, repo, provider, requester, _ := newTestReconciler(t)
	repo.addUser(billingUser())
	provider.retrieveErr = errors.New("connection refused")

	err := r.Apply(context.Background(), checkoutEvent())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Empty(t, requester.issued(), "no issuance before the subscription row exists")
}

func TestSubscriptionDeletedCancelsAndRevokes(t *testing.T) {
	r, repo, _, requester, _ := newTestReconciler(t)
	repo.addUser(billingUser())
	repo.addSubscription(activeSubscription())

	ev := &Event{
		ID:           "evt_deleted",
		Type:         EventSubscriptionDeleted,
		Subscription: &ProviderSubscription{ID: "sub_stripe_1", Status: "canceled"},
	}
	require.NoError(t, r.Apply(context.Background(), ev))

	sub := repo.subscription("local_1")
	assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)
	require.Len(t, requester.revoked(), 1)

	// Redelivered deletion is a clean no-op.
	ev.ID = "evt_deleted_redelivery"
	require.NoError(t, r.Apply(context.Background(), ev))
	assert.Len(t, requester.revoked(), 1)
}

func TestSubscriptionDeletedUnknownIsStructural(t *testing.T) {
	r, _, _, _, _ := newTestReconciler(t)

	ev := &Event{
		ID:           "evt_deleted",
		Type:         EventSubscriptionDeleted,
		Subscription: &ProviderSubscription{ID: "sub_nope", Status: "canceled"},
	}
	require.ErrorIs(t, r.Apply(context.Background(), ev), ErrUnknownSubscription)
}

func TestSubscriptionUpdatedCopiesPeriodsVerbatim(t *testing.T) {
	r, repo, _, _, _ := newTestReconciler(t)
	repo.addUser(billingUser())
	repo.addSubscription(activeSubscription())

	newStart := time.Unix(1756000000, 0).UTC()
	newEnd := time.Unix(1758600000, 0).UTC()
	ev := &Event{
		ID:   "evt_updated",
		Type: EventSubscriptionUpdated,
		Subscription: &ProviderSubscription{
			ID:                 "sub_stripe_1",
			Status:             "active",
			CurrentPeriodStart: newStart,
			CurrentPeriodEnd:   newEnd,
			CancelAtPeriodEnd:  true,
		},
	}
	require.NoError(t, r.Apply(context.Background(), ev))

	sub := repo.subscription("local_1")
	assert.True(t, sub.CurrentPeriodStart.Equal(newStart))
	assert.True(t, sub.CurrentPeriodEnd.Equal(newEnd))
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, uint(2), sub.Version)
}

func TestSubscriptionUpdatedIllegalTransitionIsStructural(t *testing.T) {
	r, repo, _, _, _ := newTestReconciler(t)
	repo.addUser(billingUser())
	sub := activeSubscription()
	sub.Status = models.SubscriptionStatusCancelled
	repo.addSubscription(sub)

	ev := &Event{
		ID:           "evt_updated",
		Type:         EventSubscriptionUpdated,
		Subscription: &ProviderSubscription{ID: "sub_stripe_1", Status: "active"},
	}
	err := r.Apply(context.Background(), ev)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, models.SubscriptionStatusCancelled, repo.subscription("local_1").Status)
}

func TestPaymentSucceededRenewalRefreshesPeriods(t *testing.T) {
	r, repo, _, requester, _ := newTestReconciler(t)
	repo.addUser(billingUser())
	sub := activeSubscription()
	sub.FailedPaymentCount = 2
	sub.LastPaymentError = "card_declined"
	repo.addSubscription(sub)

	start := time.Unix(1756000000, 0).UTC()
	end := time.Unix(1758600000, 0).UTC()
	ev := &Event{
		ID:   "evt_paid",
		Type: EventPaymentSucceeded,
		Invoice: &Invoice{
			ID:             "in_1",
			SubscriptionID: "sub_stripe_1",
			PeriodStart:    &start,
			PeriodEnd:      &end,
		},
	}
	require.NoError(t, r.Apply(context.Background(), ev))

	got := repo.subscription("local_1")
	assert.Equal(t, 0, got.FailedPaymentCount)
	assert.Empty(t, got.LastPaymentError)
	assert.True(t, got.CurrentPeriodEnd.Equal(end))
	assert.Empty(t, requester.issued(), "renewal of an active subscription needs no new certificate")
}

func TestPaymentSucceededReactivatesExpiredSubscription(t *testing.T) {
	r, repo, _, requester, _ := newTestReconciler(t)
	repo.addUser(billingUser())
	sub := activeSubscription()
	sub.Status = models.SubscriptionStatusExpired
	repo.addSubscription(sub)

	ev := &Event{
		ID:      "evt_paid",
		Type:    EventPaymentSucceeded,
		Invoice: &Invoice{ID: "in_1", SubscriptionID: "sub_stripe_1"},
	}
	require.NoError(t, r.Apply(context.Background(), ev))

	assert.Equal(t, models.SubscriptionStatusActive, repo.subscription("local_1").Status)
	require.Len(t, requester.issued(), 1)
}

func TestPaymentFailedCountsWithoutSuspending(t *testing.T) {
	r, repo, _, requester, notifier := newTestReconciler(t)
	repo.addUser(billingUser())
	repo.addSubscription(activeSubscription())

	ev := &Event{
		ID:   "evt_failed",
		Type: EventPaymentFailed,
		Invoice: &Invoice{
			ID:               "in_2",
			SubscriptionID:   "sub_stripe_1",
			FailureMessage:   "card_declined",
			HostedInvoiceURL: "https://invoice.example/in_2",
		},
	}
	require.NoError(t, r.Apply(context.Background(), ev))

	got := repo.subscription("local_1")
	assert.Equal(t, models.SubscriptionStatusActive, got.Status, "payment failures never suspend access directly")
	assert.Equal(t, 1, got.FailedPaymentCount)
	assert.Equal(t, "card_declined", got.LastPaymentError)
	assert.Empty(t, requester.revoked())
	assert.Equal(t, 1, notifier.paymentFailed)
	assert.Equal(t, "https://invoice.example/in_2", notifier.lastInvoice)
}

func TestVersionConflictSurfacesAsTransient(t *testing.T) {
	r, repo, _, _, _ := newTestReconciler(t)
	repo.addUser(billingUser())
	repo.addSubscription(activeSubscription())
	repo.failNextUpdate = true

	ev := &Event{
		ID:      "evt_failed",
		Type:    EventPaymentFailed,
		Invoice: &Invoice{ID: "in_2", SubscriptionID: "sub_stripe_1", FailureMessage: "card_declined"},
	}
	err := r.Apply(context.Background(), ev)
	require.ErrorIs(t, err, ErrVersionConflict)
	assert.True(t, IsTransient(err))
}

func TestUnknownEventTypeIsNoop(t *testing.T) {
	r, _, _, requester, _ := newTestReconciler(t)

	ev := &Event{ID: "evt_misc", Type: "customer.created"}
	require.NoError(t, r.Apply(context.Background(), ev))
	assert.Empty(t, requester.issued())
	assert.Empty(t, requester.revoked())
}
