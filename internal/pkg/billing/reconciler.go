package billing

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/vpn-sentinel/sentinel/app/models"
	"github.com/vpn-sentinel/sentinel/internal/pkg/keylock"
	"github.com/vpn-sentinel/sentinel/internal/pkg/notify"
)

// CertificateRequester decouples billing transitions from certificate work.
// Both calls only enqueue; the actual CA interaction happens outside the
// webhook acknowledgement window.
type CertificateRequester interface {
	RequestIssue(ctx context.Context, subscriptionID, userID string) error
	RequestRevoke(ctx context.Context, subscriptionID string) error
}

// Reconciler applies normalized provider events to local subscription state.
// Events for the same provider subscription are serialized through a keyed
// lock; cross-subscription events run concurrently.
type Reconciler struct {
	repo     Repository
	provider ProviderClient
	certs    CertificateRequester
	notifier notify.Notifier
	locks    *keylock.KeyedMutex
}

func NewReconciler(repo Repository, provider ProviderClient, certs CertificateRequester, notifier notify.Notifier) *Reconciler {
	return &Reconciler{
		repo:     repo,
		provider: provider,
		certs:    certs,
		notifier: notifier,
		locks:    keylock.New(),
	}
}

// Apply executes the state transition an event implies. Unknown event types
// are a successful no-op. Returned errors are classified by IsStructural /
// IsTransient at the ingestion layer.
func (r *Reconciler) Apply(ctx context.Context, ev *Event) error {
	unlock := r.locks.Lock(serializationKey(ev))
	defer unlock()

	switch ev.Type {
	case EventCheckoutCompleted:
		return r.applyCheckoutCompleted(ctx, ev)
	case EventSubscriptionUpdated:
		return r.applySubscriptionUpdated(ctx, ev)
	case EventSubscriptionDeleted:
		return r.applySubscriptionDeleted(ctx, ev)
	case EventPaymentSucceeded:
		return r.applyPaymentSucceeded(ctx, ev)
	case EventPaymentFailed:
		return r.applyPaymentFailed(ctx, ev)
	default:
		log.Debugf("[Billing] Ignoring unhandled event type %s (%s)", ev.Type, ev.ID)
		return nil
	}
}

func serializationKey(ev *Event) string {
	switch {
	case ev.Subscription != nil:
		return "sub:" + ev.Subscription.ID
	case ev.Invoice != nil && ev.Invoice.SubscriptionID != "":
		return "sub:" + ev.Invoice.SubscriptionID
	case ev.Checkout != nil && ev.Checkout.SubscriptionID != "":
		return "sub:" + ev.Checkout.SubscriptionID
	default:
		return "evt:" + ev.ID
	}
}

func (r *Reconciler) applyCheckoutCompleted(ctx context.Context, ev *Event) error {
	co := ev.Checkout
	if co == nil || co.SubscriptionID == "" {
		return fmt.Errorf("%w: checkout without subscription reference", ErrMalformedEvent)
	}
	if co.UserID == "" {
		return fmt.Errorf("%w: checkout %s carries no user metadata", ErrMalformedEvent, co.ID)
	}

	user, err := r.repo.GetUserByID(co.UserID)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("%w: %s", ErrUnknownUser, co.UserID)
	}

	existing, err := r.repo.GetSubscriptionByProviderID(co.SubscriptionID)
	if err != nil {
		return err
	}
	if existing != nil {
		// Already provisioned by an earlier delivery; re-requesting issuance
		// is safe because the certificate manager is idempotent per
		// subscription.
		return r.certs.RequestIssue(ctx, existing.ID, existing.UserID)
	}

	// Billing periods come from the provider, never computed locally.
	prov, err := r.provider.RetrieveSubscription(ctx, co.SubscriptionID)
	if err != nil {
		return fmt.Errorf("retrieve subscription %s: %w", co.SubscriptionID, err)
	}

	sub := &models.Subscription{
		ID:                   uuid.NewString(),
		UserID:               user.ID,
		StripeCustomerID:     co.CustomerID,
		StripeSubscriptionID: co.SubscriptionID,
		Status:               models.SubscriptionStatusActive,
		CurrentPeriodStart:   &prov.CurrentPeriodStart,
		CurrentPeriodEnd:     &prov.CurrentPeriodEnd,
		CancelAtPeriodEnd:    prov.CancelAtPeriodEnd,
		Version:              1,
	}
	if err := r.repo.CreateSubscription(sub); err != nil {
		return err
	}
	log.Infof("[Billing] Subscription %s activated for user %s", sub.ID, user.ID)

	return r.certs.RequestIssue(ctx, sub.ID, user.ID)
}

func (r *Reconciler) applySubscriptionUpdated(ctx context.Context, ev *Event) error {
	ps := ev.Subscription
	sub, err := r.repo.GetSubscriptionByProviderID(ps.ID)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSubscription, ps.ID)
	}

	status, ok := mapProviderStatus(ps.Status)
	if !ok {
		return fmt.Errorf("%w: provider status %q", ErrMalformedEvent, ps.Status)
	}
	if !models.CanTransitionSubscription(sub.Status, status) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, sub.Status, status, sub.ID)
	}

	previous := sub.Status
	sub.Status = status
	sub.CurrentPeriodStart = &ps.CurrentPeriodStart
	sub.CurrentPeriodEnd = &ps.CurrentPeriodEnd
	sub.CancelAtPeriodEnd = ps.CancelAtPeriodEnd
	if err := r.repo.UpdateSubscriptionVersioned(sub); err != nil {
		return err
	}

	switch {
	case status == models.SubscriptionStatusActive && previous != models.SubscriptionStatusActive:
		return r.certs.RequestIssue(ctx, sub.ID, sub.UserID)
	case status == models.SubscriptionStatusCancelled || status == models.SubscriptionStatusExpired:
		if previous != status {
			return r.certs.RequestRevoke(ctx, sub.ID)
		}
	}
	return nil
}

func (r *Reconciler) applySubscriptionDeleted(ctx context.Context, ev *Event) error {
	ps := ev.Subscription
	sub, err := r.repo.GetSubscriptionByProviderID(ps.ID)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSubscription, ps.ID)
	}
	if sub.Status == models.SubscriptionStatusCancelled {
		return nil
	}
	if !models.CanTransitionSubscription(sub.Status, models.SubscriptionStatusCancelled) {
		return fmt.Errorf("%w: %s -> cancelled for %s", ErrInvalidTransition, sub.Status, sub.ID)
	}

	sub.Status = models.SubscriptionStatusCancelled
	if err := r.repo.UpdateSubscriptionVersioned(sub); err != nil {
		return err
	}
	log.Infof("[Billing] Subscription %s cancelled, revoking access", sub.ID)

	return r.certs.RequestRevoke(ctx, sub.ID)
}

func (r *Reconciler) applyPaymentSucceeded(ctx context.Context, ev *Event) error {
	inv := ev.Invoice
	if inv.SubscriptionID == "" {
		// One-off invoices carry no subscription; nothing to reconcile.
		return nil
	}
	sub, err := r.repo.GetSubscriptionByProviderID(inv.SubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSubscription, inv.SubscriptionID)
	}

	reactivated := false
	if sub.Status != models.SubscriptionStatusActive {
		if !models.CanTransitionSubscription(sub.Status, models.SubscriptionStatusActive) {
			return fmt.Errorf("%w: %s -> active for %s", ErrInvalidTransition, sub.Status, sub.ID)
		}
		sub.Status = models.SubscriptionStatusActive
		reactivated = true
	}
	sub.FailedPaymentCount = 0
	sub.LastPaymentError = ""
	if inv.PeriodStart != nil {
		sub.CurrentPeriodStart = inv.PeriodStart
	}
	if inv.PeriodEnd != nil {
		sub.CurrentPeriodEnd = inv.PeriodEnd
	}
	if err := r.repo.UpdateSubscriptionVersioned(sub); err != nil {
		return err
	}

	if reactivated {
		return r.certs.RequestIssue(ctx, sub.ID, sub.UserID)
	}
	return nil
}

func (r *Reconciler) applyPaymentFailed(ctx context.Context, ev *Event) error {
	inv := ev.Invoice
	if inv.SubscriptionID == "" {
		return nil
	}
	sub, err := r.repo.GetSubscriptionByProviderID(inv.SubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSubscription, inv.SubscriptionID)
	}

	// Failed payments are counted but never suspend access directly; the
	// provider decides when the subscription actually lapses and says so via
	// a subscription event.
	sub.FailedPaymentCount++
	sub.LastPaymentError = inv.FailureMessage
	if err := r.repo.UpdateSubscriptionVersioned(sub); err != nil {
		return err
	}
	log.Warnf("[Billing] Payment failed for subscription %s (count=%d)", sub.ID, sub.FailedPaymentCount)

	if user, err := r.repo.GetUserByID(sub.UserID); err == nil && user != nil {
		r.notifier.PaymentFailed(user, inv.HostedInvoiceURL)
	}
	return nil
}

// mapProviderStatus folds the provider's status vocabulary onto the local
// state machine. past_due stays active: access is only cut when the provider
// reports the subscription as gone.
func mapProviderStatus(s string) (string, bool) {
	switch s {
	case "active", "trialing", "past_due":
		return models.SubscriptionStatusActive, true
	case "canceled", "cancelled":
		return models.SubscriptionStatusCancelled, true
	case "unpaid", "incomplete_expired":
		return models.SubscriptionStatusExpired, true
	case "incomplete":
		return models.SubscriptionStatusPending, true
	}
	return "", false
}
