package billing

import "time"

const ProviderStripe = "stripe"

// Provider event types the reconciler reacts to. Anything else is
// acknowledged and ignored.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentSucceeded    = "invoice.payment_succeeded"
	EventPaymentFailed       = "invoice.payment_failed"
)

// Event is the decoded provider event handed to the reconciler. Exactly one
// of the payload fields is set, matching Type.
type Event struct {
	ID           string
	Type         string
	Checkout     *CheckoutSession
	Subscription *ProviderSubscription
	Invoice      *Invoice
}

// CheckoutSession is the slice of the provider checkout object the
// reconciler needs.
type CheckoutSession struct {
	ID             string
	UserID         string
	CustomerID     string
	SubscriptionID string
}

// ProviderSubscription mirrors the provider's authoritative subscription
// state. Period fields are copied verbatim into local rows.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
}

// Invoice carries the fields used on payment events.
type Invoice struct {
	ID               string
	SubscriptionID   string
	PeriodStart      *time.Time
	PeriodEnd        *time.Time
	FailureMessage   string
	HostedInvoiceURL string
}

// InvoiceSummary is what the subscription API exposes from the provider's
// invoice history.
type InvoiceSummary struct {
	ID               string    `json:"id"`
	AmountPaid       int64     `json:"amount_paid"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	HostedInvoiceURL string    `json:"hosted_invoice_url"`
	CreatedAt        time.Time `json:"created_at"`
}

// CheckoutSessionInfo is returned when starting a checkout.
type CheckoutSessionInfo struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CheckoutSessionStatus reports the provider-side progress of a checkout.
// The frontend polls it after the redirect; activation only ever happens
// through the webhook.
type CheckoutSessionStatus struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
}
