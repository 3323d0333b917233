package billing

import (
	"context"

	"github.com/vpn-sentinel/sentinel/app/models"
)

// ProviderClient is the outbound surface towards the billing provider. The
// reconciler only reads from it; mutations are driven by the subscription
// API handlers.
type ProviderClient interface {
	CreateCustomer(ctx context.Context, user *models.User) (string, error)
	CreateCheckoutSession(ctx context.Context, user *models.User, customerID string) (*CheckoutSessionInfo, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSessionStatus, error)
	RetrieveSubscription(ctx context.Context, providerSubscriptionID string) (*ProviderSubscription, error)
	CancelAtPeriodEnd(ctx context.Context, providerSubscriptionID string) error
	Reactivate(ctx context.Context, providerSubscriptionID string) error
	ListInvoices(ctx context.Context, customerID string) ([]InvoiceSummary, error)
}
