package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"github.com/vpn-sentinel/sentinel/app/models"
	"github.com/vpn-sentinel/sentinel/internal/pkg/env"
)

// StripeConfig carries the provider credentials and checkout wiring.
type StripeConfig struct {
	SecretKey     string `validate:"required"`
	WebhookSecret string `validate:"required"`
	PriceID       string `validate:"required"`
	FrontendURL   string `validate:"required,url"`
}

// NewStripeConfigFromEnv reads the provider settings from the environment.
func NewStripeConfigFromEnv() (*StripeConfig, error) {
	cfg := &StripeConfig{
		SecretKey:     env.GetEnv("STRIPE_SECRET_KEY", ""),
		WebhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		PriceID:       env.GetEnv("STRIPE_PRICE_ID", ""),
		FrontendURL:   strings.TrimRight(env.GetEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
	}
	if cfg.SecretKey == "" || cfg.WebhookSecret == "" || cfg.PriceID == "" {
		return nil, errors.New("STRIPE_SECRET_KEY, STRIPE_WEBHOOK_SECRET and STRIPE_PRICE_ID must be set")
	}
	return cfg, nil
}

type stripeClient struct {
	api *client.API
	cfg *StripeConfig
}

// NewStripeClient creates the production ProviderClient.
func NewStripeClient(cfg *StripeConfig) ProviderClient {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &stripeClient{api: api, cfg: cfg}
}

func (s *stripeClient) CreateCustomer(ctx context.Context, user *models.User) (string, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(user.Email),
		Name:   stripe.String(user.Firstname + " " + user.Lastname),
	}
	params.AddMetadata("userId", user.ID)

	cust, err := s.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return cust.ID, nil
}

func (s *stripeClient) CreateCheckoutSession(ctx context.Context, user *models.User, customerID string) (*CheckoutSessionInfo, error) {
	params := &stripe.CheckoutSessionParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.cfg.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(s.cfg.FrontendURL + "/payment/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(s.cfg.FrontendURL + "/payment/cancel"),
	}
	params.AddMetadata("userId", user.ID)

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSessionInfo{ID: sess.ID, URL: sess.URL}, nil
}

func (s *stripeClient) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSessionStatus, error) {
	sess, err := s.api.CheckoutSessions.Get(sessionID, &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	return &CheckoutSessionStatus{
		ID:            sess.ID,
		Status:        string(sess.Status),
		PaymentStatus: string(sess.PaymentStatus),
	}, nil
}

func (s *stripeClient) RetrieveSubscription(ctx context.Context, providerSubscriptionID string) (*ProviderSubscription, error) {
	sub, err := s.api.Subscriptions.Get(providerSubscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve subscription: %w", err)
	}

	out := &ProviderSubscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	return out, nil
}

func (s *stripeClient) CancelAtPeriodEnd(ctx context.Context, providerSubscriptionID string) error {
	_, err := s.api.Subscriptions.Update(providerSubscriptionID, &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("cancel at period end: %w", err)
	}
	return nil
}

func (s *stripeClient) Reactivate(ctx context.Context, providerSubscriptionID string) error {
	_, err := s.api.Subscriptions.Update(providerSubscriptionID, &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(false),
	})
	if err != nil {
		return fmt.Errorf("reactivate subscription: %w", err)
	}
	return nil
}

func (s *stripeClient) ListInvoices(ctx context.Context, customerID string) ([]InvoiceSummary, error) {
	params := &stripe.InvoiceListParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(24)

	var out []InvoiceSummary
	iter := s.api.Invoices.List(params)
	for iter.Next() {
		inv := iter.Invoice()
		out = append(out, InvoiceSummary{
			ID:               inv.ID,
			AmountPaid:       inv.AmountPaid,
			Currency:         string(inv.Currency),
			Status:           string(inv.Status),
			HostedInvoiceURL: inv.HostedInvoiceURL,
			CreatedAt:        time.Unix(inv.Created, 0).UTC(),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return out, nil
}
