package billing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes the provider's webhook envelope into a normalized
// Event. Only the event types the reconciler handles get their payload
// decoded; anything else keeps an empty payload and is acked downstream.
func ParseEvent(raw []byte) (*Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: missing event id or type", ErrMalformedEvent)
	}

	ev := &Event{ID: env.ID, Type: env.Type}

	switch env.Type {
	case EventCheckoutCompleted:
		var obj struct {
			ID           string `json:"id"`
			Customer     string `json:"customer"`
			Subscription string `json:"subscription"`
			Metadata     struct {
				UserID string `json:"userId"`
			} `json:"metadata"`
		}
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %v", ErrMalformedEvent, err)
		}
		ev.Checkout = &CheckoutSession{
			ID:             obj.ID,
			UserID:         strings.TrimSpace(obj.Metadata.UserID),
			CustomerID:     obj.Customer,
			SubscriptionID: obj.Subscription,
		}

	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var obj struct {
			ID                 string `json:"id"`
			Customer           string `json:"customer"`
			Status             string `json:"status"`
			CurrentPeriodStart int64  `json:"current_period_start"`
			CurrentPeriodEnd   int64  `json:"current_period_end"`
			CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
		}
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("%w: subscription: %v", ErrMalformedEvent, err)
		}
		if obj.ID == "" {
			return nil, fmt.Errorf("%w: subscription object without id", ErrMalformedEvent)
		}
		ev.Subscription = &ProviderSubscription{
			ID:                 obj.ID,
			CustomerID:         obj.Customer,
			Status:             strings.ToLower(obj.Status),
			CurrentPeriodStart: time.Unix(obj.CurrentPeriodStart, 0).UTC(),
			CurrentPeriodEnd:   time.Unix(obj.CurrentPeriodEnd, 0).UTC(),
			CancelAtPeriodEnd:  obj.CancelAtPeriodEnd,
		}

	case EventPaymentSucceeded, EventPaymentFailed:
		var obj struct {
			ID               string `json:"id"`
			Subscription     string `json:"subscription"`
			PeriodStart      int64  `json:"period_start"`
			PeriodEnd        int64  `json:"period_end"`
			HostedInvoiceURL string `json:"hosted_invoice_url"`
			LastPaymentError struct {
				Message string `json:"message"`
			} `json:"last_payment_error"`
		}
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("%w: invoice: %v", ErrMalformedEvent, err)
		}
		inv := &Invoice{
			ID:               obj.ID,
			SubscriptionID:   obj.Subscription,
			FailureMessage:   obj.LastPaymentError.Message,
			HostedInvoiceURL: obj.HostedInvoiceURL,
		}
		if obj.PeriodStart > 0 {
			t := time.Unix(obj.PeriodStart, 0).UTC()
			inv.PeriodStart = &t
		}
		if obj.PeriodEnd > 0 {
			t := time.Unix(obj.PeriodEnd, 0).UTC()
			inv.PeriodEnd = &t
		}
		ev.Invoice = inv
	}

	return ev, nil
}
