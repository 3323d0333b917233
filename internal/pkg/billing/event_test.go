package billing

import (
	"errors"
	"testing"
	"time"
)

func TestParseEventCheckoutCompleted(t *testing.T) {
	raw := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_123",
			"customer": "cus_42",
			"subscription": "sub_stripe_1",
			"metadata": {"userId": "user_1"}
		}}
	}`)

	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.ID != "evt_1" || ev.Type != EventCheckoutCompleted {
		t.Fatalf("unexpected envelope: %+v", ev)
	}
	if ev.Checkout == nil {
		t.Fatal("expected checkout payload")
	}
	if ev.Checkout.UserID != "user_1" || ev.Checkout.SubscriptionID != "sub_stripe_1" || ev.Checkout.CustomerID != "cus_42" {
		t.Fatalf("unexpected checkout payload: %+v", ev.Checkout)
	}
}

func TestParseEventSubscriptionUpdated(t *testing.T) {
	raw := []byte(`{
		"id": "evt_2",
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_stripe_1",
			"customer": "cus_42",
			"status": "Active",
			"current_period_start": 1756000000,
			"current_period_end": 1758600000,
			"cancel_at_period_end": true
		}}
	}`)

	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	ps := ev.Subscription
	if ps == nil {
		t.Fatal("expected subscription payload")
	}
	if ps.Status != "active" {
		t.Fatalf("status not normalized: %q", ps.Status)
	}
	if !ps.CancelAtPeriodEnd {
		t.Fatal("cancel_at_period_end lost")
	}
	if !ps.CurrentPeriodEnd.Equal(time.Unix(1758600000, 0).UTC()) {
		t.Fatalf("period end mismatch: %v", ps.CurrentPeriodEnd)
	}
}

func TestParseEventInvoiceFailed(t *testing.T) {
	raw := []byte(`{
		"id": "evt_3",
		"type": "invoice.payment_failed",
		"data": {"object": {
			"id": "in_9",
			"subscription": "sub_stripe_1",
			"hosted_invoice_url": "https://invoice.example/in_9",
			"last_payment_error": {"message": "card_declined"}
		}}
	}`)

	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	inv := ev.Invoice
	if inv == nil || inv.SubscriptionID != "sub_stripe_1" {
		t.Fatalf("unexpected invoice payload: %+v", inv)
	}
	if inv.FailureMessage != "card_declined" {
		t.Fatalf("failure message lost: %q", inv.FailureMessage)
	}
	if inv.PeriodStart != nil || inv.PeriodEnd != nil {
		t.Fatal("absent periods must stay nil")
	}
}

func TestParseEventUnknownTypeKeepsEnvelope(t *testing.T) {
	raw := []byte(`{"id":"evt_4","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)

	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.Type != "customer.created" || ev.Checkout != nil || ev.Subscription != nil || ev.Invoice != nil {
		t.Fatalf("unknown types must decode envelope only: %+v", ev)
	}
}

func TestParseEventMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `{{{`},
		{name: "missing id", raw: `{"type":"invoice.payment_failed","data":{"object":{}}}`},
		{name: "missing type", raw: `{"id":"evt_5","data":{"object":{}}}`},
		{name: "subscription without id", raw: `{"id":"evt_6","type":"customer.subscription.deleted","data":{"object":{"status":"canceled"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvent([]byte(tt.raw))
			if !errors.Is(err, ErrMalformedEvent) {
				t.Fatalf("expected ErrMalformedEvent, got %v", err)
			}
		})
	}
}
