package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"
)

const testWebhookSecret = "whsec_test_secret"

func signPayload(t *testing.T, payload []byte, ts time.Time, secret string) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyStripeWebhookSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"invoice.payment_succeeded"}`)

	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{
			name:   "valid signature",
			header: signPayload(t, payload, time.Now(), testWebhookSecret),
			want:   true,
		},
		{
			name:   "wrong secret",
			header: signPayload(t, payload, time.Now(), "whsec_other"),
			want:   false,
		},
		{
			name:   "stale timestamp",
			header: signPayload(t, payload, time.Now().Add(-time.Hour), testWebhookSecret),
			want:   false,
		},
		{
			name:   "empty header",
			header: "",
			want:   false,
		},
		{
			name:   "garbage header",
			header: "t=abc,v1=zz",
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VerifyStripeWebhookSignature(payload, tt.header, testWebhookSecret, DefaultSignatureTolerance)
			if got != tt.want {
				t.Fatalf("VerifyStripeWebhookSignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerifySignatureRejectsModifiedPayload(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	header := signPayload(t, payload, time.Now(), testWebhookSecret)

	tampered := []byte(`{"id":"evt_2"}`)
	if VerifyStripeWebhookSignature(tampered, header, testWebhookSecret, DefaultSignatureTolerance) {
		t.Fatal("signature over different bytes must not verify")
	}
}

func TestVerifySignatureAcceptsSecondaryV1(t *testing.T) {
	// During secret rotation the provider sends multiple v1 entries; any one
	// matching is enough.
	payload := []byte(`{"id":"evt_1"}`)
	ts := time.Now()
	valid := signPayload(t, payload, ts, testWebhookSecret)
	header := fmt.Sprintf("t=%d,v1=%s,%s", ts.Unix(), hex.EncodeToString([]byte("not-a-mac-at-all-not-a-mac-at-al")), valid[len(fmt.Sprintf("t=%d,", ts.Unix())):])

	if !VerifyStripeWebhookSignature(payload, header, testWebhookSecret, DefaultSignatureTolerance) {
		t.Fatal("expected one matching v1 among several to verify")
	}
}
