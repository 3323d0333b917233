package billing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vpn-sentinel/sentinel/app/models"
)

// fakeRepo mirrors the GORM repository's semantics in memory: unique ledger
// inserts and compare-and-swap subscription updates.
type fakeRepo struct {
	mu     sync.Mutex
	users  map[string]*models.User
	subs   map[string]*models.Subscription // keyed by local id
	ledger map[string]*models.WebhookEvent // keyed by provider event id
	nextID uint

	failNextUpdate bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:  make(map[string]*models.User),
		subs:   make(map[string]*models.Subscription),
		ledger: make(map[string]*models.WebhookEvent),
	}
}

func (r *fakeRepo) addUser(u *models.User) { r.users[u.ID] = u }

func (r *fakeRepo) addSubscription(s *models.Subscription) {
	if s.Version == 0 {
		s.Version = 1
	}
	r.subs[s.ID] = s
}

func (r *fakeRepo) GetUserByID(id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return u, nil
}

func (r *fakeRepo) GetSubscriptionByProviderID(pid string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.StripeSubscriptionID == pid {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) GetSubscriptionByUser(userID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.UserID == userID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) CreateSubscription(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.StripeSubscriptionID == sub.StripeSubscriptionID {
			return errors.New("duplicate provider subscription id")
		}
	}
	cp := *sub
	r.subs[sub.ID] = &cp
	return nil
}

func (r *fakeRepo) UpdateSubscriptionVersioned(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNextUpdate {
		r.failNextUpdate = false
		return ErrVersionConflict
	}
	cur, ok := r.subs[sub.ID]
	if !ok || cur.Version != sub.Version {
		return ErrVersionConflict
	}
	cp := *sub
	cp.Version++
	r.subs[sub.ID] = &cp
	sub.Version++
	return nil
}

func (r *fakeRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.ledger[event.ProviderEventID]; ok {
		cp := *existing
		return false, &cp, nil
	}
	r.nextID++
	event.ID = r.nextID
	event.DeliveryCount = 1
	event.ReceivedAt = time.Now()
	cp := *event
	r.ledger[event.ProviderEventID] = &cp
	return true, event, nil
}

func (r *fakeRepo) MarkWebhookOutcome(id uint, outcome string, processingErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.ledger {
		if e.ID == id {
			e.Outcome = outcome
			if processingErr != nil {
				e.ProcessingError = processingErr.Error()
			}
			now := time.Now()
			e.ProcessedAt = &now
			return nil
		}
	}
	return errors.New("ledger row not found")
}

func (r *fakeRepo) IncrementWebhookDelivery(id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.ledger {
		if e.ID == id {
			e.DeliveryCount++
			return nil
		}
	}
	return errors.New("ledger row not found")
}

func (r *fakeRepo) DeleteWebhookEvent(id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.ledger {
		if e.ID == id {
			delete(r.ledger, key)
			return nil
		}
	}
	return errors.New("ledger row not found")
}

func (r *fakeRepo) ledgerEntry(eventID string) *models.WebhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.ledger[eventID]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

func (r *fakeRepo) subscription(id string) *models.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// fakeProvider serves canned subscription lookups.
type fakeProvider struct {
	mu            sync.Mutex
	subscriptions map[string]*ProviderSubscription
	retrieveErr   error
	retrieveCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{subscriptions: make(map[string]*ProviderSubscription)}
}

func (p *fakeProvider) CreateCustomer(ctx context.Context, user *models.User) (string, error) {
	return "cus_fake", nil
}

func (p *fakeProvider) CreateCheckoutSession(ctx context.Context, user *models.User, customerID string) (*CheckoutSessionInfo, error) {
	return &CheckoutSessionInfo{ID: "cs_fake", URL: "https://checkout.example/cs_fake"}, nil
}

func (p *fakeProvider) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSessionStatus, error) {
	return &CheckoutSessionStatus{ID: sessionID, Status: "complete", PaymentStatus: "paid"}, nil
}

func (p *fakeProvider) RetrieveSubscription(ctx context.Context, id string) (*ProviderSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retrieveCalls++
	if p.retrieveErr != nil {
		return nil, p.retrieveErr
	}
	if sub, ok := p.subscriptions[id]; ok {
		cp := *sub
		return &cp, nil
	}
	return &ProviderSubscription{
		ID:                 id,
		Status:             "active",
		CurrentPeriodStart: time.Now().Add(-time.Hour).UTC(),
		CurrentPeriodEnd:   time.Now().Add(30 * 24 * time.Hour).UTC(),
	}, nil
}

func (p *fakeProvider) CancelAtPeriodEnd(ctx context.Context, id string) error { return nil }
func (p *fakeProvider) Reactivate(ctx context.Context, id string) error        { return nil }
func (p *fakeProvider) ListInvoices(ctx context.Context, customerID string) ([]InvoiceSummary, error) {
	return nil, nil
}

// fakeRequester records enqueue calls instead of touching the CA.
type fakeRequester struct {
	mu          sync.Mutex
	issueCalls  []string
	revokeCalls []string
	issueErr    error
}

func (f *fakeRequester) RequestIssue(ctx context.Context, subscriptionID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issueErr != nil {
		return f.issueErr
	}
	f.issueCalls = append(f.issueCalls, subscriptionID)
	return nil
}

func (f *fakeRequester) RequestRevoke(ctx context.Context, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeCalls = append(f.revokeCalls, subscriptionID)
	return nil
}

func (f *fakeRequester) issued() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.issueCalls...)
}

func (f *fakeRequester) revoked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.revokeCalls...)
}

type fakeNotifier struct {
	mu            sync.Mutex
	paymentFailed int
	lastInvoice   string
}

func (n *fakeNotifier) IssuanceSucceeded(u *models.User, c *models.Certificate, secret string) {}
func (n *fakeNotifier) IssuanceFailed(u *models.User, subscriptionID string, cause error)      {}
func (n *fakeNotifier) CertificateRevoked(u *models.User, c *models.Certificate)               {}

func (n *fakeNotifier) PaymentFailed(u *models.User, invoiceURL string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paymentFailed++
	n.lastInvoice = invoiceURL
}
