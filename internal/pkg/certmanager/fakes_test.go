package certmanager

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vpn-sentinel/sentinel/app/models"
)

var errNotFound = errors.New("record not found")

// fakeRepo is an in-memory Repository with the same atomicity guarantees as
// the GORM implementation.
type fakeRepo struct {
	mu    sync.Mutex
	certs map[string]*models.Certificate
	users map[string]*models.User
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		certs: make(map[string]*models.Certificate),
		users: make(map[string]*models.User),
	}
}

func (r *fakeRepo) addUser(u *models.User) { r.users[u.ID] = u }

func (r *fakeRepo) FindLiveBySubscription(subID string) (*models.Certificate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveLocked(subID), nil
}

func (r *fakeRepo) liveLocked(subID string) *models.Certificate {
	for _, c := range r.certs {
		if c.SubscriptionID == subID && models.IsLiveCertificateState(c.State) {
			cp := *c
			return &cp
		}
	}
	return nil
}

func (r *fakeRepo) FindBySubscription(subID string) (*models.Certificate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.Certificate
	for _, c := range r.certs {
		if c.SubscriptionID != subID {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *fakeRepo) FindActiveByUser(userID string) (*models.Certificate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.certs {
		if c.UserID == userID && c.State == models.CertificateStateValid {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) GetByID(id string) (*models.Certificate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.certs[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeRepo) CreateIfNoLive(cert *models.Certificate) (bool, *models.Certificate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.liveLocked(cert.SubscriptionID); existing != nil {
		return false, existing, nil
	}
	cert.CreatedAt = time.Now()
	cert.UpdatedAt = cert.CreatedAt
	cp := *cert
	r.certs[cert.ID] = &cp
	return true, cert, nil
}

func (r *fakeRepo) Save(cert *models.Certificate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cert.UpdatedAt = time.Now()
	cp := *cert
	r.certs[cert.ID] = &cp
	return nil
}

func (r *fakeRepo) FindStale(state string, cutoff time.Time) ([]models.Certificate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Certificate
	for _, c := range r.certs {
		if c.State == state && c.UpdatedAt.Before(cutoff) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetUser(userID string) (*models.User, error) {
	u, ok := r.users[userID]
	if !ok {
		return nil, errNotFound
	}
	return u, nil
}

func (r *fakeRepo) get(id string) *models.Certificate {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.certs[id]
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

func (r *fakeRepo) liveCount(subID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.certs {
		if c.SubscriptionID == subID && models.IsLiveCertificateState(c.State) {
			n++
		}
	}
	return n
}

// fakeCA scripts per-operation results. Each queue entry is consumed by one
// call; an empty queue means success.
type fakeCA struct {
	mu          sync.Mutex
	issueErrs   []error
	packageErrs []error
	revokeErrs  []error
	crlErrs     []error

	issueCalls   int
	packageCalls int
	revokeCalls  int
	crlCalls     int
}

func (f *fakeCA) pop(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (f *fakeCA) Issue(ctx context.Context, cn string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issueCalls++
	if err := f.pop(&f.issueErrs); err != nil {
		return "", err
	}
	return "4F2A9C01B7", nil
}

func (f *fakeCA) Package(ctx context.Context, cn, secret string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packageCalls++
	if err := f.pop(&f.packageErrs); err != nil {
		return nil, err
	}
	return []byte("p12-bundle"), nil
}

func (f *fakeCA) Revoke(ctx context.Context, cn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeCalls++
	return f.pop(&f.revokeErrs)
}

func (f *fakeCA) RefreshCRL(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crlCalls++
	return f.pop(&f.crlErrs)
}

func (f *fakeCA) HealthCheck(ctx context.Context) bool { return true }

type fakeStore struct {
	mu      sync.Mutex
	bundles map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{bundles: make(map[string][]byte)}
}

func (s *fakeStore) Write(cn string, bundle []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := "store://" + cn
	s.bundles[ref] = bundle
	return ref, nil
}

func (s *fakeStore) Read(ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[ref]
	if !ok {
		return nil, errNotFound
	}
	return b, nil
}

type fakeNotifier struct {
	mu               sync.Mutex
	issuanceOK       int
	issuanceFailed   int
	revoked          int
	paymentFailed    int
	lastUnlockSecret string
}

func (n *fakeNotifier) IssuanceSucceeded(u *models.User, c *models.Certificate, secret string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.issuanceOK++
	n.lastUnlockSecret = secret
}

func (n *fakeNotifier) IssuanceFailed(u *models.User, subID string, cause error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.issuanceFailed++
}

func (n *fakeNotifier) CertificateRevoked(u *models.User, c *models.Certificate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.revoked++
}

func (n *fakeNotifier) PaymentFailed(u *models.User, invoiceURL string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paymentFailed++
}
