package certmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/vpn-sentinel/sentinel/app/models"
	"github.com/vpn-sentinel/sentinel/internal/pkg/keylock"
	"github.com/vpn-sentinel/sentinel/internal/pkg/notify"
	"github.com/vpn-sentinel/sentinel/internal/pkg/pki"
)

const DefaultValidity = 365 * 24 * time.Hour

var (
	// ErrIssuanceFailed marks a terminal issuance failure. The certificate
	// row is in state failed and an operator alert went out; callers must
	// not retry automatically.
	ErrIssuanceFailed = errors.New("certificate issuance failed")
	// ErrNotRevocable is returned when revocation is requested while the
	// certificate is still issuing. Retryable once issuance settles.
	ErrNotRevocable = errors.New("certificate not in a revocable state")
	// ErrRevocationIncomplete is returned when the remote revoke or the CRL
	// refresh could not complete. The certificate stays in revoking and the
	// staleness sweep retries.
	ErrRevocationIncomplete = errors.New("revocation incomplete")
)

// Manager owns the certificate lifecycle state machine. All mutations go
// through here; the per-subscription lock plus the transactional live-check
// in the repository guarantee at most one live certificate per subscription.
type Manager struct {
	repo     Repository
	ca       pki.CommandClient
	store    CredentialStore
	notifier notify.Notifier
	validity time.Duration
	locks    *keylock.KeyedMutex
}

func NewManager(repo Repository, ca pki.CommandClient, store CredentialStore, notifier notify.Notifier, validity time.Duration) *Manager {
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &Manager{
		repo:     repo,
		ca:       ca,
		store:    store,
		notifier: notifier,
		validity: validity,
		locks:    keylock.New(),
	}
}

// Issue creates and exports a certificate for the subscription's owner. When
// a live certificate already exists the call is an idempotent no-op
// returning the existing handle.
func (m *Manager) Issue(ctx context.Context, sub *models.Subscription, user *models.User) (*models.Certificate, error) {
	unlock := m.locks.Lock(sub.ID)
	defer unlock()

	cn := DeriveCommonName(user.Firstname, user.Lastname)
	if !pki.ValidCommonName(cn) {
		return nil, fmt.Errorf("cannot derive a usable common name for user %s: %w", user.ID, pki.ErrInvalidCommonName)
	}

	secret, err := newUnlockSecret()
	if err != nil {
		return nil, err
	}

	cert := &models.Certificate{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		SubscriptionID: sub.ID,
		CommonName:     cn,
		State:          models.CertificateStateIssuing,
		UnlockSecret:   secret,
	}
	created, existing, err := m.repo.CreateIfNoLive(cert)
	if err != nil {
		return nil, err
	}
	if !created {
		log.Infof("[CertManager] Subscription %s already has certificate %s (%s), skipping issuance",
			sub.ID, existing.ID, existing.State)
		return existing, nil
	}

	return m.runIssuance(ctx, cert, user)
}

// runIssuance drives issuing -> valid. The CA issue step is never retried
// (the CA may have created key material on a failed attempt); the packaging
// step is idempotent for the same identity and retried within the budget.
func (m *Manager) runIssuance(ctx context.Context, cert *models.Certificate, user *models.User) (*models.Certificate, error) {
	serial, err := m.ca.Issue(ctx, cert.CommonName)
	if err != nil {
		return nil, m.failIssuance(cert, user, fmt.Errorf("issue step: %w", err))
	}

	var bundle []byte
	err = pki.Retry(ctx, pki.DefaultRetryAttempts, func() error {
		var perr error
		bundle, perr = m.ca.Package(ctx, cert.CommonName, cert.UnlockSecret)
		return perr
	})
	if err != nil {
		return nil, m.failIssuance(cert, user, fmt.Errorf("package step: %w", err))
	}

	ref, err := m.store.Write(cert.CommonName, bundle)
	if err != nil {
		return nil, m.failIssuance(cert, user, fmt.Errorf("credential store: %w", err))
	}

	now := time.Now()
	expires := now.Add(m.validity)
	cert.State = models.CertificateStateValid
	cert.SerialNumber = serial
	cert.BundleRef = ref
	cert.IssuedAt = &now
	cert.ExpiresAt = &expires
	cert.FailureCause = ""
	if err := m.repo.Save(cert); err != nil {
		return nil, err
	}

	log.Infof("[CertManager] Certificate %s issued for %s (serial %s)", cert.ID, cert.CommonName, serial)
	m.notifier.IssuanceSucceeded(user, cert, cert.UnlockSecret)
	return cert, nil
}

func (m *Manager) failIssuance(cert *models.Certificate, user *models.User, cause error) error {
	cert.State = models.CertificateStateFailed
	cert.FailureCause = cause.Error()
	if err := m.repo.Save(cert); err != nil {
		log.Errorf("[CertManager] Could not record issuance failure for %s: %v", cert.ID, err)
	}
	log.Errorf("[CertManager] Issuance failed for subscription %s: %v", cert.SubscriptionID, cause)
	m.notifier.IssuanceFailed(user, cert.SubscriptionID, cause)
	return fmt.Errorf("%w: %v", ErrIssuanceFailed, cause)
}

// Revoke drives valid -> revoking -> revoked. A certificate only reaches
// revoked once both the remote revoke and the CRL refresh succeeded; if the
// refresh fails the row stays in revoking for the staleness sweep.
func (m *Manager) Revoke(ctx context.Context, subscriptionID string) error {
	unlock := m.locks.Lock(subscriptionID)
	defer unlock()

	cert, err := m.repo.FindBySubscription(subscriptionID)
	if err != nil {
		return err
	}
	if cert == nil || cert.State == models.CertificateStateRevoked {
		return nil
	}

	switch cert.State {
	case models.CertificateStateValid:
		cert.State = models.CertificateStateRevoking
		if err := m.repo.Save(cert); err != nil {
			return err
		}
	case models.CertificateStateRevoking:
		// Resume a previously interrupted revocation.
	case models.CertificateStateIssuing:
		return ErrNotRevocable
	case models.CertificateStateFailed:
		// Nothing live to revoke; the failed row is operator business.
		return nil
	}

	return m.finishRevocation(ctx, cert)
}

// finishRevocation runs both remote steps. Both are idempotent and retried
// with bounded backoff on transport errors.
func (m *Manager) finishRevocation(ctx context.Context, cert *models.Certificate) error {
	err := pki.Retry(ctx, pki.DefaultRetryAttempts, func() error {
		return m.ca.Revoke(ctx, cert.CommonName)
	})
	if err != nil {
		return m.stallRevocation(cert, fmt.Errorf("revoke step: %w", err))
	}

	err = pki.Retry(ctx, pki.DefaultRetryAttempts, func() error {
		return m.ca.RefreshCRL(ctx)
	})
	if err != nil {
		// A revoked key whose CRL was never refreshed is a security gap:
		// the certificate must not be reported revoked yet.
		return m.stallRevocation(cert, fmt.Errorf("crl refresh step: %w", err))
	}

	now := time.Now()
	cert.State = models.CertificateStateRevoked
	cert.RevokedAt = &now
	cert.FailureCause = ""
	if err := m.repo.Save(cert); err != nil {
		return err
	}
	log.Infof("[CertManager] Certificate %s (%s) revoked, CRL refreshed", cert.ID, cert.CommonName)

	if user, uerr := m.repo.GetUser(cert.UserID); uerr == nil {
		m.notifier.CertificateRevoked(user, cert)
	} else {
		log.Errorf("[CertManager] Could not load user %s for revocation notice: %v", cert.UserID, uerr)
	}
	return nil
}

func (m *Manager) stallRevocation(cert *models.Certificate, cause error) error {
	cert.FailureCause = cause.Error()
	if err := m.repo.Save(cert); err != nil {
		log.Errorf("[CertManager] Could not record revocation stall for %s: %v", cert.ID, err)
	}
	log.Warnf("[CertManager] Revocation of %s incomplete, staying in revoking: %v", cert.CommonName, cause)
	return fmt.Errorf("%w: %v", ErrRevocationIncomplete, cause)
}

// RetryIssue re-enters issuing from failed. Manual operation: the operator
// has confirmed on the CA side that re-running the issue sequence is safe.
func (m *Manager) RetryIssue(ctx context.Context, certificateID string) (*models.Certificate, error) {
	cert, err := m.repo.GetByID(certificateID)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(cert.SubscriptionID)
	defer unlock()

	if !models.CanTransitionCertificate(cert.State, models.CertificateStateIssuing) {
		return nil, fmt.Errorf("certificate %s is %s, not retryable for issuance", cert.ID, cert.State)
	}
	user, err := m.repo.GetUser(cert.UserID)
	if err != nil {
		return nil, err
	}

	cert.State = models.CertificateStateIssuing
	cert.FailureCause = ""
	if err := m.repo.Save(cert); err != nil {
		return nil, err
	}
	return m.runIssuance(ctx, cert, user)
}

// RetryRevoke re-enters revoking from failed.
func (m *Manager) RetryRevoke(ctx context.Context, certificateID string) error {
	cert, err := m.repo.GetByID(certificateID)
	if err != nil {
		return err
	}

	unlock := m.locks.Lock(cert.SubscriptionID)
	defer unlock()

	if !models.CanTransitionCertificate(cert.State, models.CertificateStateRevoking) {
		return fmt.Errorf("certificate %s is %s, not retryable for revocation", cert.ID, cert.State)
	}
	cert.State = models.CertificateStateRevoking
	cert.FailureCause = ""
	if err := m.repo.Save(cert); err != nil {
		return err
	}
	return m.finishRevocation(ctx, cert)
}

// SweepStale recovers rows stuck past the threshold. Revoking entries rerun
// the safe-to-retry revocation steps; issuing entries cannot be retried
// blindly (double-issuance risk) and are flagged for the operator instead.
func (m *Manager) SweepStale(ctx context.Context, staleAfter time.Duration) {
	cutoff := time.Now().Add(-staleAfter)

	stuck, err := m.repo.FindStale(models.CertificateStateRevoking, cutoff)
	if err != nil {
		log.Errorf("[CertManager] Sweep could not list stuck revocations: %v", err)
	} else {
		for i := range stuck {
			cert := stuck[i]
			log.Warnf("[CertManager] Sweep retrying revocation of %s (stuck since %s)", cert.CommonName, cert.UpdatedAt)
			if err := m.finishRevocation(ctx, &cert); err != nil {
				log.Warnf("[CertManager] Sweep revocation retry for %s failed: %v", cert.CommonName, err)
			}
		}
	}

	stuckIssuing, err := m.repo.FindStale(models.CertificateStateIssuing, cutoff)
	if err != nil {
		log.Errorf("[CertManager] Sweep could not list stuck issuances: %v", err)
		return
	}
	for i := range stuckIssuing {
		cert := stuckIssuing[i]
		user, uerr := m.repo.GetUser(cert.UserID)
		if uerr != nil {
			log.Errorf("[CertManager] Sweep could not load user %s: %v", cert.UserID, uerr)
			continue
		}
		cause := fmt.Errorf("stuck in issuing since %s", cert.UpdatedAt.Format(time.RFC3339))
		if err := m.failIssuance(&cert, user, cause); err != nil {
			// failIssuance always returns ErrIssuanceFailed; the alert and
			// state change are what matter here.
			log.Warnf("[CertManager] Sweep flagged stuck issuance %s", cert.ID)
		}
	}
}
