package models

import "time"

const (
	CertificateStateIssuing  = "issuing"
	CertificateStateValid    = "valid"
	CertificateStateRevoking = "revoking"
	CertificateStateRevoked  = "revoked"
	CertificateStateFailed   = "failed"
)

// Certificate tracks one client certificate issued by the remote CA for a
// subscription. At most one certificate per subscription may be live
// (issuing or valid) at any time.
type Certificate struct {
	ID             string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID         string     `gorm:"type:varchar(36);not null;index" json:"user_id"`
	SubscriptionID string     `gorm:"type:varchar(36);not null;index" json:"subscription_id"`
	CommonName     string     `gorm:"type:varchar(255);not null;index" json:"common_name"`
	State          string     `gorm:"type:varchar(20);not null;index" json:"state"`
	SerialNumber   string     `gorm:"type:varchar(100);uniqueIndex;default:null" json:"serial_number,omitempty"`
	// BundleRef points at the exported .p12 in the credential store. The
	// unlock secret lives next to it and is never logged or serialized.
	BundleRef    string     `gorm:"type:varchar(500)" json:"-"`
	UnlockSecret string     `gorm:"type:varchar(100)" json:"-"`
	FailureCause string     `gorm:"type:text" json:"-"`
	IssuedAt     *time.Time `gorm:"type:timestamp;default:null" json:"issued_at,omitempty"`
	ExpiresAt    *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	RevokedAt    *time.Time `gorm:"type:timestamp;default:null" json:"revoked_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsLiveCertificateState reports whether a certificate in this state counts
// against the one-live-certificate-per-subscription invariant.
func IsLiveCertificateState(s string) bool {
	return s == CertificateStateIssuing || s == CertificateStateValid
}

// CanTransitionCertificate encodes the lifecycle graph:
// issuing -> valid, valid -> revoking -> revoked, any -> failed, and the
// manual retry re-entries failed -> issuing / failed -> revoking.
func CanTransitionCertificate(from, to string) bool {
	switch from {
	case CertificateStateIssuing:
		return to == CertificateStateValid || to == CertificateStateFailed
	case CertificateStateValid:
		return to == CertificateStateRevoking || to == CertificateStateFailed
	case CertificateStateRevoking:
		return to == CertificateStateRevoked || to == CertificateStateFailed
	case CertificateStateFailed:
		return to == CertificateStateIssuing || to == CertificateStateRevoking
	case CertificateStateRevoked:
		return false
	}
	return false
}

// IsExpired reports whether the certificate validity window has passed.
func (c *Certificate) IsExpired() bool {
	if c.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*c.ExpiresAt)
}

// DaysUntilExpiration returns the number of whole days left, or nil when no
// expiry is recorded.
func (c *Certificate) DaysUntilExpiration() *int {
	if c.ExpiresAt == nil {
		return nil
	}
	d := int(time.Until(*c.ExpiresAt).Hours() / 24)
	return &d
}
