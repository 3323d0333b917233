package models

import "time"

const (
	SubscriptionStatusPending   = "pending"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
)

// Subscription mirrors the provider-side subscription for a user. Billing
// periods are always copied verbatim from provider events; the provider owns
// proration and cycle math.
type Subscription struct {
	ID                   string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID               string     `gorm:"type:varchar(36);not null;index" json:"user_id"`
	StripeCustomerID     string     `gorm:"type:varchar(255);uniqueIndex;default:null" json:"-"`
	StripeSubscriptionID string     `gorm:"type:varchar(255);uniqueIndex;default:null" json:"-"`
	Status               string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	PlanType             string     `gorm:"type:varchar(50);default:'basic'" json:"plan_type"`
	CurrentPeriodStart   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool       `gorm:"default:false" json:"cancel_at_period_end"`
	FailedPaymentCount   int        `gorm:"not null;default:0" json:"-"`
	LastPaymentError     string     `gorm:"type:text" json:"-"`
	Version              uint       `gorm:"not null;default:1" json:"-"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsValidSubscriptionStatus reports whether s is one of the modeled states.
func IsValidSubscriptionStatus(s string) bool {
	switch s {
	case SubscriptionStatusPending, SubscriptionStatusActive,
		SubscriptionStatusCancelled, SubscriptionStatusExpired:
		return true
	}
	return false
}

// CanTransitionSubscription reports whether the subscription state machine
// allows moving from one status to another. Same-state writes are allowed so
// renewals can refresh period fields.
func CanTransitionSubscription(from, to string) bool {
	if !IsValidSubscriptionStatus(from) || !IsValidSubscriptionStatus(to) {
		return false
	}
	if from == to {
		return true
	}
	switch from {
	case SubscriptionStatusPending:
		return to == SubscriptionStatusActive || to == SubscriptionStatusExpired
	case SubscriptionStatusExpired:
		return to == SubscriptionStatusActive
	case SubscriptionStatusActive:
		return to == SubscriptionStatusCancelled || to == SubscriptionStatusExpired
	case SubscriptionStatusCancelled:
		return false
	}
	return false
}
