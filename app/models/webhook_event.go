package models

import "time"

const (
	WebhookOutcomeApplied   = "applied"
	WebhookOutcomeDuplicate = "duplicate_ignored"
	WebhookOutcomeRejected  = "rejected"
)

// WebhookEvent is the idempotency ledger for provider deliveries. A row is
// inserted before any side effect; redeliveries of the same provider event id
// hit the unique index and are acknowledged without reprocessing.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"-"`
	Outcome         string     `gorm:"type:varchar(30);not null;default:''" json:"outcome"`
	ProcessingError string     `gorm:"type:text" json:"-"`
	DeliveryCount   int        `gorm:"not null;default:1" json:"delivery_count"`
	ReceivedAt      time.Time  `gorm:"autoCreateTime;index" json:"received_at"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"-"`
}
