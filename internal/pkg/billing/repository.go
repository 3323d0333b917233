package billing

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vpn-sentinel/sentinel/app/models"
)

// Repository provides the DB operations used by the ingestor and reconciler.
type Repository interface {
	GetUserByID(id string) (*models.User, error)
	GetSubscriptionByProviderID(providerSubscriptionID string) (*models.Subscription, error)
	GetSubscriptionByUser(userID string) (*models.Subscription, error)
	CreateSubscription(sub *models.Subscription) error
	// UpdateSubscriptionVersioned writes sub only if the row still carries
	// sub.Version; on success the version is bumped, otherwise
	// ErrVersionConflict is returned and nothing changes.
	UpdateSubscriptionVersioned(sub *models.Subscription) error
	// CreateWebhookEventIfNotExists inserts the ledger row; the bool reports
	// whether this call created it (false means duplicate delivery).
	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookOutcome(id uint, outcome string, processingErr error) error
	IncrementWebhookDelivery(id uint) error
	// DeleteWebhookEvent removes a ledger row after a transient failure so
	// the provider's redelivery gets processed instead of deduplicated.
	DeleteWebhookEvent(id uint) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetUserByID(id string) (*models.User, error) {
	var u models.User
	if err := r.db.Where("id = ?", id).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetSubscriptionByProviderID(providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("stripe_subscription_id = ?", providerSubscriptionID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByUser(userID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) CreateSubscription(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) UpdateSubscriptionVersioned(sub *models.Subscription) error {
	updates := map[string]interface{}{
		"status":               sub.Status,
		"stripe_customer_id":   sub.StripeCustomerID,
		"current_period_start": sub.CurrentPeriodStart,
		"current_period_end":   sub.CurrentPeriodEnd,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
		"failed_payment_count": sub.FailedPaymentCount,
		"last_payment_error":   sub.LastPaymentError,
		"version":              sub.Version + 1,
	}
	tx := r.db.Model(&models.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, sub.Version).
		Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrVersionConflict
	}
	sub.Version++
	return nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookOutcome(id uint, outcome string, processingErr error) error {
	now := time.Now()
	updates := map[string]interface{}{
		"outcome":      outcome,
		"processed_at": &now,
	}
	if processingErr != nil {
		updates["processing_error"] = processingErr.Error()
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) IncrementWebhookDelivery(id uint) error {
	return r.db.Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		UpdateColumn("delivery_count", gorm.Expr("delivery_count + 1")).Error
}

func (r *gormRepository) DeleteWebhookEvent(id uint) error {
	return r.db.Delete(&models.WebhookEvent{}, id).Error
}
