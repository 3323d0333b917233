package certmanager

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/vpn-sentinel/sentinel/app/models"
)

// Repository provides DB operations used by the certificate manager.
type Repository interface {
	// FindLiveBySubscription returns the certificate in state issuing or
	// valid for a subscription, or (nil, nil) when there is none.
	FindLiveBySubscription(subscriptionID string) (*models.Certificate, error)
	// FindBySubscription returns the most recent certificate regardless of
	// state, or (nil, nil).
	FindBySubscription(subscriptionID string) (*models.Certificate, error)
	// FindActiveByUser returns the user's valid certificate, or (nil, nil).
	FindActiveByUser(userID string) (*models.Certificate, error)
	GetByID(id string) (*models.Certificate, error)
	// CreateIfNoLive inserts cert unless a live certificate already exists
	// for its subscription; returns (false, existing, nil) in that case.
	// The check and insert run in one transaction with a row lock.
	CreateIfNoLive(cert *models.Certificate) (bool, *models.Certificate, error)
	Save(cert *models.Certificate) error
	// FindStale returns certificates stuck in the given state since before
	// the cutoff.
	FindStale(state string, cutoff time.Time) ([]models.Certificate, error)
	GetUser(userID string) (*models.User, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a certificate repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindLiveBySubscription(subscriptionID string) (*models.Certificate, error) {
	var cert models.Certificate
	err := r.db.
		Where("subscription_id = ? AND state IN ?", subscriptionID,
			[]string{models.CertificateStateIssuing, models.CertificateStateValid}).
		First(&cert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

func (r *gormRepository) FindBySubscription(subscriptionID string) (*models.Certificate, error) {
	var cert models.Certificate
	err := r.db.
		Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC").
		First(&cert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

func (r *gormRepository) FindActiveByUser(userID string) (*models.Certificate, error) {
	var cert models.Certificate
	err := r.db.
		Where("user_id = ? AND state = ?", userID, models.CertificateStateValid).
		Order("issued_at DESC").
		First(&cert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

func (r *gormRepository) GetByID(id string) (*models.Certificate, error) {
	var cert models.Certificate
	if err := r.db.Where("id = ?", id).First(&cert).Error; err != nil {
		return nil, err
	}
	return &cert, nil
}

func (r *gormRepository) CreateIfNoLive(cert *models.Certificate) (bool, *models.Certificate, error) {
	var existing models.Certificate
	created := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		err := tx.
			Set("gorm:query_option", "FOR UPDATE").
			Where("subscription_id = ? AND state IN ?", cert.SubscriptionID,
				[]string{models.CertificateStateIssuing, models.CertificateStateValid}).
			First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		created = true
		return tx.Create(cert).Error
	})
	if err != nil {
		return false, nil, err
	}
	if !created {
		return false, &existing, nil
	}
	return true, cert, nil
}

func (r *gormRepository) Save(cert *models.Certificate) error {
	return r.db.Save(cert).Error
}

func (r *gormRepository) FindStale(state string, cutoff time.Time) ([]models.Certificate, error) {
	var certs []models.Certificate
	err := r.db.
		Where("state = ? AND updated_at < ?", state, cutoff).
		Find(&certs).Error
	return certs, err
}

func (r *gormRepository) GetUser(userID string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
