package statistics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/vpn-sentinel/sentinel/app/models"
	"github.com/vpn-sentinel/sentinel/internal/pkg/cache"
	"github.com/vpn-sentinel/sentinel/internal/pkg/database"
)

const (
	CacheKeyUsersTotal          = "statistics:users:total"
	CacheKeySubscriptionsActive = "statistics:subscriptions:active"
	CacheKeyCertificatesValid   = "statistics:certificates:valid"
	CacheExpiration             = 30 * time.Minute
)

// StatisticsData holds the aggregate counts shown on the admin overview
type StatisticsData struct {
	TotalUsers          int `json:"total_users"`
	ActiveSubscriptions int `json:"active_subscriptions"`
	ValidCertificates   int `json:"valid_certificates"`
}

var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

// UpdateCacheIfNeeded refreshes the cached counts when the refresh interval elapsed
func UpdateCacheIfNeeded() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	if time.Since(lastCacheUpdate) <= cacheUpdateInterval {
		return
	}
	if err := UpdateStatisticsCache(); err != nil {
		log.Errorf("[Statistics] cache refresh failed: %v", err)
		return
	}
	lastCacheUpdate = time.Now()
}

// UpdateStatisticsCache recounts all statistics and stores them in the cache
func UpdateStatisticsCache() error {
	db := database.GetDB()

	var totalUsers int64
	if err := db.Model(&models.User{}).Count(&totalUsers).Error; err != nil {
		return err
	}

	var activeSubscriptions int64
	if err := db.Model(&models.Subscription{}).
		Where("status = ?", models.SubscriptionStatusActive).
		Count(&activeSubscriptions).Error; err != nil {
		return err
	}

	var validCertificates int64
	if err := db.Model(&models.Certificate{}).
		Where("state = ?", models.CertificateStateValid).
		Count(&validCertificates).Error; err != nil {
		return err
	}

	if err := cache.Set(CacheKeyUsersTotal, strconv.FormatInt(totalUsers, 10), CacheExpiration); err != nil {
		return err
	}
	if err := cache.Set(CacheKeySubscriptionsActive, strconv.FormatInt(activeSubscriptions, 10), CacheExpiration); err != nil {
		return err
	}
	return cache.Set(CacheKeyCertificatesValid, strconv.FormatInt(validCertificates, 10), CacheExpiration)
}

// GetStatisticsData returns the cached counts, refreshing them when stale
func GetStatisticsData() StatisticsData {
	UpdateCacheIfNeeded()

	return StatisticsData{
		TotalUsers:          cachedCount(CacheKeyUsersTotal, countUsers),
		ActiveSubscriptions: cachedCount(CacheKeySubscriptionsActive, countActiveSubscriptions),
		ValidCertificates:   cachedCount(CacheKeyCertificatesValid, countValidCertificates),
	}
}

// cachedCount reads a counter from the cache, falling back to the database on a miss
func cachedCount(key string, recount func() (int64, error)) int {
	val, err := cache.Get(key)
	if err == nil {
		if n, perr := strconv.ParseInt(val, 10, 64); perr == nil {
			return int(n)
		}
	}

	n, err := recount()
	if err != nil {
		log.Errorf("[Statistics] recount for %s failed: %v", key, err)
		return 0
	}
	if err := cache.Set(key, strconv.FormatInt(n, 10), CacheExpiration); err != nil {
		log.Warnf("[Statistics] caching %s failed: %v", key, err)
	}
	return int(n)
}

func countUsers() (int64, error) {
	var n int64
	err := database.GetDB().Model(&models.User{}).Count(&n).Error
	return n, err
}

func countActiveSubscriptions() (int64, error) {
	var n int64
	err := database.GetDB().Model(&models.Subscription{}).
		Where("status = ?", models.SubscriptionStatusActive).Count(&n).Error
	return n, err
}

func countValidCertificates() (int64, error) {
	var n int64
	err := database.GetDB().Model(&models.Certificate{}).
		Where("state = ?", models.CertificateStateValid).Count(&n).Error
	return n, err
}
