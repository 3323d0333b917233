package jobqueue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/vpn-sentinel/sentinel/internal/pkg/certmanager"
	"github.com/vpn-sentinel/sentinel/internal/pkg/env"
	"github.com/vpn-sentinel/sentinel/internal/pkg/pki"
)

// Manager manages the job queue and periodic CA maintenance
type Manager struct {
	queue     *Queue
	ca        pki.CommandClient
	crlTicker *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
}

// NewManager creates the job queue manager. Worker count comes from
// JOB_QUEUE_WORKERS, CRL refresh cadence from CRL_REFRESH_INTERVAL.
func NewManager(certs *certmanager.Manager, ca pki.CommandClient) *Manager {
	workers := 5
	if v, err := strconv.Atoi(env.GetEnv("JOB_QUEUE_WORKERS", "")); err == nil && v > 0 {
		workers = v
	}

	return &Manager{
		queue:  NewQueue(workers, certs),
		ca:     ca,
		stopCh: make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	// Start the job queue
	m.queue.Start()

	// Periodic CRL regeneration keeps the gateway's revocation list fresh
	// even if an earlier revocation only managed the revoke step.
	crlInterval := 12 * time.Hour
	if d, err := time.ParseDuration(env.GetEnv("CRL_REFRESH_INTERVAL", "")); err == nil && d > 0 {
		crlInterval = d
	}
	m.crlTicker = time.NewTicker(crlInterval)
	m.wg.Add(1)
	go m.crlWorker(crlInterval)

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.crlTicker != nil {
		m.crlTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// crlWorker runs periodically to regenerate the CA revocation list
func (m *Manager) crlWorker(interval time.Duration) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started CRL refresh worker (interval: %s)", interval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] CRL refresh worker stopping")
			return
		case <-m.crlTicker.C:
			if err := m.refreshCRLOnce(); err != nil {
				log.Errorf("[JobQueue Manager] CRL refresh error: %v", err)
			}
		}
	}
}

func (m *Manager) refreshCRLOnce() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return pki.Retry(ctx, pki.DefaultRetryAttempts, func() error {
		return m.ca.RefreshCRL(ctx)
	})
}

// RefreshCRLOnce exposes a manual trigger for a single CRL refresh (admin use).
func (m *Manager) RefreshCRLOnce() error {
	return m.refreshCRLOnce()
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
