package pki

import (
	"context"
	"time"
)

const (
	DefaultRetryAttempts = 3
	defaultRetryBase     = 250 * time.Millisecond
	maxRetryDelay        = 2 * time.Second
)

// Retry runs fn up to attempts times, backing off exponentially between
// attempts. Only errors classified retryable by IsRetryable are retried;
// command failures surface immediately.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	delay := defaultRetryBase

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsRetryable(err) || i == attempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
	return err
}
