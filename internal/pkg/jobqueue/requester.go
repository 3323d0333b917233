package jobqueue

import (
	"context"
	"fmt"
)

// Enqueuer is the narrow queue surface the requester needs; satisfied by
// *Queue in production.
type Enqueuer interface {
	EnqueueJob(jobType JobType, payload map[string]interface{}) (*Job, error)
}

// Requester hands certificate work to the queue so webhook handling never
// waits on the CA. Implements the billing layer's CertificateRequester.
type Requester struct {
	queue Enqueuer
}

func NewRequester(queue Enqueuer) *Requester {
	return &Requester{queue: queue}
}

func (r *Requester) RequestIssue(ctx context.Context, subscriptionID, userID string) error {
	payload := CertificateIssueJobPayload{
		SubscriptionID: subscriptionID,
		UserID:         userID,
	}
	if _, err := r.queue.EnqueueJob(JobTypeCertificateIssue, payload.ToMap()); err != nil {
		return fmt.Errorf("enqueue certificate issue for %s: %w", subscriptionID, err)
	}
	return nil
}

func (r *Requester) RequestRevoke(ctx context.Context, subscriptionID string) error {
	payload := CertificateRevokeJobPayload{
		SubscriptionID: subscriptionID,
	}
	if _, err := r.queue.EnqueueJob(JobTypeCertificateRevoke, payload.ToMap()); err != nil {
		return fmt.Errorf("enqueue certificate revoke for %s: %w", subscriptionID, err)
	}
	return nil
}
