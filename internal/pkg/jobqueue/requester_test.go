package jobqueue

import (
	"context"
	"errors"
	"testing"
)

type fakeEnqueuer struct {
	jobs []JobType
	err  error
}

func (f *fakeEnqueuer) EnqueueJob(jobType JobType, payload map[string]interface{}) (*Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.jobs = append(f.jobs, jobType)
	return &Job{ID: "job-1", Type: jobType, Payload: payload}, nil
}

func TestRequesterEnqueuesIssueAndRevoke(t *testing.T) {
	enq := &fakeEnqueuer{}
	r := NewRequester(enq)

	if err := r.RequestIssue(context.Background(), "sub_1", "user_1"); err != nil {
		t.Fatalf("RequestIssue: %v", err)
	}
	if err := r.RequestRevoke(context.Background(), "sub_1"); err != nil {
		t.Fatalf("RequestRevoke: %v", err)
	}

	if len(enq.jobs) != 2 || enq.jobs[0] != JobTypeCertificateIssue || enq.jobs[1] != JobTypeCertificateRevoke {
		t.Fatalf("unexpected job types: %v", enq.jobs)
	}
}

func TestRequesterSurfacesQueueErrors(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("redis down")}
	r := NewRequester(enq)

	if err := r.RequestIssue(context.Background(), "sub_1", "user_1"); err == nil {
		t.Fatal("expected enqueue failure to surface")
	}
}
