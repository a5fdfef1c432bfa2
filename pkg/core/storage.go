package core

import (
	"context"
	"time"
)

// Store defines the persistence layer for jobs.
// Every operation is scoped by owner and runs as one atomic statement
// against the backing database.
type Store interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Insert creates a queued job, or returns the existing job when the
	// request carries an idempotency key already used by owner.
	Insert(ctx context.Context, owner string, req EnqueueRequest, now time.Time) (*Job, error)

	// GetByOwner returns nil when the job does not exist or belongs to another owner.
	GetByOwner(ctx context.Context, owner, jobID string) (*Job, error)

	ListByOwner(ctx context.Context, owner string, q ListQuery) (*ListPage, error)

	// Cancel returns a nil job when nothing matched. accepted is true only
	// when a running job has a recorded cancellation request; changed is
	// true only when this call wrote the row.
	Cancel(ctx context.Context, owner, jobID string, now time.Time) (job *Job, accepted, changed bool, err error)
}

// WorkerStore is the storage half of the external worker. It records the
// worker's decisions; it does not make them.
type WorkerStore interface {
	Claim(ctx context.Context, queues []string, workerID string, now time.Time) (*Job, error)
	Complete(ctx context.Context, jobID, workerID string, now time.Time) error
	Fail(ctx context.Context, jobID, workerID string, jobErr *JobError, retryAt *time.Time, now time.Time) error
	AcknowledgeCancel(ctx context.Context, jobID, workerID string, now time.Time) error
	CancelRequested(ctx context.Context, jobID string) (bool, error)
}
