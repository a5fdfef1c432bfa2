package core

import "time"

// Event is the interface for all ledger events.
type Event interface {
	eventMarker()
}

// JobEnqueued is emitted after a successful enqueue, including an
// idempotent enqueue that returned an existing job.
type JobEnqueued struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobEnqueued) eventMarker() {}

// JobCancelled is emitted when a queued job is cancelled.
type JobCancelled struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobCancelled) eventMarker() {}

// JobCancelRequested is emitted when a running job is asked to stop.
type JobCancelRequested struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobCancelRequested) eventMarker() {}
