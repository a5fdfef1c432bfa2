// Package jobctx gives task handlers access to the job they are running for.
package jobctx

import (
	"context"

	"github.com/jdziat/job-ledger/pkg/core"
	intctx "github.com/jdziat/job-ledger/pkg/internal/context"
)

// JobFromContext returns the current Job from context, or nil if not in a job handler.
func JobFromContext(ctx context.Context) *core.Job {
	jc := intctx.GetJobContext(ctx)
	if jc == nil {
		return nil
	}
	return jc.Job
}

// JobIDFromContext returns the current job ID from context, or empty string if not in a job handler.
func JobIDFromContext(ctx context.Context) string {
	job := JobFromContext(ctx)
	if job == nil {
		return ""
	}
	return job.ID
}

// WorkerIDFromContext returns the executing worker's ID, or empty string.
func WorkerIDFromContext(ctx context.Context) string {
	jc := intctx.GetJobContext(ctx)
	if jc == nil {
		return ""
	}
	return jc.WorkerID
}

// WithWorker marks ctx as belonging to workerID, whose claims live in store.
// Handlers run under it can poll CancelRequested.
func WithWorker(ctx context.Context, workerID string, store core.WorkerStore) context.Context {
	jc := &intctx.JobContext{WorkerID: workerID, Store: store}
	if parent := intctx.GetJobContext(ctx); parent != nil {
		jc.Job = parent.Job
	}
	return intctx.WithJobContext(ctx, jc)
}

// CancelRequested reports whether the owner asked the current job to stop.
// Long-running handlers should poll it and return early when it is true.
// Outside a worker context it always reports false.
func CancelRequested(ctx context.Context) (bool, error) {
	jc := intctx.GetJobContext(ctx)
	if jc == nil || jc.Job == nil || jc.Store == nil {
		return false, nil
	}
	return jc.Store.CancelRequested(ctx, jc.Job.ID)
}
