package context

import (
	"context"

	"github.com/jdziat/job-ledger/pkg/core"
)

// JobContextKey is the key for storing job context in context.Context.
type JobContextKey struct{}

// JobContext holds the job being executed and the worker executing it.
type JobContext struct {
	Job      *core.Job
	WorkerID string
	Store    core.WorkerStore
}

// GetJobContext retrieves the job context from a context.Context.
func GetJobContext(ctx context.Context) *JobContext {
	if jc, ok := ctx.Value(JobContextKey{}).(*JobContext); ok {
		return jc
	}
	return nil
}

// WithJobContext adds job context to a context.Context.
func WithJobContext(ctx context.Context, jc *JobContext) context.Context {
	return context.WithValue(ctx, JobContextKey{}, jc)
}

// WithJob returns a context carrying job. Worker fields already present in
// ctx are kept.
func WithJob(ctx context.Context, job *core.Job) context.Context {
	jc := &JobContext{Job: job}
	if parent := GetJobContext(ctx); parent != nil {
		jc.WorkerID = parent.WorkerID
		jc.Store = parent.Store
	}
	return WithJobContext(ctx, jc)
}
