package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/job-ledger/pkg/core"
	"github.com/jdziat/job-ledger/pkg/security"
)

const defaultEventBuffer = 100

// Queue is the job service. It is safe for concurrent use.
type Queue struct {
	store  core.Store
	now    func() time.Time
	logger *slog.Logger

	mu          sync.RWMutex
	eventSubs   []chan core.Event
	eventBuffer int
}

// New creates a Queue over the given store.
func New(store core.Store, opts ...Option) *Queue {
	q := &Queue{
		store:       store,
		now:         time.Now,
		logger:      slog.Default(),
		eventBuffer: defaultEventBuffer,
	}
	for _, opt := range opts {
		opt.apply(q)
	}
	return q
}

// Store returns the underlying store.
func (q *Queue) Store() core.Store {
	return q.store
}

// Enqueue creates a queued job owned by owner. A request whose idempotency
// key owner already used returns the existing job unchanged.
func (q *Queue) Enqueue(ctx context.Context, owner string, req core.EnqueueRequest) (*core.Job, error) {
	if err := security.ValidateOwner(owner); err != nil {
		return nil, err
	}

	now := q.now()
	if req.RunAt == nil {
		req.RunAt = &now
	}

	job, err := q.store.Insert(ctx, owner, req, now)
	if err != nil {
		q.logFailure(ctx, "enqueue", owner, err)
		return nil, err
	}

	q.logger.DebugContext(ctx, "job enqueued",
		"job_id", job.ID, "owner", owner, "task", job.TaskName, "queue", job.Queue)
	q.Emit(&core.JobEnqueued{Job: job, Timestamp: now})
	return job, nil
}

// EnqueueTask builds a request from options and enqueues it.
//
//	job, err := q.EnqueueTask(ctx, "alice", "send_email",
//	    map[string]any{"to": "bob@example.com"},
//	    queue.OnQueue("emails"), queue.Delay(time.Minute))
func (q *Queue) EnqueueTask(ctx context.Context, owner, task string, payload map[string]any, opts ...EnqueueOption) (*core.Job, error) {
	o := NewEnqueueOptions()
	for _, opt := range opts {
		opt.Apply(o)
	}

	req := core.EnqueueRequest{
		TaskName:       task,
		Queue:          o.Queue,
		Payload:        payload,
		Priority:       o.Priority,
		RunAt:          o.RunAt,
		IdempotencyKey: o.IdempotencyKey,
	}
	if req.RunAt == nil && o.Delay > 0 {
		runAt := q.now().Add(o.Delay)
		req.RunAt = &runAt
	}
	return q.Enqueue(ctx, owner, req)
}

// Get returns owner's job. It fails with core.ErrNotFound when the job does
// not exist or belongs to another owner.
func (q *Queue) Get(ctx context.Context, owner, jobID string) (*core.Job, error) {
	if err := security.ValidateOwner(owner); err != nil {
		return nil, err
	}

	job, err := q.store.GetByOwner(ctx, owner, jobID)
	if err != nil {
		q.logFailure(ctx, "get", owner, err)
		return nil, err
	}
	if job == nil {
		return nil, core.ErrNotFound
	}
	return job, nil
}

// List returns one page of owner's jobs, newest first.
func (q *Queue) List(ctx context.Context, owner string, query core.ListQuery) (*core.ListPage, error) {
	if err := security.ValidateOwner(owner); err != nil {
		return nil, err
	}

	page, err := q.store.ListByOwner(ctx, owner, query)
	if err != nil {
		q.logFailure(ctx, "list", owner, err)
		return nil, err
	}
	return page, nil
}

// Cancel asks for owner's job to be cancelled.
//
// A queued job is cancelled outright and accepted is false. A running job
// keeps running with cancel_requested_at recorded, and accepted is true; the
// worker finishes the transition. Terminal jobs are returned unchanged.
// Events fire only for the call that changed the job.
func (q *Queue) Cancel(ctx context.Context, owner, jobID string) (*core.Job, bool, error) {
	if err := security.ValidateOwner(owner); err != nil {
		return nil, false, err
	}

	now := q.now()
	job, accepted, changed, err := q.store.Cancel(ctx, owner, jobID, now)
	if err != nil {
		q.logFailure(ctx, "cancel", owner, err)
		return nil, false, err
	}
	if job == nil {
		return nil, false, core.ErrNotFound
	}

	if !changed {
		return job, accepted, nil
	}
	switch {
	case accepted:
		q.logger.InfoContext(ctx, "job cancel requested", "job_id", job.ID, "owner", owner)
		q.Emit(&core.JobCancelRequested{Job: job, Timestamp: now})
	case job.Status == core.StatusCancelled:
		q.logger.InfoContext(ctx, "job cancelled", "job_id", job.ID, "owner", owner)
		q.Emit(&core.JobCancelled{Job: job, Timestamp: now})
	}
	return job, accepted, nil
}

func (q *Queue) logFailure(ctx context.Context, op, owner string, err error) {
	if errors.Is(err, core.ErrValidation) {
		q.logger.DebugContext(ctx, "rejected "+op, "owner", owner, "error", err)
		return
	}
	q.logger.ErrorContext(ctx, op+" failed", "owner", owner, "error", err)
}

// Events returns a channel for receiving ledger events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (q *Queue) Events() <-chan core.Event {
	ch := make(chan core.Event, q.eventBuffer)
	q.mu.Lock()
	q.eventSubs = append(q.eventSubs, ch)
	q.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed. After Unsubscribe returns, no further events
// are sent to it.
func (q *Queue) Unsubscribe(ch <-chan core.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, sub := range q.eventSubs {
		if sub == ch {
			q.eventSubs = append(q.eventSubs[:i], q.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit sends an event to all subscribers. Full subscribers miss the event.
func (q *Queue) Emit(e core.Event) {
	q.mu.RLock()
	subs := make([]chan core.Event, len(q.eventSubs))
	copy(subs, q.eventSubs)
	q.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}
