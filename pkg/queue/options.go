package queue

import (
	"log/slog"
	"time"
)

// Option configures a Queue.
type Option interface {
	apply(*Queue)
}

type optionFunc func(*Queue)

func (f optionFunc) apply(q *Queue) { f(q) }

// WithClock sets the time source used for created_at, updated_at and
// cancellation timestamps.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(q *Queue) {
		if now != nil {
			q.now = now
		}
	})
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	})
}

// WithEventBuffer sets the channel capacity of each Events subscriber.
func WithEventBuffer(n int) Option {
	return optionFunc(func(q *Queue) {
		if n > 0 {
			q.eventBuffer = n
		}
	})
}

// DefaultQueue is the queue EnqueueTask uses when none is given.
const DefaultQueue = "default"

// EnqueueOptions holds the per-job settings collected by EnqueueTask.
type EnqueueOptions struct {
	Queue          string
	Priority       int
	Delay          time.Duration
	RunAt          *time.Time
	IdempotencyKey *string
}

// NewEnqueueOptions creates EnqueueOptions with defaults.
func NewEnqueueOptions() *EnqueueOptions {
	return &EnqueueOptions{Queue: DefaultQueue}
}

// EnqueueOption modifies EnqueueOptions.
type EnqueueOption interface {
	Apply(*EnqueueOptions)
}

type enqueueOptionFunc func(*EnqueueOptions)

func (f enqueueOptionFunc) Apply(o *EnqueueOptions) { f(o) }

// OnQueue sets the queue name.
func OnQueue(name string) EnqueueOption {
	return enqueueOptionFunc(func(o *EnqueueOptions) {
		o.Queue = name
	})
}

// Priority sets the job priority (higher = claimed first).
func Priority(p int) EnqueueOption {
	return enqueueOptionFunc(func(o *EnqueueOptions) {
		o.Priority = p
	})
}

// Delay schedules the job to become due after a duration.
func Delay(d time.Duration) EnqueueOption {
	return enqueueOptionFunc(func(o *EnqueueOptions) {
		o.Delay = d
	})
}

// At schedules the job to become due at a specific time. It takes
// precedence over Delay.
func At(t time.Time) EnqueueOption {
	return enqueueOptionFunc(func(o *EnqueueOptions) {
		o.RunAt = &t
	})
}

// IdempotencyKey makes repeated enqueues with the same key return the first job.
func IdempotencyKey(key string) EnqueueOption {
	return enqueueOptionFunc(func(o *EnqueueOptions) {
		o.IdempotencyKey = &key
	})
}
