// Package ledger provides a durable, multi-tenant job ledger.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	db, _ := ledger.Open(ledger.DriverSQLite, "jobs.db")
//	store := ledger.NewGormStorage(db)
//	store.Migrate(context.Background())
//	q := ledger.New(store)
//
//	// Enqueue a job for tenant "alice"
//	job, _ := q.EnqueueTask(ctx, "alice", "send_email",
//	    map[string]any{"to": "bob@example.com"}, ledger.OnQueue("emails"))
//
//	// Ask for it to be cancelled
//	job, accepted, _ := q.Cancel(ctx, "alice", job.ID)
package ledger

import (
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/job-ledger/pkg/core"
	"github.com/jdziat/job-ledger/pkg/queue"
	"github.com/jdziat/job-ledger/pkg/registry"
	"github.com/jdziat/job-ledger/pkg/security"
	"github.com/jdziat/job-ledger/pkg/storage"
)

// Type aliases
type (
	// Job is the persisted record of one unit of work.
	Job = core.Job

	// JobStatus represents the current state of a job.
	JobStatus = core.JobStatus

	// JobError is the structured failure recorded on a job.
	JobError = core.JobError

	EnqueueRequest = core.EnqueueRequest
	ListQuery      = core.ListQuery
	ListPage       = core.ListPage

	// Store defines the owner-scoped persistence layer for jobs.
	Store = core.Store

	// WorkerStore records worker transitions.
	WorkerStore = core.WorkerStore

	// Event is the interface for all ledger events.
	Event              = core.Event
	JobEnqueued        = core.JobEnqueued
	JobCancelled       = core.JobCancelled
	JobCancelRequested = core.JobCancelRequested

	ValidationError = core.ValidationError
	StoreError      = core.StoreError

	// Queue is the job service.
	Queue = queue.Queue

	// Option configures a Queue.
	Option = queue.Option

	// EnqueueOption configures a single EnqueueTask call.
	EnqueueOption = queue.EnqueueOption

	// GormStorage implements Store and WorkerStore using GORM.
	GormStorage = storage.GormStorage

	StorageOption = storage.StorageOption
	PoolOption    = storage.PoolOption

	// Registry maps task names to handlers.
	Registry = registry.Registry

	// RegistryBuilder accumulates task registrations.
	RegistryBuilder = registry.Builder
)

// Status constants
const (
	StatusQueued    = core.StatusQueued
	StatusRunning   = core.StatusRunning
	StatusSucceeded = core.StatusSucceeded
	StatusDead      = core.StatusDead
	StatusCancelled = core.StatusCancelled
)

// Drivers accepted by Open.
const (
	DriverSQLite   = storage.DriverSQLite
	DriverPostgres = storage.DriverPostgres
)

// Limits
const (
	DefaultMaxAttempts      = core.DefaultMaxAttempts
	DefaultQueue            = queue.DefaultQueue
	MaxTaskNameLength       = security.MaxTaskNameLength
	MaxQueueNameLength      = security.MaxQueueNameLength
	MaxIdempotencyKeyLength = security.MaxIdempotencyKeyLength
	MaxPayloadSize          = security.MaxPayloadSize
	DefaultListLimit        = security.DefaultListLimit
	MaxListLimit            = security.MaxListLimit
)

// Error variables
var (
	ErrValidation        = core.ErrValidation
	ErrNotFound          = core.ErrNotFound
	ErrStoreUnavailable  = core.ErrStoreUnavailable
	ErrMalformedCursor   = core.ErrMalformedCursor
	ErrJobNotOwned       = core.ErrJobNotOwned
	ErrTaskNotRegistered = registry.ErrTaskNotRegistered
	ErrDuplicateTask     = registry.ErrDuplicateTask
)

// New creates a Queue over the given store.
func New(s Store, opts ...Option) *Queue {
	return queue.New(s, opts...)
}

// Open connects to a sqlite or postgres database with a configured pool.
func Open(driver, dsn string, opts ...PoolOption) (*gorm.DB, error) {
	return storage.Open(driver, dsn, opts...)
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB, opts ...StorageOption) *GormStorage {
	return storage.NewGormStorage(db, opts...)
}

// NewRegistry starts a task registry.
func NewRegistry() *RegistryBuilder {
	return registry.NewBuilder()
}

// WithClock sets the queue's time source.
func WithClock(now func() time.Time) Option {
	return queue.WithClock(now)
}

// OnQueue sets the queue name.
func OnQueue(name string) EnqueueOption {
	return queue.OnQueue(name)
}

// Priority sets the job priority (higher = claimed first).
func Priority(p int) EnqueueOption {
	return queue.Priority(p)
}

// Delay makes the job eligible after a duration.
func Delay(d time.Duration) EnqueueOption {
	return queue.Delay(d)
}

// At makes the job eligible at a specific time.
func At(t time.Time) EnqueueOption {
	return queue.At(t)
}

// IdempotencyKey deduplicates enqueues per owner.
func IdempotencyKey(key string) EnqueueOption {
	return queue.IdempotencyKey(key)
}

// SanitizeErrorMessage truncates error messages for storage.
func SanitizeErrorMessage(msg string) string {
	return security.SanitizeErrorMessage(msg)
}
