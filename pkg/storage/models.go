package storage

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/jdziat/job-ledger/pkg/core"
)

// jobRecord is the persisted row. Lease columns and the idempotency key stay
// inside this package; callers only ever see core.Job.
type jobRecord struct {
	ID          string            `gorm:"primaryKey;size:36;index:idx_jobs_owner_keyset,priority:3"`
	TaskName    string            `gorm:"index;size:255;not null"`
	Status      core.JobStatus    `gorm:"index;size:20;not null"`
	Queue       string            `gorm:"index;size:255;not null"`
	Payload     datatypes.JSONMap `gorm:"not null"`
	Priority    int               `gorm:"not null"`
	RunAt       time.Time         `gorm:"index;not null"`
	Attempts    int               `gorm:"not null"`
	MaxAttempts int               `gorm:"not null"`
	LastError   datatypes.JSON

	CreatedBy      string    `gorm:"size:255;not null;index:idx_jobs_owner_keyset,priority:1;uniqueIndex:idx_jobs_owner_idempotency,priority:1,where:idempotency_key IS NOT NULL"`
	IdempotencyKey *string   `gorm:"size:255;uniqueIndex:idx_jobs_owner_idempotency,priority:2,where:idempotency_key IS NOT NULL"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime:false;index:idx_jobs_owner_keyset,priority:2"`
	UpdatedAt      time.Time `gorm:"not null;autoUpdateTime:false"`

	CancelRequestedAt *time.Time

	// Worker lease
	LockedBy    string     `gorm:"size:255"`
	LockedUntil *time.Time `gorm:"index"`
}

func (jobRecord) TableName() string { return "jobs" }

// toJob maps a row to the public record shape.
func (r *jobRecord) toJob() *core.Job {
	payload := map[string]any(r.Payload)
	if payload == nil {
		payload = map[string]any{}
	}

	job := &core.Job{
		ID:          r.ID,
		TaskName:    r.TaskName,
		Status:      r.Status,
		Queue:       r.Queue,
		Payload:     payload,
		Priority:    r.Priority,
		RunAt:       r.RunAt.UTC(),
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if r.CancelRequestedAt != nil {
		t := r.CancelRequestedAt.UTC()
		job.CancelRequestedAt = &t
	}
	if len(r.LastError) > 0 && string(r.LastError) != "null" {
		var e core.JobError
		if err := json.Unmarshal(r.LastError, &e); err == nil {
			job.LastError = &e
		} else {
			job.LastError = &core.JobError{Message: string(r.LastError)}
		}
	}
	return job
}

// dbTime normalises a timestamp for storage: UTC, microsecond precision.
// PostgreSQL keeps microseconds, so truncating up front makes values
// returned from any backend compare equal to the cursors built from them.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
