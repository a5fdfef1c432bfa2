// Package core provides the domain models and interfaces for the ledger package.
package core

import (
	"encoding/json"
	"time"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusDead      JobStatus = "dead"      // Retry budget exhausted or failed permanently
	StatusCancelled JobStatus = "cancelled" // Terminated before completion
)

// DefaultMaxAttempts is the retry budget given to every new job.
const DefaultMaxAttempts = 25

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusSucceeded, StatusDead, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is permitted from s.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusDead || s == StatusCancelled
}

// Job is the public record of a unit of work.
// Worker lease metadata and the idempotency key are never part of it.
type Job struct {
	ID          string         `json:"id"`
	TaskName    string         `json:"task_name"`
	Status      JobStatus      `json:"status"`
	Queue       string         `json:"queue"`
	Payload     map[string]any `json:"payload"`
	Priority    int            `json:"priority"`
	RunAt       time.Time      `json:"run_at"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CancelRequestedAt *time.Time `json:"cancel_requested_at"`
	LastError         *JobError  `json:"last_error"`
}

// EnqueueRequest describes a job to be created.
type EnqueueRequest struct {
	TaskName       string         `json:"task_name"`
	Queue          string         `json:"queue"`
	Payload        map[string]any `json:"payload"`
	Priority       int            `json:"priority"`
	RunAt          *time.Time     `json:"run_at,omitempty"`
	IdempotencyKey *string        `json:"idempotency_key,omitempty"`
}

// ListQuery holds the filters and page parameters for listing jobs.
// Zero-valued filters impose no constraint.
type ListQuery struct {
	Statuses      []JobStatus
	Queue         string
	TaskName      string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time

	// Limit of 0 selects DefaultListLimit.
	Limit  int
	Cursor string
}

// ListPage is one page of a keyset listing.
type ListPage struct {
	Items      []*Job  `json:"items"`
	NextCursor *string `json:"next_cursor"`
}

// JobError is the structured diagnostic recorded by a worker on failure.
// Keys other than the well-known ones are kept in Extra.
type JobError struct {
	Type       string     `json:"type,omitempty"`
	Message    string     `json:"message,omitempty"`
	Retryable  *bool      `json:"retryable,omitempty"`
	HappenedAt *time.Time `json:"happened_at,omitempty"`

	Extra map[string]any `json:"-"`
}

var jobErrorKeys = map[string]struct{}{
	"type": {}, "message": {}, "retryable": {}, "happened_at": {},
}

// MarshalJSON flattens Extra into the object. Well-known fields win on collision.
func (e JobError) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+4)
	for k, v := range e.Extra {
		if _, known := jobErrorKeys[k]; !known {
			out[k] = v
		}
	}
	if e.Type != "" {
		out["type"] = e.Type
	}
	if e.Message != "" {
		out["message"] = e.Message
	}
	if e.Retryable != nil {
		out["retryable"] = *e.Retryable
	}
	if e.HappenedAt != nil {
		out["happened_at"] = e.HappenedAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(out)
}

// UnmarshalJSON fills the well-known fields and collects the rest into Extra.
func (e *JobError) UnmarshalJSON(data []byte) error {
	type known struct {
		Type       string     `json:"type"`
		Message    string     `json:"message"`
		Retryable  *bool      `json:"retryable"`
		HappenedAt *time.Time `json:"happened_at"`
	}
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	*e = JobError{Type: k.Type, Message: k.Message, Retryable: k.Retryable, HappenedAt: k.HappenedAt}
	for key, v := range all {
		if _, ok := jobErrorKeys[key]; ok {
			continue
		}
		if e.Extra == nil {
			e.Extra = make(map[string]any)
		}
		e.Extra[key] = v
	}
	return nil
}
