// Package security provides validation, sanitization, and limits for the ledger package.
package security

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/job-ledger/pkg/core"
)

// Security limits and configuration
const (
	// MaxTaskNameLength is the maximum length for task names
	MaxTaskNameLength = 255

	// MaxQueueNameLength is the maximum length for queue names
	MaxQueueNameLength = 255

	// MaxIdempotencyKeyLength is the maximum length for idempotency keys
	MaxIdempotencyKeyLength = 255

	// MaxOwnerLength is the maximum length for owner identifiers
	MaxOwnerLength = 255

	// MaxPayloadSize is the maximum encoded size in bytes for job payloads (1MB)
	MaxPayloadSize = 1 << 20

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// DefaultListLimit is used when a listing does not specify a limit
	DefaultListLimit = 50

	// MinListLimit and MaxListLimit bound the page size of a listing
	MinListLimit = 1
	MaxListLimit = 200
)

// ValidateOwner validates an owner identifier.
func ValidateOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return core.Invalid("owner", core.ErrEmptyOwner)
	}
	if len(owner) > MaxOwnerLength {
		return core.Invalid("owner", core.ErrOwnerTooLong)
	}
	return nil
}

// ValidateTaskName trims a task name and validates it.
func ValidateTaskName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", core.Invalid("task_name", core.ErrEmptyTaskName)
	}
	if len(name) > MaxTaskNameLength {
		return "", core.Invalid("task_name", core.ErrTaskNameTooLong)
	}
	return name, nil
}

// ValidateQueueName trims a queue name and validates it.
func ValidateQueueName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", core.Invalid("queue", core.ErrEmptyQueue)
	}
	if len(name) > MaxQueueNameLength {
		return "", core.Invalid("queue", core.ErrQueueNameTooLong)
	}
	return name, nil
}

// ValidateIdempotencyKey validates an optional idempotency key.
// Keys are compared byte for byte, so they are not trimmed.
func ValidateIdempotencyKey(key *string) error {
	if key == nil {
		return nil
	}
	if strings.TrimSpace(*key) == "" {
		return core.Invalid("idempotency_key", core.ErrEmptyIdempotencyKey)
	}
	if len(*key) > MaxIdempotencyKeyLength {
		return core.Invalid("idempotency_key", core.ErrIdempotencyKeyTooLong)
	}
	return nil
}

// NormalizeEnqueue returns a copy of req with names trimmed and a non-nil payload.
func NormalizeEnqueue(req core.EnqueueRequest) (core.EnqueueRequest, error) {
	var err error
	if req.TaskName, err = ValidateTaskName(req.TaskName); err != nil {
		return req, err
	}
	if req.Queue, err = ValidateQueueName(req.Queue); err != nil {
		return req, err
	}
	if err := ValidateIdempotencyKey(req.IdempotencyKey); err != nil {
		return req, err
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}

	encoded, err := json.Marshal(req.Payload)
	if err != nil {
		return req, core.Invalid("payload", err)
	}
	if len(encoded) > MaxPayloadSize {
		return req, core.Invalid("payload", core.ErrPayloadTooLarge)
	}
	return req, nil
}

// NormalizeListQuery applies the default limit, enforces its bounds,
// trims the exact-match filters and rejects unknown statuses.
func NormalizeListQuery(q core.ListQuery) (core.ListQuery, error) {
	if q.Limit == 0 {
		q.Limit = DefaultListLimit
	}
	if q.Limit < MinListLimit || q.Limit > MaxListLimit {
		return q, core.Invalid("limit", core.ErrInvalidLimit)
	}
	for _, s := range q.Statuses {
		if !s.Valid() {
			return q, core.Invalid("status", core.ErrInvalidStatus)
		}
	}
	q.Queue = strings.TrimSpace(q.Queue)
	q.TaskName = strings.TrimSpace(q.TaskName)
	return q, nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// SanitizeJobError returns a copy of e with its message sanitized.
func SanitizeJobError(e *core.JobError) *core.JobError {
	if e == nil {
		return nil
	}
	out := *e
	out.Message = SanitizeErrorMessage(e.Message)
	return &out
}
