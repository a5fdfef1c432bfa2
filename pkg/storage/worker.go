package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/job-ledger/pkg/core"
	"github.com/jdziat/job-ledger/pkg/security"
)

// Claim fetches and locks the next due queued job from queues.
// Returns nil when nothing is due.
func (s *GormStorage) Claim(ctx context.Context, queues []string, workerID string, now time.Time) (*core.Job, error) {
	if len(queues) == 0 {
		return nil, nil
	}
	now = dbTime(now)
	lockUntil := now.Add(s.leaseDuration)

	var (
		rec     jobRecord
		claimed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("queue IN ?", queues).
			Where("status = ?", core.StatusQueued).
			Where("run_at <= ?", now).
			Order("priority DESC, run_at ASC, created_at ASC, id ASC")

		// On SQLite the transaction already holds the write lock (see
		// sqliteDSN); elsewhere skip rows other workers hold.
		if !s.IsSQLite() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var candidate jobRecord
		result := q.Limit(1).Find(&candidate)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		// Compare-and-set on status: a concurrent cancel or claim wins cleanly.
		result = tx.Model(&jobRecord{}).
			Where("id = ? AND status = ?", candidate.ID, core.StatusQueued).
			Updates(map[string]any{
				"status":       core.StatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_by":    workerID,
				"locked_until": lockUntil,
				"updated_at":   now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		if err := tx.First(&rec, "id = ?", candidate.ID).Error; err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return nil, core.StoreFailure("claim", err)
	}
	if !claimed {
		return nil, nil
	}
	return rec.toJob(), nil
}

// Complete marks a running job as succeeded.
// Validates that the worker owns the job before completing.
func (s *GormStorage) Complete(ctx context.Context, jobID, workerID string, now time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&jobRecord{}).
		Where("id = ? AND locked_by = ? AND status = ?", jobID, workerID, core.StatusRunning).
		Updates(map[string]any{
			"status":       core.StatusSucceeded,
			"locked_by":    "",
			"locked_until": nil,
			"updated_at":   dbTime(now),
		})

	if result.Error != nil {
		return core.StoreFailure("complete", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}
	return nil
}

// Fail records a failure of a running job. With a retryAt, the job goes back
// to queued at that time while its retry budget lasts and no cancellation was
// requested; otherwise it is dead. The error message is sanitized before storage.
func (s *GormStorage) Fail(ctx context.Context, jobID, workerID string, jobErr *core.JobError, retryAt *time.Time, now time.Time) error {
	now = dbTime(now)
	updates := map[string]any{
		"locked_by":    "",
		"locked_until": nil,
		"updated_at":   now,
	}

	if jobErr != nil {
		encoded, err := json.Marshal(security.SanitizeJobError(jobErr))
		if err != nil {
			return core.Invalid("last_error", err)
		}
		updates["last_error"] = datatypes.JSON(encoded)
	}

	if retryAt != nil {
		const retryable = "attempts < max_attempts AND cancel_requested_at IS NULL"
		updates["status"] = gorm.Expr(
			"CASE WHEN "+retryable+" THEN ? ELSE ? END",
			core.StatusQueued, core.StatusDead)
		updates["run_at"] = gorm.Expr(
			"CASE WHEN "+retryable+" THEN ? ELSE run_at END",
			dbTime(*retryAt))
	} else {
		updates["status"] = core.StatusDead
	}

	result := s.db.WithContext(ctx).
		Model(&jobRecord{}).
		Where("id = ? AND locked_by = ? AND status = ?", jobID, workerID, core.StatusRunning).
		Updates(updates)

	if result.Error != nil {
		return core.StoreFailure("fail", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}
	return nil
}

// AcknowledgeCancel moves a running job whose cancellation was requested to cancelled.
func (s *GormStorage) AcknowledgeCancel(ctx context.Context, jobID, workerID string, now time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&jobRecord{}).
		Where("id = ? AND locked_by = ? AND status = ?", jobID, workerID, core.StatusRunning).
		Where("cancel_requested_at IS NOT NULL").
		Updates(map[string]any{
			"status":       core.StatusCancelled,
			"locked_by":    "",
			"locked_until": nil,
			"updated_at":   dbTime(now),
		})

	if result.Error != nil {
		return core.StoreFailure("acknowledge cancel", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}
	return nil
}

// CancelRequested reports whether a stop was requested for the job.
// An unknown job reports false.
func (s *GormStorage) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	var rec jobRecord
	err := s.db.WithContext(ctx).
		Select("id", "cancel_requested_at").
		First(&rec, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, core.StoreFailure("cancel requested", err)
	}
	return rec.CancelRequestedAt != nil, nil
}
