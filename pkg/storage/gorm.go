package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/job-ledger/pkg/core"
	"github.com/jdziat/job-ledger/pkg/cursor"
	"github.com/jdziat/job-ledger/pkg/security"
)

// DefaultLeaseDuration is how long a claimed job stays locked to its worker.
const DefaultLeaseDuration = 5 * time.Minute

// GormStorage implements core.Store and core.WorkerStore using GORM.
type GormStorage struct {
	db            *gorm.DB
	leaseDuration time.Duration
}

var (
	_ core.Store       = (*GormStorage)(nil)
	_ core.WorkerStore = (*GormStorage)(nil)
)

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB, opts ...StorageOption) *GormStorage {
	s := &GormStorage{db: db, leaseDuration: DefaultLeaseDuration}
	for _, opt := range opts {
		opt.applyStorage(s)
	}
	return s
}

// StorageOption configures a GormStorage.
type StorageOption interface {
	applyStorage(*GormStorage)
}

type storageOptionFunc func(*GormStorage)

func (f storageOptionFunc) applyStorage(s *GormStorage) { f(s) }

// LeaseDuration sets how long Claim locks a job to its worker.
func LeaseDuration(d time.Duration) StorageOption {
	return storageOptionFunc(func(s *GormStorage) {
		if d > 0 {
			s.leaseDuration = d
		}
	})
}

// DB returns the underlying *gorm.DB.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// IsSQLite reports whether the storage runs on SQLite, which has no row locks.
func (s *GormStorage) IsSQLite() bool {
	return s.db != nil && s.db.Dialector != nil && s.db.Dialector.Name() == "sqlite"
}

// Migrate creates the jobs table and its indexes.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return core.StoreFailure("migrate", s.db.WithContext(ctx).AutoMigrate(&jobRecord{}))
}

// Insert creates a queued job for owner. When the request carries an
// idempotency key already used by owner, the existing job is returned
// unchanged and nothing is written.
func (s *GormStorage) Insert(ctx context.Context, owner string, req core.EnqueueRequest, now time.Time) (*core.Job, error) {
	if err := security.ValidateOwner(owner); err != nil {
		return nil, err
	}
	req, err := security.NormalizeEnqueue(req)
	if err != nil {
		return nil, err
	}

	now = dbTime(now)
	runAt := now
	if req.RunAt != nil {
		runAt = dbTime(*req.RunAt)
	}

	rec := &jobRecord{
		ID:             uuid.New().String(),
		TaskName:       req.TaskName,
		Status:         core.StatusQueued,
		Queue:          req.Queue,
		Payload:        datatypes.JSONMap(req.Payload),
		Priority:       req.Priority,
		RunAt:          runAt,
		Attempts:       0,
		MaxAttempts:    core.DefaultMaxAttempts,
		CreatedBy:      owner,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var stored jobRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rec.IdempotencyKey == nil {
			if err := tx.Create(rec).Error; err != nil {
				return err
			}
			return tx.First(&stored, "id = ?", rec.ID).Error
		}

		// The partial unique index decides the winner; a losing insert is a no-op.
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "created_by"}, {Name: "idempotency_key"}},
			TargetWhere: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "idempotency_key IS NOT NULL"},
			}},
			DoNothing: true,
		}).Create(rec).Error
		if err != nil {
			return err
		}
		return tx.First(&stored, "created_by = ? AND idempotency_key = ?", owner, *rec.IdempotencyKey).Error
	})
	if err != nil {
		return nil, core.StoreFailure("insert", err)
	}
	return stored.toJob(), nil
}

// GetByOwner retrieves a job owned by owner. It returns nil when the job
// does not exist or belongs to someone else; the two cases look the same.
func (s *GormStorage) GetByOwner(ctx context.Context, owner, jobID string) (*core.Job, error) {
	var rec jobRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ? AND created_by = ?", jobID, owner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, core.StoreFailure("get", err)
	}
	return rec.toJob(), nil
}

// ListByOwner returns one page of owner's jobs, newest first, ordered by
// (created_at DESC, id DESC). NextCursor is set only when more rows follow.
func (s *GormStorage) ListByOwner(ctx context.Context, owner string, q core.ListQuery) (*core.ListPage, error) {
	q, err := security.NormalizeListQuery(q)
	if err != nil {
		return nil, err
	}

	tx := s.db.WithContext(ctx).Model(&jobRecord{}).Where("created_by = ?", owner)

	if len(q.Statuses) > 0 {
		tx = tx.Where("status IN ?", q.Statuses)
	}
	if q.Queue != "" {
		tx = tx.Where("queue = ?", q.Queue)
	}
	if q.TaskName != "" {
		tx = tx.Where("task_name = ?", q.TaskName)
	}
	if q.CreatedAfter != nil {
		tx = tx.Where("created_at >= ?", q.CreatedAfter.UTC())
	}
	if q.CreatedBefore != nil {
		tx = tx.Where("created_at <= ?", q.CreatedBefore.UTC())
	}
	if q.Cursor != "" {
		c, err := cursor.Decode(q.Cursor)
		if err != nil {
			return nil, core.Invalid("cursor", err)
		}
		// Composite strictly-less-than on (created_at, id).
		at := dbTime(c.CreatedAt)
		tx = tx.Where("(created_at < ? OR (created_at = ? AND id < ?))", at, at, c.ID)
	}

	var records []*jobRecord
	err = tx.Order("created_at DESC").Order("id DESC").Limit(q.Limit + 1).Find(&records).Error
	if err != nil {
		return nil, core.StoreFailure("list", err)
	}

	page := &core.ListPage{Items: make([]*core.Job, 0, min(len(records), q.Limit))}
	for i, rec := range records {
		if i == q.Limit {
			break
		}
		page.Items = append(page.Items, rec.toJob())
	}
	if len(records) > q.Limit {
		last := page.Items[len(page.Items)-1]
		next := cursor.Encode(last.CreatedAt, last.ID)
		page.NextCursor = &next
	}
	return page, nil
}

// Cancel applies the cancel state machine to owner's job in one guarded UPDATE:
//
//	queued                     -> cancelled, accepted=false
//	running                    -> cancel_requested_at set once, accepted=true
//	succeeded/dead/cancelled   -> unchanged, accepted=false
//
// The UPDATE only matches rows it will change, so changed reports whether
// this call moved the job and updated_at stays put otherwise. A nil job
// means no row matched (owner, jobID).
func (s *GormStorage) Cancel(ctx context.Context, owner, jobID string, now time.Time) (*core.Job, bool, bool, error) {
	now = dbTime(now)

	var (
		rec     jobRecord
		found   bool
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&jobRecord{}).
			Where("id = ? AND created_by = ?", jobID, owner).
			Where("status = ? OR (status = ? AND cancel_requested_at IS NULL)",
				core.StatusQueued, core.StatusRunning).
			Updates(map[string]any{
				"status": gorm.Expr(
					"CASE WHEN status = ? THEN ? ELSE status END",
					core.StatusQueued, core.StatusCancelled),
				"cancel_requested_at": gorm.Expr(
					"CASE WHEN status = ? THEN ? ELSE cancel_requested_at END",
					core.StatusRunning, now),
				"updated_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		changed = result.RowsAffected > 0

		// The UPDATE holds the row until commit, so this read sees exactly
		// the state it produced.
		result = tx.Where("id = ? AND created_by = ?", jobID, owner).Limit(1).Find(&rec)
		if result.Error != nil {
			return result.Error
		}
		found = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return nil, false, false, core.StoreFailure("cancel", err)
	}
	if !found {
		return nil, false, false, nil
	}

	job := rec.toJob()
	accepted := job.Status == core.StatusRunning && job.CancelRequestedAt != nil
	return job, accepted, changed, nil
}
