package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/job-ledger/pkg/core"
	"github.com/jdziat/job-ledger/pkg/cursor"
)

func countRows(t *testing.T, s *GormStorage) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.DB().Model(&jobRecord{}).Count(&n).Error)
	return n
}

// ──────────────────────────────────────────────────────────────────────────────
// Constructor / detection
// ──────────────────────────────────────────────────────────────────────────────

func TestNewGormStorage_IsSQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	s := NewGormStorage(db)
	assert.True(t, s.IsSQLite(), "should detect SQLite dialect")
	assert.Same(t, db, s.DB())
	assert.Equal(t, DefaultLeaseDuration, s.leaseDuration)
}

func TestNewGormStorage_NilDB(t *testing.T) {
	s := NewGormStorage(nil)
	assert.False(t, s.IsSQLite(), "nil db should not claim SQLite")
}

func TestLeaseDuration_IgnoresNonPositive(t *testing.T) {
	s := NewGormStorage(nil, LeaseDuration(0), LeaseDuration(-time.Second))
	assert.Equal(t, DefaultLeaseDuration, s.leaseDuration)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Migrate(context.Background()))
	assert.True(t, s.DB().Migrator().HasIndex(&jobRecord{}, "idx_jobs_owner_idempotency"))
	assert.True(t, s.DB().Migrator().HasIndex(&jobRecord{}, "idx_jobs_owner_keyset"))
}

// ──────────────────────────────────────────────────────────────────────────────
// Insert
// ──────────────────────────────────────────────────────────────────────────────

func TestInsert_CreatesQueuedJob(t *testing.T) {
	s := newTestStorage(t)

	req := newTestRequest("emails", "send_email")
	req.Priority = 7
	job := mustInsert(t, s, "alice", req, baseTime)

	_, err := uuid.Parse(job.ID)
	assert.NoError(t, err, "id should be a uuid")
	assert.Equal(t, "send_email", job.TaskName)
	assert.Equal(t, "emails", job.Queue)
	assert.Equal(t, core.StatusQueued, job.Status)
	assert.Equal(t, map[string]any{"k": "v"}, job.Payload)
	assert.Equal(t, 7, job.Priority)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, core.DefaultMaxAttempts, job.MaxAttempts)
	assert.Equal(t, "alice", job.CreatedBy)
	assert.True(t, baseTime.Equal(job.CreatedAt))
	assert.True(t, baseTime.Equal(job.UpdatedAt))
	assert.True(t, baseTime.Equal(job.RunAt), "run_at defaults to creation time")
	assert.Nil(t, job.CancelRequestedAt)
	assert.Nil(t, job.LastError)
}

func TestInsert_HonoursRunAt(t *testing.T) {
	s := newTestStorage(t)

	req := newTestRequest("q", "t")
	later := baseTime.Add(time.Hour)
	req.RunAt = &later
	job := mustInsert(t, s, "alice", req, baseTime)

	assert.True(t, later.Equal(job.RunAt))
}

func TestInsert_TrimsNamesAndDefaultsPayload(t *testing.T) {
	s := newTestStorage(t)

	job := mustInsert(t, s, "alice", core.EnqueueRequest{TaskName: "  task  ", Queue: " q "}, baseTime)
	assert.Equal(t, "task", job.TaskName)
	assert.Equal(t, "q", job.Queue)
	assert.NotNil(t, job.Payload)
	assert.Empty(t, job.Payload)
}

func TestInsert_NormalisesTimestamps(t *testing.T) {
	s := newTestStorage(t)

	zone := time.FixedZone("X", -5*3600)
	now := time.Date(2026, 3, 1, 7, 0, 0, 123456789, zone)
	job := mustInsert(t, s, "alice", newTestRequest("q", "t"), now)

	assert.Equal(t, time.UTC, job.CreatedAt.Location())
	assert.True(t, now.Truncate(time.Microsecond).Equal(job.CreatedAt))
}

func TestInsert_ValidationWritesNothing(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	cases := map[string]struct {
		owner string
		req   core.EnqueueRequest
		cause error
	}{
		"empty owner":     {"", newTestRequest("q", "t"), core.ErrEmptyOwner},
		"blank task name": {"alice", newTestRequest("q", "   "), core.ErrEmptyTaskName},
		"empty queue":     {"alice", newTestRequest("", "t"), core.ErrEmptyQueue},
		"long task name":  {"alice", newTestRequest("q", strings.Repeat("x", 256)), core.ErrTaskNameTooLong},
		"empty key": {"alice", core.EnqueueRequest{
			TaskName: "t", Queue: "q", IdempotencyKey: strPtr(""),
		}, core.ErrEmptyIdempotencyKey},
		"long key": {"alice", core.EnqueueRequest{
			TaskName: "t", Queue: "q", IdempotencyKey: strPtr(strings.Repeat("k", 256)),
		}, core.ErrIdempotencyKeyTooLong},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			job, err := s.Insert(ctx, tc.owner, tc.req, baseTime)
			assert.Nil(t, job)
			assert.ErrorIs(t, err, core.ErrValidation)
			assert.ErrorIs(t, err, tc.cause)
		})
	}
	assert.Zero(t, countRows(t, s))
}

// ──────────────────────────────────────────────────────────────────────────────
// Idempotency
// ──────────────────────────────────────────────────────────────────────────────

func TestInsert_IdempotentReturnsExistingJob(t *testing.T) {
	s := newTestStorage(t)

	first := newTestRequest("q", "t")
	first.IdempotencyKey = strPtr("order-42")
	a := mustInsert(t, s, "alice", first, baseTime)

	second := core.EnqueueRequest{
		TaskName:       "other",
		Queue:          "elsewhere",
		Payload:        map[string]any{"k": "changed"},
		Priority:       99,
		IdempotencyKey: strPtr("order-42"),
	}
	b := mustInsert(t, s, "alice", second, baseTime.Add(time.Minute))

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "t", b.TaskName)
	assert.Equal(t, "q", b.Queue)
	assert.Equal(t, map[string]any{"k": "v"}, b.Payload, "first payload wins")
	assert.True(t, a.CreatedAt.Equal(b.CreatedAt))
	assert.EqualValues(t, 1, countRows(t, s))
}

func TestInsert_IdempotencyKeyScopedByOwner(t *testing.T) {
	s := newTestStorage(t)

	req := newTestRequest("q", "t")
	req.IdempotencyKey = strPtr("shared")

	a := mustInsert(t, s, "alice", req, baseTime)
	b := mustInsert(t, s, "bob", req, baseTime)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "alice", a.CreatedBy)
	assert.Equal(t, "bob", b.CreatedBy)
}

func TestInsert_WithoutKeyAlwaysCreates(t *testing.T) {
	s := newTestStorage(t)

	a := mustInsert(t, s, "alice", newTestRequest("q", "t"), baseTime)
	b := mustInsert(t, s, "alice", newTestRequest("q", "t"), baseTime)

	assert.NotEqual(t, a.ID, b.ID)
	assert.EqualValues(t, 2, countRows(t, s))
}

func TestInsert_ConcurrentIdempotentInsertsCreateOneRow(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	const callers = 10
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]int)
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := core.EnqueueRequest{
				TaskName:       "t",
				Queue:          "q",
				Payload:        map[string]any{"caller": fmt.Sprint(i)},
				IdempotencyKey: strPtr("burst"),
			}
			job, err := s.Insert(ctx, "alice", req, baseTime)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[job.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1, "every caller sees the same job")
	assert.EqualValues(t, 1, countRows(t, s))
}

// ──────────────────────────────────────────────────────────────────────────────
// GetByOwner
// ──────────────────────────────────────────────────────────────────────────────

func TestGetByOwner(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	job := mustInsert(t, s, "alice", newTestRequest("q", "t"), baseTime)

	t.Run("owner sees job", func(t *testing.T) {
		got, err := s.GetByOwner(ctx, "alice", job.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, job.Payload, got.Payload)
	})

	t.Run("other owner sees nothing", func(t *testing.T) {
		got, err := s.GetByOwner(ctx, "bob", job.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("unknown id", func(t *testing.T) {
		got, err := s.GetByOwner(ctx, "alice", uuid.New().String())
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("malformed id", func(t *testing.T) {
		got, err := s.GetByOwner(ctx, "alice", "not-a-uuid")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestStoreError_OnClosedDatabase(t *testing.T) {
	s := newTestStorage(t)
	sqlDB, err := s.DB().DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = s.GetByOwner(context.Background(), "alice", uuid.New().String())
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)

	_, err = s.Insert(context.Background(), "alice", newTestRequest("q", "t"), baseTime)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}

// ──────────────────────────────────────────────────────────────────────────────
// ListByOwner
// ──────────────────────────────────────────────────────────────────────────────

func TestListByOwner_NewestFirstAndOwnerScoped(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	var want []string
	for i := range 3 {
		job := mustInsert(t, s, "alice", newTestRequest("q", "t"), baseTime.Add(time.Duration(i)*time.Second))
		want = append([]string{job.ID}, want...)
	}
	mustInsert(t, s, "bob", newTestRequest("q", "t"), baseTime.Add(time.Hour))

	page, err := s.ListByOwner(ctx, "alice", core.ListQuery{})
	require.NoError(t, err)
	assert.Nil(t, page.NextCursor)

	var got []string
	for _, job := range page.Items {
		assert.Equal(t, "alice", job.CreatedBy)
		got = append(got, job.ID)
	}
	assert.Equal(t, want, got)
}

func TestListByOwner_EmptyResult(t *testing.T) {
	s := newTestStorage(t)

	page, err := s.ListByOwner(context.Background(), "nobody", core.ListQuery{})
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
	assert.Nil(t, page.NextCursor)
}

func TestListByOwner_ThreeJobsLimitTwo(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	j1 := mustInsert(t, s, "alice", newTestRequest("q", "t"), baseTime)
	j2 := mustInsert(t, s, "alice", newTestRequest("q", "t"), baseTime.Add(time.Second))
	j3 := mustInsert(t, s, "alice", newTestRequest("q", "t"), baseTime.Add(2*time.Second))

	first, err := s.ListByOwner(ctx, "alice", core.ListQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, j3.ID, first.Items[0].ID)
	assert.Equal(t, j2.ID, first.Items[1].ID)
	require.NotNil(t, first.NextCursor)

	second, err := s.ListByOwner(ctx, "alice", core.ListQuery{Limit: 2, Cursor: *first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, j1.ID, second.Items[0].ID)
	assert.Nil(t, second.NextCursor)
}

func TestListByOwner_ExactPageHasNoCursor(t *testing.T) {
	s := newTestStorage(t)
	for i := range 2 {
		mustInsert(t, s, "alice", newTestRequest("q", "t"), baseTime.Add(time.Duration(i)*time.Second))
	}

	page, err := s.ListByOwner(context.Background(), "alice", core.ListQuery{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Nil(t, page.NextCursor)
}

func TestListByOwner_PaginationCompleteWithEqualTimestamps(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	const total = 11
	inserted := make(map[string]bool, total)
	for range total {
		// Every job shares the same created_at; id breaks the tie.
		job := mustInsert(t, s, "alice", newTestRequest("q", "t"), baseTime)
		inserted[job.ID] = true
	}

	var seen []string
	q := core.ListQuery{Limit: 3}
	for pages := 0; ; pages++ {
		require.Less(t, pages, total, "pagination did not terminate")
		page, err := s.ListByOwner(ctx, "alice", q)
		require.NoError(t, err)
		for _, job := range page.Items {
			seen = append(seen, job.ID)
		}
		if page.NextCursor == nil {
			break
		}
		q.Cursor = *page.NextCursor
	}

	require.Len(t, seen, total, "no gaps, no duplicates")
	for _, id := range seen {
		assert.True(t, inserted[id])
	}
	assert.True(t, sort.SliceIsSorted(seen, func(i, j int) bool { return seen[i] > seen[j] }),
		"ties are ordered by id descending")
}

func TestListByOwner_StaleCursor(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	old := mustInsert(t, s, "alice", newTestRequest("q", "t"), baseTime)
	mustInsert(t, s, "alice", newTestRequest("q", "t"), baseTime.Add(time.Minute))

	// Points at a row that never existed; rows below it are still returned.
	tok := cursor.Encode(baseTime.Add(30*time.Second), uuid.New().String())
	page, err := s.ListByOwner(ctx, "alice", core.ListQuery{Cursor: tok})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, old.ID, page.Items[0].ID)
}

func TestListByOwner_Filters(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	emails := mustInsert(t, s, "alice", newTestRequest("emails", "send"), baseTime)
	reports := mustInsert(t, s, "alice", newTestRequest("reports", "build"), baseTime.Add(time.Minute))
	cancelled := mustInsert(t, s, "alice", newTestRequest("emails", "build"), baseTime.Add(2*time.Minute))
	_, _, _, err := s.Cancel(ctx, "alice", cancelled.ID, baseTime.Add(3*time.Minute))
	require.NoError(t, err)

	ids := func(q core.ListQuery) []string {
		t.Helper()
		page, err := s.ListByOwner(ctx, "alice", q)
		require.NoError(t, err)
		out := make([]string, 0, len(page.Items))
		for _, job := range page.Items {
			out = append(out, job.ID)
		}
		return out
	}

	assert.Equal(t, []string{cancelled.ID, emails.ID}, ids(core.ListQuery{Queue: "emails"}))
	assert.Equal(t, []string{cancelled.ID, reports.ID}, ids(core.ListQuery{TaskName: "build"}))
	assert.Equal(t, []string{cancelled.ID}, ids(core.ListQuery{Statuses: []core.JobStatus{core.StatusCancelled}}))
	assert.Equal(t, []string{reports.ID, emails.ID},
		ids(core.ListQuery{Statuses: []core.JobStatus{core.StatusQueued, core.StatusRunning}}))

	after := baseTime.Add(time.Minute)
	assert.Equal(t, []string{cancelled.ID, reports.ID}, ids(core.ListQuery{CreatedAfter: &after}))
	assert.Equal(t, []string{reports.ID, emails.ID}, ids(core.ListQuery{CreatedBefore: &after}))
	assert.Equal(t, []string{reports.ID}, ids(core.ListQuery{CreatedAfter: &after, CreatedBefore: &after}))
	assert.Empty(t, ids(core.ListQuery{Queue: "emails", TaskName: "send", Statuses: []core.JobStatus{core.StatusDead}}))
}

func TestListByOwner_Validation(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	cases := map[string]struct {
		q     core.ListQuery
		cause error
	}{
		"limit too large":  {core.ListQuery{Limit: 201}, core.ErrInvalidLimit},
		"negative limit":   {core.ListQuery{Limit: -1}, core.ErrInvalidLimit},
		"unknown status":   {core.ListQuery{Statuses: []core.JobStatus{"pending"}}, core.ErrInvalidStatus},
		"malformed cursor": {core.ListQuery{Cursor: "%%%"}, core.ErrMalformedCursor},
		"cursor non-uuid":  {core.ListQuery{Cursor: cursor.Encode(baseTime, "abc")}, core.ErrMalformedCursor},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			page, err := s.ListByOwner(ctx, "alice", tc.q)
			assert.Nil(t, page)
			assert.ErrorIs(t, err, core.ErrValidation)
			assert.ErrorIs(t, err, tc.cause)
		})
	}
}

func TestListByOwner_LimitBounds(t *testing.T) {
	s := newTestStorage(t)
	for i := range 3 {
		mustInsert(t, s, "alice", newTestRequest("q", "t"), baseTime.Add(time.Duration(i)*time.Second))
	}

	page, err := s.ListByOwner(context.Background(), "alice", core.ListQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.NotNil(t, page.NextCursor)

	page, err = s.ListByOwner(context.Background(), "alice", core.ListQuery{Limit: 200})
	require.NoError(t, err)
	assert.Len(t, page.Items, 3)
}

// ──────────────────────────────────────────────────────────────────────────────
// Cancel
// ──────────────────────────────────────────────────────────────────────────────

func TestCancel_QueuedJobIsCancelled(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	job := mustInsert(t, s, "alice", newTestRequest("q", "t"), baseTime)

	at := baseTime.Add(time.Minute)
	got, accepted, changed, err := s.Cancel(ctx, "alice", job.ID, at)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, accepted)
	assert.True(t, changed)
	assert.Equal(t, core.StatusCancelled, got.Status)
	assert.Nil(t, got.CancelRequestedAt)
	assert.True(t, at.Equal(got.UpdatedAt))

	stored, err := s.GetByOwner(ctx, "alice", job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCancelled, stored.Status)
}

func TestCancel_RunningJobRecordsRequestOnce(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	job := mustInsert(t, s, "alice", newTestRequest("q", "t"), baseTime)
	_, err := s.Claim(ctx, []string{"q"}, "w1", baseTime)
	require.NoError(t, err)

	first := baseTime.Add(time.Minute)
	got, accepted, changed, err := s.Cancel(ctx, "alice", job.ID, first)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.True(t, changed)
	assert.Equal(t, core.StatusRunning, got.Status)
	require.NotNil(t, got.CancelRequestedAt)
	assert.True(t, first.Equal(*got.CancelRequestedAt))
	assert.True(t, first.Equal(got.UpdatedAt))

	second := baseTime.Add(2 * time.Minute)
	again, accepted, changed, err := s.Cancel(ctx, "alice", job.ID, second)
	require.NoError(t, err)
	assert.True(t, accepted, "repeated request on running job stays accepted")
	assert.False(t, changed)
	assert.Equal(t, core.StatusRunning, again.Status)
	assert.True(t, first.Equal(*again.CancelRequestedAt), "request time is not overwritten")
	assert.True(t, first.Equal(again.UpdatedAt), "no-op leaves updated_at alone")
}

func TestCancel_TerminalJobsUnchanged(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for _, status := range []core.JobStatus{core.StatusSucceeded, core.StatusDead, core.StatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			job := mustInsert(t, s, "alice", newTestRequest("q", "t"), baseTime)
			require.NoError(t, s.DB().Model(&jobRecord{}).
				Where("id = ?", job.ID).
				Update("status", status).Error)

			got, accepted, changed, err := s.Cancel(ctx, "alice", job.ID, baseTime.Add(time.Hour))
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.False(t, accepted)
			assert.False(t, changed)
			assert.Equal(t, status, got.Status)
			assert.Nil(t, got.CancelRequestedAt)
			assert.True(t, baseTime.Equal(got.UpdatedAt))
		})
	}
}

func TestCancel_DoubleCancelOfQueuedJob(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	job := mustInsert(t, s, "alice", newTestRequest("q", "t"), baseTime)

	_, _, _, err := s.Cancel(ctx, "alice", job.ID, baseTime.Add(time.Minute))
	require.NoError(t, err)

	got, accepted, changed, err := s.Cancel(ctx, "alice", job.ID, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.False(t, changed)
	assert.Equal(t, core.StatusCancelled, got.Status)
	assert.True(t, baseTime.Add(time.Minute).Equal(got.UpdatedAt))
}

func TestCancel_NotOwnedOrMissing(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	job := mustInsert(t, s, "alice", newTestRequest("q", "t"), baseTime)

	got, accepted, changed, err := s.Cancel(ctx, "bob", job.ID, baseTime)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, accepted)
	assert.False(t, changed)

	got, _, _, err = s.Cancel(ctx, "alice", uuid.New().String(), baseTime)
	require.NoError(t, err)
	assert.Nil(t, got)

	stored, err := s.GetByOwner(ctx, "alice", job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, stored.Status, "foreign cancel has no effect")
}
