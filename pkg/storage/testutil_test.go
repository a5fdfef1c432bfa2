package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/job-ledger/pkg/core"
)

// openTestDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh in-memory SQLite instance.
// SQLite is pinned to one connection: every new :memory: connection is a
// separate empty database.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		require.NoError(t, err, "open postgres test db")

		sqlDB, err := db.DB()
		require.NoError(t, err, "get underlying sql.DB")
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetMaxIdleConns(2)

		// Clean before AND after to ensure test isolation.
		cleanupPostgresDB(db)
		t.Cleanup(func() {
			cleanupPostgresDB(db)
			_ = sqlDB.Close()
		})
		return db
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open in-memory sqlite")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// cleanupPostgresDB deletes all rows so tests are isolated without
// requiring a fresh database per test.
func cleanupPostgresDB(db *gorm.DB) {
	if db.Migrator().HasTable("jobs") {
		db.Exec("DELETE FROM jobs")
	}
}

// newTestStorage returns a migrated storage on a fresh database.
func newTestStorage(t *testing.T, opts ...StorageOption) *GormStorage {
	t.Helper()
	s := NewGormStorage(openTestDB(t), opts...)
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

// baseTime is a fixed instant tests build their clocks from.
var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestRequest builds a minimal valid enqueue request.
func newTestRequest(queue, task string) core.EnqueueRequest {
	return core.EnqueueRequest{
		TaskName: task,
		Queue:    queue,
		Payload:  map[string]any{"k": "v"},
	}
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

// mustInsert inserts a job for owner and fails the test on error.
func mustInsert(t *testing.T, s *GormStorage, owner string, req core.EnqueueRequest, now time.Time) *core.Job {
	t.Helper()
	job, err := s.Insert(context.Background(), owner, req, now)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}
