// Package storage persists jobs with GORM.
//
// GormStorage implements core.Store for the owner-scoped ledger operations
// and core.WorkerStore for the external worker. It runs on SQLite and
// PostgreSQL; on PostgreSQL Claim skips rows already locked by other workers.
//
// Open and ConfigurePool build the *gorm.DB handed to NewGormStorage.
package storage
