// Package core provides the fundamental types and interfaces for the ledger package.
//
// This package contains:
//   - the public Job record, request, query and page shapes
//   - the job status state machine helpers
//   - Store and WorkerStore interfaces defining the persistence contract
//   - Event types emitted by the service
//   - the error taxonomy (validation, not found, store failures)
//
// Most users should import the root package github.com/jdziat/job-ledger
// instead of this package directly.
package core
