// Package queue provides the job service: the owner-scoped Enqueue, Get, List
// and Cancel verbs layered over a core.Store.
//
// The service stamps timestamps from its clock, turns a missing row into
// core.ErrNotFound and broadcasts lifecycle events to subscribers. It holds
// no job state of its own; every decision is made by a single store statement.
//
// Most users should import the root package github.com/jdziat/job-ledger
// which re-exports Queue and its options.
package queue
