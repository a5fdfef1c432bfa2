// Package registry maps task names to handler functions.
//
// A Builder collects registrations at startup; Build freezes them into a
// Registry that is safe for concurrent reads and never changes afterwards.
// The job store does not consult the registry: an unknown task name can be
// enqueued and is only rejected when a worker tries to run it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jdziat/job-ledger/pkg/core"
	intctx "github.com/jdziat/job-ledger/pkg/internal/context"
	"github.com/jdziat/job-ledger/pkg/internal/handler"
	"github.com/jdziat/job-ledger/pkg/security"
)

var (
	ErrTaskNotRegistered = errors.New("ledger: task not registered")
	ErrDuplicateTask     = errors.New("ledger: task already registered")
)

// Builder accumulates task registrations.
type Builder struct {
	handlers map[string]*handler.Handler
	errs     []error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{handlers: make(map[string]*handler.Handler)}
}

// Register adds fn under name. fn must have one of the signatures
// func([context.Context,] T) error or func([context.Context,] T) (R, error).
// Errors are collected and reported by Build.
func (b *Builder) Register(name string, fn any) *Builder {
	name, err := security.ValidateTaskName(name)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	if _, exists := b.handlers[name]; exists {
		b.errs = append(b.errs, fmt.Errorf("%w: %q", ErrDuplicateTask, name))
		return b
	}
	h, err := handler.NewHandler(fn)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("ledger: handler for %q: %w", name, err))
		return b
	}
	b.handlers[name] = h
	return b
}

// Build returns the immutable Registry, or every registration error joined.
func (b *Builder) Build() (*Registry, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	handlers := make(map[string]*handler.Handler, len(b.handlers))
	for name, h := range b.handlers {
		handlers[name] = h
	}
	return &Registry{handlers: handlers}, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Registry {
	r, err := b.Build()
	if err != nil {
		panic(err)
	}
	return r
}

// Registry is a frozen task-name to handler mapping.
type Registry struct {
	handlers map[string]*handler.Handler
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (*handler.Handler, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTaskNotRegistered, name)
	}
	return h, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Names returns the registered task names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run invokes the handler for job.TaskName with the job's payload.
// The handler's context carries the job; see package jobctx.
func (r *Registry) Run(ctx context.Context, job *core.Job) (any, error) {
	h, err := r.Lookup(job.TaskName)
	if err != nil {
		return nil, err
	}
	return h.Execute(intctx.WithJob(ctx, job), job.Payload)
}
