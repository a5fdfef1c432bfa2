package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/job-ledger/pkg/core"
	"github.com/jdziat/job-ledger/pkg/security"
)

// maxBodyBytes bounds request bodies: the payload limit plus room for the envelope.
const maxBodyBytes = security.MaxPayloadSize + 64<<10

// Service is the job service the routes call into. *queue.Queue implements it.
type Service interface {
	Enqueue(ctx context.Context, owner string, req core.EnqueueRequest) (*core.Job, error)
	Get(ctx context.Context, owner, jobID string) (*core.Job, error)
	List(ctx context.Context, owner string, q core.ListQuery) (*core.ListPage, error)
	Cancel(ctx context.Context, owner, jobID string) (*core.Job, bool, error)
}

type server struct {
	svc      Service
	resolver IdentityResolver
	logger   *slog.Logger
}

// Handler creates the HTTP handler for the job API.
//
//	POST /v1/jobs              enqueue (201)
//	GET  /v1/jobs              list the caller's jobs
//	GET  /v1/jobs/{id}         fetch one job
//	POST /v1/jobs/{id}/cancel  cancel (202 when a running job was asked to stop)
//	GET  /healthz              liveness, unauthenticated
//
// Usage:
//
//	mux.Handle("/", api.Handler(q, api.StaticTokens{"secret": "alice"}))
func Handler(svc Service, resolver IdentityResolver, opts ...Option) http.Handler {
	cfg := &config{logger: slog.Default()}
	for _, opt := range opts {
		opt.apply(cfg)
	}

	s := &server{svc: svc, resolver: resolver, logger: cfg.logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("POST /v1/jobs", s.authed(s.enqueue))
	mux.Handle("GET /v1/jobs", s.authed(s.list))
	mux.Handle("GET /v1/jobs/{id}", s.authed(s.get))
	mux.Handle("POST /v1/jobs/{id}/cancel", s.authed(s.cancel))

	var h http.Handler = mux
	if cfg.cors != nil {
		h = cfg.cors.Handler(h)
	}
	for i := len(cfg.middleware) - 1; i >= 0; i-- {
		h = cfg.middleware[i](h)
	}
	return h
}

type ownedHandler func(w http.ResponseWriter, r *http.Request, owner string)

// authed resolves the caller before the route runs. Unresolved callers get
// 401 and the service is never called.
func (s *server) authed(next ownedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, err := s.resolver.Resolve(r)
		if err != nil || owner == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="ledger"`)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
			return
		}
		next(w, r, owner)
	})
}

func (s *server) enqueue(w http.ResponseWriter, r *http.Request, owner string) {
	var req core.EnqueueRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	job, err := s.svc.Enqueue(r.Context(), owner, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *server) get(w http.ResponseWriter, r *http.Request, owner string) {
	id, err := pathJobID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	job, err := s.svc.Get(r.Context(), owner, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *server) list(w http.ResponseWriter, r *http.Request, owner string) {
	q, err := parseListQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	page, err := s.svc.List(r.Context(), owner, q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *server) cancel(w http.ResponseWriter, r *http.Request, owner string) {
	id, err := pathJobID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	job, accepted, err := s.svc.Cancel(r.Context(), owner, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if accepted && job.Status == core.StatusRunning {
		status = http.StatusAccepted
	}
	writeJSON(w, status, job)
}

func pathJobID(r *http.Request) (string, error) {
	id := r.PathValue("id")
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", core.Invalid("id", core.ErrInvalidJobID)
	}
	return parsed.String(), nil
}

// decodeBody reads a single JSON object into dst, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.Invalid("body", core.ErrPayloadTooLarge)
		}
		return core.Invalid("body", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return core.Invalid("body", errors.New("body must contain a single JSON object"))
	}
	return nil
}

func parseListQuery(v url.Values) (core.ListQuery, error) {
	q := core.ListQuery{
		Queue:    v.Get("queue"),
		TaskName: v.Get("task_name"),
		Cursor:   v.Get("cursor"),
	}

	for _, raw := range v["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				q.Statuses = append(q.Statuses, core.JobStatus(s))
			}
		}
	}

	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, core.Invalid("limit", core.ErrInvalidLimit)
		}
		q.Limit = n
	}

	var err error
	if q.CreatedAfter, err = parseTime(v, "created_after"); err != nil {
		return q, err
	}
	if q.CreatedBefore, err = parseTime(v, "created_before"); err != nil {
		return q, err
	}
	return q, nil
}

func parseTime(v url.Values, key string) (*time.Time, error) {
	raw := v.Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, core.Invalid(key, fmt.Errorf("want RFC 3339 timestamp: %w", err))
	}
	return &t, nil
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, core.ErrValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, core.ErrNotFound):
		status, msg = http.StatusNotFound, "job not found"
	case errors.Is(err, core.ErrStoreUnavailable):
		status, msg = http.StatusServiceUnavailable, "store unavailable"
	}

	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
