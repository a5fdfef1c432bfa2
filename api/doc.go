// Package api exposes the job service over JSON/HTTP.
//
// Every /v1 route first resolves the caller's identity with an
// IdentityResolver; the resolved owner scopes every job operation. The
// routes add no semantics of their own: they decode the request, call the
// service and map the error taxonomy onto status codes
// (validation 400, not found 404, store unavailable 503, anything else 500).
package api
