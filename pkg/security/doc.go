// Package security provides validation, sanitization, and limits for the ledger package.
//
// This package includes:
//   - Input normalization for enqueue requests and list queries
//   - Error message sanitization to prevent sensitive data leakage
//   - Constants defining maximum sizes and the page-size bounds
//
// Every rejection is a *core.ValidationError, so callers can test for
// core.ErrValidation without caring which field failed.
package security
