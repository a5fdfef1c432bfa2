// Package cursor encodes and decodes the opaque keyset-pagination tokens
// returned by job listings.
//
// A token is the padded base64url form of the canonical JSON document
// {"created_at":"<RFC3339Nano>","id":"<uuid>"}. Encoding is deterministic.
// Decoding never checks whether the row a token points at still exists;
// a stale cursor simply yields the rows that sort below it.
package cursor
