package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthenticated is returned by resolvers that cannot identify the caller.
var ErrUnauthenticated = errors.New("ledger: unauthenticated")

// IdentityResolver turns a request into the owner identity every job
// operation is scoped to.
type IdentityResolver interface {
	Resolve(r *http.Request) (owner string, err error)
}

// ResolverFunc adapts a function to IdentityResolver.
type ResolverFunc func(r *http.Request) (string, error)

// Resolve calls f(r).
func (f ResolverFunc) Resolve(r *http.Request) (string, error) { return f(r) }

// StaticTokens resolves "Authorization: Bearer <token>" against a fixed
// token to owner table.
type StaticTokens map[string]string

// Resolve implements IdentityResolver.
func (t StaticTokens) Resolve(r *http.Request) (string, error) {
	token, ok := bearerToken(r)
	if !ok {
		return "", ErrUnauthenticated
	}
	for known, owner := range t {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return owner, nil
		}
	}
	return "", ErrUnauthenticated
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ParseTokens parses "token=owner,token=owner" into StaticTokens.
func ParseTokens(s string) (StaticTokens, error) {
	tokens := StaticTokens{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, owner, ok := strings.Cut(pair, "=")
		token, owner = strings.TrimSpace(token), strings.TrimSpace(owner)
		if !ok || token == "" || owner == "" {
			return nil, errors.New("ledger: token entries must look like token=owner")
		}
		tokens[token] = owner
	}
	return tokens, nil
}
