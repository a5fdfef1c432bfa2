package api

import (
	"log/slog"
	"net/http"

	"github.com/rs/cors"
)

// Option configures the API handler.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

type config struct {
	middleware []func(http.Handler) http.Handler
	cors       *cors.Cors
	logger     *slog.Logger
}

// WithMiddleware wraps the handler with middleware (logging, tracing, etc.).
// Middleware runs outside identity resolution, in the order given.
func WithMiddleware(mw func(http.Handler) http.Handler) Option {
	return optionFunc(func(c *config) {
		if mw != nil {
			c.middleware = append(c.middleware, mw)
		}
	})
}

// WithCORS allows cross-origin browser requests from origins.
func WithCORS(origins ...string) Option {
	return optionFunc(func(c *config) {
		if len(origins) == 0 {
			return
		}
		c.cors = cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		})
	})
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *config) {
		if l != nil {
			c.logger = l
		}
	})
}
