// Command ledgerd serves the job ledger HTTP API.
//
// Configuration comes from the environment:
//
//	LEDGER_ADDR               listen address (default :8080)
//	LEDGER_DB_DRIVER          sqlite or postgres (default sqlite)
//	LEDGER_DB_DSN             database DSN (default ledger.db)
//	LEDGER_DB_MAX_OPEN_CONNS  connection pool size (default 25)
//	LEDGER_API_TOKENS         token=owner pairs, comma separated (required)
//	LEDGER_CORS_ORIGINS       allowed browser origins, comma separated
//	LEDGER_SHUTDOWN_TIMEOUT   graceful shutdown budget (default 10s)
//	LEDGER_LOG_LEVEL          debug, info, warn or error (default info)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jdziat/job-ledger/api"
	"github.com/jdziat/job-ledger/pkg/queue"
	"github.com/jdziat/job-ledger/pkg/storage"
)

func main() {
	cfg, err := LoadConfig(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ledgerd failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	db, err := storage.Open(cfg.DBDriver, cfg.DBDSN, storage.MaxOpenConns(cfg.MaxOpenConns))
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store := storage.NewGormStorage(db)
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	q := queue.New(store, queue.WithLogger(logger))
	handler := api.Handler(q, cfg.Tokens,
		api.WithLogger(logger),
		api.WithCORS(cfg.CORSOrigins...),
		api.WithMiddleware(accessLog(logger)),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("serving", "addr", cfg.Addr, "driver", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// accessLog logs one line per request at debug level.
func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			logger.DebugContext(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
