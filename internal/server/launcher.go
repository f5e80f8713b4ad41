package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"time"

	cfg "github.com/quayside/conveyor/config"
	"github.com/quayside/conveyor/internal/handlers"
)

// Server timeout constants.
const (
	readTimeoutSeconds     = 15
	writeTimeoutSeconds    = 15
	idleTimeoutSeconds     = 60
	shutdownTimeoutSeconds = 5
)

type serveFunc func(ctx context.Context) error

// Launcher decides, once per process start, which server handles
// traffic. Migrations always run first; a migration failure aborts
// startup before any listener is opened. There is no retry logic here:
// the orchestrator owns restart policy.
type Launcher struct {
	logger    *slog.Logger
	config    *cfg.Config
	migrate   func(ctx context.Context) error
	serveDev  serveFunc
	serveProd serveFunc
}

func NewLauncher(
	logger *slog.Logger,
	config *cfg.Config,
	migrate func(ctx context.Context) error,
	serveDev serveFunc,
	serveProd serveFunc,
) *Launcher {
	return &Launcher{
		logger:    logger,
		config:    config,
		migrate:   migrate,
		serveDev:  serveDev,
		serveProd: serveProd,
	}
}

// Run applies migrations and serves in the configured mode until the
// context is cancelled. The mode decision is terminal for the process.
func (l *Launcher) Run(ctx context.Context) error {
	l.logger.Info("Applying database migrations")
	if err := l.migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if l.config.Mode.IsDevelopment() {
		l.logger.Warn("Starting development server; do not expose to external traffic",
			"port", l.config.HTTP.Port,
			"debug_port", l.config.HTTP.DebugPort)
		return l.serveDev(ctx)
	}

	l.logger.Info("Starting production server",
		"port", l.config.HTTP.Port,
		"worker_concurrency", l.config.Workers.Concurrency)
	return l.serveProd(ctx)
}

// NewHTTPLauncher wires the launcher with real dev and prod servers
// around the given application handler.
func NewHTTPLauncher(
	logger *slog.Logger,
	config *cfg.Config,
	handler http.Handler,
	wsManager *handlers.Manager,
	migrate func(ctx context.Context) error,
) *Launcher {
	serveProd := func(ctx context.Context) error {
		srv := &http.Server{
			Addr:         ":" + config.HTTP.Port,
			Handler:      handler,
			ReadTimeout:  readTimeoutSeconds * time.Second,
			WriteTimeout: writeTimeoutSeconds * time.Second,
			IdleTimeout:  idleTimeoutSeconds * time.Second,
		}
		return runServer(ctx, logger, srv)
	}

	serveDev := func(ctx context.Context) error {
		// pprof listener on the debug port, development mode only.
		go runDebugServer(ctx, logger, config.HTTP.DebugPort)

		// Live-reload watcher over the static asset tree.
		watcher := NewReloadWatcher(logger, config.HTTP.StaticDir, wsManager.BroadcastReload)
		go watcher.Start(ctx)

		// No write timeout in development: interactive debugging and
		// slow templated responses are expected here.
		srv := &http.Server{
			Addr:        ":" + config.HTTP.Port,
			Handler:     requestLogging(logger, handler),
			IdleTimeout: idleTimeoutSeconds * time.Second,
		}
		return runServer(ctx, logger, srv)
	}

	return NewLauncher(logger, config, migrate, serveDev, serveProd)
}

// runServer serves until the context is cancelled, then drains with a
// bounded shutdown timeout. A bind failure returns immediately.
func runServer(ctx context.Context, logger *slog.Logger, srv *http.Server) error {
	errCh := make(chan error, 1)

	go func() {
		logger.Info("Server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited properly")
	return nil
}

func runDebugServer(ctx context.Context, logger *slog.Logger, port string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{Addr: ":" + port, Handler: mux}

	logger.Info("Debug listener active", "address", srv.Addr)
	if err := runServer(ctx, logger, srv); err != nil {
		// The debug listener is auxiliary; losing it is not fatal.
		logger.Error("Debug server error", "error", err)
	}
}

// requestLogging logs every request at debug level, development only.
func requestLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration", time.Since(start).String())
	})
}
