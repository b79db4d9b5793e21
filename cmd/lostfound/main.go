package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/lostfound/board/internal/api"
	"github.com/lostfound/board/internal/board"
	"github.com/lostfound/board/internal/config"
	"github.com/lostfound/board/internal/db"
	"github.com/lostfound/board/internal/feed"
	"github.com/lostfound/board/internal/imaging"
	"github.com/lostfound/board/internal/metrics"
	"github.com/lostfound/board/internal/storage"
	"github.com/lostfound/board/internal/store"
	"github.com/lostfound/board/internal/web"
)

// levelRouter is a slog.Handler that routes INFO/WARN to stdout and ERROR+ to stderr.
type levelRouter struct {
	stdout slog.Handler
	stderr slog.Handler
}

func (lr *levelRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (lr *levelRouter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return lr.stderr.Handle(ctx, r)
	}
	return lr.stdout.Handle(ctx, r)
}

func (lr *levelRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithAttrs(attrs),
		stderr: lr.stderr.WithAttrs(attrs),
	}
}

func (lr *levelRouter) WithGroup(name string) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithGroup(name),
		stderr: lr.stderr.WithGroup(name),
	}
}

// setupLogger configures structured logging. INFO/WARN go to stdout, ERROR goes
// to stderr. If logPath is non-empty, all levels are also written to that file.
// Returns a cleanup function that closes the log file (if opened).
func setupLogger(logPath string) (func(), error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	cleanup := func() {}

	stdoutW := io.Writer(os.Stdout)
	stderrW := io.Writer(os.Stderr)

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		stdoutW = io.MultiWriter(os.Stdout, f)
		stderrW = io.MultiWriter(os.Stderr, f)
	}

	handler := &levelRouter{
		stdout: slog.NewTextHandler(stdoutW, opts),
		stderr: slog.NewTextHandler(stderrW, opts),
	}
	slog.SetDefault(slog.New(handler))
	return cleanup, nil
}

func main() {
	cfg, err := config.Parse(os.Args[1:], os.Getenv, os.Stdout)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	closeLog, err := setupLogger(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	warnings, err := cfg.Validate()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for _, w := range warnings {
		slog.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Persistence. Without a database the board still serves, reporting
	// itself unavailable.
	conn, dialect, dsn := openDatabase(cfg)
	if conn != nil {
		defer conn.Close()
	}

	mode, _ := feed.ParseMode(cfg.Feed)
	changes := feed.Select(ctx, feed.Options{
		Mode:        mode,
		DatabaseURL: dsn,
		Postgres:    dialect == db.Postgres,
		RedisURL:    cfg.RedisURL,
		Channel:     db.ChangeChannel,
	})
	defer changes.Close()
	slog.Info("change feed selected", "mode", changes.Mode())

	items := store.NewItems(conn, dialect, changes)

	// Images.
	optimizer := imaging.NewOptimizer(imaging.Options{Workers: cfg.Workers})
	images := storage.NewClient(storage.Config{
		CloudName:    cfg.CloudName,
		UploadPreset: cfg.UploadPreset,
		Folder:       cfg.Folder,
		BaseURL:      cfg.StorageBaseURL,
	}, optimizer, &http.Client{Timeout: 60 * time.Second}, m)

	previews, err := imaging.NewPreviews(cfg.PreviewDir, previewSecret(ctx, items), time.Duration(cfg.PreviewTTL))
	if err != nil {
		return err
	}
	defer previews.Close()

	// View state.
	ctrl := board.NewController(items, images, m)
	ctrl.Start()
	defer ctrl.Close()

	// Set up routers.
	apiRouter := api.NewRouter(api.Deps{
		Board:             ctrl,
		Previews:          previews,
		Health:            items,
		FeedMode:          string(changes.Mode()),
		UploadsConfigured: images.Configured(),
		Metrics:           m,
	})
	webRouter, err := web.NewRouter(ctrl, previews)
	if err != nil {
		return fmt.Errorf("setting up web router: %w", err)
	}

	// Combine: API routes take priority, web routes handle the rest.
	mux := http.NewServeMux()
	mux.Handle("/api/", apiRouter)
	mux.Handle("GET /metrics", m.Handler())
	mux.Handle("/", webRouter)

	handler := chiMiddleware.RequestID(api.LoggingMiddleware(m)(chiMiddleware.Recoverer(mux)))

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server started", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown on SIGINT/SIGTERM or when another task fails.
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		sweepPreviews(gctx, previews)
		return nil
	})

	err = g.Wait()
	slog.Info("server stopped, closing database")
	return err
}

// openDatabase opens and prepares the configured database. A database that
// is not configured or cannot be reached yields a nil handle: the board then
// serves with persistence reported unavailable.
func openDatabase(cfg *config.Config) (*sql.DB, db.Dialect, string) {
	dsn, err := db.ApplyAccessKey(cfg.DatabaseURL, cfg.DatabaseKey)
	if err != nil {
		slog.Error("invalid database url", "error", err)
		return nil, db.SQLite, ""
	}

	conn, dialect, err := db.Open(dsn)
	if errors.Is(err, db.ErrNoDSN) {
		return nil, db.SQLite, ""
	}
	if err != nil {
		slog.Error("failed to open database", "error", err)
		return nil, db.DialectOf(dsn), ""
	}

	// Ensure schema exists (idempotent).
	if err := db.EnsureSchema(conn, dialect); err != nil {
		slog.Error("failed to ensure database schema", "error", err)
		conn.Close()
		return nil, dialect, ""
	}

	slog.Info("database ready", "dialect", dialect)
	return conn, dialect, dsn
}

// previewSecret loads the signing key from the database, falling back to a
// per-process key when persistence is unavailable.
func previewSecret(ctx context.Context, items *store.Items) string {
	secret, err := items.PreviewSecret(ctx)
	if err == nil {
		return secret
	}
	if items.Available() {
		slog.Warn("using a per-process preview key", "error", err)
	}

	buf := make([]byte, 32)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// sweepPreviews drops expired previews until ctx ends.
func sweepPreviews(ctx context.Context, previews *imaging.Previews) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := previews.Sweep(now); n > 0 {
				slog.Info("expired previews removed", "count", n)
			}
		}
	}
}
