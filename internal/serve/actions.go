// Package serve previews a mirror over HTTP.
package serve

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

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/site-harvest/internal/common"
	"github.com/dtnitsch/site-harvest/pkg/manifest"
	"github.com/dtnitsch/site-harvest/pkg/storage"
)

func ServeAction(c *cli.Context) error {
	logger, err := common.NewLogger(c.String("log-format"), c.Bool("verbose"), c.Bool("quiet"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	dir := c.String("output")
	if c.NArg() > 0 {
		dir = c.Args().First()
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		logger.Error("output directory not found", "output", dir)
		os.Exit(2)
	}
	store, err := storage.New(dir)
	if err != nil {
		logger.Error("unusable output directory", "output", dir, "error", err)
		os.Exit(2)
	}
	if m, _, err := manifest.Load(store); err == nil {
		logger.Info("mirror found", "domain", m.Domain, "timestamp", m.TargetTimestamp, "files", len(m.Files), "rewritten", m.Rewritten)
		if !m.Rewritten {
			logger.Warn("mirror still holds archive links; run 'site-harvest rewrite' first")
		}
	}
	var files int
	var size int64
	if err := store.Walk(func(_ string, n int64) error {
		files++
		size += n
		return nil
	}); err != nil {
		logger.Warn("failed to scan output directory", "error", err)
	}

	srv := &http.Server{
		Addr:              c.String("addr"),
		Handler:           NewRouter(store.Root(), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving mirror", "output", store.Root(), "files", files, "size", humanize.Bytes(uint64(size)), "url", "http://"+srv.Addr+"/")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve mirror: %w", err)
	}
	return nil
}

// NewRouter serves the files under root read-only. Directory requests get their
// index.html.
func NewRouter(root string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	files := http.FileServer(http.Dir(root))
	r.Get("/*", files.ServeHTTP)
	r.Head("/*", files.ServeHTTP)
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(),
				"bytes", ww.BytesWritten(), "duration", time.Since(start), "request_id", middleware.GetReqID(r.Context()))
		})
	}
}
