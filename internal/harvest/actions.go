package harvest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/site-harvest/internal/common"
	"github.com/dtnitsch/site-harvest/models"
	dbpkg "github.com/dtnitsch/site-harvest/pkg/db"
	harvestpkg "github.com/dtnitsch/site-harvest/pkg/harvest"
	"github.com/dtnitsch/site-harvest/pkg/manifest"
	"github.com/dtnitsch/site-harvest/pkg/storage"
)

// Output formats of --format.
const (
	FormatSummary = "summary"
	FormatJSON    = "json"
	FormatYAML    = "yaml"
)

func HarvestAction(c *cli.Context) error {
	logger, err := common.NewLogger(c.String("log-format"), c.Bool("verbose"), c.Bool("quiet"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(2)
	}
	format, err := outputFormat(c)
	if err != nil {
		logger.Error("invalid flag", "error", err)
		os.Exit(2)
	}

	progress, stopProgress := newProgress(c)
	runID := uuid.NewString()
	h, err := harvestpkg.New(cfg, harvestpkg.Deps{Logger: logger, RunID: runID, Progress: progress})
	if err != nil {
		logger.Error("failed to start harvest", "error", err)
		os.Exit(2)
	}
	cfg = h.Config()

	ledger := openLedger(c, logger)
	if ledger != nil {
		defer ledger.Close()
		if err := ledger.CreateRun(runID, harvestpkg.CommandHarvest, cfg.Domain, cfg.Timestamp, h.Store().Root(), time.Now()); err != nil {
			logger.Warn("failed to record run, continuing without ledger", "error", err)
			_ = ledger.Close()
			ledger = nil
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, runErr := h.Run(ctx)
	stopProgress()
	if errors.Is(runErr, context.Canceled) {
		logger.Warn("harvest interrupted, partial results kept", "run_id", rep.RunID)
	}

	return finish(c, logger, ledger, rep, format)
}

func RewriteAction(c *cli.Context) error {
	logger, err := common.NewLogger(c.String("log-format"), c.Bool("verbose"), c.Bool("quiet"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(2)
	}
	format, err := outputFormat(c)
	if err != nil {
		logger.Error("invalid flag", "error", err)
		os.Exit(2)
	}
	if err := fillFromManifest(&cfg, c.IsSet("timestamp")); err != nil {
		logger.Error("no harvest found in output directory", "output", cfg.OutputDir, "error", err)
		os.Exit(2)
	}

	runID := uuid.NewString()
	h, err := harvestpkg.New(cfg, harvestpkg.Deps{Logger: logger, RunID: runID})
	if err != nil {
		logger.Error("failed to start rewrite", "error", err)
		os.Exit(2)
	}

	ledger := openLedger(c, logger)
	if ledger != nil {
		defer ledger.Close()
		if err := ledger.CreateRun(runID, harvestpkg.CommandRewrite, h.Config().Domain, h.Config().Timestamp, h.Store().Root(), time.Now()); err != nil {
			logger.Warn("failed to record run, continuing without ledger", "error", err)
			_ = ledger.Close()
			ledger = nil
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := h.Rewrite(ctx)
	if err != nil {
		logger.Error("rewrite failed", "error", err)
		if ledger != nil {
			_ = ledger.FinishRun(runID, dbpkg.StatusFailed, 0, 0, 0, time.Now())
			_ = ledger.Close()
		}
		os.Exit(2)
	}
	return finish(c, logger, ledger, rep, format)
}

// finish records the run, prints the report and exits with the report's exit code.
func finish(c *cli.Context, logger *slog.Logger, ledger *dbpkg.DB, rep *harvestpkg.Report, format string) error {
	if ledger != nil {
		if err := recordRun(ledger, rep); err != nil {
			logger.Warn("failed to record run in ledger", "run_id", rep.RunID, "error", err)
		}
	}

	if err := writeReport(c.App.Writer, rep, format); err != nil {
		logger.Error("failed to write report", "error", err)
	}

	code := rep.ExitCode()
	if code == 0 {
		return nil
	}
	if ledger != nil {
		_ = ledger.Close()
	}
	os.Exit(code)
	return nil
}

func writeReport(w io.Writer, rep *harvestpkg.Report, format string) error {
	if w == nil {
		w = os.Stdout
	}
	if format == FormatSummary {
		rep.WriteSummary(w)
		return nil
	}
	return common.WriteFormatted(w, format, rep)
}

func recordRun(ledger *dbpkg.DB, rep *harvestpkg.Report) error {
	assignments := make([]dbpkg.Assignment, len(rep.Assignments))
	for i, a := range rep.Assignments {
		assignments[i] = dbpkg.Assignment{Identity: string(a.Identity), Path: a.Path}
	}
	if err := ledger.InsertAssignments(rep.RunID, assignments); err != nil {
		return err
	}
	if err := ledger.InsertFailures(rep.RunID, rep.Failures); err != nil {
		return err
	}
	return ledger.FinishRun(rep.RunID, rep.Status(), rep.Stats.Files, len(rep.Failures), rep.Stats.Bytes, rep.FinishedAt)
}

// openLedger opens the run ledger unless --no-db is set. A ledger that cannot be opened is
// logged and skipped; the harvest does not depend on it.
func openLedger(c *cli.Context, logger *slog.Logger) *dbpkg.DB {
	if c.Bool("no-db") {
		return nil
	}
	ledger, err := dbpkg.Open(c.String("db"))
	if err != nil {
		logger.Warn("run ledger unavailable", "error", err)
		return nil
	}
	logger.Debug("opened run ledger", "path", ledger.Path())
	return ledger
}

func outputFormat(c *cli.Context) (string, error) {
	format := strings.ToLower(c.String("format"))
	switch format {
	case "", FormatSummary:
		return FormatSummary, nil
	case FormatJSON, FormatYAML:
		return format, nil
	default:
		return "", fmt.Errorf("unknown format %q (use: summary, json or yaml)", format)
	}
}

// loadConfig reads --config on top of the defaults and applies the flags that were set.
func loadConfig(c *cli.Context) (models.HarvestConfig, error) {
	cfg := models.DefaultConfig()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = models.LoadConfig(path); err != nil {
			return cfg, err
		}
	}

	switch {
	case c.IsSet("domain"):
		cfg.Domain = common.SanitizeDomain(c.String("domain"))
	case c.NArg() > 0:
		cfg.Domain = common.SanitizeDomain(c.Args().First())
	case cfg.Domain != "":
		cfg.Domain = common.SanitizeDomain(cfg.Domain)
	}
	if c.IsSet("timestamp") {
		cfg.Timestamp = c.String("timestamp")
	}
	if c.IsSet("output") {
		cfg.OutputDir = c.String("output")
	}
	if c.IsSet("catalog") {
		cfg.Catalog = c.Bool("catalog")
	}
	if c.IsSet("wayback-base") {
		cfg.WaybackBase = c.String("wayback-base")
	}
	if c.IsSet("user-agent") {
		cfg.UserAgent = c.String("user-agent")
	}
	if c.IsSet("delay") {
		cfg.Delay = c.Duration("delay")
	}
	if c.IsSet("timeout") {
		cfg.Timeout = c.Duration("timeout")
	}
	if c.IsSet("max-retries") {
		cfg.MaxRetries = c.Int("max-retries")
	}
	if c.IsSet("max-rounds") {
		cfg.MaxRounds = c.Int("max-rounds")
	}
	if c.IsSet("exclude") {
		cfg.ExcludePatterns = append(cfg.ExcludePatterns, c.StringSlice("exclude")...)
	}
	if c.IsSet("resume") {
		cfg.Resume = c.Bool("resume")
	}
	if c.IsSet("skip-rewrite") {
		cfg.SkipRewrite = c.Bool("skip-rewrite")
	}
	if c.IsSet("cdx-cache-dir") {
		cfg.CDXCacheDir = c.String("cdx-cache-dir")
	}
	if c.IsSet("cdx-cache-ttl") {
		cfg.CDXCacheTTL = c.Duration("cdx-cache-ttl")
	}
	return cfg, nil
}

// fillFromManifest takes the domain and target timestamp of the previous harvest in the
// output directory when they were not given.
func fillFromManifest(cfg *models.HarvestConfig, timestampSet bool) error {
	store, err := storage.New(cfg.OutputDir)
	if err != nil {
		return err
	}
	m, _, err := manifest.Load(store)
	if err != nil {
		return err
	}
	if cfg.Domain == "" {
		cfg.Domain = m.Domain
	}
	if !timestampSet && m.TargetTimestamp != "" {
		cfg.Timestamp = m.TargetTimestamp
	}
	return nil
}

// newProgress returns the progress callback and the function that stops the spinner.
// Both are no-ops unless --progress is set.
func newProgress(c *cli.Context) (func(phase string, done, total int), func()) {
	if !c.Bool("progress") || c.Bool("quiet") {
		return nil, func() {}
	}
	s := spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " listing captures"
	s.Start()
	update := func(phase string, done, total int) {
		s.Lock()
		s.Suffix = fmt.Sprintf(" %s %d/%d", phase, done, total)
		s.Unlock()
	}
	return update, s.Stop
}
