// Package harvest runs the phases of a mirror: capture listing, selection, download,
// discovery, rewriting and reporting.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dtnitsch/site-harvest/models"
	"github.com/dtnitsch/site-harvest/pkg/caching"
	"github.com/dtnitsch/site-harvest/pkg/catalog"
	"github.com/dtnitsch/site-harvest/pkg/cdx"
	"github.com/dtnitsch/site-harvest/pkg/discovery"
	"github.com/dtnitsch/site-harvest/pkg/extractor"
	"github.com/dtnitsch/site-harvest/pkg/fetcher"
	"github.com/dtnitsch/site-harvest/pkg/manifest"
	"github.com/dtnitsch/site-harvest/pkg/mapreduce"
	"github.com/dtnitsch/site-harvest/pkg/pathmap"
	"github.com/dtnitsch/site-harvest/pkg/rewriter"
	"github.com/dtnitsch/site-harvest/pkg/selector"
	"github.com/dtnitsch/site-harvest/pkg/state"
	"github.com/dtnitsch/site-harvest/pkg/storage"
	"github.com/dtnitsch/site-harvest/pkg/urlnorm"
)

// Phase names passed to Progress.
const (
	PhaseDownload  = "download"
	PhaseDiscovery = "discovery"
)

// Index lists and looks up captures.
type Index interface {
	ListCaptures(ctx context.Context, domain string) ([]models.CaptureRecord, error)
	BestCapture(ctx context.Context, original, target string) (string, bool, error)
}

// Fetcher downloads the raw bytes of a capture.
type Fetcher interface {
	Fetch(ctx context.Context, original, timestamp string) ([]byte, error)
}

// Deps are the collaborators of a Harvester. Nil fields get the default implementation
// built from the configuration.
type Deps struct {
	Index   Index
	Fetcher Fetcher
	Store   *storage.Storage
	Logger  *slog.Logger
	// RunID identifies the run in reports and the manifest. A new UUID when empty.
	RunID string
	// Progress is called after each item of a phase.
	Progress func(phase string, done, total int)
	// Now defaults to time.Now.
	Now func() time.Time
}

// Harvester mirrors one domain. It is single-use per Run.
type Harvester struct {
	cfg      models.HarvestConfig
	norm     *urlnorm.Normalizer
	ex       *extractor.Extractor
	index    Index
	fetcher  Fetcher
	store    *storage.Storage
	logger   *slog.Logger
	runID    string
	progress func(phase string, done, total int)
	now      func() time.Time
}

// New validates cfg and wires the collaborators. Only configuration errors are returned.
func New(cfg models.HarvestConfig, deps Deps) (*Harvester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	norm, err := urlnorm.New(cfg.Domain, cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	h := &Harvester{
		cfg:      cfg,
		norm:     norm,
		ex:       extractor.New(norm),
		index:    deps.Index,
		fetcher:  deps.Fetcher,
		store:    deps.Store,
		logger:   deps.Logger,
		runID:    deps.RunID,
		progress: deps.Progress,
		now:      deps.Now,
	}
	if h.logger == nil {
		h.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.store == nil {
		if h.store, err = storage.New(cfg.OutputDir); err != nil {
			return nil, fmt.Errorf("unusable output directory: %w", err)
		}
	}

	if h.fetcher == nil || h.index == nil {
		f := fetcher.NewFetcher(fetcher.Options{
			WaybackBase: cfg.WaybackBase,
			UserAgent:   cfg.UserAgent,
			Timeout:     cfg.Timeout,
			Delay:       cfg.Delay,
			MaxRetries:  cfg.MaxRetries,
			RetryBase:   cfg.RetryBase,
			Logger:      h.logger,
		})
		if h.fetcher == nil {
			h.fetcher = f
		}
		if h.index == nil {
			var cache *caching.Cache
			if cfg.CDXCacheDir != "" && cfg.CDXCacheTTL > 0 {
				if cache, err = caching.NewCache(cfg.CDXCacheDir, cfg.CDXCacheTTL); err != nil {
					h.logger.Warn("capture listing cache disabled", "error", err)
				} else if pruned, err := cache.Prune(); err != nil {
					h.logger.Warn("failed to prune capture listing cache", "error", err)
				} else if pruned > 0 {
					h.logger.Debug("pruned expired capture listings", "removed", pruned)
				}
			}
			h.index = cdx.NewClient(f, cfg.WaybackBase, cache, h.logger)
		}
	}
	return h, nil
}

// Config returns the validated configuration.
func (h *Harvester) Config() models.HarvestConfig {
	return h.cfg
}

// Store returns the output store.
func (h *Harvester) Store() *storage.Storage {
	return h.store
}

func (h *Harvester) report(command string) *Report {
	runID := h.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Report{
		RunID:       runID,
		Command:     command,
		Domain:      h.cfg.Domain,
		Timestamp:   h.cfg.Timestamp,
		SnapshotURL: h.cfg.SnapshotURL(),
		OutputDir:   h.store.Root(),
		StartedAt:   h.now().UTC(),
	}
}

// Run executes every phase. Failures of individual URLs land in the report; the returned
// error is non-nil only when ctx was cancelled, in which case the report covers the work
// done so far and a manifest is still written.
func (h *Harvester) Run(ctx context.Context) (*Report, error) {
	rep := h.report(CommandHarvest)
	st := state.New()
	h.logger.Info("harvest started", "run_id", rep.RunID, "domain", h.cfg.Domain,
		"timestamp", h.cfg.Timestamp, "output", rep.OutputDir, "resume", h.cfg.Resume)

	// Files an earlier run stored without rewriting still hold archive references.
	pending := map[string]bool{}
	if h.cfg.Resume {
		if prev, _, err := manifest.Load(h.store); err == nil {
			pending = prev.PendingPaths()
		}
	}

	err := h.harvest(ctx, st, &rep.Stats, pending)
	if err == nil && !h.cfg.SkipRewrite {
		h.rewrite(st, &rep.Stats)
	}
	rewritten := err == nil && !h.cfg.SkipRewrite
	if err == nil && h.cfg.Catalog {
		h.writeCatalog(st)
	}

	rep.Cancelled = err != nil
	h.finish(st, rep, rewritten)
	return rep, err
}

// harvest runs the listing, download and discovery phases.
func (h *Harvester) harvest(ctx context.Context, st *state.State, stats *models.Stats, pending map[string]bool) error {
	records, err := h.index.ListCaptures(ctx, h.cfg.Domain)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		st.Fail(h.cfg.SnapshotURL(), models.PhaseCDXQuery, err)
		h.logger.Error("capture listing failed, continuing with discovery only", "error", err)
	}

	sel := selector.Group(records, h.norm, h.cfg.Timestamp)
	stats.CDXTotal = sel.Total
	stats.CDXInvalid = sel.Invalid
	stats.CDXExcluded = sel.Excluded
	stats.Unique = len(sel.Order)
	h.logger.Info("captures selected", "total", sel.Total, "unique", len(sel.Order),
		"invalid", sel.Invalid, "excluded", sel.Excluded)

	if err := h.download(ctx, st, sel, stats, pending); err != nil {
		return err
	}

	// Without any listed capture the root page seeds discovery.
	if len(st.Stored()) == 0 {
		h.seedRoot(ctx, st, stats, pending)
	}

	engine := &discovery.Engine{
		Normalizer: h.norm,
		Extractor:  h.ex,
		Index:      h.index,
		Fetcher:    h.fetcher,
		Store:      h.store,
		Target:     h.cfg.Timestamp,
		MaxRounds:  h.cfg.MaxRounds,
		Resume:     h.cfg.Resume,
		Pending:    pending,
		Logger:     h.logger,
	}
	if h.progress != nil {
		engine.Progress = func(_, done, total int) { h.progress(PhaseDiscovery, done, total) }
	}
	res, err := engine.Discover(ctx, st)
	stats.DiscoveryRounds = res.Rounds
	stats.Fixpoint = res.Fixpoint
	stats.Discovered = res.Discovered
	stats.AssetsDownloaded = res.Downloaded
	stats.SkippedResume += res.Skipped
	stats.Adopted = res.Adopted
	stats.Bytes += res.Bytes
	return err
}

// download mirrors the selected capture of every internal identity in sorted order.
func (h *Harvester) download(ctx context.Context, st *state.State, sel *selector.Selection, stats *models.Stats, pending map[string]bool) error {
	ids := make([]urlnorm.Identity, 0, len(sel.Order))
	for _, id := range sel.Order {
		if !h.norm.IsInternal(id) {
			stats.External++
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		h.acquire(ctx, st, id, sel.Chosen[id], stats, pending)
		if h.progress != nil {
			h.progress(PhaseDownload, i+1, len(ids))
		}
	}
	h.logger.Info("listed captures downloaded", "downloaded", stats.Downloaded,
		"skipped_resume", stats.SkippedResume, "external", stats.External, "aliased", stats.Aliased)
	return nil
}

// acquire claims, fetches and stores one listed identity.
func (h *Harvester) acquire(ctx context.Context, st *state.State, id urlnorm.Identity, rec models.CaptureRecord, stats *models.Stats, pending map[string]bool) {
	if alias, ok := st.AliasOf(id); ok {
		stats.Aliased++
		h.logger.Debug("alias of a listed file", "url", rec.Original, "alias", alias)
		return
	}

	p := pathmap.Assign(id)
	if err := st.Claim(id, p); err != nil {
		st.FailIdentity(id, rec.Original, models.PhasePathCollision, err)
		h.logger.Warn("path collision", "url", rec.Original, "path", p, "error", err)
		return
	}
	st.SetCapture(id, rec)

	if h.cfg.Resume && h.store.HasFile(p) {
		if pending[p] {
			st.MarkFetched(id)
		} else {
			st.MarkStored(id)
		}
		stats.SkippedResume++
		h.logger.Debug("resume: keeping existing file", "path", p)
		return
	}

	data, err := h.fetcher.Fetch(ctx, rec.Original, rec.Timestamp)
	if err != nil {
		st.Unassign(id)
		if ctx.Err() != nil {
			return
		}
		st.FailIdentity(id, rec.Original, models.PhaseCDXDownload, err)
		h.logger.Warn("download failed", "url", rec.Original, "timestamp", rec.Timestamp, "error", err)
		return
	}
	if err := h.store.SaveFile(p, data); err != nil {
		st.Unassign(id)
		st.FailIdentity(id, rec.Original, models.PhaseWrite, err)
		h.logger.Warn("failed to write file", "path", p, "error", err)
		return
	}
	st.MarkFetched(id)
	stats.Downloaded++
	stats.Bytes += int64(len(data))
	h.logger.Debug("downloaded", "url", rec.Original, "path", p, "bytes", len(data))
}

// seedRoot fetches the domain root at the target timestamp.
func (h *Harvester) seedRoot(ctx context.Context, st *state.State, stats *models.Stats, pending map[string]bool) {
	root := "http://" + h.cfg.Domain + "/"
	id, err := h.norm.Normalize(root)
	if err != nil || st.IsAssigned(id) {
		return
	}
	ts := h.cfg.Timestamp
	if found, ok, err := h.index.BestCapture(ctx, root, ts); err == nil && ok {
		ts = found
	}
	h.logger.Info("no listed captures stored, seeding discovery from the root page", "url", root, "timestamp", ts)
	h.acquire(ctx, st, id, models.CaptureRecord{Original: root, Timestamp: ts, Synthesized: true}, stats, pending)
}

func (h *Harvester) rewrite(st *state.State, stats *models.Stats) {
	counts := rewriter.New(h.ex, h.store, h.logger).RewriteAll(st)
	stats.RewrittenHTML = counts.HTML
	stats.RewrittenCSS = counts.CSS
	stats.RewrittenLinks = counts.Links
}

func (h *Harvester) writeCatalog(st *state.State) {
	c := catalog.NewBuilder(h.logger).Build(h.cfg.Domain, st, h.store, h.now())
	name := catalog.Name(st)
	if err := catalog.Write(h.store, name, c); err != nil {
		h.logger.Warn("failed to write catalog", "error", err)
		return
	}
	h.logger.Info("catalog written", "path", name, "pages", len(c.Pages))
}

// finish fills the report from st and writes the manifest.
func (h *Harvester) finish(st *state.State, rep *Report, rewritten bool) {
	var paths []string
	for _, a := range st.Assignments() {
		if st.IsStored(a.Identity) {
			rep.Assignments = append(rep.Assignments, a)
			paths = append(paths, a.Path)
		}
	}
	for p, ids := range pathmap.DetectCollisions(st.PathMap()) {
		h.logger.Error("conflicting path assignment", "path", p, "identities", len(ids))
	}
	rep.Failures = st.Failures()
	rep.Stats.Files = len(paths)
	rep.Stats.Failed = len(rep.Failures)
	rep.Stats.ByExtension = mapreduce.Reduce([]map[string]int{mapreduce.Map(paths)})
	rep.FinishedAt = h.now().UTC()

	m := manifest.Build(h.cfg, rep.RunID, st, rep.Stats, rewritten, rep.FinishedAt)
	name := manifest.Name(st)
	if err := manifest.Write(h.store, name, m); err != nil {
		h.logger.Error("failed to write manifest", "error", err)
	} else {
		rep.ManifestPath = name
	}

	h.logger.Info("harvest finished", "run_id", rep.RunID, "files", rep.Stats.Files,
		"failed", rep.Stats.Failed, "bytes", rep.Stats.Bytes, "duration", rep.FinishedAt.Sub(rep.StartedAt))
}

// Rewrite reruns only the rewrite phase over the mirror described by an existing manifest.
func (h *Harvester) Rewrite(ctx context.Context) (*Report, error) {
	rep := h.report(CommandRewrite)
	m, _, err := manifest.Load(h.store)
	if err != nil {
		return nil, err
	}
	if m.Domain != h.cfg.Domain {
		return nil, fmt.Errorf("manifest is for %s, not %s", m.Domain, h.cfg.Domain)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := state.New()
	restored := m.Restore(st, h.store)
	h.logger.Info("state restored from manifest", "entries", len(m.Assignments), "restored", restored, "rewritten_before", m.Rewritten)

	// Failures of the harvest are kept; rewrite failures follow them.
	for _, f := range m.Failures {
		st.Fail(f.URL, f.Phase, failureError(f.Error))
	}

	rep.Stats = m.Stats
	h.rewrite(st, &rep.Stats)
	if h.cfg.Catalog {
		h.writeCatalog(st)
	}
	h.finish(st, rep, true)
	return rep, nil
}

func failureError(msg string) error {
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}
