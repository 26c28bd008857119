// Package discovery finds resources referenced by mirrored documents that the capture
// listing did not include, and mirrors them in bounded rounds.
package discovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/dtnitsch/site-harvest/models"
	"github.com/dtnitsch/site-harvest/pkg/extractor"
	"github.com/dtnitsch/site-harvest/pkg/pathmap"
	"github.com/dtnitsch/site-harvest/pkg/state"
	"github.com/dtnitsch/site-harvest/pkg/urlnorm"
)

// DefaultMaxRounds bounds discovery when no limit is configured.
const DefaultMaxRounds = 2

// CaptureIndex finds the capture of a URL nearest a timestamp.
type CaptureIndex interface {
	BestCapture(ctx context.Context, original, target string) (string, bool, error)
}

// Fetcher downloads a capture.
type Fetcher interface {
	Fetch(ctx context.Context, original, timestamp string) ([]byte, error)
}

// Store reads and writes mirrored files by relative path.
type Store interface {
	HasFile(rel string) bool
	ReadFile(rel string) ([]byte, error)
	SaveFile(rel string, content []byte) error
}

// Result summarizes a discovery pass.
type Result struct {
	// Rounds counts rounds that found at least one new identity.
	Rounds int
	// Fixpoint is set when a round found nothing new before the round limit.
	Fixpoint   bool
	Discovered int
	Downloaded int
	Skipped    int
	Adopted    int
	Failed     int
	Bytes      int64
}

// Engine runs discovery rounds. All fields except Logger and Progress are required.
type Engine struct {
	Normalizer *urlnorm.Normalizer
	Extractor  *extractor.Extractor
	Index      CaptureIndex
	Fetcher    Fetcher
	Store      Store
	// Target is the timestamp used when the index has no capture of a URL.
	Target    string
	MaxRounds int
	// Resume treats existing non-empty files as already fetched.
	Resume bool
	// Pending lists paths kept on resume whose files still hold archive references.
	Pending  map[string]bool
	Logger   *slog.Logger
	Progress func(round, done, total int)
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e.Logger
}

// Discover scans the frontier of stored, unscanned documents and mirrors the new internal
// identities they reference. Failures are recorded in st; only cancellation is returned.
func (e *Engine) Discover(ctx context.Context, st *state.State) (Result, error) {
	var res Result
	log := e.logger()
	maxRounds := e.MaxRounds
	if maxRounds < 1 {
		maxRounds = DefaultMaxRounds
	}
	for round := 1; round <= maxRounds; {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		frontier := st.Frontier()
		found, order := e.scanFrontier(st, frontier, &res)
		if len(order) == 0 {
			// Adopted documents join the frontier without costing a round.
			if len(st.Frontier()) > 0 {
				continue
			}
			res.Fixpoint = true
			log.Info("discovery reached fixpoint", "round", round, "scanned", len(frontier))
			break
		}

		res.Rounds++
		log.Info("discovery round", "round", round, "scanned", len(frontier), "new", len(order))
		for i, id := range order {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			e.acquire(ctx, st, id, found[id], round, &res)
			if e.Progress != nil {
				e.Progress(round, i+1, len(order))
			}
		}
		round++
	}
	if !res.Fixpoint && len(st.Frontier()) == 0 {
		res.Fixpoint = true
	}
	return res, nil
}

// scanFrontier marks every frontier document scanned and returns the unassigned internal
// identities it references, with the first absolute URL seen, in sorted order.
func (e *Engine) scanFrontier(st *state.State, frontier []urlnorm.Identity, res *Result) (map[urlnorm.Identity]string, []urlnorm.Identity) {
	log := e.logger()
	found := make(map[urlnorm.Identity]string)
	var order []urlnorm.Identity

	for _, docID := range frontier {
		st.MarkScanned(docID)
		docPath, _ := st.PathOf(docID)
		content, err := e.Store.ReadFile(docPath)
		if err != nil {
			log.Warn("failed to read document for discovery", "path", docPath, "error", err)
			continue
		}

		refs, err := e.Extractor.Refs(content, st.KindOf(docID), st.BaseURL(docID))
		if err != nil {
			log.Debug("skipping unparsable document", "path", docPath, "error", err)
			continue
		}

		for _, ref := range refs {
			if ref.IsDenylisted() {
				log.Debug("skipping denylisted reference", "document", docPath, "url", ref.Value)
				continue
			}
			if ref.Err != nil || !ref.Internal || st.IsAssigned(ref.ID) || st.HasFailed(ref.ID) {
				continue
			}
			if !st.IsFetched(docID) && extractor.IsDocumentRelative(ref.Value) && e.resolveLocal(st, docPath, ref.Value, res) {
				continue
			}
			if _, ok := st.AliasOf(ref.ID); ok {
				continue
			}
			if _, seen := found[ref.ID]; seen {
				continue
			}
			found[ref.ID] = ref.URL
			order = append(order, ref.ID)
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	return found, order
}

// resolveLocal reports whether a document-relative reference already names a file in the
// output tree, as it does in documents rewritten by an earlier run. A file not yet owned
// by any identity is adopted when its path can be inverted.
func (e *Engine) resolveLocal(st *state.State, docPath, value string, res *Result) bool {
	target, ok := pathmap.LocalTarget(docPath, value)
	if !ok {
		return false
	}
	if _, owned := st.OwnerOf(target); owned {
		return true
	}
	if !e.Store.HasFile(target) {
		return false
	}

	if id, ok := pathmap.Invert(e.Normalizer.Domain(), target); ok && !st.IsAssigned(id) {
		if err := st.Claim(id, target); err == nil {
			st.SetCapture(id, models.CaptureRecord{Original: string(id), Timestamp: e.Target, Synthesized: true})
			st.MarkStored(id)
			res.Adopted++
			e.logger().Debug("adopted existing file", "path", target, "identity", id)
		}
	}
	return true
}

// acquire assigns, fetches and stores one discovered identity. Identities that fail are
// not retried in later rounds.
func (e *Engine) acquire(ctx context.Context, st *state.State, id urlnorm.Identity, absURL string, round int, res *Result) {
	log := e.logger()
	p := pathmap.Assign(id)
	if err := st.Claim(id, p); err != nil {
		st.FailIdentity(id, absURL, models.PhasePathCollision, err)
		res.Failed++
		log.Warn("path collision", "url", absURL, "path", p, "error", err)
		return
	}
	res.Discovered++

	if e.Resume && e.Store.HasFile(p) {
		st.SetCapture(id, models.CaptureRecord{Original: absURL, Timestamp: e.Target, Synthesized: true})
		if e.Pending[p] {
			st.MarkFetched(id)
		} else {
			st.MarkStored(id)
		}
		res.Skipped++
		log.Debug("resume: keeping existing file", "path", p)
		return
	}

	ts := e.Target
	found, ok, err := e.Index.BestCapture(ctx, absURL, e.Target)
	switch {
	case err != nil:
		log.Debug("capture lookup failed, using target timestamp", "url", absURL, "error", err)
	case ok:
		ts = found
	}

	phase := fmt.Sprintf("%s%d", models.PhaseAssetRoundBase, round)
	data, err := e.Fetcher.Fetch(ctx, absURL, ts)
	if err != nil {
		st.Unassign(id)
		if ctx.Err() != nil {
			return
		}
		st.FailIdentity(id, absURL, phase, err)
		res.Failed++
		log.Warn("asset download failed", "url", absURL, "round", round, "error", err)
		return
	}
	if err := e.Store.SaveFile(p, data); err != nil {
		st.Unassign(id)
		st.FailIdentity(id, absURL, models.PhaseWrite, err)
		res.Failed++
		log.Warn("failed to write asset", "path", p, "error", err)
		return
	}

	st.SetCapture(id, models.CaptureRecord{
		Original:    absURL,
		Timestamp:   ts,
		Length:      int64(len(data)),
		Synthesized: true,
	})
	st.MarkFetched(id)
	res.Downloaded++
	res.Bytes += int64(len(data))
	log.Debug("downloaded asset", "url", absURL, "path", p, "bytes", len(data))
}
