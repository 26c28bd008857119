// Package rewriter turns archive references inside mirrored documents into relative
// references to the mirrored files.
package rewriter

import (
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"strings"

	"github.com/dtnitsch/site-harvest/models"
	"github.com/dtnitsch/site-harvest/pkg/extractor"
	"github.com/dtnitsch/site-harvest/pkg/pathmap"
	"github.com/dtnitsch/site-harvest/pkg/state"
	"github.com/dtnitsch/site-harvest/pkg/urlnorm"
)

// Store reads and atomically replaces mirrored files.
type Store interface {
	HasFile(rel string) bool
	ReadFile(rel string) ([]byte, error)
	SaveFile(rel string, content []byte) error
}

// Counts summarizes a rewrite pass.
type Counts struct {
	HTML      int `json:"html" yaml:"html"`
	CSS       int `json:"css" yaml:"css"`
	Links     int `json:"links" yaml:"links"`
	Unchanged int `json:"unchanged" yaml:"unchanged"`
	Unparsed  int `json:"unparsed" yaml:"unparsed"`
	Failed    int `json:"failed" yaml:"failed"`
}

// Rewriter rewrites the documents of one harvest.
type Rewriter struct {
	extractor *extractor.Extractor
	store     Store
	logger    *slog.Logger
}

// New creates a Rewriter. logger may be nil.
func New(ex *extractor.Extractor, store Store, logger *slog.Logger) *Rewriter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Rewriter{extractor: ex, store: store, logger: logger}
}

// RewriteAll rewrites every stored HTML and CSS file once. Failures are recorded in st.
func (r *Rewriter) RewriteAll(st *state.State) Counts {
	var c Counts
	for _, id := range st.Stored() {
		kind := st.KindOf(id)
		if kind == pathmap.KindOther {
			continue
		}

		changed, links, err := r.rewrite(st, id)
		switch {
		case errors.Is(err, extractor.ErrParse):
			c.Unparsed++
			r.logger.Debug("left unparsable file untouched", "identity", id, "error", err)
		case err != nil:
			c.Failed++
			st.Fail(st.BaseURL(id), models.PhaseRewrite, err)
			r.logger.Warn("rewrite failed", "identity", id, "error", err)
		case !changed:
			c.Unchanged++
		case kind == pathmap.KindCSS:
			c.CSS++
			c.Links += links
		default:
			c.HTML++
			c.Links += links
		}
	}
	r.logger.Info("rewrite complete", "html", c.HTML, "css", c.CSS, "links", c.Links, "unchanged", c.Unchanged, "failed", c.Failed)
	return c
}

// RewriteFile rewrites the file of id and reports whether its content changed.
func (r *Rewriter) RewriteFile(st *state.State, id urlnorm.Identity) (bool, error) {
	changed, _, err := r.rewrite(st, id)
	return changed, err
}

func (r *Rewriter) rewrite(st *state.State, id urlnorm.Identity) (bool, int, error) {
	p, ok := st.PathOf(id)
	if !ok || !st.IsStored(id) {
		return false, 0, fmt.Errorf("%s is not stored", id)
	}
	content, err := r.store.ReadFile(p)
	if err != nil {
		return false, 0, err
	}

	refs, err := r.extractor.Refs(content, st.KindOf(id), st.BaseURL(id))
	if err != nil {
		return false, 0, err
	}

	var out strings.Builder
	out.Grow(len(content))
	last, links := 0, 0
	for _, ref := range refs {
		if ref.Start < last {
			continue
		}
		replacement, ok := r.replacement(st, id, p, ref)
		if !ok {
			continue
		}
		raw := string(content[ref.Start:ref.End])
		if replacement == raw {
			continue
		}
		out.Write(content[last:ref.Start])
		out.WriteString(replacement)
		last = ref.End
		links++
	}
	if links == 0 {
		return false, 0, nil
	}
	out.Write(content[last:])

	if err := r.store.SaveFile(p, []byte(out.String())); err != nil {
		return false, 0, err
	}
	r.logger.Debug("rewrote file", "path", p, "links", links)
	return true, links, nil
}

// replacement returns the raw text that should replace ref, or false to keep it.
func (r *Rewriter) replacement(st *state.State, docID urlnorm.Identity, docPath string, ref extractor.Resolved) (string, bool) {
	if ref.Err != nil || !ref.Internal {
		return "", false
	}
	// Files from an earlier run may already reference local files.
	if !st.IsFetched(docID) && extractor.IsDocumentRelative(ref.Value) {
		if target, ok := pathmap.LocalTarget(docPath, ref.Value); ok {
			if _, owned := st.OwnerOf(target); owned || r.store.HasFile(target) {
				return "", false
			}
		}
	}
	target := ref.ID
	if !st.IsStored(target) {
		alias, ok := st.AliasOf(target)
		if !ok || !st.IsStored(alias) {
			return "", false
		}
		target = alias
	}
	targetPath, _ := st.PathOf(target)

	value := pathmap.Relative(docPath, targetPath) + ref.Fragment
	if ref.Attr == "css" {
		value = escapeCSS(value)
	}
	if ref.InAttr {
		value = html.EscapeString(value)
	}
	return value, true
}

var cssEscaper = strings.NewReplacer("(", "%28", ")", "%29", "'", "%27", `"`, "%22", " ", "%20")

func escapeCSS(s string) string {
	return cssEscaper.Replace(s)
}
