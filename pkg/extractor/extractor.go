// Package extractor finds the references inside HTML and CSS documents and resolves them
// to canonical identities.
package extractor

import (
	"errors"
	"strings"

	"github.com/dtnitsch/site-harvest/pkg/pathmap"
	"github.com/dtnitsch/site-harvest/pkg/urlnorm"
)

// Resolved is a reference resolved against its document URL.
type Resolved struct {
	Ref
	// URL is the absolute reference without fragment.
	URL string
	ID  urlnorm.Identity
	// Fragment is the original fragment including its leading '#', if any.
	Fragment string
	Internal bool
	Err      error
}

// Extractor resolves scanned references for one harvested domain.
type Extractor struct {
	norm *urlnorm.Normalizer
}

// New creates an Extractor backed by n.
func New(n *urlnorm.Normalizer) *Extractor {
	return &Extractor{norm: n}
}

// Refs scans content and resolves every reference against base. References that cannot be
// resolved are returned with Err set so callers can keep their bytes untouched.
func (e *Extractor) Refs(content []byte, kind pathmap.Kind, base string) ([]Resolved, error) {
	refs, err := Scan(content, kind)
	if err != nil {
		return nil, err
	}

	out := make([]Resolved, 0, len(refs))
	for _, ref := range refs {
		r := Resolved{Ref: ref}
		if i := strings.IndexByte(ref.Value, '#'); i >= 0 {
			r.Fragment = ref.Value[i:]
		}
		r.URL, r.ID, r.Err = e.norm.Resolve(ref.Value, base)
		if r.Err == nil {
			r.Internal = e.norm.IsInternal(r.ID)
		}
		out = append(out, r)
	}
	return out, nil
}

// Extract returns the internal identities referenced by content, each with the first
// absolute URL seen for it. Denylisted, external and unusable references are ignored.
func (e *Extractor) Extract(content []byte, kind pathmap.Kind, base string) (map[urlnorm.Identity]string, error) {
	refs, err := e.Refs(content, kind, base)
	if err != nil {
		return map[urlnorm.Identity]string{}, err
	}

	found := make(map[urlnorm.Identity]string)
	for _, r := range refs {
		if r.Err != nil || !r.Internal {
			continue
		}
		if _, ok := found[r.ID]; !ok {
			found[r.ID] = r.URL
		}
	}
	return found, nil
}

// IsDenylisted reports whether r was skipped because its target is excluded.
func (r Resolved) IsDenylisted() bool {
	return errors.Is(r.Err, urlnorm.ErrDenylisted)
}

// IsDocumentRelative reports whether the raw reference is resolved against the referencing
// document's directory: it has no scheme, no host and no leading slash.
func IsDocumentRelative(value string) bool {
	v := strings.TrimSpace(value)
	if v == "" || strings.HasPrefix(v, "/") || strings.HasPrefix(v, "#") || strings.HasPrefix(v, "?") {
		return false
	}
	if i := strings.IndexAny(v, ":/?#"); i >= 0 && v[i] == ':' {
		return false
	}
	return true
}
