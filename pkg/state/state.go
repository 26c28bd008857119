// Package state holds the mutable bookkeeping of a harvest run: which identity owns which
// path, what has been stored and scanned, and what failed.
package state

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dtnitsch/site-harvest/models"
	"github.com/dtnitsch/site-harvest/pkg/pathmap"
	"github.com/dtnitsch/site-harvest/pkg/urlnorm"
)

// ErrPathCollision is returned when a path is already claimed by another identity.
var ErrPathCollision = errors.New("path collision")

// Assignment pairs an identity with its output path.
type Assignment struct {
	Identity urlnorm.Identity `json:"identity" yaml:"identity"`
	Path     string           `json:"path" yaml:"path"`
}

// State is owned by a single run and passed explicitly to every phase. It is not safe for
// concurrent use.
type State struct {
	captures map[urlnorm.Identity]models.CaptureRecord
	paths    map[urlnorm.Identity]string
	owners   map[string]urlnorm.Identity
	// dirs counts the claimed files below each directory.
	dirs    map[string]int
	stored  map[urlnorm.Identity]bool
	scanned map[urlnorm.Identity]bool
	// fetched marks files downloaded by this run; their references are still archive URLs.
	fetched  map[urlnorm.Identity]bool
	failed   map[urlnorm.Identity]bool
	failures []models.Failure
}

// New returns an empty State.
func New() *State {
	return &State{
		captures: make(map[urlnorm.Identity]models.CaptureRecord),
		paths:    make(map[urlnorm.Identity]string),
		owners:   make(map[string]urlnorm.Identity),
		dirs:     make(map[string]int),
		stored:   make(map[urlnorm.Identity]bool),
		scanned:  make(map[urlnorm.Identity]bool),
		fetched:  make(map[urlnorm.Identity]bool),
		failed:   make(map[urlnorm.Identity]bool),
	}
}

// Claim assigns path p to id. A path owned by another identity, a path already used as a
// directory, or a path below another identity's file is a collision; the first claimant
// keeps the path.
func (s *State) Claim(id urlnorm.Identity, p string) error {
	if cur, ok := s.paths[id]; ok {
		if cur == p {
			return nil
		}
		return fmt.Errorf("%w: %s already assigned to %s", ErrPathCollision, id, cur)
	}
	if owner, ok := s.owners[p]; ok {
		return fmt.Errorf("%w: %s is owned by %s", ErrPathCollision, p, owner)
	}
	if s.dirs[p] > 0 {
		return fmt.Errorf("%w: %s is a directory of other files", ErrPathCollision, p)
	}
	ancestors := pathmap.Ancestors(p)
	for _, dir := range ancestors {
		if owner, ok := s.owners[dir]; ok {
			return fmt.Errorf("%w: %s is a file owned by %s", ErrPathCollision, dir, owner)
		}
	}

	s.paths[id] = p
	s.owners[p] = id
	for _, dir := range ancestors {
		s.dirs[dir]++
	}
	return nil
}

// Unassign releases the path of id, used when its fetch failed.
func (s *State) Unassign(id urlnorm.Identity) {
	p, ok := s.paths[id]
	if !ok {
		return
	}
	delete(s.paths, id)
	delete(s.owners, p)
	delete(s.stored, id)
	delete(s.scanned, id)
	delete(s.fetched, id)
	delete(s.captures, id)
	for _, dir := range pathmap.Ancestors(p) {
		if s.dirs[dir]--; s.dirs[dir] <= 0 {
			delete(s.dirs, dir)
		}
	}
}

// SetCapture records the capture chosen for id.
func (s *State) SetCapture(id urlnorm.Identity, rec models.CaptureRecord) {
	s.captures[id] = rec
}

// Capture returns the capture chosen for id.
func (s *State) Capture(id urlnorm.Identity) (models.CaptureRecord, bool) {
	rec, ok := s.captures[id]
	return rec, ok
}

// PathOf returns the path assigned to id.
func (s *State) PathOf(id urlnorm.Identity) (string, bool) {
	p, ok := s.paths[id]
	return p, ok
}

// OwnerOf returns the identity that owns p.
func (s *State) OwnerOf(p string) (urlnorm.Identity, bool) {
	id, ok := s.owners[p]
	return id, ok
}

// AliasOf returns the identity that owns the file of id when id is another spelling of
// it, such as a query variant of a stylesheet or /about/index.html for /about.
func (s *State) AliasOf(id urlnorm.Identity) (urlnorm.Identity, bool) {
	owner, ok := s.owners[pathmap.Assign(id)]
	if !ok || owner == id || !pathmap.SameFile(owner, id) {
		return "", false
	}
	return owner, true
}

// IsAssigned reports whether id has a path.
func (s *State) IsAssigned(id urlnorm.Identity) bool {
	_, ok := s.paths[id]
	return ok
}

// MarkStored records that the file of id exists on disk. The identity must be assigned.
func (s *State) MarkStored(id urlnorm.Identity) {
	if s.IsAssigned(id) {
		s.stored[id] = true
	}
}

// IsStored reports whether id is assigned and its file was stored.
func (s *State) IsStored(id urlnorm.Identity) bool {
	return s.stored[id]
}

// MarkFetched records that the file of id was downloaded by this run and stored.
func (s *State) MarkFetched(id urlnorm.Identity) {
	if s.IsAssigned(id) {
		s.stored[id] = true
		s.fetched[id] = true
	}
}

// IsFetched reports whether the file of id was downloaded by this run. Other stored files
// come from an earlier run and may already hold rewritten references.
func (s *State) IsFetched(id urlnorm.Identity) bool {
	return s.fetched[id]
}

// BaseURL is the absolute URL that references inside the file of id resolve against.
func (s *State) BaseURL(id urlnorm.Identity) string {
	if rec, ok := s.captures[id]; ok && rec.Original != "" {
		return rec.Original
	}
	return string(id)
}

// MarkScanned records that the file of id has been scanned for references.
func (s *State) MarkScanned(id urlnorm.Identity) {
	s.scanned[id] = true
}

// Fail records a failure for url in phase.
func (s *State) Fail(url, phase string, err error) {
	f := models.Failure{URL: url, Phase: phase}
	if err != nil {
		f.Error = err.Error()
	}
	s.failures = append(s.failures, f)
}

// FailIdentity records a failure for url and remembers that id could not be mirrored.
func (s *State) FailIdentity(id urlnorm.Identity, url, phase string, err error) {
	s.failed[id] = true
	s.Fail(url, phase, err)
}

// HasFailed reports whether a failure was recorded for id. Failed identities are not retried.
func (s *State) HasFailed(id urlnorm.Identity) bool {
	return s.failed[id]
}

// Failures returns the recorded failures in the order they happened.
func (s *State) Failures() []models.Failure {
	return append([]models.Failure(nil), s.failures...)
}

// Stored returns the stored identities in sorted order.
func (s *State) Stored() []urlnorm.Identity {
	ids := make([]urlnorm.Identity, 0, len(s.stored))
	for id := range s.stored {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Frontier returns the stored, unscanned identities whose files can hold references, in
// sorted order.
func (s *State) Frontier() []urlnorm.Identity {
	var ids []urlnorm.Identity
	for id := range s.stored {
		if s.scanned[id] {
			continue
		}
		if s.KindOf(id) == pathmap.KindOther {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// KindOf classifies the file assigned to id.
func (s *State) KindOf(id urlnorm.Identity) pathmap.Kind {
	p, ok := s.paths[id]
	if !ok {
		return pathmap.KindOther
	}
	return pathmap.KindOf(p, s.captures[id].MimeType)
}

// Assignments returns every (identity, path) pair sorted by identity.
func (s *State) Assignments() []Assignment {
	out := make([]Assignment, 0, len(s.paths))
	for id, p := range s.paths {
		out = append(out, Assignment{Identity: id, Path: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// PathMap returns a copy of the identity to path mapping.
func (s *State) PathMap() map[urlnorm.Identity]string {
	out := make(map[urlnorm.Identity]string, len(s.paths))
	for id, p := range s.paths {
		out[id] = p
	}
	return out
}
