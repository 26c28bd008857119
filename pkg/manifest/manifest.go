// Package manifest writes and reads the manifest.json that describes a mirror: what was
// harvested, where each identity lives, and what failed.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dtnitsch/site-harvest/models"
	"github.com/dtnitsch/site-harvest/pkg/state"
	"github.com/dtnitsch/site-harvest/pkg/urlnorm"
)

// FileName is the manifest's name in the output root. FallbackName is used when a mirrored
// file already owns FileName.
const (
	FileName     = "manifest.json"
	FallbackName = ".site-harvest-manifest.json"
)

// ErrNotFound is returned by Load when the output root holds no manifest.
var ErrNotFound = errors.New("manifest not found")

// Store is the subset of the output store the manifest needs.
type Store interface {
	HasFile(rel string) bool
	ReadFile(rel string) ([]byte, error)
	SaveFile(rel string, content []byte) error
}

// Manifest is the serialized description of one harvest run.
type Manifest struct {
	HarvestDate     string `json:"harvest_date"`
	RunID           string `json:"run_id,omitempty"`
	Domain          string `json:"domain"`
	TargetTimestamp string `json:"target_timestamp"`
	SnapshotURL     string `json:"wayback_snapshot"`
	// Rewritten is false when the files still hold archive references.
	Rewritten   bool             `json:"rewritten"`
	Stats       models.Stats     `json:"statistics"`
	Files       []string         `json:"files"`
	Assignments []Entry          `json:"assignments"`
	Failures    []models.Failure `json:"failures"`
}

// Entry maps one identity to its file and the capture it was taken from.
type Entry struct {
	Identity    urlnorm.Identity `json:"identity"`
	Path        string           `json:"path"`
	Original    string           `json:"original,omitempty"`
	Timestamp   string           `json:"timestamp,omitempty"`
	MimeType    string           `json:"mimetype,omitempty"`
	Synthesized bool             `json:"synthesized,omitempty"`
	// Pending is set for files that still hold archive references.
	Pending bool `json:"pending_rewrite,omitempty"`
}

// Build creates a manifest from the final state of a run. Only stored identities are listed.
func Build(cfg models.HarvestConfig, runID string, st *state.State, stats models.Stats, rewritten bool, now time.Time) *Manifest {
	m := &Manifest{
		HarvestDate:     now.UTC().Format(time.RFC3339),
		RunID:           runID,
		Domain:          cfg.Domain,
		TargetTimestamp: cfg.Timestamp,
		SnapshotURL:     cfg.SnapshotURL(),
		Rewritten:       rewritten,
		Stats:           stats,
		Files:           []string{},
		Assignments:     []Entry{},
		Failures:        st.Failures(),
	}
	if m.Failures == nil {
		m.Failures = []models.Failure{}
	}

	for _, a := range st.Assignments() {
		if !st.IsStored(a.Identity) {
			continue
		}
		rec, _ := st.Capture(a.Identity)
		m.Files = append(m.Files, a.Path)
		m.Assignments = append(m.Assignments, Entry{
			Identity:    a.Identity,
			Path:        a.Path,
			Original:    rec.Original,
			Timestamp:   rec.Timestamp,
			MimeType:    rec.MimeType,
			Synthesized: rec.Synthesized,
			Pending:     !rewritten && st.IsFetched(a.Identity),
		})
	}
	sort.Strings(m.Files)
	return m
}

// Name returns the file name the manifest is written under for st.
func Name(st *state.State) string {
	if _, owned := st.OwnerOf(FileName); owned {
		return FallbackName
	}
	return FileName
}

// Write saves m as indented JSON under name.
func Write(store Store, name string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshalling manifest: %w", err)
	}
	if err := store.SaveFile(name, data); err != nil {
		return fmt.Errorf("error saving manifest: %w", err)
	}
	return nil
}

// Load reads the manifest of an existing mirror. The fallback name is preferred because
// FileName may then be a mirrored page.
func Load(store Store) (*Manifest, string, error) {
	for _, name := range []string{FallbackName, FileName} {
		if !store.HasFile(name) {
			continue
		}
		data, err := store.ReadFile(name)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", name, err)
		}
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			if name == FileName {
				// A mirrored manifest.json is not ours.
				continue
			}
			return nil, "", fmt.Errorf("failed to parse %s: %w", name, err)
		}
		if m.Domain == "" {
			continue
		}
		return &m, name, nil
	}
	return nil, "", fmt.Errorf("%w in output directory", ErrNotFound)
}

// PendingPaths returns the paths of files that still hold archive references.
func (m *Manifest) PendingPaths() map[string]bool {
	pending := make(map[string]bool)
	for _, e := range m.Assignments {
		if e.Pending {
			pending[e.Path] = true
		}
	}
	return pending
}

// Restore claims every entry whose file still exists into st. Files pending a rewrite are
// marked as fetched so their archive references are rewritten. It returns the number of
// restored entries.
func (m *Manifest) Restore(st *state.State, store Store) int {
	restored := 0
	for _, e := range m.Assignments {
		if !store.HasFile(e.Path) {
			continue
		}
		if err := st.Claim(e.Identity, e.Path); err != nil {
			continue
		}
		st.SetCapture(e.Identity, models.CaptureRecord{
			Original:    e.Original,
			Timestamp:   e.Timestamp,
			MimeType:    e.MimeType,
			Synthesized: e.Synthesized,
		})
		if e.Pending {
			st.MarkFetched(e.Identity)
		} else {
			st.MarkStored(e.Identity)
		}
		restored++
	}
	return restored
}
