package harvest

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dtnitsch/site-harvest/models"
	"github.com/dtnitsch/site-harvest/pkg/mapreduce"
	"github.com/dtnitsch/site-harvest/pkg/state"
)

// Commands recorded in a report.
const (
	CommandHarvest = "harvest"
	CommandRewrite = "rewrite"
)

// Report statuses.
const (
	StatusSuccess        = "success"
	StatusPartialFailure = "partial_failure"
	StatusFailed         = "failed"
	StatusCancelled      = "cancelled"
)

// SummaryFailures is how many failures the summary lists.
const SummaryFailures = 20

// Report is the outcome of one run.
type Report struct {
	RunID        string             `json:"run_id" yaml:"run_id"`
	Command      string             `json:"command" yaml:"command"`
	Domain       string             `json:"domain" yaml:"domain"`
	Timestamp    string             `json:"target_timestamp" yaml:"target_timestamp"`
	SnapshotURL  string             `json:"wayback_snapshot" yaml:"wayback_snapshot"`
	OutputDir    string             `json:"output_dir" yaml:"output_dir"`
	ManifestPath string             `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	StartedAt    time.Time          `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time          `json:"finished_at" yaml:"finished_at"`
	Cancelled    bool               `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	Stats        models.Stats       `json:"statistics" yaml:"statistics"`
	Assignments  []state.Assignment `json:"assignments" yaml:"assignments"`
	Failures     []models.Failure   `json:"failures" yaml:"failures"`
}

// Status classifies the run: failed when nothing was stored, partial when some URLs failed.
func (r *Report) Status() string {
	switch {
	case r.Cancelled:
		return StatusCancelled
	case r.Stats.Files == 0 && len(r.Failures) > 0:
		return StatusFailed
	case len(r.Failures) > 0:
		return StatusPartialFailure
	default:
		return StatusSuccess
	}
}

// ExitCode maps the status to the process exit code: 0 success, 1 partial, 2 failed.
func (r *Report) ExitCode() int {
	switch r.Status() {
	case StatusSuccess:
		return 0
	case StatusFailed:
		return 2
	default:
		return 1
	}
}

// WriteSummary prints the human-readable summary of the run.
func (r *Report) WriteSummary(w io.Writer) {
	s := r.Stats
	line := strings.Repeat("=", 60)
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "%s summary: %s @ %s (%s)\n", r.Command, r.Domain, r.Timestamp, r.Status())
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "  Run ID:              %s\n", r.RunID)
	fmt.Fprintf(w, "  Output:              %s\n", r.OutputDir)
	if r.Command == CommandHarvest {
		fmt.Fprintf(w, "  Captures listed:     %d (%d unique, %d excluded, %d invalid, %d external)\n",
			s.CDXTotal, s.Unique, s.CDXExcluded, s.CDXInvalid, s.External)
		fmt.Fprintf(w, "  Downloaded:          %d\n", s.Downloaded)
		fmt.Fprintf(w, "  Skipped (resume):    %d\n", s.SkippedResume)
		fixpoint := "round limit reached"
		if s.Fixpoint {
			fixpoint = "complete"
		}
		fmt.Fprintf(w, "  Discovery:           %d rounds, %s\n", s.DiscoveryRounds, fixpoint)
		fmt.Fprintf(w, "  Assets discovered:   %d (%d downloaded, %d adopted)\n", s.Discovered, s.AssetsDownloaded, s.Adopted)
	}
	fmt.Fprintf(w, "  Rewritten:           %d HTML, %d CSS, %d links\n", s.RewrittenHTML, s.RewrittenCSS, s.RewrittenLinks)
	fmt.Fprintf(w, "  Files:               %d\n", s.Files)
	fmt.Fprintf(w, "  Total size:          %s\n", humanize.Bytes(uint64(s.Bytes)))
	fmt.Fprintf(w, "  Failed:              %d\n", len(r.Failures))
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(w, "  Duration:            %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	}

	if len(s.ByExtension) > 0 {
		fmt.Fprintln(w, "\n  Files by extension:")
		for _, c := range mapreduce.TopN(s.ByExtension, 0) {
			fmt.Fprintf(w, "    %-8s %s\n", c.Key, humanize.Comma(int64(c.Value)))
		}
	}

	if len(r.Failures) > 0 {
		fmt.Fprintf(w, "\n  Failures (first %d):\n", min(SummaryFailures, len(r.Failures)))
		for _, f := range r.Failures[:min(SummaryFailures, len(r.Failures))] {
			fmt.Fprintf(w, "    [%s] %s\n", f.Phase, f.URL)
		}
		if extra := len(r.Failures) - SummaryFailures; extra > 0 {
			fmt.Fprintf(w, "    ... and %d more (see %s)\n", extra, r.manifestName())
		}
	}
	fmt.Fprintln(w, line)
}

func (r *Report) manifestName() string {
	if r.ManifestPath != "" {
		return r.ManifestPath
	}
	return "manifest.json"
}
