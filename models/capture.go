package models

// CaptureRecord is one archived snapshot of a URL as reported by the capture index.
// Records are never modified after creation.
type CaptureRecord struct {
	Original   string `json:"original" yaml:"original"`
	Timestamp  string `json:"timestamp" yaml:"timestamp"`
	MimeType   string `json:"mimetype,omitempty" yaml:"mimetype,omitempty"`
	StatusCode int    `json:"statuscode,omitempty" yaml:"statuscode,omitempty"`
	Digest     string `json:"digest,omitempty" yaml:"digest,omitempty"`
	Length     int64  `json:"length,omitempty" yaml:"length,omitempty"`

	// Synthesized is set for records created for references found outside the index.
	Synthesized bool `json:"synthesized,omitempty" yaml:"synthesized,omitempty"`
}

// Failure phases reported by a run.
const (
	PhaseCDXQuery       = "cdx_query"
	PhaseCDXDownload    = "cdx_download"
	PhasePathCollision  = "path_collision"
	PhaseWrite          = "write"
	PhaseRewrite        = "rewrite"
	PhaseAssetRoundBase = "asset_round_"
)

// Failure records a URL that could not be mirrored and the phase where it failed.
type Failure struct {
	URL   string `json:"url" yaml:"url"`
	Phase string `json:"phase" yaml:"phase"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}
