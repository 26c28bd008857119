package models

// Stats are the counters of one harvest run.
type Stats struct {
	CDXTotal    int `json:"cdx_total" yaml:"cdx_total"`
	CDXInvalid  int `json:"cdx_invalid" yaml:"cdx_invalid"`
	CDXExcluded int `json:"cdx_excluded" yaml:"cdx_excluded"`
	// Unique counts identities after deduplication, external ones included.
	Unique   int `json:"unique" yaml:"unique"`
	External int `json:"external" yaml:"external"`
	Aliased  int `json:"aliased" yaml:"aliased"`

	Downloaded    int `json:"downloaded" yaml:"downloaded"`
	SkippedResume int `json:"skipped_resume" yaml:"skipped_resume"`

	DiscoveryRounds  int  `json:"discovery_rounds" yaml:"discovery_rounds"`
	Fixpoint         bool `json:"fixpoint" yaml:"fixpoint"`
	Discovered       int  `json:"discovered" yaml:"discovered"`
	AssetsDownloaded int  `json:"assets_downloaded" yaml:"assets_downloaded"`
	Adopted          int  `json:"adopted" yaml:"adopted"`

	RewrittenHTML  int `json:"rewritten_html" yaml:"rewritten_html"`
	RewrittenCSS   int `json:"rewritten_css" yaml:"rewritten_css"`
	RewrittenLinks int `json:"rewritten_links" yaml:"rewritten_links"`

	Files       int            `json:"files" yaml:"files"`
	Failed      int            `json:"failed" yaml:"failed"`
	Bytes       int64          `json:"bytes" yaml:"bytes"`
	ByExtension map[string]int `json:"by_extension,omitempty" yaml:"by_extension,omitempty"`
}
