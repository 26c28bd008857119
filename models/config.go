// Package models defines data structures for configuration and harvest results.
package models

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultWaybackBase is the archive host used for CDX queries and capture downloads.
const DefaultWaybackBase = "https://web.archive.org"

// DefaultExcludePatterns are path patterns for non-content endpoints with unbounded
// parameter spaces (login forms, search results, suspended-account pages).
var DefaultExcludePatterns = []string{
	`cgi-sys/suspendedpage\.cgi`,
	`user/login`,
	`user/password`,
	`user/register`,
	`search/node`,
}

var timestampPattern = regexp.MustCompile(`^[0-9]{4,14}$`)

// HarvestConfig holds runtime configuration for a harvest run.
// Values come from an optional YAML file and are overridden by CLI flags.
type HarvestConfig struct {
	Domain          string        `yaml:"domain"`
	Timestamp       string        `yaml:"timestamp"` // target Wayback timestamp, 4-14 digits
	OutputDir       string        `yaml:"output_dir"`
	WaybackBase     string        `yaml:"wayback_base"`
	UserAgent       string        `yaml:"user_agent"`
	Delay           time.Duration `yaml:"delay"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBase       time.Duration `yaml:"retry_base"`
	MaxRounds       int           `yaml:"max_rounds"`
	ExcludePatterns []string      `yaml:"exclude_patterns"`
	Resume          bool          `yaml:"resume"`
	SkipRewrite     bool          `yaml:"skip_rewrite"`
	Catalog         bool          `yaml:"catalog"`
	CDXCacheDir     string        `yaml:"cdx_cache_dir"`
	CDXCacheTTL     time.Duration `yaml:"cdx_cache_ttl"`
}

// DefaultConfig returns the configuration used when neither a file nor flags say otherwise.
func DefaultConfig() HarvestConfig {
	return HarvestConfig{
		Timestamp:       time.Now().UTC().Format("20060102"),
		OutputDir:       "mirror",
		WaybackBase:     DefaultWaybackBase,
		UserAgent:       "site-harvest/1.0 (research archival)",
		Delay:           time.Second,
		Timeout:         2 * time.Minute,
		MaxRetries:      5,
		RetryBase:       time.Second,
		MaxRounds:       2,
		ExcludePatterns: append([]string(nil), DefaultExcludePatterns...),
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig.
// A missing file is not an error; the defaults are returned unchanged.
func LoadConfig(path string) (HarvestConfig, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields whose errors are fatal at startup.
func (c *HarvestConfig) Validate() error {
	c.Domain = strings.TrimSpace(strings.ToLower(c.Domain))
	c.Domain = strings.TrimSuffix(c.Domain, ".")
	if c.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	if strings.ContainsAny(c.Domain, "/:?#@ ") {
		return fmt.Errorf("invalid domain %q: expected a bare host name like example.org", c.Domain)
	}
	for strings.HasPrefix(c.Domain, "www.") && len(c.Domain) > len("www.") {
		c.Domain = strings.TrimPrefix(c.Domain, "www.")
	}
	if !timestampPattern.MatchString(c.Timestamp) {
		return fmt.Errorf("invalid timestamp %q: expected 4-14 digits (YYYYMMDDhhmmss prefix)", c.Timestamp)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = 1
	}
	if c.MaxRounds < 1 {
		c.MaxRounds = 1
	}
	if c.Delay < 0 {
		c.Delay = 0
	}
	if c.WaybackBase == "" {
		c.WaybackBase = DefaultWaybackBase
	}
	c.WaybackBase = strings.TrimSuffix(c.WaybackBase, "/")
	for _, p := range c.ExcludePatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
	}
	return nil
}

// SnapshotURL is the Wayback URL of the domain root at the target timestamp.
func (c *HarvestConfig) SnapshotURL() string {
	return fmt.Sprintf("%s/web/%s/http://%s/", c.WaybackBase, c.Timestamp, c.Domain)
}
