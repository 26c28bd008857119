// Package cdx queries the Wayback capture index (CDX server API).
package cdx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/dtnitsch/site-harvest/models"
	"github.com/dtnitsch/site-harvest/pkg/caching"
)

const (
	searchPath = "/cdx/search/cdx"
	listFields = "urlkey,timestamp,original,mimetype,statuscode,digest,length"
	listLimit  = "100000"
)

// Getter performs a rate-limited, retried GET.
type Getter interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// Client lists captures and finds the capture nearest a timestamp.
type Client struct {
	getter Getter
	base   string
	cache  *caching.Cache
	logger *slog.Logger
}

// NewClient creates a Client for the archive at base. cache may be nil.
func NewClient(getter Getter, base string, cache *caching.Cache, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{getter: getter, base: base, cache: cache, logger: logger}
}

// ListURL returns the listing query for every successful capture under domain, collapsed
// to one row per URL key. Closest-first sorting must not be combined with collapse; the
// index stalls on large domains.
func (c *Client) ListURL(domain string) string {
	q := url.Values{}
	q.Set("url", domain+"/*")
	q.Set("output", "json")
	q.Set("fl", listFields)
	q.Set("filter", "statuscode:200")
	q.Set("collapse", "urlkey")
	q.Set("limit", listLimit)
	return c.base + searchPath + "?" + q.Encode()
}

// ListCaptures returns the captures of every URL under domain. The alternate www host
// shares URL keys with the bare host, so one query covers both.
func (c *Client) ListCaptures(ctx context.Context, domain string) ([]models.CaptureRecord, error) {
	query := c.ListURL(domain)

	if data, ok := c.cache.Get(query); ok {
		records, err := ParseRows(data)
		if err == nil {
			c.logger.Info("using cached capture listing", "domain", domain, "records", len(records))
			return records, nil
		}
		c.logger.Warn("ignoring unreadable cached listing", "domain", domain, "error", err)
	}

	data, err := c.getter.Get(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query capture index: %w", err)
	}
	records, err := ParseRows(data)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(query, data); err != nil {
		c.logger.Warn("failed to cache capture listing", "error", err)
	}
	return records, nil
}

// BestCapture returns the timestamp of the successful capture of original closest to
// target. The boolean is false when the index has no such capture.
func (c *Client) BestCapture(ctx context.Context, original, target string) (string, bool, error) {
	q := url.Values{}
	q.Set("url", original)
	q.Set("output", "json")
	q.Set("fl", "timestamp")
	q.Set("filter", "statuscode:200")
	q.Set("closest", target)
	q.Set("sort", "closest")
	q.Set("limit", "1")

	data, err := c.getter.Get(ctx, c.base+searchPath+"?"+q.Encode())
	if err != nil {
		return "", false, fmt.Errorf("failed to query capture index: %w", err)
	}

	var rows [][]string
	if len(data) == 0 {
		return "", false, nil
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return "", false, fmt.Errorf("failed to parse capture index response: %w", err)
	}
	if len(rows) < 2 || len(rows[1]) == 0 || rows[1][0] == "" {
		return "", false, nil
	}
	return rows[1][0], true, nil
}

// ParseRows decodes a JSON listing. The first row names the columns.
func ParseRows(data []byte) ([]models.CaptureRecord, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var rows [][]string
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse capture index response: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[name] = i
	}
	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}
	if _, ok := col["original"]; !ok {
		return nil, fmt.Errorf("capture index response has no original column")
	}

	records := make([]models.CaptureRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := models.CaptureRecord{
			Original:  field(row, "original"),
			Timestamp: field(row, "timestamp"),
			MimeType:  field(row, "mimetype"),
			Digest:    field(row, "digest"),
		}
		if rec.Original == "" {
			continue
		}
		rec.StatusCode, _ = strconv.Atoi(field(row, "statuscode"))
		rec.Length, _ = strconv.ParseInt(field(row, "length"), 10, 64)
		records = append(records, rec)
	}
	return records, nil
}
