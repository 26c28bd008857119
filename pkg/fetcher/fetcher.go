// Package fetcher downloads archived captures and capture-index pages with rate limiting
// and retry.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

var (
	// ErrTransient marks failures worth retrying: throttling, gateway errors and network
	// errors.
	ErrTransient = errors.New("transient fetch error")
	// ErrPermanent marks failures that will not change on retry, such as 404 or 410.
	ErrPermanent = errors.New("permanent fetch error")
)

// Error describes a failed request.
type Error struct {
	Kind       error
	StatusCode int
	URL        string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: status %d: %v", e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.URL, e.Kind)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}

var transientStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
	520:                            true,
	521:                            true,
	522:                            true,
	523:                            true,
	524:                            true,
}

// Options configures a Fetcher.
type Options struct {
	// WaybackBase is the archive host, e.g. https://web.archive.org.
	WaybackBase string
	UserAgent   string
	Timeout     time.Duration
	// Delay is the minimum spacing between any two requests, retries included.
	Delay      time.Duration
	MaxRetries int
	RetryBase  time.Duration
	Client     *http.Client
	Logger     *slog.Logger
}

type Fetcher struct {
	client     *http.Client
	limiter    *rate.Limiter
	base       string
	userAgent  string
	maxRetries int
	retryBase  time.Duration
	logger     *slog.Logger
}

// NewFetcher builds a Fetcher. Every request made through it waits on one shared limiter.
func NewFetcher(opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	retryBase := opts.RetryBase
	if retryBase <= 0 {
		retryBase = time.Second
	}

	return &Fetcher{
		client:     client,
		limiter:    rate.NewLimiter(limit, 1),
		base:       strings.TrimSuffix(opts.WaybackBase, "/"),
		userAgent:  opts.UserAgent,
		maxRetries: maxRetries,
		retryBase:  retryBase,
		logger:     logger,
	}
}

// CaptureURL returns the raw-content archive URL of original at timestamp. The id_ flag
// asks the archive for the bytes as captured, without its toolbar or link rewriting.
func (f *Fetcher) CaptureURL(original, timestamp string) string {
	return fmt.Sprintf("%s/web/%sid_/%s", f.base, timestamp, original)
}

// Fetch downloads the capture of original nearest to timestamp.
func (f *Fetcher) Fetch(ctx context.Context, original, timestamp string) ([]byte, error) {
	return f.Get(ctx, f.CaptureURL(original, timestamp))
}

// Get downloads rawURL, retrying transient failures with exponential backoff.
func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.retryBase
	policy.Multiplier = 2
	policy.MaxInterval = 60 * f.retryBase
	policy.MaxElapsedTime = 0

	var body []byte
	attempt := 0
	op := func() error {
		attempt++
		data, err := f.getOnce(ctx, rawURL)
		if err == nil {
			body = data
			return nil
		}
		if errors.Is(err, ErrPermanent) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		f.logger.Warn("retrying request", "url", rawURL, "attempt", attempt, "max", f.maxRetries, "wait", wait, "error", err)
	}

	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(f.maxRetries-1)), ctx)
	if err := backoff.RetryNotify(op, retry, notify); err != nil {
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) getOnce(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: ErrTransient, URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: ErrPermanent, URL: rawURL, Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	f.logger.Debug("fetching", "url", rawURL)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: ErrTransient, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		kind := ErrPermanent
		if transientStatus[resp.StatusCode] {
			kind = ErrTransient
		}
		return nil, &Error{Kind: kind, StatusCode: resp.StatusCode, URL: rawURL}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrTransient, URL: rawURL, Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	return data, nil
}
