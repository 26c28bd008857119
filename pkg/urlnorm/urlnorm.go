// Package urlnorm canonicalizes URLs so that every spelling of one resource under the
// harvested domain maps to a single comparable Identity.
package urlnorm

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	// ErrInvalidURL is returned for references that cannot be turned into an absolute
	// http(s) URL.
	ErrInvalidURL = errors.New("invalid url")
	// ErrDenylisted is returned for URLs excluded on purpose. It is a filter, not a failure.
	ErrDenylisted = errors.New("denylisted url")
)

// Identity is the canonical string form of a resource.
type Identity string

func (id Identity) String() string { return string(id) }

// Host returns the identity host without port.
func (id Identity) Host() string {
	u, err := url.Parse(string(id))
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Path returns the escaped identity path.
func (id Identity) Path() string {
	u, err := url.Parse(string(id))
	if err != nil {
		return ""
	}
	return u.EscapedPath()
}

// Query returns the raw identity query string.
func (id Identity) Query() string {
	u, err := url.Parse(string(id))
	if err != nil {
		return ""
	}
	return u.RawQuery
}

// Reference prefixes that never name a fetchable resource.
var skippedPrefixes = []string{"mailto:", "javascript:", "data:", "tel:", "#"}

// Normalizer canonicalizes URLs for one harvested domain.
type Normalizer struct {
	domain       string
	hostPrefixes []string
	denylist     []*regexp.Regexp
}

// New builds a Normalizer for domain. Patterns are regular expressions matched against
// the identity path and query; an identity matching any of them is denylisted.
func New(domain string, patterns []string) (*Normalizer, error) {
	n := &Normalizer{hostPrefixes: []string{"www."}}
	n.domain = n.canonicalHost(domain)
	if n.domain == "" {
		return nil, fmt.Errorf("invalid domain %q", domain)
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid denylist pattern %q: %w", p, err)
		}
		n.denylist = append(n.denylist, re)
	}
	return n, nil
}

// Domain returns the canonical host of the harvested domain.
func (n *Normalizer) Domain() string { return n.domain }

// canonicalHost lowercases host, drops a trailing dot and collapses alternate-host prefixes.
func (n *Normalizer) canonicalHost(host string) string {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	for stripped := true; stripped; {
		stripped = false
		for _, prefix := range n.hostPrefixes {
			if strings.HasPrefix(host, prefix) && len(host) > len(prefix) {
				host = strings.TrimPrefix(host, prefix)
				stripped = true
			}
		}
	}
	return host
}

// Normalize returns the Identity of an absolute http(s) URL.
func (n *Normalizer) Normalize(raw string) (Identity, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	return n.normalizeURL(u)
}

func (n *Normalizer) normalizeURL(u *url.URL) (Identity, error) {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	host := n.canonicalHost(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(strings.Trim(host, "[]"), port)
	}

	p := cleanPath(u.EscapedPath())

	var b strings.Builder
	b.WriteString("http://")
	b.WriteString(host)
	b.WriteString(p)
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	id := Identity(b.String())

	if n.denylisted(p, u.RawQuery) {
		return id, ErrDenylisted
	}
	return id, nil
}

// cleanPath collapses repeated separators, resolves dot segments and strips the trailing
// separator of non-root paths.
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = path.Clean(p)
	if p == "." {
		return "/"
	}
	return p
}

func (n *Normalizer) denylisted(p, query string) bool {
	target := p
	if query != "" {
		target += "?" + query
	}
	for _, re := range n.denylist {
		if re.MatchString(target) {
			return true
		}
	}
	return false
}

// Resolve resolves ref against base and normalizes the result. It returns the absolute
// URL (fragment removed) alongside the identity.
func (n *Normalizer) Resolve(ref, base string) (string, Identity, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", fmt.Errorf("%w: empty reference", ErrInvalidURL)
	}
	lower := strings.ToLower(ref)
	for _, prefix := range skippedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return "", "", fmt.Errorf("%w: %s reference", ErrInvalidURL, strings.TrimSuffix(prefix, ":"))
		}
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", "", fmt.Errorf("%w: bad base %q: %v", ErrInvalidURL, base, err)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	abs := baseURL.ResolveReference(refURL)
	abs.Fragment = ""
	abs.RawFragment = ""
	id, err := n.normalizeURL(abs)
	if err != nil && !errors.Is(err, ErrDenylisted) {
		return "", "", err
	}
	return abs.String(), id, err
}

// IsInternal reports whether id belongs to the harvested domain.
func (n *Normalizer) IsInternal(id Identity) bool {
	return n.canonicalHost(id.Host()) == n.domain
}
