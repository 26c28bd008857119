// Package pathmap assigns each canonical identity a relative file path inside the mirror
// and computes the relative references between mirrored files.
package pathmap

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/dtnitsch/site-harvest/pkg/urlnorm"
)

// Kind classifies a mirrored file by how references inside it are found.
type Kind int

const (
	KindOther Kind = iota
	KindHTML
	KindCSS
)

func (k Kind) String() string {
	switch k {
	case KindHTML:
		return "html"
	case KindCSS:
		return "css"
	default:
		return "other"
	}
}

// IndexFile is the file name used for directory-like pages.
const IndexFile = "index.html"

// QueryPrefix prefixes file names derived from a query string.
const QueryPrefix = "q_"

// MaxQueryNameLength caps the query-derived part of a file name in bytes.
const MaxQueryNameLength = 160

// AssetExtensions are the extensions stored verbatim under their own path.
var AssetExtensions = map[string]bool{
	".css": true, ".js": true, ".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".svg": true, ".ico": true, ".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".otf": true, ".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true, ".zip": true, ".gz": true, ".tar": true, ".xml": true,
	".json": true, ".csv": true, ".txt": true, ".mp3": true, ".mp4": true, ".webm": true,
	".ogg": true, ".wav": true, ".map": true, ".swf": true,
}

var htmlExtensions = map[string]bool{".html": true, ".htm": true}

var unsafeQueryChars = regexp.MustCompile(`[^\p{L}\p{N}_\-.]`)

// HasKnownExtension reports whether the last segment of p ends in an asset or HTML extension.
func HasKnownExtension(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	return AssetExtensions[ext] || htmlExtensions[ext]
}

// Assign maps an identity to its relative output path. It is pure and never returns a
// path that leaves the output root.
func Assign(id urlnorm.Identity) string {
	segments := cleanSegments(id.Path())
	query := id.Query()
	rel := strings.Join(segments, "/")

	switch {
	case rel == "" && query == "":
		return IndexFile
	case rel != "" && HasKnownExtension(rel):
		return rel
	case query != "":
		name := queryFileName(query)
		if rel == "" {
			return name
		}
		return rel + "/" + name
	default:
		return rel + "/" + IndexFile
	}
}

// queryFileName derives a file name from a raw query. Long names are cut and suffixed
// with a hash of the full query so they stay unique and fit file system limits.
func queryFileName(query string) string {
	name := QueryPrefix + unsafeQueryChars.ReplaceAllString(query, "_")
	if len(name) > MaxQueryNameLength {
		cut := MaxQueryNameLength
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		sum := sha256.Sum256([]byte(query))
		name = name[:cut] + "_" + hex.EncodeToString(sum[:4])
	}
	return name + ".html"
}

// cleanSegments percent-decodes and NFC-normalizes an escaped path and returns its
// non-empty segments with dot segments neutralized.
func cleanSegments(escaped string) []string {
	decoded, err := url.PathUnescape(escaped)
	if err != nil {
		decoded = escaped
	}
	decoded = norm.NFC.String(decoded)
	decoded = strings.ReplaceAll(decoded, "\x00", "_")

	var out []string
	for _, seg := range strings.Split(decoded, "/") {
		switch seg {
		case "":
			continue
		case ".", "..":
			seg = "_" + seg
		}
		out = append(out, seg)
	}
	return out
}

// KindOf classifies a path, falling back to the MIME type hint for unknown extensions.
func KindOf(p, mimeHint string) Kind {
	switch strings.ToLower(path.Ext(p)) {
	case ".html", ".htm":
		return KindHTML
	case ".css":
		return KindCSS
	}
	if AssetExtensions[strings.ToLower(path.Ext(p))] {
		return KindOther
	}
	mime := strings.ToLower(mimeHint)
	switch {
	case strings.HasPrefix(mime, "text/html"), strings.HasPrefix(mime, "application/xhtml"):
		return KindHTML
	case strings.HasPrefix(mime, "text/css"):
		return KindCSS
	}
	return KindOther
}

// Dir returns the directory of a relative output path, "" for files at the root.
func Dir(p string) string {
	d := path.Dir(p)
	if d == "." {
		return ""
	}
	return d
}

// Ancestors returns every directory prefix of p, shortest first.
func Ancestors(p string) []string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		out = append(out, strings.Join(parts[:i], "/"))
	}
	return out
}

// Relative returns the slash-separated reference from the file at fromFile to the file at
// toFile, with every segment URL-escaped.
func Relative(fromFile, toFile string) string {
	from := splitNonEmpty(Dir(fromFile))
	to := splitNonEmpty(toFile)

	common := 0
	for common < len(from) && common < len(to)-1 && from[common] == to[common] {
		common++
	}

	segments := make([]string, 0, len(from)-common+len(to)-common)
	for i := common; i < len(from); i++ {
		segments = append(segments, "..")
	}
	for _, seg := range to[common:] {
		segments = append(segments, url.PathEscape(seg))
	}

	rel := strings.Join(segments, "/")
	// A leading segment with a colon would be read as a scheme.
	if first := segments[0]; first != ".." && strings.Contains(first, ":") {
		rel = "./" + rel
	}
	return rel
}

func splitNonEmpty(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// LocalTarget resolves a document-relative reference against the directory of docPath,
// dropping query and fragment. It fails for references that climb above the output root.
func LocalTarget(docPath, value string) (string, bool) {
	v := value
	if i := strings.IndexAny(v, "?#"); i >= 0 {
		v = v[:i]
	}
	if v == "" {
		return "", false
	}
	decoded, err := url.PathUnescape(v)
	if err != nil {
		return "", false
	}
	joined := path.Join(Dir(docPath), decoded)
	if joined == "." || joined == ".." || strings.HasPrefix(joined, "../") {
		return "", false
	}
	return joined, true
}

// QueryAlias returns id without its query when Assign ignores the query, so both
// spellings name the same file.
func QueryAlias(id urlnorm.Identity) (urlnorm.Identity, bool) {
	s := string(id)
	i := strings.IndexByte(s, '?')
	if i < 0 {
		return "", false
	}
	alias := urlnorm.Identity(s[:i])
	if Assign(alias) != Assign(id) {
		return "", false
	}
	return alias, true
}

// IndexAlias returns the directory identity of an explicit index page, such as
// /about for /about/index.html, when both are assigned the same file.
func IndexAlias(id urlnorm.Identity) (urlnorm.Identity, bool) {
	s := string(id)
	if strings.IndexByte(s, '?') >= 0 {
		return "", false
	}
	i := strings.LastIndexByte(s, '/')
	if i < 0 || s[i+1:] != IndexFile {
		return "", false
	}
	dir := s[:i]
	if j := strings.Index(dir, "://"); j < 0 || !strings.Contains(dir[j+3:], "/") {
		dir += "/"
	}
	alias := urlnorm.Identity(dir)
	if Assign(alias) != Assign(id) {
		return "", false
	}
	return alias, true
}

// Canonical strips the spellings that do not change the assigned file: a query Assign
// ignores and an explicit index file name.
func Canonical(id urlnorm.Identity) urlnorm.Identity {
	if alias, ok := QueryAlias(id); ok {
		id = alias
	}
	if alias, ok := IndexAlias(id); ok {
		id = alias
	}
	return id
}

// SameFile reports whether a and b are spellings of one mirrored file.
func SameFile(a, b urlnorm.Identity) bool {
	return Canonical(a) == Canonical(b)
}

// DetectCollisions returns every contested path with the identities that claim it. Two
// identities with the same path collide, and so does an identity whose file path is used
// as a directory by another.
func DetectCollisions(assignments map[urlnorm.Identity]string) map[string][]urlnorm.Identity {
	byPath := make(map[string][]urlnorm.Identity, len(assignments))
	for id, p := range assignments {
		byPath[p] = append(byPath[p], id)
	}

	collisions := make(map[string][]urlnorm.Identity)
	for p, ids := range byPath {
		if len(ids) > 1 {
			collisions[p] = append(collisions[p], ids...)
		}
	}
	for p, ids := range byPath {
		for _, dir := range Ancestors(p) {
			owners, ok := byPath[dir]
			if !ok {
				continue
			}
			if _, seen := collisions[dir]; !seen {
				collisions[dir] = append(collisions[dir], owners...)
			}
			collisions[dir] = append(collisions[dir], ids...)
		}
	}

	for p, ids := range collisions {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		collisions[p] = dedupe(ids)
	}
	return collisions
}

func dedupe(ids []urlnorm.Identity) []urlnorm.Identity {
	out := ids[:0]
	for i, id := range ids {
		if i > 0 && id == ids[i-1] {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Invert recovers the identity that Assign maps to p under domain. Query-derived file
// names cannot be inverted. The result is only returned when it round-trips.
func Invert(domain, p string) (urlnorm.Identity, bool) {
	p = strings.TrimPrefix(p, "/")
	if p == "" || strings.Contains(p, "\\") {
		return "", false
	}

	var rawPath string
	switch {
	case p == IndexFile:
		rawPath = "/"
	case strings.HasSuffix(p, "/"+IndexFile):
		rawPath = "/" + strings.TrimSuffix(p, "/"+IndexFile)
	case strings.HasPrefix(path.Base(p), QueryPrefix) && strings.HasSuffix(p, ".html"):
		return "", false
	case HasKnownExtension(p):
		rawPath = "/" + p
	default:
		return "", false
	}

	u := url.URL{Scheme: "http", Host: domain, Path: rawPath}
	id := urlnorm.Identity(u.String())
	if Assign(id) != p {
		return "", false
	}
	return id, true
}
