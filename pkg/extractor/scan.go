package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
	xhtml "golang.org/x/net/html"

	"github.com/dtnitsch/site-harvest/pkg/pathmap"
)

// ErrParse is returned for content that cannot be scanned as markup or CSS.
var ErrParse = errors.New("parse error")

// Ref is one reference token found in a document.
type Ref struct {
	// Start and End delimit the raw token in the scanned content.
	Start int
	End   int
	// Value is the reference with HTML character references decoded.
	Value string
	// Attr is the attribute the token came from, or "css" for stylesheet text.
	Attr string
	// InAttr is set when the token sits inside an HTML attribute value.
	InAttr bool
}

// attribute names that carry a single URL, keyed by tag
var urlAttrs = map[string][]string{
	"a":      {"href"},
	"area":   {"href"},
	"link":   {"href"},
	"script": {"src"},
	"img":    {"src", "srcset"},
	"iframe": {"src"},
	"embed":  {"src"},
	"source": {"src", "srcset"},
	"track":  {"src"},
	"audio":  {"src"},
	"video":  {"src", "poster"},
	"input":  {"src"},
	"object": {"data"},
}

// Scan finds every reference in content. The same scanner feeds discovery and rewriting,
// so both see exactly the same tokens. Refs are returned in document order.
func Scan(content []byte, kind pathmap.Kind) ([]Ref, error) {
	switch kind {
	case pathmap.KindHTML:
		return scanHTML(content)
	case pathmap.KindCSS:
		if looksBinary(content) {
			return nil, fmt.Errorf("%w: binary content", ErrParse)
		}
		return scanCSS(content, 0, false), nil
	default:
		return nil, nil
	}
}

func looksBinary(content []byte) bool {
	head := content
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.IndexByte(head, 0) >= 0
}

func scanHTML(content []byte) ([]Ref, error) {
	if looksBinary(content) {
		return nil, fmt.Errorf("%w: binary content", ErrParse)
	}

	var refs []Ref
	z := xhtml.NewTokenizer(bytes.NewReader(content))
	offset := 0
	inStyle := false

	for {
		tt := z.Next()
		raw := z.Raw()
		start := offset
		offset += len(raw)

		switch tt {
		case xhtml.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return refs, nil
			}
			return nil, fmt.Errorf("%w: %v", ErrParse, z.Err())

		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			refs = append(refs, scanTag(content[start:offset], start, tag)...)
			inStyle = tt == xhtml.StartTagToken && tag == "style"

		case xhtml.TextToken:
			if inStyle {
				refs = append(refs, scanCSS(content[start:offset], start, false)...)
			}
			inStyle = false

		default:
			inStyle = false
		}
	}
}

// scanTag extracts the references from one raw start tag located at base.
func scanTag(raw []byte, base int, tag string) []Ref {
	wanted := urlAttrs[tag]
	var refs []Ref
	for _, a := range lexAttrs(raw) {
		if !a.hasValue {
			continue
		}
		value := raw[a.valStart:a.valEnd]
		switch {
		case a.name == "style":
			refs = append(refs, scanCSS(value, base+a.valStart, true)...)
		case a.name == "srcset" && contains(wanted, "srcset"):
			refs = append(refs, scanSrcset(value, base+a.valStart)...)
		case contains(wanted, a.name):
			decoded := html.UnescapeString(string(value))
			if trimmed := trimSpace(decoded); trimmed == "" {
				continue
			}
			lo, hi := trimSpan(value)
			refs = append(refs, Ref{
				Start:  base + a.valStart + lo,
				End:    base + a.valStart + hi,
				Value:  html.UnescapeString(string(value[lo:hi])),
				Attr:   a.name,
				InAttr: true,
			})
		}
	}
	return refs
}

// scanSrcset splits a srcset value into candidates and returns the URL of each.
func scanSrcset(value []byte, base int) []Ref {
	var refs []Ref
	i := 0
	for i < len(value) {
		for i < len(value) && (isSpace(value[i]) || value[i] == ',') {
			i++
		}
		start := i
		for i < len(value) && !isSpace(value[i]) {
			i++
		}
		end := i
		for end > start && value[end-1] == ',' {
			end--
		}
		if end > start {
			refs = append(refs, Ref{
				Start:  base + start,
				End:    base + end,
				Value:  html.UnescapeString(string(value[start:end])),
				Attr:   "srcset",
				InAttr: true,
			})
		}
		if end < i {
			// The URL ended in a comma: no descriptor follows.
			continue
		}
		for i < len(value) && value[i] != ',' {
			i++
		}
	}
	return refs
}

// scanCSS finds url() tokens and the string targets of @import rules. Comments are
// skipped.
func scanCSS(src []byte, base int, inAttr bool) []Ref {
	var refs []Ref
	l := css.NewLexer(parse.NewInput(bytes.NewReader(src)))
	offset := 0
	importing := false
	for {
		tt, text := l.Next()
		if tt == css.ErrorToken {
			return refs
		}
		start := offset
		offset += len(text)

		switch tt {
		case css.WhitespaceToken, css.CommentToken:
			continue
		case css.AtKeywordToken:
			importing = bytes.EqualFold(text, []byte("@import"))
			continue
		case css.URLToken:
			if lo, hi, ok := urlSpan(text); ok {
				refs = append(refs, cssRef(src, base, start+lo, start+hi, inAttr))
			}
		case css.StringToken:
			if importing && len(text) >= 2 && text[len(text)-1] == text[0] {
				refs = append(refs, cssRef(src, base, start+1, start+len(text)-1, inAttr))
			}
		}
		importing = false
	}
}

// urlSpan returns the span of the target inside a url() token, without surrounding
// whitespace or quotes.
func urlSpan(token []byte) (int, int, bool) {
	lo := bytes.IndexByte(token, '(') + 1
	hi := len(token)
	if hi > lo && token[hi-1] == ')' {
		hi--
	}
	for lo < hi && isSpace(token[lo]) {
		lo++
	}
	for hi > lo && isSpace(token[hi-1]) {
		hi--
	}
	if hi-lo >= 2 && (token[lo] == '"' || token[lo] == '\'') && token[hi-1] == token[lo] {
		lo++
		hi--
	}
	return lo, hi, lo > 0 && hi > lo
}

func cssRef(src []byte, base, lo, hi int, inAttr bool) Ref {
	value := string(src[lo:hi])
	if inAttr {
		value = html.UnescapeString(value)
	}
	return Ref{
		Start:  base + lo,
		End:    base + hi,
		Value:  trimQuotes(trimSpace(value)),
		Attr:   "css",
		InAttr: inAttr,
	}
}

type attrSpan struct {
	name     string
	hasValue bool
	valStart int
	valEnd   int
}

// lexAttrs walks the attributes of a raw start tag and reports the byte span of each
// value relative to the tag start. Quotes are excluded from the span.
func lexAttrs(raw []byte) []attrSpan {
	i := 1
	for i < len(raw) && !isSpace(raw[i]) && raw[i] != '/' && raw[i] != '>' {
		i++
	}

	var attrs []attrSpan
	for i < len(raw) {
		for i < len(raw) && (isSpace(raw[i]) || raw[i] == '/') {
			i++
		}
		if i >= len(raw) || raw[i] == '>' {
			break
		}

		nameStart := i
		i++
		for i < len(raw) && !isSpace(raw[i]) && raw[i] != '/' && raw[i] != '>' && raw[i] != '=' {
			i++
		}
		a := attrSpan{name: string(bytes.ToLower(raw[nameStart:i]))}

		j := i
		for j < len(raw) && isSpace(raw[j]) {
			j++
		}
		if j >= len(raw) || raw[j] != '=' {
			attrs = append(attrs, a)
			continue
		}
		i = j + 1
		for i < len(raw) && isSpace(raw[i]) {
			i++
		}
		if i >= len(raw) {
			break
		}

		a.hasValue = true
		switch q := raw[i]; q {
		case '"', '\'':
			i++
			a.valStart = i
			for i < len(raw) && raw[i] != q {
				i++
			}
			a.valEnd = i
			if i < len(raw) {
				i++
			}
		default:
			a.valStart = i
			for i < len(raw) && !isSpace(raw[i]) && raw[i] != '>' {
				i++
			}
			a.valEnd = i
		}
		attrs = append(attrs, a)
	}
	return attrs
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
}

func trimSpan(b []byte) (int, int) {
	lo, hi := 0, len(b)
	for lo < hi && isSpace(b[lo]) {
		lo++
	}
	for hi > lo && isSpace(b[hi-1]) {
		hi--
	}
	return lo, hi
}

func trimSpace(s string) string {
	lo, hi := trimSpan([]byte(s))
	return s[lo:hi]
}

func trimQuotes(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
