package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtnitsch/site-harvest/pkg/pathmap"
	"github.com/dtnitsch/site-harvest/pkg/urlnorm"
)

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	n, err := urlnorm.New("example.org", []string{`user/login`})
	require.NoError(t, err)
	return New(n)
}

func values(refs []Ref) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Value)
	}
	return out
}

func TestScanHTMLSources(t *testing.T) {
	doc := `<!DOCTYPE html>
<html><head>
<link rel="stylesheet" href="/css/site.css">
<script src='js/app.js'></script>
<style>body { background: url("img/bg.png"); } @import "print.css";</style>
</head><body>
<a href="about">About</a>
<area href=map.html>
<img src="a.png" srcset="a-1x.png 1x, a-2x.png 2x">
<picture><source srcset="wide.webp 800w,narrow.webp"></picture>
<video poster="poster.jpg" src="movie.mp4"><track src="subs.vtt"></video>
<audio src="song.mp3"></audio>
<iframe src="frame.html"></iframe><embed src="flash.swf">
<object data="doc.pdf"></object>
<input type="image" src="button.gif">
<div style="background-image:url('div.png')">x</div>
<!-- <img src="commented.png"> -->
<p data-src="ignored.png">text with url(not-css.png)</p>
</body></html>`

	refs, err := Scan([]byte(doc), pathmap.KindHTML)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/css/site.css", "js/app.js", "img/bg.png", "print.css", "about", "map.html",
		"a.png", "a-1x.png", "a-2x.png", "wide.webp", "narrow.webp",
		"poster.jpg", "movie.mp4", "subs.vtt", "song.mp3", "frame.html", "flash.swf",
		"doc.pdf", "button.gif", "div.png",
	}, values(refs))

	for _, r := range refs {
		assert.Equal(t, r.Value, doc[r.Start:r.End], "span must cover the raw token")
	}
}

func TestScanSpansWithEntities(t *testing.T) {
	doc := `<a href="page?a=1&amp;b=2">x</a><div style="background:url(&quot;q.png&quot;)"></div>`
	refs, err := Scan([]byte(doc), pathmap.KindHTML)
	require.NoError(t, err)
	require.Len(t, refs, 2)

	assert.Equal(t, "page?a=1&b=2", refs[0].Value)
	assert.Equal(t, "page?a=1&amp;b=2", doc[refs[0].Start:refs[0].End])
	assert.True(t, refs[0].InAttr)

	assert.Equal(t, "q.png", refs[1].Value)
	assert.Equal(t, "&quot;q.png&quot;", doc[refs[1].Start:refs[1].End])
}

func TestScanCSS(t *testing.T) {
	css := `@import url("base.css");
@import 'theme.css';
.a { background: url(img/a.png) }
.b { background: url( "img/b.png" ) }
.c { src: url('font.woff2') format("woff2"); }`

	refs, err := Scan([]byte(css), pathmap.KindCSS)
	require.NoError(t, err)
	assert.Equal(t, []string{"base.css", "theme.css", "img/a.png", "img/b.png", "font.woff2"}, values(refs))
	for _, r := range refs {
		assert.False(t, r.InAttr)
		assert.Equal(t, r.Value, css[r.Start:r.End])
	}
}

func TestScanCSSTokens(t *testing.T) {
	tests := []struct {
		name string
		css  string
		want []string
	}{
		{"upper-case url", `.x{background:URL(b.png)}`, []string{"b.png"}},
		{"upper-case import url", `@import URL("a.css");`, []string{"a.css"}},
		{"upper-case at-rule", `@IMPORT "a.css";`, []string{"a.css"}},
		{"commented out", `/* @import "c.css"; .y { background: url(d.png) } */ .z{}`, nil},
		{"quoted with space", `.x { background: url("my file.png") }`, []string{"my file.png"}},
		{"string outside import", `.x::after { content: "url(e.png)" }`, nil},
		{"unquoted with space", `.x { background: url(my file.png) }`, nil},
		{"empty", `.x { background: url() } .y { background: url("") }`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refs, err := Scan([]byte(tt.css), pathmap.KindCSS)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, refs)
				return
			}
			assert.Equal(t, tt.want, values(refs))
			for _, r := range refs {
				assert.Equal(t, r.Value, tt.css[r.Start:r.End])
			}
		})
	}
}

func TestExtractUpperCaseImport(t *testing.T) {
	e := newTestExtractor(t)
	got, err := e.Extract([]byte(`@import URL("a.css"); .x{background:URL(b.png)}`), pathmap.KindCSS, "http://example.org/css/site.css")
	require.NoError(t, err)
	assert.Equal(t, map[urlnorm.Identity]string{
		"http://example.org/css/a.css": "http://example.org/css/a.css",
		"http://example.org/css/b.png": "http://example.org/css/b.png",
	}, got)
}

func TestScanRejectsBinary(t *testing.T) {
	_, err := Scan([]byte("\x89PNG\r\n\x1a\n\x00\x00"), pathmap.KindHTML)
	assert.ErrorIs(t, err, ErrParse)

	refs, err := Scan([]byte("\x00"), pathmap.KindOther)
	assert.NoError(t, err)
	assert.Empty(t, refs)
}

func TestScanMalformedMarkup(t *testing.T) {
	doc := `<div><a href="one.html">1</a><img src=two.png <a href=three.html>`
	refs, err := Scan([]byte(doc), pathmap.KindHTML)
	require.NoError(t, err)
	assert.Contains(t, values(refs), "one.html")
}

func TestExtract(t *testing.T) {
	e := newTestExtractor(t)
	doc := `<a href="/about/">About</a>
<a href="http://www.example.org/about">Same</a>
<a href="https://other.com/x">External</a>
<a href="mailto:me@example.org">Mail</a>
<a href="javascript:void(0)">JS</a>
<a href="#top">Top</a>
<a href="/user/login">Login</a>
<img src="img/logo.png#frag">
<a href="news.html?id=3">News</a>`

	got, err := e.Extract([]byte(doc), pathmap.KindHTML, "http://example.org/blog/")
	require.NoError(t, err)

	assert.Equal(t, map[urlnorm.Identity]string{
		"http://example.org/about":               "http://example.org/about/",
		"http://example.org/blog/img/logo.png":   "http://example.org/blog/img/logo.png",
		"http://example.org/blog/news.html?id=3": "http://example.org/blog/news.html?id=3",
	}, got)
}

func TestExtractCSSRelativeToStylesheet(t *testing.T) {
	e := newTestExtractor(t)
	css := `.x { background: url(../img/x.png) } @import "https://cdn.other.net/y.css";`

	got, err := e.Extract([]byte(css), pathmap.KindCSS, "http://example.org/css/site.css")
	require.NoError(t, err)
	assert.Equal(t, map[urlnorm.Identity]string{
		"http://example.org/img/x.png": "http://example.org/img/x.png",
	}, got)
}

func TestRefsKeepFragment(t *testing.T) {
	e := newTestExtractor(t)
	refs, err := e.Refs([]byte(`<a href="page.html#part-2">x</a>`), pathmap.KindHTML, "http://example.org/")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "#part-2", refs[0].Fragment)
	assert.True(t, refs[0].Internal)
	assert.Equal(t, urlnorm.Identity("http://example.org/page.html"), refs[0].ID)
}

func TestIsDocumentRelative(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"img/a.png", true},
		{"../css/site.css", true},
		{"index.html#x", true},
		{"./c:d/index.html", true},
		{"/css/site.css", false},
		{"//cdn.example.org/x.js", false},
		{"http://example.org/", false},
		{"mailto:x@example.org", false},
		{"#top", false},
		{"?page=2", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDocumentRelative(tt.value))
		})
	}
}
