package rewriter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtnitsch/site-harvest/models"
	"github.com/dtnitsch/site-harvest/pkg/extractor"
	"github.com/dtnitsch/site-harvest/pkg/pathmap"
	"github.com/dtnitsch/site-harvest/pkg/state"
	"github.com/dtnitsch/site-harvest/pkg/storage"
	"github.com/dtnitsch/site-harvest/pkg/urlnorm"
)

type fixture struct {
	norm  *urlnorm.Normalizer
	store *storage.Storage
	state *state.State
	rw    *Rewriter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	n, err := urlnorm.New("example.org", models.DefaultExcludePatterns)
	require.NoError(t, err)
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	return &fixture{norm: n, store: store, state: state.New(), rw: New(extractor.New(n), store, nil)}
}

// add stores body under the assigned path of original. Fetched files count as downloaded
// by the current run.
func (f *fixture) add(t *testing.T, original, body string, fetched bool) (urlnorm.Identity, string) {
	t.Helper()
	id, err := f.norm.Normalize(original)
	require.NoError(t, err)
	p := pathmap.Assign(id)
	require.NoError(t, f.state.Claim(id, p))
	f.state.SetCapture(id, models.CaptureRecord{Original: original, Timestamp: "20250101000000"})
	require.NoError(t, f.store.SaveFile(p, []byte(body)))
	if fetched {
		f.state.MarkFetched(id)
	} else {
		f.state.MarkStored(id)
	}
	return id, p
}

func (f *fixture) read(t *testing.T, p string) string {
	t.Helper()
	data, err := f.store.ReadFile(p)
	require.NoError(t, err)
	return string(data)
}

const page = `<!DOCTYPE html>
<html><head><link rel="stylesheet" href="/css/site.css?v=2"></head>
<body><a href="http://www.example.org/about/#team">About</a>
<a href="https://elsewhere.net/x">External</a>
<a href="/missing">Missing</a>
<img src="/img/small.png" srcset="/img/small.png 1x, http://example.org/img/big.png 2x" alt="logo">
<a href="news?id=1&amp;p=2">News</a>
<div style="background:url('/img/bg.png')">&nbsp;</div>
<script>var u = "/img/bg.png";</script>
</body></html>`

const rewrittenPage = `<!DOCTYPE html>
<html><head><link rel="stylesheet" href="css/site.css"></head>
<body><a href="about/index.html#team">About</a>
<a href="https://elsewhere.net/x">External</a>
<a href="/missing">Missing</a>
<img src="img/small.png" srcset="img/small.png 1x, img/big.png 2x" alt="logo">
<a href="news/q_id_1_p_2.html">News</a>
<div style="background:url('img/bg.png')">&nbsp;</div>
<script>var u = "/img/bg.png";</script>
</body></html>`

func seedSite(t *testing.T, f *fixture) {
	t.Helper()
	f.add(t, "http://example.org/", page, true)
	f.add(t, "http://example.org/about/", `<a href="/">Home</a>`, true)
	f.add(t, "http://example.org/css/site.css", `@import "print.css"; .x { background: url(http://example.org/img/bg.png) }`, true)
	f.add(t, "http://example.org/css/print.css", `body {}`, true)
	f.add(t, "http://example.org/img/small.png", "png", true)
	f.add(t, "http://example.org/img/big.png", "png", true)
	f.add(t, "http://example.org/img/bg.png", "png", true)
	f.add(t, "http://example.org/news?id=1&p=2", `<p>news</p>`, true)
}

func TestRewriteAll(t *testing.T) {
	f := newFixture(t)
	seedSite(t, f)

	counts := f.rw.RewriteAll(f.state)

	assert.Equal(t, rewrittenPage, f.read(t, "index.html"))
	assert.Equal(t, `<a href="../index.html">Home</a>`, f.read(t, "about/index.html"))
	assert.Equal(t, `@import "print.css"; .x { background: url(../img/bg.png) }`, f.read(t, "css/site.css"))
	assert.Equal(t, "png", f.read(t, "img/small.png"))

	assert.Equal(t, 2, counts.HTML)
	assert.Equal(t, 1, counts.CSS)
	assert.Equal(t, 2, counts.Unchanged, "print.css and the news page have nothing to rewrite")
	assert.Zero(t, counts.Failed)
	assert.Empty(t, f.state.Failures())
}

func TestRewriteAllIsIdempotent(t *testing.T) {
	f := newFixture(t)
	seedSite(t, f)

	f.rw.RewriteAll(f.state)
	first := f.read(t, "index.html")

	counts := f.rw.RewriteAll(f.state)
	assert.Equal(t, first, f.read(t, "index.html"))
	assert.Zero(t, counts.HTML)
	assert.Zero(t, counts.CSS)
}

func TestRewriteLeavesLocalReferencesOfEarlierRuns(t *testing.T) {
	doc := `<img src="img/x.png">`

	t.Run("document from an earlier run", func(t *testing.T) {
		f := newFixture(t)
		id, p := f.add(t, "http://example.org/blog/post", doc, false)
		f.add(t, "http://example.org/blog/post/img/x.png", "png", false)
		f.add(t, "http://example.org/blog/img/x.png", "png", false)

		changed, err := f.rw.RewriteFile(f.state, id)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, doc, f.read(t, p))
	})

	t.Run("freshly downloaded document", func(t *testing.T) {
		f := newFixture(t)
		id, p := f.add(t, "http://example.org/blog/post", doc, true)
		f.add(t, "http://example.org/blog/post/img/x.png", "png", true)
		f.add(t, "http://example.org/blog/img/x.png", "png", true)

		changed, err := f.rw.RewriteFile(f.state, id)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, `<img src="../img/x.png">`, f.read(t, p))
	})
}

func TestRewriteIndexFileLinks(t *testing.T) {
	f := newFixture(t)
	id, p := f.add(t, "http://example.org/",
		`<a href="/index.html">Home</a><a href="/about/index.html#team">About</a><a href="http://example.org/css/site.css?v=3">css</a>`, true)
	f.add(t, "http://example.org/about", `<p>about</p>`, true)
	f.add(t, "http://example.org/css/site.css", `body {}`, true)

	changed, err := f.rw.RewriteFile(f.state, id)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, `<a href="index.html">Home</a><a href="about/index.html#team">About</a><a href="css/site.css">css</a>`, f.read(t, p))
}

func TestRewriteEscapesTargets(t *testing.T) {
	f := newFixture(t)
	id, p := f.add(t, "http://example.org/",
		`<a href="/docs/a%20b.pdf">pdf</a><a href="/p#a&amp;b">p</a><div style="background:url(/img/it%27s.png)"></div>`, true)
	f.add(t, "http://example.org/docs/a%20b.pdf", "pdf", true)
	f.add(t, "http://example.org/p", "<p>p</p>", true)
	f.add(t, "http://example.org/img/it%27s.png", "png", true)

	changed, err := f.rw.RewriteFile(f.state, id)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, `<a href="docs/a%20b.pdf">pdf</a><a href="p/index.html#a&amp;b">p</a><div style="background:url(img/it%27s.png)"></div>`, f.read(t, p))
}

func TestRewriteSkipsUnparsable(t *testing.T) {
	f := newFixture(t)
	f.add(t, "http://example.org/", "\x00\x01binary<a href=\"/x\">", true)

	counts := f.rw.RewriteAll(f.state)
	assert.Equal(t, 1, counts.Unparsed)
	assert.Empty(t, f.state.Failures())
}

func TestRewriteFileNotStored(t *testing.T) {
	f := newFixture(t)
	_, err := f.rw.RewriteFile(f.state, "http://example.org/nowhere")
	assert.Error(t, err)
}
