package cdx

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtnitsch/site-harvest/pkg/caching"
)

type fakeGetter struct {
	responses map[string][]byte
	err       error
	calls     []string
}

func (f *fakeGetter) Get(_ context.Context, rawURL string) ([]byte, error) {
	f.calls = append(f.calls, rawURL)
	if f.err != nil {
		return nil, f.err
	}
	u, _ := url.Parse(rawURL)
	return f.responses[u.Query().Get("url")], nil
}

const listing = `[["urlkey","timestamp","original","mimetype","statuscode","digest","length"],
["org,example)/","20250101000000","http://example.org/","text/html","200","AAA","1200"],
["org,example)/css/site.css","20240101000000","http://www.example.org/css/site.css","text/css","200","BBB","300"],
["org,example)/broken","20240101000000","http://example.org/broken","text/html","-","CCC","-"]]`

func TestListCaptures(t *testing.T) {
	g := &fakeGetter{responses: map[string][]byte{"example.org/*": []byte(listing)}}
	c := NewClient(g, "https://web.archive.org", nil, nil)

	records, err := c.ListCaptures(context.Background(), "example.org")
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "http://example.org/", records[0].Original)
	assert.Equal(t, "20250101000000", records[0].Timestamp)
	assert.Equal(t, "text/html", records[0].MimeType)
	assert.Equal(t, 200, records[0].StatusCode)
	assert.Equal(t, int64(1200), records[0].Length)
	assert.Equal(t, 0, records[2].StatusCode)

	require.Len(t, g.calls, 1)
	q, err := url.Parse(g.calls[0])
	require.NoError(t, err)
	assert.Equal(t, "/cdx/search/cdx", q.Path)
	assert.Equal(t, "urlkey", q.Query().Get("collapse"))
	assert.Equal(t, "statuscode:200", q.Query().Get("filter"))
	assert.Empty(t, q.Query().Get("sort"))
}

func TestListCapturesUsesCache(t *testing.T) {
	cache, err := caching.NewCache(t.TempDir(), time.Hour)
	require.NoError(t, err)

	g := &fakeGetter{responses: map[string][]byte{"example.org/*": []byte(listing)}}
	c := NewClient(g, "https://web.archive.org", cache, nil)

	_, err = c.ListCaptures(context.Background(), "example.org")
	require.NoError(t, err)
	records, err := c.ListCaptures(context.Background(), "example.org")
	require.NoError(t, err)

	assert.Len(t, records, 3)
	assert.Len(t, g.calls, 1, "second listing should come from the cache")
}

func TestListCapturesErrors(t *testing.T) {
	t.Run("transport", func(t *testing.T) {
		sentinel := errors.New("boom")
		c := NewClient(&fakeGetter{err: sentinel}, "https://web.archive.org", nil, nil)
		_, err := c.ListCaptures(context.Background(), "example.org")
		assert.ErrorIs(t, err, sentinel)
	})

	t.Run("not json", func(t *testing.T) {
		g := &fakeGetter{responses: map[string][]byte{"example.org/*": []byte("<html>busy</html>")}}
		_, err := NewClient(g, "https://web.archive.org", nil, nil).ListCaptures(context.Background(), "example.org")
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		g := &fakeGetter{responses: map[string][]byte{"example.org/*": []byte("[]")}}
		records, err := NewClient(g, "https://web.archive.org", nil, nil).ListCaptures(context.Background(), "example.org")
		assert.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestBestCapture(t *testing.T) {
	g := &fakeGetter{responses: map[string][]byte{
		"http://example.org/img/a.png": []byte(`[["timestamp"],["20230405060708"]]`),
		"http://example.org/missing":   []byte(`[["timestamp"]]`),
	}}
	c := NewClient(g, "https://web.archive.org", nil, nil)

	ts, ok, err := c.BestCapture(context.Background(), "http://example.org/img/a.png", "20250612")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "20230405060708", ts)

	q, _ := url.Parse(g.calls[0])
	assert.Equal(t, "20250612", q.Query().Get("closest"))
	assert.Equal(t, "closest", q.Query().Get("sort"))
	assert.Equal(t, "1", q.Query().Get("limit"))

	_, ok, err = c.BestCapture(context.Background(), "http://example.org/missing", "20250612")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.BestCapture(context.Background(), "http://example.org/unknown", "20250612")
	require.NoError(t, err)
	assert.False(t, ok)
}
