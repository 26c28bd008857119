package serve

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterServesMirror(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"index.html":       "<p>home</p>",
		"about/index.html": "<p>about</p>",
		"css/site.css":     "body{}",
		"news/q_id_1.html": "<p>news</p>",
	}
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}

	srv := httptest.NewServer(NewRouter(root, slog.New(slog.NewTextHandler(io.Discard, nil))))
	defer srv.Close()

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/", http.StatusOK, "<p>home</p>"},
		{"/about/", http.StatusOK, "<p>about</p>"},
		{"/about", http.StatusOK, "<p>about</p>"},
		{"/css/site.css", http.StatusOK, "body{}"},
		{"/news/q_id_1.html", http.StatusOK, "<p>news</p>"},
		{"/missing", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.body != "" {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Equal(t, tt.body, string(body))
			}
		})
	}
}

func TestRouterRejectsWrites(t *testing.T) {
	srv := httptest.NewServer(NewRouter(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil))))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/index.html", "text/plain", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
