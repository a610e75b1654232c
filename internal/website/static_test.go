package website

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testIndex = "<!doctype html><title>app</title>"

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o600))
}

func newTestStatic(t *testing.T) (*Static, string) {
	t.Helper()

	parent := t.TempDir()
	root := filepath.Join(parent, "dist")
	writeFile(t, root, "index.html", testIndex)
	writeFile(t, root, "assets/app.js", "console.log('hi')")
	writeFile(t, root, "assets/app.css", "body{}")
	writeFile(t, parent, "secret.txt", "top secret")

	st, err := NewStatic(root)
	require.NoError(t, err)
	return st, parent
}

func TestStatic_Resolve(t *testing.T) {
	st, _ := newTestStatic(t)

	file, err := st.Resolve("/assets/app.js")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(st.Root(), "assets", "app.js"), file)

	file, err = st.Resolve("assets/../index.html")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(st.Root(), "index.html"), file)
}

func TestStatic_Resolve_notFound(t *testing.T) {
	st, _ := newTestStatic(t)

	paths := []string{
		"../../etc/passwd",
		"/../secret.txt",
		"../secret.txt",
		"/assets/../../secret.txt",
		"..%2fsecret.txt",
		"/missing.js",
		"/assets",
		"/",
		"",
	}

	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			file, err := st.Resolve(p)
			require.ErrorIs(t, err, ErrNotFound)
			require.Empty(t, file)
		})
	}
}

func TestStatic_Resolve_symlinkEscape(t *testing.T) {
	st, parent := newTestStatic(t)

	link := filepath.Join(st.Root(), "leak.txt")
	if err := os.Symlink(filepath.Join(parent, "secret.txt"), link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	_, err := st.Resolve("/leak.txt")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"index.html":    "text/html; charset=utf-8",
		"app.js":        "application/javascript; charset=utf-8",
		"app.css":       "text/css; charset=utf-8",
		"logo.svg":      "image/svg+xml",
		"logo.PNG":      "image/png",
		"photo.jpg":     "image/jpeg",
		"photo.webp":    "image/webp",
		"favicon.ico":   "image/x-icon",
		"manifest.json": "application/json",
		"app.js.map":    "application/json",
		"robots.txt":    "text/plain; charset=utf-8",
		"archive.tar":   "application/octet-stream",
		"Makefile":      "application/octet-stream",
	}

	for name, expected := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, expected, ContentType(name))
		})
	}
}

func TestStatic_ServeHTTP(t *testing.T) {
	st, _ := newTestStatic(t)

	tests := []struct {
		name        string
		path        string
		status      int
		contentType string
		body        string
	}{
		{"root serves index", "/", http.StatusOK, "text/html; charset=utf-8", testIndex},
		{"asset", "/assets/app.js", http.StatusOK, "application/javascript; charset=utf-8", "console.log('hi')"},
		{"spa route falls back to index", "/chat/123", http.StatusOK, "text/html; charset=utf-8", testIndex},
		{"traversal falls back to index", "/../secret.txt", http.StatusOK, "text/html; charset=utf-8", testIndex},
		{"api path is not a ui route", "/v1/models", http.StatusNotFound, "", ""},
		{"auth path is not a ui route", "/auth/whatever", http.StatusNotFound, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.URL.Path = tt.path
			w := httptest.NewRecorder()

			st.ServeHTTP(w, r)

			require.Equal(t, tt.status, w.Code)
			if tt.status != http.StatusOK {
				return
			}
			require.Equal(t, tt.contentType, w.Header().Get("Content-Type"))
			body, err := io.ReadAll(w.Body)
			require.NoError(t, err)
			require.Equal(t, tt.body, string(body))
		})
	}
}

func TestStatic_ServeHTTP_missingIndex(t *testing.T) {
	st, err := NewStatic(filepath.Join(t.TempDir(), "not-built"))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	st.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "static bundle not found")
}

func TestIsReservedPath(t *testing.T) {
	for _, p := range []string{"/v1", "/v1/chat/completions", "/auth/login", "/login", "/proxy/x", "/proxy"} {
		require.True(t, IsReservedPath(p), p)
	}
	for _, p := range []string{"/", "/v1beta", "/loginx", "/assets/app.js", "/chat"} {
		require.False(t, IsReservedPath(p), p)
	}
}

func TestStatic_ETag(t *testing.T) {
	st, parent := newTestStatic(t)

	get := func(etag string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/assets/app.js", nil)
		if etag != "" {
			r.Header.Set("If-None-Match", etag)
		}
		w := httptest.NewRecorder()
		st.ServeHTTP(w, r)
		return w
	}

	first := get("")
	require.Equal(t, http.StatusOK, first.Code)
	etag := first.Header().Get("ETag")
	require.Regexp(t, `^"[0-9a-f]{16}"$`, etag)

	require.Equal(t, etag, get("").Header().Get("ETag"))
	require.Equal(t, http.StatusNotModified, get(etag).Code)

	writeFile(t, filepath.Join(parent, "dist"), "assets/app.js", "console.log('changed bundle')")
	changed := get(etag)
	require.Equal(t, http.StatusOK, changed.Code)
	require.NotEqual(t, etag, changed.Header().Get("ETag"))
}
