package website

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("static file not found")

const indexFile = "index.html"

var contentTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".svg":  "image/svg+xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".ico":  "image/x-icon",
	".json": "application/json",
	".map":  "application/json",
	".txt":  "text/plain; charset=utf-8",
}

const missingBundlePage = `<!doctype html>
<html>
  <head><meta charset="utf-8" /><title>UI not built</title></head>
  <body>
    <h3>static bundle not found</h3>
    <p>Run <code>npm run build</code> so this server can serve the SPA.</p>
  </body>
</html>`

// Static serves a built single page app from a directory, falling back to
// index.html for client side routes.
type Static struct {
	root     string
	realRoot string // root with symlinks resolved
	etags    *etagCache
}

// NewStatic creates a static file server rooted at dir.
func NewStatic(dir string) (*Static, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve static dir %q: %w", dir, err)
	}
	root = filepath.Clean(root)

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		// not built yet, requests fall through to the missing bundle page
		realRoot = root
	}

	return &Static{root: root, realRoot: realRoot, etags: newETagCache()}, nil
}

// Root returns the absolute directory files are served from.
func (s *Static) Root() string {
	return s.root
}

// Resolve maps a request path to a regular file below the root.
// Paths escaping the root, missing files and directories are all ErrNotFound.
func (s *Static) Resolve(requestedPath string) (string, error) {
	// Cleaning against "/" drops any ".." that would climb above the root
	clean := path.Clean("/" + requestedPath)
	candidate := filepath.Join(s.root, filepath.FromSlash(clean))

	if !within(s.root, candidate) {
		return "", ErrNotFound
	}

	info, err := os.Stat(candidate)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrNotFound
	}

	// a symlink inside the bundle must not lead outside of it
	real, err := filepath.EvalSymlinks(candidate)
	if err != nil || !within(s.realRoot, real) {
		return "", ErrNotFound
	}

	return candidate, nil
}

func within(root, p string) bool {
	return p == root || strings.HasPrefix(p, root+string(filepath.Separator))
}

// ContentType returns the content type for a file name, from a fixed table.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ServeFile streams file with its content type.
func (s *Static) ServeFile(w http.ResponseWriter, r *http.Request, file string) {
	f, err := os.Open(file)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("file", file).Msg("Failed to open static file")
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", ContentType(file))
	if etag, err := s.etags.ETag(f, info); err == nil {
		w.Header().Set("ETag", etag)
	} else {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("Serving without ETag")
	}
	if filepath.Base(file) == indexFile {
		// the index references hashed assets, so it must be revalidated
		w.Header().Set("Cache-Control", "no-cache")
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// ServeHTTP serves the requested file, or the index document for any other route.
func (s *Static) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if IsReservedPath(r.URL.Path) {
		http.NotFound(w, r)
		return
	}

	if file, err := s.Resolve(r.URL.Path); err == nil {
		s.ServeFile(w, r, file)
		return
	}

	index, err := s.Resolve(indexFile)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Str("root", s.root).Msg("index.html missing from static dir")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(missingBundlePage))
		return
	}

	s.ServeFile(w, r, index)
}

// IsReservedPath reports whether p belongs to the API or auth surface, where an
// HTML fallback would only confuse clients.
func IsReservedPath(p string) bool {
	p = strings.TrimPrefix(p, "/")
	return p == "v1" || strings.HasPrefix(p, "v1/") ||
		strings.HasPrefix(p, "auth/") ||
		p == "login" ||
		p == "proxy" || strings.HasPrefix(p, "proxy/")
}
