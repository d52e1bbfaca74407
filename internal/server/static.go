package server

import (
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
)

// SPAHandler serves the built viewer and falls back to index.html for any
// extensionless path that doesn't match a file, so client-side routes load.
// Missing files with an extension get 404.
type SPAHandler struct {
	fileServer http.Handler
	filesystem fs.FS
}

// NewSPAHandler creates a handler serving files from fsys below prefix.
func NewSPAHandler(fsys fs.FS, prefix string) (*SPAHandler, error) {
	sub, err := fs.Sub(fsys, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create sub filesystem: %w", err)
	}
	return &SPAHandler{
		fileServer: http.FileServer(http.FS(sub)),
		filesystem: sub,
	}, nil
}

// NewDirHandler serves the directory dir, which must exist.
func NewDirHandler(dir string) (*SPAHandler, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("static dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("static dir %q is not a directory", dir)
	}
	return NewSPAHandler(os.DirFS(dir), ".")
}

func (h *SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Files change on every rebuild during development.
	w.Header().Set("Cache-Control", "no-cache")

	urlPath := r.URL.Path
	if urlPath == "/" {
		h.fileServer.ServeHTTP(w, r)
		return
	}

	if _, err := fs.Stat(h.filesystem, urlPath[1:]); err == nil {
		h.fileServer.ServeHTTP(w, r)
		return
	}

	// r.URL.Path is already decoded, so %2Ecss is seen as .css here.
	if path.Ext(urlPath) != "" {
		http.NotFound(w, r)
		return
	}

	r2 := r.Clone(r.Context())
	r2.URL.Path = "/"
	r2.URL.RawPath = ""
	h.fileServer.ServeHTTP(w, r2)
}

// NotFoundHandler is the fallback when no static directory is configured.
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no proxy rule matches "+r.URL.Path+" and no static dir is configured", http.StatusNotFound)
	})
}
