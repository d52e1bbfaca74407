package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func newTestHandler(t *testing.T) *SPAHandler {
	t.Helper()
	fsys := fstest.MapFS{
		"dist/index.html":               {Data: []byte("<html><body>rides viewer</body></html>")},
		"dist/assets/index-4f2a.js":     {Data: []byte("console.log('viewer')")},
		"dist/assets/index-91bc.css":    {Data: []byte("body{}")},
		"dist/favicon.png":              {Data: []byte("fakepng")},
		"dist/stations/placeholder.txt": {Data: []byte("static")},
	}
	h, err := NewSPAHandler(fsys, "dist")
	if err != nil {
		t.Fatalf("NewSPAHandler: %v", err)
	}
	return h
}

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRootServesIndexHTML(t *testing.T) {
	rec := serve(newTestHandler(t), "/")

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rides viewer") {
		t.Errorf("expected index.html, got %q", rec.Body.String())
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", got)
	}
}

func TestStaticFileServedDirectly(t *testing.T) {
	rec := serve(newTestHandler(t), "/favicon.png")

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "fakepng" {
		t.Errorf("expected 'fakepng', got %q", rec.Body.String())
	}
}

func TestNestedStaticFileServed(t *testing.T) {
	rec := serve(newTestHandler(t), "/assets/index-4f2a.js")

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "console.log") {
		t.Errorf("expected JS content, got %q", rec.Body.String())
	}
}

func TestSPAFallbackForClientRoutes(t *testing.T) {
	for _, p := range []string{"/map", "/bikes/12345/history"} {
		rec := serve(newTestHandler(t), p)

		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", p, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "rides viewer") {
			t.Errorf("%s: expected SPA fallback (index.html), got %q", p, rec.Body.String())
		}
	}
}

func TestNoFallbackForMissingFileWithExtension(t *testing.T) {
	for _, p := range []string{"/missing.css", "/assets/missing-chunk.js", "/stations.json"} {
		rec := serve(newTestHandler(t), p)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected status 404, got %d", p, rec.Code)
		}
	}
}

func TestNewDirHandlerServesDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("from disk"), 0o644); err != nil {
		t.Fatal(err)
	}

	h, err := NewDirHandler(dir)
	if err != nil {
		t.Fatalf("NewDirHandler: %v", err)
	}
	rec := serve(h, "/some/route")
	if rec.Code != http.StatusOK || rec.Body.String() != "from disk" {
		t.Errorf("expected index.html from disk, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestNewDirHandlerRejectsMissingOrFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "index.html")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewDirHandler(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing dir")
	}
	if _, err := NewDirHandler(file); err == nil {
		t.Error("expected error for regular file")
	}
}

func TestNotFoundHandler(t *testing.T) {
	rec := serve(NotFoundHandler(), "/index.html")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/index.html") {
		t.Errorf("expected path in body, got %q", rec.Body.String())
	}
}
