package server

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func prefixInterceptor(prefix, body string) Interceptor {
	return InterceptorFunc(func(w http.ResponseWriter, r *http.Request) bool {
		if !strings.HasPrefix(r.URL.Path, prefix) {
			return false
		}
		w.Write([]byte(body))
		return true
	})
}

var fallback = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte("fallback"))
})

func TestNewHandlerInterceptedRequestSkipsFallback(t *testing.T) {
	h := NewHandler(prefixInterceptor("/rides", "proxied"), fallback)

	rec := serve(h, "/rides/42")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "proxied", rec.Body.String())
}

func TestNewHandlerDeclinedRequestUsesFallback(t *testing.T) {
	h := NewHandler(prefixInterceptor("/rides", "proxied"), fallback)

	rec := serve(h, "/index.html")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "fallback", rec.Body.String())
}

func TestSwappableReplacesInterceptor(t *testing.T) {
	first := prefixInterceptor("/rides", "first")
	s := NewSwappable(first)
	h := NewHandler(s, fallback)

	assert.Equal(t, "first", serve(h, "/rides").Body.String())

	prev := s.Swap(prefixInterceptor("/api", "second"))
	assert.NotNil(t, prev)

	assert.Equal(t, "fallback", serve(h, "/rides").Body.String())
	assert.Equal(t, "second", serve(h, "/api/x").Body.String())
}

func TestSwappableConcurrentSwapAndServe(t *testing.T) {
	s := NewSwappable(prefixInterceptor("/", "a"))
	h := NewHandler(s, fallback)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				body := serve(h, "/rides").Body.String()
				if body != "a" && body != "b" {
					t.Errorf("unexpected body %q", body)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Swap(prefixInterceptor("/", "b"))
				s.Swap(prefixInterceptor("/", "a"))
			}
		}()
	}
	wg.Wait()
}

func TestAccessLogRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := AccessLog(logger, NewHandler(prefixInterceptor("/rides", "proxied"), fallback))

	serve(h, "/rides")
	assert.Contains(t, buf.String(), `"path":"/rides"`)
	assert.Contains(t, buf.String(), `"status":200`)

	buf.Reset()
	serve(h, "/elsewhere")
	assert.Contains(t, buf.String(), `"status":202`)
}

func TestStatusRecorderUnwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec}

	assert.Same(t, rec, sr.Unwrap())
	assert.Zero(t, sr.Status())
	sr.WriteHeader(http.StatusNotFound)
	sr.WriteHeader(http.StatusOK)
	assert.Equal(t, http.StatusNotFound, sr.Status())
}
