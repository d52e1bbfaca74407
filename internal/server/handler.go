package server

import (
	"net/http"
	"sync/atomic"
)

// Interceptor is the hook the dev server invokes for every request before
// default serving. Intercept either writes a response and returns true, or
// returns false without touching w.
type Interceptor interface {
	Intercept(w http.ResponseWriter, r *http.Request) bool
}

// InterceptorFunc adapts a function to the Interceptor interface.
type InterceptorFunc func(w http.ResponseWriter, r *http.Request) bool

func (f InterceptorFunc) Intercept(w http.ResponseWriter, r *http.Request) bool {
	return f(w, r)
}

// NewHandler offers each request to ic and serves it with fallback if ic
// declines.
func NewHandler(ic Interceptor, fallback http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ic.Intercept(w, r) {
			return
		}
		fallback.ServeHTTP(w, r)
	})
}

// Swappable holds the active Interceptor and lets it be replaced while
// requests are being served. A request uses the interceptor that was active
// when it arrived.
type Swappable struct {
	current atomic.Pointer[slot]
}

type slot struct {
	ic Interceptor
}

// NewSwappable returns a Swappable initially delegating to ic.
func NewSwappable(ic Interceptor) *Swappable {
	s := &Swappable{}
	s.current.Store(&slot{ic: ic})
	return s
}

// Swap installs ic and returns the previously active interceptor.
func (s *Swappable) Swap(ic Interceptor) Interceptor {
	return s.current.Swap(&slot{ic: ic}).ic
}

// Load returns the active interceptor.
func (s *Swappable) Load() Interceptor {
	return s.current.Load().ic
}

func (s *Swappable) Intercept(w http.ResponseWriter, r *http.Request) bool {
	return s.Load().Intercept(w, r)
}
