package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"time"
)

// DefaultTimeout bounds connecting to an upstream and waiting for its
// response headers when a rule does not set its own timeout.
const DefaultTimeout = 30 * time.Second

// Router dispatches requests to upstreams by path prefix. Rules are evaluated
// in declaration order and the first match wins. A Router is read-only after
// NewRouter returns and safe for concurrent use.
type Router struct {
	routes         []route
	logger         *slog.Logger
	metrics        *Metrics
	defaultTimeout time.Duration
	transport      *http.Transport
}

type route struct {
	rule  Rule
	proxy *httputil.ReverseProxy
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithDefaultTimeout sets the upstream timeout for rules without one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.defaultTimeout = d
	}
}

// WithTransport sets the base transport cloned for every rule.
// Default is http.DefaultTransport.
func WithTransport(t *http.Transport) Option {
	return func(r *Router) {
		r.transport = t
	}
}

type startKey struct{}

// NewRouter builds a router over rules. The slice is copied; later changes
// by the caller have no effect.
func NewRouter(rules []Rule, opts ...Option) (*Router, error) {
	r := &Router{
		logger:         slog.Default(),
		defaultTimeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.transport == nil {
		r.transport = http.DefaultTransport.(*http.Transport)
	}
	if r.defaultTimeout <= 0 {
		return nil, fmt.Errorf("%w: default timeout must be positive, got %s", ErrInvalidRule, r.defaultTimeout)
	}

	seen := make(map[string]struct{}, len(rules))
	r.routes = make([]route, 0, len(rules))
	for i, rule := range rules {
		if rule.Target == nil {
			return nil, fmt.Errorf("%w: rules[%d] %q: missing target", ErrInvalidRule, i, rule.Matcher)
		}
		if _, dup := seen[rule.Matcher]; dup {
			return nil, fmt.Errorf("%w: rules[%d]: duplicate matcher %q", ErrInvalidRule, i, rule.Matcher)
		}
		seen[rule.Matcher] = struct{}{}
		r.routes = append(r.routes, route{rule: rule, proxy: r.newReverseProxy(rule)})
	}
	return r, nil
}

// Rules returns the rules in declaration order.
func (r *Router) Rules() []Rule {
	rules := make([]Rule, len(r.routes))
	for i, rt := range r.routes {
		rules[i] = rt.rule
	}
	return rules
}

// Match returns the first rule matching path.
func (r *Router) Match(path string) (Rule, bool) {
	if rt := r.match(path); rt != nil {
		return rt.rule, true
	}
	return Rule{}, false
}

func (r *Router) match(path string) *route {
	for i := range r.routes {
		if r.routes[i].rule.Matches(path) {
			return &r.routes[i]
		}
	}
	return nil
}

// Intercept forwards req upstream if a rule matches its path and reports
// whether it did. When it returns false nothing has been written to w.
func (r *Router) Intercept(w http.ResponseWriter, req *http.Request) bool {
	rt := r.match(req.URL.Path)
	if rt == nil {
		return false
	}
	r.logger.Debug("Forwarding request",
		"method", req.Method,
		"path", req.URL.Path,
		"rule", rt.rule.Matcher,
		"target", rt.rule.Target.String(),
	)
	ctx := context.WithValue(req.Context(), startKey{}, time.Now())
	rt.proxy.ServeHTTP(w, req.WithContext(ctx))
	return true
}

func (r *Router) newReverseProxy(rule Rule) *httputil.ReverseProxy {
	timeout := r.defaultTimeout
	if rule.Options.Timeout > 0 {
		timeout = rule.Options.Timeout
	}
	transport := r.transport.Clone()
	transport.ResponseHeaderTimeout = timeout
	transport.DialContext = boundedDial(transport.DialContext, timeout)
	if !rule.Options.Secure {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{}
		}
		transport.TLSClientConfig.InsecureSkipVerify = true
	}

	opts := rule.Options
	target := rule.Target
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if opts.Rewrite != nil {
				pr.Out.URL.Path = opts.Rewrite(pr.Out.URL.Path)
				pr.Out.URL.RawPath = ""
			}
			pr.SetURL(target)
			if !opts.ChangeOrigin {
				pr.Out.Host = pr.In.Host
			}
			if opts.XForwarded {
				pr.SetXForwarded()
			}
		},
		Transport: transport,
		ModifyResponse: func(resp *http.Response) error {
			start, _ := resp.Request.Context().Value(startKey{}).(time.Time)
			r.metrics.observe(rule.Matcher, resp.StatusCode, start)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			kind := classifyError(err)
			status := kind.status()
			r.metrics.failed(rule.Matcher, kind, status)
			if kind == failureCanceled {
				r.logger.Debug("Client went away before upstream responded",
					"rule", rule.Matcher,
					"path", req.URL.Path,
				)
				return
			}
			r.logger.Warn("Upstream request failed",
				"rule", rule.Matcher,
				"target", target.String(),
				"method", req.Method,
				"path", req.URL.Path,
				"status", status,
				"error", err,
			)
			http.Error(w, http.StatusText(status), status)
		},
		ErrorLog: slog.NewLogLogger(r.logger.Handler(), slog.LevelWarn),
	}
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// boundedDial caps connection setup at timeout. A blackholed upstream then
// fails as a timeout rather than waiting for the operating system to give up.
func boundedDial(dial dialFunc, timeout time.Duration) dialFunc {
	if dial == nil {
		dial = (&net.Dialer{KeepAlive: 30 * time.Second}).DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return dial(ctx, network, addr)
	}
}
