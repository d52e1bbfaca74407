package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ErrInvalidRule is returned for rules that cannot be used for forwarding.
var ErrInvalidRule = errors.New("invalid proxy rule")

// RewriteFunc maps a request path to the path sent upstream.
type RewriteFunc func(path string) string

// Options tune how a matched request is forwarded.
type Options struct {
	// Rewrite, when set, replaces the request path before forwarding.
	Rewrite RewriteFunc
	// Secure enables upstream TLS certificate verification.
	Secure bool
	// ChangeOrigin sends the target's host as the Host header instead of the client's.
	ChangeOrigin bool
	// XForwarded adds X-Forwarded-For, -Host and -Proto headers.
	XForwarded bool
	// Timeout bounds the wait for upstream response headers. Zero uses the router default.
	Timeout time.Duration
}

// DefaultOptions returns the options used when a rule declares none.
func DefaultOptions() Options {
	return Options{Secure: true}
}

// Rule forwards every request whose path starts with Matcher to Target.
type Rule struct {
	Matcher string
	Target  *url.URL
	Options Options
}

// NewRule validates matcher and parses target into a Rule.
func NewRule(matcher, target string, opts Options) (Rule, error) {
	if matcher == "" {
		return Rule{}, fmt.Errorf("%w: empty matcher", ErrInvalidRule)
	}
	if !strings.HasPrefix(matcher, "/") {
		return Rule{}, fmt.Errorf("%w: matcher %q must start with '/'", ErrInvalidRule, matcher)
	}
	u, err := parseTarget(target)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: matcher %q: %w", ErrInvalidRule, matcher, err)
	}
	if opts.Timeout < 0 {
		return Rule{}, fmt.Errorf("%w: matcher %q: negative timeout %s", ErrInvalidRule, matcher, opts.Timeout)
	}
	return Rule{Matcher: matcher, Target: u, Options: opts}, nil
}

func parseTarget(target string) (*url.URL, error) {
	if strings.TrimSpace(target) == "" {
		return nil, errors.New("target is required")
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("unparsable target %q: %w", target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("target %q: scheme must be http or https", target)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("target %q: missing host", target)
	}
	return u, nil
}

// Matches reports whether path is the matcher itself or starts with it.
func (r Rule) Matches(path string) bool {
	return strings.HasPrefix(path, r.Matcher)
}

// RegexpRewrite returns a RewriteFunc replacing matches of pattern in the path
// with replacement. Replacement may reference groups as in regexp.Expand.
func RegexpRewrite(pattern, replacement string) (RewriteFunc, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: rewrite pattern %q: %w", ErrInvalidRule, pattern, err)
	}
	return func(path string) string {
		return re.ReplaceAllString(path, replacement)
	}, nil
}
