package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trnila/nextbike-rides-viewer/internal/proxy"
)

// ErrInvalidConfig wraps every error caused by the content of a config file.
var ErrInvalidConfig = errors.New("invalid config")

// ErrConfigMissing is returned by Reload when the rule file no longer exists.
var ErrConfigMissing = errors.New("config file missing")

// DefaultBackend is where the viewer's backend listens during development.
const DefaultBackend = "http://localhost:8080/"

// Default returns the built-in rules used when no config file is given.
// The backend sees its own address in the Host header.
func Default() *Config {
	return &Config{
		Proxy: RuleSet{
			{Matcher: "/rides", Target: DefaultBackend, ChangeOrigin: true},
			{Matcher: "/stations.json", Target: DefaultBackend, ChangeOrigin: true},
		},
	}
}

// Load reads and validates the YAML rule file at path.
// A missing or empty file, or one without a proxy section, yields Default().
// Malformed YAML, unknown keys and invalid rules return an error wrapping
// ErrInvalidConfig; no partially valid config is returned.
func Load(path string) (*Config, error) {
	cfg, err := Reload(path)
	if errors.Is(err, ErrConfigMissing) {
		return Default(), nil
	}
	return cfg, err
}

// Reload is Load for a rule file that is already in use: a missing file is
// reported as ErrConfigMissing instead of falling back to Default(), so the
// caller can keep the rules it has.
func Reload(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigMissing, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Default(), nil
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		// Comments only.
		if errors.Is(err, io.EOF) {
			return Default(), nil
		}
		return nil, fmt.Errorf("%w: failed to parse config YAML: %w", ErrInvalidConfig, err)
	}
	if cfg.Proxy == nil {
		return Default(), nil
	}

	if _, err := cfg.Rules(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Rules compiles the rule set into router rules in declaration order.
// All problems are reported together.
func (c *Config) Rules() ([]proxy.Rule, error) {
	var errs []error
	rules := make([]proxy.Rule, 0, len(c.Proxy))
	seen := make(map[string]struct{}, len(c.Proxy))
	for i, rc := range c.Proxy {
		if _, dup := seen[rc.Matcher]; dup {
			errs = append(errs, fmt.Errorf("proxy[%d]: duplicate matcher %q", i, rc.Matcher))
			continue
		}
		seen[rc.Matcher] = struct{}{}

		rule, err := rc.rule()
		if err != nil {
			errs = append(errs, fmt.Errorf("proxy[%d]: %w", i, err))
			continue
		}
		rules = append(rules, rule)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return rules, nil
}

func (rc RuleConfig) rule() (proxy.Rule, error) {
	opts := proxy.DefaultOptions()
	if rc.Secure != nil {
		opts.Secure = *rc.Secure
	}
	opts.ChangeOrigin = rc.ChangeOrigin
	opts.XForwarded = rc.XForwarded

	if rc.Timeout != "" {
		d, err := time.ParseDuration(rc.Timeout)
		if err != nil {
			return proxy.Rule{}, fmt.Errorf("%q: invalid timeout %q: %w", rc.Matcher, rc.Timeout, err)
		}
		if d <= 0 {
			return proxy.Rule{}, fmt.Errorf("%q: timeout must be positive, got %q", rc.Matcher, rc.Timeout)
		}
		opts.Timeout = d
	}

	if rc.Rewrite != nil {
		if rc.Rewrite.Pattern == "" {
			return proxy.Rule{}, fmt.Errorf("%q: rewrite pattern is required", rc.Matcher)
		}
		rewrite, err := proxy.RegexpRewrite(rc.Rewrite.Pattern, rc.Rewrite.Replacement)
		if err != nil {
			return proxy.Rule{}, err
		}
		opts.Rewrite = rewrite
	}

	return proxy.NewRule(rc.Matcher, rc.Target, opts)
}
