package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration parsed from the YAML rule file.
type Config struct {
	Proxy RuleSet `yaml:"proxy" json:"proxy"`
}

// RuleSet is the ordered list of proxy rules. In YAML it is a mapping from
// path matcher to either a target URL or a RuleConfig; key order is kept.
// The bare target URL form also rewrites the Host header to the target.
type RuleSet []RuleConfig

// RuleConfig declares one proxy rule.
type RuleConfig struct {
	Matcher      string         `yaml:"-"            json:"matcher"`
	Target       string         `yaml:"target"       json:"target"`
	Secure       *bool          `yaml:"secure"       json:"secure,omitempty"`
	ChangeOrigin bool           `yaml:"changeOrigin" json:"changeOrigin,omitempty"`
	XForwarded   bool           `yaml:"xfwd"         json:"xfwd,omitempty"`
	Timeout      string         `yaml:"timeout"      json:"timeout,omitempty"`
	Rewrite      *RewriteConfig `yaml:"rewrite"      json:"rewrite,omitempty"`
}

// RewriteConfig rewrites the request path with a regular expression before
// it is sent upstream.
type RewriteConfig struct {
	Pattern     string `yaml:"pattern"     json:"pattern"`
	Replacement string `yaml:"replacement" json:"replacement"`
}

var knownRewriteKeys = map[string]struct{}{
	"pattern":     {},
	"replacement": {},
}

var knownRuleKeys = map[string]struct{}{
	"target":       {},
	"secure":       {},
	"changeOrigin": {},
	"xfwd":         {},
	"timeout":      {},
	"rewrite":      {},
}

// UnmarshalYAML decodes the proxy mapping in document order.
func (rs *RuleSet) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: proxy must map path matchers to targets", value.Line)
	}

	rules := make(RuleSet, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		rc := RuleConfig{Matcher: key.Value}

		switch val.Kind {
		case yaml.ScalarNode:
			rc.Target = val.Value
			rc.ChangeOrigin = true
		case yaml.MappingNode:
			if err := checkKeys(val, knownRuleKeys, key.Value); err != nil {
				return err
			}
			if err := val.Decode(&rc); err != nil {
				return fmt.Errorf("proxy %q: %w", key.Value, err)
			}
		default:
			return fmt.Errorf("line %d: proxy %q: expected a target URL or an options mapping", val.Line, key.Value)
		}
		rules = append(rules, rc)
	}

	*rs = rules
	return nil
}

// checkKeys rejects option names outside known, including those of a nested
// rewrite mapping. Node.Decode does not honour the decoder's KnownFields.
func checkKeys(node *yaml.Node, known map[string]struct{}, matcher string) error {
	for j := 0; j+1 < len(node.Content); j += 2 {
		opt, val := node.Content[j], node.Content[j+1]
		if _, ok := known[opt.Value]; !ok {
			return fmt.Errorf("line %d: proxy %q: unknown option %q", opt.Line, matcher, opt.Value)
		}
		if opt.Value == "rewrite" && val.Kind == yaml.MappingNode {
			if err := checkKeys(val, knownRewriteKeys, matcher); err != nil {
				return err
			}
		}
	}
	return nil
}
