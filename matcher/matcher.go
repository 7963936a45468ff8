// Package matcher decides whether a URL or a network response carries a
// provider result. The observed provider's listeners and the fallback chain
// share these rules so that both agree on what a result and a decoy are.
package matcher

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/use-agent/faceswap/config"
)

// ResultMatcher accepts URLs on the provider's result path and rejects
// decoys such as upload echoes and logo assets.
type ResultMatcher struct {
	pattern *regexp.Regexp
	decoys  []*regexp.Regexp
}

// NewResultMatcher compiles the result pattern and decoy patterns.
func NewResultMatcher(pattern string, decoys []string) (*ResultMatcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("matcher: result pattern: %w", err)
	}
	m := &ResultMatcher{pattern: re}
	for _, d := range decoys {
		dre, err := regexp.Compile(d)
		if err != nil {
			return nil, fmt.Errorf("matcher: decoy pattern %q: %w", d, err)
		}
		m.decoys = append(m.decoys, dre)
	}
	return m, nil
}

// Match reports whether rawURL is a result asset.
func (m *ResultMatcher) Match(rawURL string) bool {
	if rawURL == "" || strings.HasPrefix(rawURL, "data:") || strings.HasPrefix(rawURL, "blob:") {
		return false
	}
	if !m.pattern.MatchString(rawURL) {
		return false
	}
	return !m.IsDecoy(rawURL)
}

// IsDecoy reports whether rawURL matches any decoy pattern.
func (m *ResultMatcher) IsDecoy(rawURL string) bool {
	for _, d := range m.decoys {
		if d.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// ResponseMatcher recognises a JSON response announcing a finished result:
// the success path must be truthy and the result path non-empty.
type ResponseMatcher struct {
	urlPattern  *regexp.Regexp // nil matches every URL
	successPath string
	resultPaths []string
	results     *ResultMatcher
}

// successWords are string markers treated as a truthy success field.
var successWords = map[string]struct{}{
	"success":   {},
	"succeeded": {},
	"completed": {},
	"complete":  {},
	"done":      {},
	"finished":  {},
	"ok":        {},
}

// NewResponseMatcher builds a matcher from observed-provider configuration.
// ResultPath may list alternatives separated by commas.
func NewResponseMatcher(cfg config.ObservedConfig, results *ResultMatcher) (*ResponseMatcher, error) {
	m := &ResponseMatcher{successPath: cfg.SuccessPath, results: results}
	if cfg.ResponsePattern != "" {
		re, err := regexp.Compile(cfg.ResponsePattern)
		if err != nil {
			return nil, fmt.Errorf("matcher: response pattern: %w", err)
		}
		m.urlPattern = re
	}
	for _, p := range strings.Split(cfg.ResultPath, ",") {
		if p = strings.TrimSpace(p); p != "" {
			m.resultPaths = append(m.resultPaths, p)
		}
	}
	if len(m.resultPaths) == 0 {
		return nil, fmt.Errorf("matcher: result path is empty")
	}
	return m, nil
}

// Wants reports whether responses from rawURL should be inspected at all.
// Callers use it to avoid loading bodies of unrelated traffic.
func (m *ResponseMatcher) Wants(rawURL string) bool {
	if m.urlPattern == nil {
		return true
	}
	return m.urlPattern.MatchString(rawURL)
}

// Match extracts the result reference from body. Relative references are
// resolved against responseURL.
func (m *ResponseMatcher) Match(responseURL string, body []byte) (string, bool) {
	if !m.Wants(responseURL) || !gjson.ValidBytes(body) {
		return "", false
	}
	if m.successPath != "" && !truthy(gjson.GetBytes(body, m.successPath)) {
		return "", false
	}
	for _, p := range m.resultPaths {
		ref := strings.TrimSpace(firstString(gjson.GetBytes(body, p)))
		if ref == "" {
			continue
		}
		abs := resolve(responseURL, ref)
		if m.results != nil && m.results.IsDecoy(abs) {
			continue
		}
		return abs, true
	}
	return "", false
}

func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return r.Int() == 1
	case gjson.String:
		_, ok := successWords[strings.ToLower(r.Str)]
		return ok
	default:
		return false
	}
}

// firstString returns r as a string, or its first element when r is an array.
func firstString(r gjson.Result) string {
	if r.IsArray() {
		arr := r.Array()
		if len(arr) == 0 {
			return ""
		}
		return arr[0].String()
	}
	if r.Type == gjson.String {
		return r.Str
	}
	return ""
}

func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := b.Parse(ref)
	if err != nil {
		return ref
	}
	return r.String()
}

// FromConfig builds both matchers for the observed provider.
func FromConfig(cfg config.ObservedConfig) (*ResultMatcher, *ResponseMatcher, error) {
	results, err := NewResultMatcher(cfg.ResultPattern, cfg.DecoyPatterns)
	if err != nil {
		return nil, nil, err
	}
	responses, err := NewResponseMatcher(cfg, results)
	if err != nil {
		return nil, nil, err
	}
	return results, responses, nil
}
