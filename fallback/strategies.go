package fallback

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/use-agent/faceswap/config"
	"github.com/use-agent/faceswap/matcher"
	"golang.org/x/net/html"
)

// Markup scans the rendered HTML for image and link references that match
// the result pattern.
type Markup struct {
	base    *url.URL
	results *matcher.ResultMatcher
}

// NewMarkup builds the result-markup strategy. pageURL resolves relative refs.
func NewMarkup(pageURL string, results *matcher.ResultMatcher) *Markup {
	base, _ := url.Parse(pageURL)
	return &Markup{base: base, results: results}
}

func (m *Markup) Name() string { return "result-markup" }

func (m *Markup) Find(ctx context.Context, page PageState) (string, error) {
	raw, err := page.HTML(ctx)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	var found string
	doc.Find("img, a[href], source[srcset]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, ref := range references(s) {
			if u := absolute(m.base, ref); u != "" && m.results.Match(u) {
				found = u
				return false
			}
		}
		return true
	})
	return found, nil
}

// references lists src, href and every srcset candidate of an element.
func references(s *goquery.Selection) []string {
	var refs []string
	for _, attr := range []string{"src", "href", "data-src"} {
		if v, ok := s.Attr(attr); ok && v != "" {
			refs = append(refs, strings.TrimSpace(v))
		}
	}
	if v, ok := s.Attr("srcset"); ok {
		refs = append(refs, parseSrcset(v)...)
	}
	return refs
}

// parseSrcset returns the URLs of a srcset attribute, dropping descriptors.
func parseSrcset(v string) []string {
	var out []string
	for _, candidate := range strings.Split(v, ",") {
		fields := strings.Fields(candidate)
		if len(fields) > 0 {
			out = append(out, fields[0])
		}
	}
	return out
}

// Selector reads the element the provider renders its result into.
type Selector struct {
	base     *url.URL
	selector cascadia.Sel
	results  *matcher.ResultMatcher
}

// NewSelector compiles the result-selector strategy.
func NewSelector(pageURL, selector string, results *matcher.ResultMatcher) (*Selector, error) {
	sel, err := cascadia.Parse(selector)
	if err != nil {
		return nil, fmt.Errorf("fallback: result selector %q: %w", selector, err)
	}
	base, _ := url.Parse(pageURL)
	return &Selector{base: base, selector: sel, results: results}, nil
}

func (s *Selector) Name() string { return "result-selector" }

func (s *Selector) Find(ctx context.Context, page PageState) (string, error) {
	raw, err := page.HTML(ctx)
	if err != nil {
		return "", err
	}
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}
	for _, n := range cascadia.QueryAll(root, s.selector) {
		for _, attr := range []string{"src", "href", "data-src"} {
			u := absolute(s.base, attrValue(n, attr))
			if u != "" && !s.results.IsDecoy(u) {
				return u, nil
			}
		}
	}
	return "", nil
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

// ResourceTiming looks through every URL the page fetched, catching results
// that loaded before the listeners could report them.
type ResourceTiming struct {
	results *matcher.ResultMatcher
}

// NewResourceTiming builds the resource-timing strategy.
func NewResourceTiming(results *matcher.ResultMatcher) *ResourceTiming {
	return &ResourceTiming{results: results}
}

func (r *ResourceTiming) Name() string { return "resource-timing" }

// Find returns the most recent matching resource.
func (r *ResourceTiming) Find(ctx context.Context, page PageState) (string, error) {
	urls, err := page.ResourceURLs(ctx)
	if err != nil {
		return "", err
	}
	for i := len(urls) - 1; i >= 0; i-- {
		if r.results.Match(urls[i]) {
			return urls[i], nil
		}
	}
	return "", nil
}

// FromConfig builds the default chain: markup, then the configured selector
// when there is one, then resource timing.
func FromConfig(cfg config.ObservedConfig, timeout time.Duration, results *matcher.ResultMatcher) (*Chain, error) {
	strategies := []Strategy{NewMarkup(cfg.PageURL, results)}
	if cfg.ResultSelector != "" {
		sel, err := NewSelector(cfg.PageURL, cfg.ResultSelector, results)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, sel)
	}
	strategies = append(strategies, NewResourceTiming(results))
	return NewChain(timeout, strategies...), nil
}
