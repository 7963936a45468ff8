package browser

import (
	"encoding/base64"
	"log/slog"
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/faceswap/matcher"
)

// configToProto maps human-readable config strings to Rod protocol resource types.
var configToProto = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

// adDomains is a set of well-known ad and tracking domains to block
// when BlockAds is enabled. Provider pages tend to be ad-heavy.
var adDomains = map[string]struct{}{
	"doubleclick.net":        {},
	"googlesyndication.com":  {},
	"googleadservices.com":   {},
	"google-analytics.com":   {},
	"googletagmanager.com":   {},
	"googletagservices.com":  {},
	"facebook.net":           {},
	"adnxs.com":              {},
	"adsrvr.org":             {},
	"amazon-adsystem.com":    {},
	"criteo.com":             {},
	"criteo.net":             {},
	"outbrain.com":           {},
	"taboola.com":            {},
	"moatads.com":            {},
	"pubmatic.com":           {},
	"rubiconproject.com":     {},
	"scorecardresearch.com":  {},
	"quantserve.com":         {},
	"hotjar.com":             {},
	"mixpanel.com":           {},
	"segment.io":             {},
	"ads-twitter.com":        {},
	"media.net":              {},
	"openx.net":              {},
	"casalemedia.com":        {},
	"adsterra.com":           {},
	"propellerads.com":       {},
	"popads.net":             {},
	"consensu.org":           {},
}

// isAdDomain checks if a hostname (or any parent domain) is in the ad blocklist.
func isAdDomain(host string) bool {
	host = strings.ToLower(host)
	if _, ok := adDomains[host]; ok {
		return true
	}
	// Check parent domains (e.g., "pagead2.googlesyndication.com" → "googlesyndication.com").
	for {
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			break
		}
		host = host[idx+1:]
		if _, ok := adDomains[host]; ok {
			return true
		}
	}
	return false
}

type hijackOptions struct {
	blockedTypes []string
	blockAds     bool
	results      *matcher.ResultMatcher
	responses    *matcher.ResponseMatcher
	latch        *Latch
}

// verdict is what the interceptor does with a request paused before it is sent.
type verdict int

const (
	verdictContinue verdict = iota
	verdictAsset            // offered to the latch, then continued
	verdictBlock
)

// requestRouter decides the fate of paused requests and feeds both result
// listeners into one latch. Requests are paused before they are sent; API
// calls are paused a second time once Chrome has their response, so the
// body the page receives is read in place and nothing is sent twice.
type requestRouter struct {
	blocked   map[proto.NetworkResourceType]struct{}
	blockAds  bool
	results   *matcher.ResultMatcher
	responses *matcher.ResponseMatcher
	latch     *Latch
}

func newRequestRouter(o hijackOptions) *requestRouter {
	blocked := make(map[proto.NetworkResourceType]struct{}, len(o.blockedTypes))
	for _, name := range o.blockedTypes {
		if rt, ok := configToProto[name]; ok {
			blocked[rt] = struct{}{}
		}
	}
	return &requestRouter{
		blocked:   blocked,
		blockAds:  o.blockAds,
		results:   o.results,
		responses: o.responses,
		latch:     o.latch,
	}
}

// route handles a request paused before it is sent. A matching result asset
// is offered to the latch even if it would otherwise be blocked.
func (r *requestRouter) route(rawURL string, rtype proto.NetworkResourceType) verdict {
	if r.results != nil && r.results.Match(rawURL) {
		if r.latch.Offer(Candidate{URL: rawURL, Source: SourceAsset}) {
			slog.Info("observed: result asset requested", "url", rawURL)
		}
		return verdictAsset
	}
	if _, shouldBlock := r.blocked[rtype]; shouldBlock {
		return verdictBlock
	}
	if r.blockAds {
		if u, err := url.Parse(rawURL); err == nil && isAdDomain(u.Hostname()) {
			return verdictBlock
		}
	}
	return verdictContinue
}

// inspects reports whether the response to this request should be read.
func (r *requestRouter) inspects(rawURL string, rtype proto.NetworkResourceType) bool {
	return r.responses != nil && isAPICall(rtype) && r.responses.Wants(rawURL)
}

// observe offers the result announced by an API response body, if any.
func (r *requestRouter) observe(rawURL string, body []byte) bool {
	ref, ok := r.responses.Match(rawURL, body)
	if !ok {
		return false
	}
	if r.latch.Offer(Candidate{URL: ref, Source: SourceResponse}) {
		slog.Info("observed: result announced by response", "endpoint", rawURL, "url", ref)
	}
	return true
}

// patterns pauses every request before it is sent, and API calls again at
// the response stage when a response listener is configured.
func (r *requestRouter) patterns() []*proto.FetchRequestPattern {
	p := []*proto.FetchRequestPattern{{URLPattern: "*", RequestStage: proto.FetchRequestStageRequest}}
	if r.responses != nil {
		p = append(p,
			&proto.FetchRequestPattern{URLPattern: "*", ResourceType: proto.NetworkResourceTypeXHR, RequestStage: proto.FetchRequestStageResponse},
			&proto.FetchRequestPattern{URLPattern: "*", ResourceType: proto.NetworkResourceTypeFetch, RequestStage: proto.FetchRequestStageResponse},
		)
	}
	return p
}

// handle resolves one Fetch.requestPaused event. Every path ends with
// exactly one continue or fail call so the page never stalls.
func (r *requestRouter) handle(page *rod.Page, e *proto.FetchRequestPaused) {
	rawURL := e.Request.URL

	if e.ResponseStatusCode != nil || e.ResponseErrorReason != "" {
		if e.ResponseErrorReason == "" && r.inspects(rawURL, e.ResourceType) {
			res, err := proto.FetchGetResponseBody{RequestID: e.RequestID}.Call(page)
			if err != nil {
				slog.Debug("observed: response body unavailable", "url", rawURL, "error", err)
			} else if body, err := decodeBody(res); err == nil {
				r.observe(rawURL, body)
			}
		}
		_ = proto.FetchContinueResponse{RequestID: e.RequestID}.Call(page)
		return
	}

	if r.route(rawURL, e.ResourceType) == verdictBlock {
		_ = proto.FetchFailRequest{RequestID: e.RequestID, ErrorReason: proto.NetworkErrorReasonBlockedByClient}.Call(page)
		return
	}
	_ = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(page)
}

func decodeBody(res *proto.FetchGetResponseBodyResult) ([]byte, error) {
	if res.Base64Encoded {
		return base64.StdEncoding.DecodeString(res.Body)
	}
	return []byte(res.Body), nil
}

// setupHijack enables interception on page and runs the router until the
// returned stop function is called.
//
// Both listeners live on the Fetch domain: enabling Network events next to
// request interception makes Chromium 145+ fail requests with
// ERR_BLOCKED_BY_CLIENT.
func setupHijack(page *rod.Page, o hijackOptions) (func(), error) {
	r := newRequestRouter(o)

	p, cancel := page.WithCancel()
	if err := (proto.FetchEnable{Patterns: r.patterns()}).Call(p); err != nil {
		cancel()
		return nil, err
	}

	// Fetch is already enabled, so EachEvent keeps our patterns.
	wait := p.EachEvent(func(e *proto.FetchRequestPaused) {
		go r.handle(p, e)
	})
	go wait()

	return func() {
		cancel()
		_ = proto.FetchDisable{}.Call(page)
	}, nil
}

func isAPICall(t proto.NetworkResourceType) bool {
	return t == proto.NetworkResourceTypeXHR || t == proto.NetworkResourceTypeFetch
}
