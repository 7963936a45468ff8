package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/faceswap/models"
	"github.com/ysmood/gson"
)

// Session is one pooled page driving a provider run. Its listeners feed a
// single Latch; Close tears everything down exactly once.
type Session struct {
	page   *rod.Page
	stopHijack func()
	latch  *Latch
	failed atomic.Bool

	mu        sync.Mutex
	onClose   []func()
	closeOnce sync.Once
}

// Signals delivers the first candidate accepted by either listener.
func (s *Session) Signals() <-chan Candidate {
	return s.latch.Done()
}

// Seal deactivates both listeners. A candidate accepted before sealing but
// not yet received is returned.
func (s *Session) Seal() (Candidate, bool) {
	return s.latch.Seal()
}

// MarkFailed records that the run on this page went wrong, which counts
// against the page's health when it returns to the pool.
func (s *Session) MarkFailed() {
	s.failed.Store(true)
}

// OnClose registers fn to run when the session closes. Hooks run in
// reverse registration order.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = append(s.onClose, fn)
}

// HTML returns the rendered document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", categorizeError(err, "failed to read page HTML")
	}
	return html, nil
}

// ResourceURLs lists every resource the page has fetched so far, from the
// Resource Timing buffer.
func (s *Session) ResourceURLs(ctx context.Context) ([]string, error) {
	res, err := s.page.Context(ctx).Eval(`() => {
		try {
			return performance.getEntriesByType("resource").map(e => e.name);
		} catch (e) {
			return [];
		}
	}`)
	if err != nil {
		return nil, categorizeError(err, "failed to read resource timing")
	}
	entries := res.Value.Arr()
	urls := make([]string, 0, len(entries))
	for _, e := range entries {
		if u := e.Str(); u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

// Close seals the latch, stops the listeners and returns the page to the
// pool. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.latch.Seal()
		if s.stopHijack != nil {
			s.stopHijack()
		}
		s.mu.Lock()
		hooks := s.onClose
		s.onClose = nil
		s.mu.Unlock()
		for i := len(hooks) - 1; i >= 0; i-- {
			hooks[i]()
		}
	})
	return nil
}

func injectStealth(page *rod.Page) error {
	_, err := page.EvalOnNewDocument(stealth.JS)
	return err
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// categorizeError wraps raw browser errors into SwapErrors.
func categorizeError(err error, msg string) *models.SwapError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewSwapError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewSwapError(models.ErrCodeCanceled, msg, err)
	default:
		return models.NewSwapError(models.ErrCodeSubmission, fmt.Sprintf("%s (browser)", msg), err)
	}
}
