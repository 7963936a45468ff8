package browser

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/faceswap/config"
	"github.com/use-agent/faceswap/matcher"
	"github.com/use-agent/faceswap/models"
)

// Browser manages the global browser lifecycle and the page pool used by
// observed-provider sessions. It is safe for concurrent use.
type Browser struct {
	browser     *rod.Browser
	pagePool    rod.Pool[rod.Page]
	cfg         config.BrowserConfig
	activePages atomic.Int32
	startTime   time.Time

	healthMu sync.Mutex
	health   map[*rod.Page]*pageHealth
}

// SessionOptions configures a single observed session.
type SessionOptions struct {
	// Headers are sent with every request the page makes.
	Headers map[string]string

	// Results and Responses decide which traffic carries the result.
	Results   *matcher.ResultMatcher
	Responses *matcher.ResponseMatcher
}

// New launches a headless browser and initialises the reusable page pool.
func New(cfg config.BrowserConfig) (*Browser, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.DefaultProxy != "" {
		l = l.Proxy(cfg.DefaultProxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewSwapError(
			models.ErrCodeConfiguration,
			"failed to launch browser",
			err,
		)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, models.NewSwapError(
			models.ErrCodeConfiguration,
			"failed to connect to browser",
			err,
		)
	}

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	pool := rod.NewPagePool(maxPages)
	slog.Info("page pool created", "maxPages", maxPages)

	return &Browser{
		browser:   b,
		pagePool:  pool,
		cfg:       cfg,
		startTime: time.Now(),
		health:    make(map[*rod.Page]*pageHealth),
	}, nil
}

// Open borrows a page from the pool and prepares it for a provider run:
// stealth is injected and both result listeners are mounted before any
// navigation happens. The caller must Close the session.
func (b *Browser) Open(ctx context.Context, opts SessionOptions) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, categorizeError(err, "session not opened")
	}
	b.activePages.Add(1)

	page, err := b.pagePool.Get(func() (*rod.Page, error) {
		return b.browser.Page(proto.TargetCreateTarget{})
	})
	if err != nil {
		b.activePages.Add(-1)
		return nil, categorizeError(err, "failed to acquire page from pool")
	}

	s := &Session{
		page:  page,
		latch: NewLatch(),
	}
	s.onClose = append(s.onClose, func() {
		b.recycle(page, s.failed.Load())
		b.activePages.Add(-1)
	})

	// Stealth and listeners only apply to navigations made after they are
	// installed, so both happen here, before Navigate.
	if b.cfg.Stealth {
		if err := injectStealth(page); err != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}
	if len(opts.Headers) > 0 {
		_ = proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(opts.Headers)}.Call(page)
	}

	stop, err := setupHijack(page, hijackOptions{
		blockedTypes: b.cfg.BlockedResourceTypes,
		blockAds:     b.cfg.BlockAds,
		results:      opts.Results,
		responses:    opts.Responses,
		latch:        s.latch,
	})
	if err != nil {
		s.MarkFailed()
		_ = s.Close()
		return nil, categorizeError(err, "failed to install request listeners")
	}
	s.stopHijack = stop

	return s, nil
}

// recycle returns page to the pool, or closes it and frees its slot when
// its health says it should retire.
func (b *Browser) recycle(page *rod.Page, failed bool) {
	now := time.Now()

	b.healthMu.Lock()
	h, ok := b.health[page]
	if !ok {
		h = newPageHealth(now)
		b.health[page] = h
	}
	b.healthMu.Unlock()

	if navErr := page.Navigate("about:blank"); navErr != nil {
		slog.Warn("cleanup: failed to navigate to about:blank", "error", navErr)
		failed = true
	}
	h.record(failed)

	if !h.shouldRetire(now) {
		b.pagePool.Put(page)
		return
	}

	slog.Debug("browser: retiring page")
	b.healthMu.Lock()
	delete(b.health, page)
	b.healthMu.Unlock()
	if err := page.Close(); err != nil {
		slog.Warn("browser: failed to close retired page", "error", err)
	}
	// A nil entry frees the slot; the next Get creates a fresh page.
	b.pagePool.Put(nil)
}

// Stats returns a snapshot of the pool's current state.
func (b *Browser) Stats() models.PoolStats {
	return models.PoolStats{
		MaxPages:    b.cfg.MaxPages,
		ActivePages: int(b.activePages.Load()),
	}
}

// Uptime reports how long the browser has been running.
func (b *Browser) Uptime() time.Duration {
	return time.Since(b.startTime)
}

// Close drains the page pool and kills the browser process.
// Call this on graceful shutdown to prevent zombie Chrome processes.
func (b *Browser) Close() {
	slog.Info("browser shutting down: draining page pool")
	b.pagePool.Cleanup(func(p *rod.Page) {
		_ = p.Close()
	})
	slog.Info("browser shutting down: closing browser")
	if err := b.browser.Close(); err != nil {
		slog.Warn("browser close failed", "error", err)
	}
	slog.Info("browser shutdown complete")
}
