package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// actionTimeout is the per-action deadline.
const actionTimeout = 10 * time.Second

// navigationTimeout bounds the initial page load.
const navigationTimeout = 45 * time.Second

// Navigate loads rawURL and waits for the DOM to settle.
func (s *Session) Navigate(ctx context.Context, rawURL string) error {
	ctx, cancel := context.WithTimeout(ctx, navigationTimeout)
	defer cancel()

	p := s.page.Context(ctx)
	if err := p.Navigate(rawURL); err != nil {
		return categorizeError(err, "navigation to provider page failed")
	}
	if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", err)
	}
	return nil
}

// Upload sets path as the file of the input matched by selector.
func (s *Session) Upload(ctx context.Context, selector, path string) error {
	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return categorizeError(fmt.Errorf("element %q not found: %w", selector, err), "upload failed")
	}
	if err := el.SetFiles([]string{path}); err != nil {
		return categorizeError(err, fmt.Sprintf("upload into %q failed", selector))
	}
	return nil
}

// Click finds the element matching selector and clicks it.
func (s *Session) Click(ctx context.Context, selector string) error {
	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return categorizeError(fmt.Errorf("element %q not found: %w", selector, err), "click failed")
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return categorizeError(err, fmt.Sprintf("click on %q failed", selector))
	}
	return nil
}

// Settle waits for d or until ctx is done. Provider pages process uploads
// client-side and give no event when they are ready.
func (s *Session) Settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return categorizeError(ctx.Err(), "interrupted while waiting for the page")
	}
}
