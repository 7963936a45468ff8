// Package fallback recovers a result location from page state when no
// network signal arrived before the deadline.
package fallback

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/use-agent/faceswap/models"
)

// maxStrategyTimeout caps the time any single strategy may take.
const maxStrategyTimeout = 30 * time.Second

// PageState is the read-only view of a page the strategies work on.
type PageState interface {
	HTML(ctx context.Context) (string, error)
	ResourceURLs(ctx context.Context) ([]string, error)
}

// Strategy looks for a result location. It returns "" when it found
// nothing; an error means the strategy itself could not run.
type Strategy interface {
	Name() string
	Find(ctx context.Context, page PageState) (string, error)
}

// Chain runs strategies in order and stops at the first hit.
type Chain struct {
	strategies []Strategy
	timeout    time.Duration
}

// NewChain builds a chain. timeout bounds each strategy and is capped at 30s.
func NewChain(timeout time.Duration, strategies ...Strategy) *Chain {
	if timeout <= 0 || timeout > maxStrategyTimeout {
		timeout = maxStrategyTimeout
	}
	return &Chain{strategies: strategies, timeout: timeout}
}

// Strategies returns the strategy names in run order.
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Run tries every strategy once. A strategy error is logged and treated as
// "not found". When nothing is found, the error wraps
// models.ErrExtractionExhausted.
func (c *Chain) Run(ctx context.Context, page PageState) (string, string, error) {
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return "", "", errors.Join(models.ErrExtractionExhausted, err)
		}

		sctx, cancel := context.WithTimeout(ctx, c.timeout)
		found, err := s.Find(sctx, page)
		cancel()

		switch {
		case err != nil:
			slog.Warn("fallback: strategy failed", "strategy", s.Name(), "error", err)
		case found == "":
			slog.Debug("fallback: strategy found nothing", "strategy", s.Name())
		default:
			slog.Info("fallback: result recovered", "strategy", s.Name(), "url", found)
			return found, s.Name(), nil
		}
	}
	return "", "", models.ErrExtractionExhausted
}

// absolute resolves ref against base and keeps only http(s) results.
func absolute(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
