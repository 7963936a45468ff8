// Package webhook delivers signed completion events for async swap jobs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/use-agent/faceswap/metrics"
)

// Event types.
const (
	EventCompleted = "swap.completed"
	EventFailed    = "swap.failed"
)

// SignatureHeader carries "sha256=<hex>" of the body when a secret is set.
const SignatureHeader = "X-Faceswap-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// Notifier posts events. The zero value is not usable; use New.
type Notifier struct {
	client  *http.Client
	secret  string
	retries uint64
	base    time.Duration
	metrics *metrics.Metrics
}

// Option customises a Notifier.
type Option func(*Notifier)

// WithClient replaces the default 10s-timeout HTTP client.
func WithClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// WithBackoff sets the number of retries and the base exponential delay.
func WithBackoff(retries uint64, base time.Duration) Option {
	return func(n *Notifier) {
		n.retries = retries
		n.base = base
	}
}

// WithMetrics counts delivery outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

// New builds a Notifier. Bodies are signed with HMAC-SHA256 when secret is
// non-empty.
func New(secret string, opts ...Option) *Notifier {
	n := &Notifier{
		client:  &http.Client{Timeout: 10 * time.Second},
		secret:  secret,
		retries: 3,
		base:    time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Deliver sends one event synchronously. A 4xx or 5xx reply is an error.
func (n *Notifier) Deliver(ctx context.Context, url string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Faceswap-Webhook/1.0")
	if n.secret != "" {
		req.Header.Set(SignatureHeader, Sign(n.secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// DeliverWithRetry delivers event, retrying with exponential backoff until
// it succeeds, the retries run out or ctx ends.
func (n *Notifier) DeliverWithRetry(ctx context.Context, url string, event *Event) error {
	backoff := retry.WithMaxRetries(n.retries, retry.NewExponential(n.base))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := n.Deliver(ctx, url, event); err != nil {
			slog.Warn("webhook delivery failed",
				"url", url,
				"event", event.Type,
				"job_id", event.JobID,
				"attempt", attempt,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	n.metrics.WebhookDelivered(err == nil)

	if err != nil {
		slog.Error("webhook delivery exhausted all retries",
			"url", url,
			"event", event.Type,
			"job_id", event.JobID,
		)
		return err
	}
	slog.Info("webhook delivered",
		"url", url,
		"event", event.Type,
		"job_id", event.JobID,
		"attempt", attempt,
	)
	return nil
}

// DeliverAsync runs DeliverWithRetry in the background.
func (n *Notifier) DeliverAsync(url string, event *Event) {
	go func() {
		_ = n.DeliverWithRetry(context.Background(), url, event)
	}()
}
