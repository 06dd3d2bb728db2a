// Package webhook delivers stored alerts to a clinic paging system over
// signed HTTP POSTs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ckdcare/ckd/internal/platform/notification"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	EventHeader     = "X-Webhook-Event"
	TimestampHeader = "X-Webhook-Timestamp"
)

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "sha256=<hex>" header value against payload.
func VerifySignature(payload []byte, secret, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(sig))
}

type Option func(*Publisher)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Publisher) { p.client = c }
}

// WithRetryDelays sets the waits between attempts; one delay per retry.
func WithRetryDelays(d ...time.Duration) Option {
	return func(p *Publisher) { p.retryDelays = d }
}

// Publisher implements notification.Publisher against a single endpoint.
type Publisher struct {
	url         string
	secret      string
	client      *http.Client
	retryDelays []time.Duration
}

func New(rawURL, secret string, opts ...Option) (*Publisher, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	p := &Publisher{
		url:         rawURL,
		secret:      secret,
		client:      &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{200 * time.Millisecond, time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("webhook url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("webhook url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// Publish retries network errors and 5xx answers. A 4xx answer is final.
func (p *Publisher) Publish(ctx context.Context, ev notification.AlertEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}
	sig := "sha256=" + SignPayload(payload, p.secret)

	var lastErr error
	for attempt := 0; ; attempt++ {
		retry, err := p.deliver(ctx, payload, sig)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt >= len(p.retryDelays) {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("webhook delivery: %w", ctx.Err())
		case <-time.After(p.retryDelays[attempt]):
		}
	}
	return fmt.Errorf("webhook delivery: %w", lastErr)
}

func (p *Publisher) deliver(ctx context.Context, payload []byte, sig string) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, sig)
	req.Header.Set(EventHeader, "alert.triggered")
	req.Header.Set(TimestampHeader, time.Now().UTC().Format(time.RFC3339))

	resp, err := p.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("endpoint answered %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("endpoint rejected event with %d", resp.StatusCode)
	}
}

func (p *Publisher) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
