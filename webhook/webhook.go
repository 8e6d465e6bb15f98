// Package webhook posts signed batch lifecycle events to an HTTP endpoint.
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
	"sync"
	"time"
)

// SignatureHeader carries "sha256=<hex HMAC of the body>" when a secret is set.
const SignatureHeader = "X-Padcrawl-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string `json:"type"` // "checkpoint.saved", "batch.completed", "batch.interrupted", "batch.failed"
	BatchID   string `json:"batch_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// Sign returns the signature header value of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Deliver sends a webhook event synchronously.
// The request body is signed with HMAC-SHA256 if secret is non-empty.
func Deliver(ctx context.Context, client *http.Client, url, secret string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Padcrawl-Webhook/1.0")
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// DefaultRetryDelays are the waits before the second, third and fourth attempt.
var DefaultRetryDelays = []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}

// Notifier delivers the events of one batch asynchronously with retries.
type Notifier struct {
	url     string
	secret  string
	batchID string
	client  *http.Client
	delays  []time.Duration
	now     func() time.Time

	wg sync.WaitGroup
}

// NewNotifier creates a Notifier for batchID.
func NewNotifier(url, secret, batchID string) *Notifier {
	return &Notifier{
		url:     url,
		secret:  secret,
		batchID: batchID,
		client:  &http.Client{Timeout: 10 * time.Second},
		delays:  DefaultRetryDelays,
		now:     time.Now,
	}
}

// Notify queues an event and returns immediately.
func (n *Notifier) Notify(eventType string, data any) {
	event := &Event{
		Type:      eventType,
		BatchID:   n.batchID,
		Timestamp: n.now().Unix(),
		Data:      data,
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.deliver(event)
	}()
}

func (n *Notifier) deliver(event *Event) {
	delays := append([]time.Duration{0}, n.delays...)
	for attempt, delay := range delays {
		if delay > 0 {
			time.Sleep(delay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := Deliver(ctx, n.client, n.url, n.secret, event)
		cancel()
		if err == nil {
			slog.Debug("webhook delivered",
				"url", n.url,
				"event", event.Type,
				"batch", event.BatchID,
				"attempt", attempt+1,
			)
			return
		}
		slog.Warn("webhook delivery failed",
			"url", n.url,
			"event", event.Type,
			"batch", event.BatchID,
			"attempt", attempt+1,
			"error", err,
		)
	}
	slog.Error("webhook delivery exhausted all retries",
		"url", n.url,
		"event", event.Type,
		"batch", event.BatchID,
	)
}

// Wait blocks until queued deliveries finish or ctx is done.
func (n *Notifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
