// ABOUTME: Fire-and-forget webhook notifier for relayed events.
// ABOUTME: Each notification runs in a detached goroutine with a bounded timeout and no retries.

package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultWebhookTimeout bounds each webhook request.
const DefaultWebhookTimeout = 5 * time.Second

// webhookPayload is the body POSTed to the webhook.
type webhookPayload struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// WebhookNotifier posts relayed events to an external URL.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	timeout time.Duration
	metrics *Metrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex // guards closed and wg.Add against Close
	closed bool
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewWebhookNotifier creates a notifier for url. A non-positive timeout uses
// DefaultWebhookTimeout; a nil client uses http.DefaultClient.
func NewWebhookNotifier(url string, timeout time.Duration, client *http.Client, logger *slog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebhookNotifier{
		url:     url,
		client:  client,
		timeout: timeout,
		logger:  logger.With("component", "webhook"),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}
}

// URL returns the configured endpoint.
func (w *WebhookNotifier) URL() string {
	return w.url
}

// Notify schedules a POST of payload and returns immediately. It reports
// false when the notifier has been closed.
func (w *WebhookNotifier) Notify(payload json.RawMessage) bool {
	body, err := w.encode(payload)
	if err != nil {
		w.logger.Error("encoding webhook payload", "error", err)
		w.metrics.recordWebhook("error")
		return false
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		w.send(body)
	}()
	return true
}

func (w *WebhookNotifier) encode(payload json.RawMessage) ([]byte, error) {
	data := json.RawMessage("null")
	if json.Valid(payload) {
		data = payload
	}
	return json.Marshal(webhookPayload{
		Type:      "hello",
		Data:      data,
		Timestamp: w.now().UTC().Format(time.RFC3339),
	})
}

func (w *WebhookNotifier) send(body []byte) {
	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	defer cancel()

	if err := w.post(ctx, body); err != nil {
		if w.ctx.Err() != nil {
			w.metrics.recordWebhook("abandoned")
			w.logger.Debug("webhook abandoned on shutdown")
			return
		}
		w.metrics.recordWebhook("error")
		w.logger.Warn("webhook notification failed", "url", w.url, "error", err)
		return
	}
	w.metrics.recordWebhook("ok")
	w.logger.Debug("webhook notified", "url", w.url)
}

func (w *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Close abandons in-flight notifications and waits for their goroutines to exit.
func (w *WebhookNotifier) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
}
