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

	"github.com/use-agent/portharvest/config"
	"github.com/use-agent/portharvest/models"
)

// Event types.
const (
	EventCompleted = "harvest.completed"
	EventFailed    = "harvest.failed"
)

// SignatureHeader carries "sha256=<hex>" when a secret is configured.
const SignatureHeader = "X-Harvest-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string             `json:"type"`
	Timestamp int64              `json:"timestamp"`
	Data      *models.RunSummary `json:"data"`
}

// NewEvent builds the event describing a finished run.
func NewEvent(summary *models.RunSummary) *Event {
	typ := EventCompleted
	if summary.ErrorCode != "" {
		typ = EventFailed
	}
	return &Event{Type: typ, Timestamp: time.Now().Unix(), Data: summary}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
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
	req.Header.Set("User-Agent", "PortHarvest-Webhook/1.0")

	if secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(secret, body))
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

// Notifier posts run summaries to a single endpoint, retrying failed
// deliveries.
type Notifier struct {
	url    string
	secret string
	client *http.Client
	delays []time.Duration
}

// NewNotifier returns nil when no webhook URL is configured.
func NewNotifier(cfg config.WebhookConfig) *Notifier {
	if cfg.URL == "" {
		return nil
	}
	return &Notifier{
		url:    cfg.URL,
		secret: cfg.Secret,
		client: &http.Client{Timeout: cfg.Timeout},
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second},
	}
}

// Notify delivers the summary, retrying up to len(delays)-1 times. It gives
// up early when ctx is done.
func (n *Notifier) Notify(ctx context.Context, summary *models.RunSummary) error {
	event := NewEvent(summary)

	var err error
	for attempt, delay := range n.delays {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("webhook: %w (last error: %v)", ctx.Err(), err)
			}
		}
		err = Deliver(ctx, n.client, n.url, n.secret, event)
		if err == nil {
			slog.Info("webhook delivered",
				"url", n.url,
				"event", event.Type,
				"attempt", attempt+1,
			)
			return nil
		}
		slog.Warn("webhook delivery failed",
			"url", n.url,
			"event", event.Type,
			"attempt", attempt+1,
			"error", err,
		)
	}
	return fmt.Errorf("webhook: delivery exhausted %d attempts: %w", len(n.delays), err)
}
