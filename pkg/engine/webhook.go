package engine

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

	"github.com/isWangjianhua/GenPulse/pkg/store"
)

const (
	// DefaultWebhookTimeout is the HTTP client timeout for callback requests.
	DefaultWebhookTimeout = 5 * time.Second
	// MaxWebhookAttempts is the number of delivery attempts.
	MaxWebhookAttempts = 3
)

// WebhookNotifier POSTs terminal task events to the caller's callback_url.
type WebhookNotifier struct {
	client  *http.Client
	secret  string
	backoff time.Duration
	logger  *slog.Logger
}

// NewWebhookNotifier returns a notifier. When secret is non-empty every
// request carries X-GenPulse-Signature: sha256=<hmac of body>.
func NewWebhookNotifier(secret string, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		client:  &http.Client{Timeout: DefaultWebhookTimeout},
		secret:  secret,
		backoff: time.Second,
		logger:  logger,
	}
}

// Notify delivers ev to url with linear backoff (1s, 2s). Client errors
// (4xx) are not retried.
func (n *WebhookNotifier) Notify(ctx context.Context, url string, ev store.TaskEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal callback payload: %w", err)
	}

	var lastErr error
	for i := 0; i < MaxWebhookAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i) * n.backoff):
			}
		}

		status, err := n.send(ctx, url, ev, payload)
		if err != nil {
			lastErr = err
			continue
		}
		if status >= 200 && status < 300 {
			webhookDeliveries.WithLabelValues("delivered").Inc()
			return nil
		}
		lastErr = fmt.Errorf("callback responded with status: %d", status)
		if status >= 400 && status < 500 {
			webhookDeliveries.WithLabelValues("rejected").Inc()
			return lastErr
		}
	}

	webhookDeliveries.WithLabelValues("failed").Inc()
	return fmt.Errorf("max retries reached: %w", lastErr)
}

func (n *WebhookNotifier) send(ctx context.Context, url string, ev store.TaskEvent, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "genpulse-webhook/1.0")
	req.Header.Set("X-GenPulse-Task-ID", ev.TaskID)
	req.Header.Set("X-GenPulse-Status", string(ev.Status))
	if n.secret != "" {
		req.Header.Set("X-GenPulse-Signature", Sign(n.secret, payload))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
