// Package webhook delivers signed event notifications to the HTTP endpoints a
// user has registered. Delivery is best effort: failures are logged, never
// retried and never reported to the caller.
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
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"kanban/api/internal/store"
)

const (
	HeaderEvent     = "X-Kanban-Event"
	HeaderDelivery  = "X-Kanban-Delivery"
	HeaderSignature = "X-Kanban-Signature-256"
)

type EndpointStore interface {
	ListActiveWebhooks(ctx context.Context, userID int64) ([]store.Webhook, error)
}

type Dispatcher struct {
	endpoints EndpointStore
	client    *http.Client
	log       *slog.Logger
}

func NewDispatcher(endpoints EndpointStore, timeout time.Duration, log *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		endpoints: endpoints,
		client:    &http.Client{Timeout: timeout},
		log:       log.With("component", "webhook"),
	}
}

type delivery struct {
	Event       string    `json:"event"`
	DeliveredAt time.Time `json:"deliveredAt"`
	Payload     any       `json:"payload"`
}

// Dispatch posts event to every active endpoint of userID and returns how many
// accepted it.
func (d *Dispatcher) Dispatch(ctx context.Context, userID int64, event string, payload any) int {
	hooks, err := d.endpoints.ListActiveWebhooks(ctx, userID)
	if err != nil {
		d.log.Error("list webhooks", "user_id", userID, "error", err)
		return 0
	}
	if len(hooks) == 0 {
		return 0
	}

	body, err := json.Marshal(delivery{Event: event, DeliveredAt: time.Now().UTC(), Payload: payload})
	if err != nil {
		d.log.Error("encode webhook payload", "event", event, "error", err)
		return 0
	}

	accepted := 0
	for _, hook := range hooks {
		if err := d.deliver(ctx, hook, event, body); err != nil {
			d.log.Warn("webhook delivery failed", "webhook_id", hook.ID, "event", event, "error", err)
			continue
		}
		accepted++
	}
	return accepted
}

func (d *Dispatcher) deliver(ctx context.Context, hook store.Webhook, event string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderDelivery, uuid.NewString())
	if hook.Secret != "" {
		req.Header.Set(HeaderSignature, "sha256="+Sign([]byte(hook.Secret), body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint responded %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
