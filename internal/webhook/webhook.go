// Package webhook fires signed, best-effort HTTP callbacks on terminal
// notification events, grounded on the teacher's worker.WebhookSender.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/brightloom/notifyd/internal/mask"
	"github.com/brightloom/notifyd/internal/metrics"
	"github.com/brightloom/notifyd/internal/model"
)

// Event is the terminal outcome reported to the callback URL.
type Event string

const (
	EventSent   Event = "SENT"
	EventFailed Event = "FAILED"
)

// Notifier fires signed webhook callbacks. Failures are logged and
// dropped; they never affect notification state (§7).
type Notifier struct {
	client *http.Client
	secret []byte
	logger *zap.Logger
}

// New builds a Notifier using secret as the HMAC key.
func New(secret string, timeout time.Duration, logger *zap.Logger) *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: timeout},
		secret: []byte(secret),
		logger: logger,
	}
}

type payload struct {
	Event             string          `json:"event"`
	NotificationID    string          `json:"notification_id"`
	Channel           string          `json:"channel"`
	Recipient         string          `json:"recipient"`
	Status            string          `json:"status"`
	Timestamp         string          `json:"timestamp"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	ErrorCode         string          `json:"error_code,omitempty"`
	RetryCount        *int            `json:"retry_count,omitempty"`
	ProviderMessageID string          `json:"provider_message_id,omitempty"`
}

// Fire builds and posts the webhook payload for n if it carries a
// callback URL. usedChannel overrides the reported channel when a
// fallback delivered the message.
func (n *Notifier) Fire(ctx context.Context, notif *model.Notification, event Event, usedChannel model.Channel) {
	if notif.CallbackURL == "" {
		return
	}

	channel := notif.Channel
	if usedChannel != "" {
		channel = usedChannel
	}

	p := payload{
		Event:          string(event),
		NotificationID: notif.ID.String(),
		Channel:        string(channel),
		Recipient:      mask.Recipient(string(notif.Channel), notif.Recipient),
		Status:         string(event),
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		Metadata:       notif.Metadata,
	}

	if event == EventFailed {
		p.ErrorMessage = notif.ErrorMessage
		p.ErrorCode = notif.ErrorCode
		rc := notif.RetryCount
		p.RetryCount = &rc
	}
	if event == EventSent && notif.ProviderMessageID != "" {
		p.ProviderMessageID = notif.ProviderMessageID
	}

	body, err := json.Marshal(p)
	if err != nil {
		n.logger.Error("failed to marshal webhook payload", zap.Error(err))
		return
	}

	sig := n.sign(body)
	now := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, notif.CallbackURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("failed to build webhook request", zap.Error(err))
		metrics.RecordWebhookDelivery("failure")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", sig)
	req.Header.Set("X-Webhook-Timestamp", fmt.Sprintf("%d", now.UnixMilli()))
	req.Header.Set("X-Webhook-Event", string(event))

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed", zap.String("notification_id", notif.ID.String()), zap.Error(err))
		metrics.RecordWebhookDelivery("failure")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		n.logger.Warn("webhook returned non-2xx",
			zap.String("notification_id", notif.ID.String()), zap.Int("status", resp.StatusCode))
		metrics.RecordWebhookDelivery("failure")
		return
	}

	metrics.RecordWebhookDelivery("success")
}

// sign computes "sha256=" || base64(HMAC_SHA256(secret, payload)).
func (n *Notifier) sign(body []byte) string {
	mac := hmac.New(sha256.New, n.secret)
	mac.Write(body)
	return "sha256=" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
