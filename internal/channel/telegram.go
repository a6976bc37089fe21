package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/brightloom/notifyd/internal/mask"
	"github.com/brightloom/notifyd/internal/model"
)

var telegramAPIURL = "https://api.telegram.org/bot"

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "[", "\\[", "`", "\\`")

// TelegramAdapter posts messages through the Telegram Bot API.
type TelegramAdapter struct {
	botToken string
	store    ConfigLookup
	client   *http.Client
	logger   *zap.Logger
}

// NewTelegramAdapter constructs the Telegram Bot API adapter.
func NewTelegramAdapter(botToken string, store ConfigLookup, client *http.Client, logger *zap.Logger) *TelegramAdapter {
	return &TelegramAdapter{botToken: botToken, store: store, client: client, logger: logger}
}

func (a *TelegramAdapter) Name() model.Channel { return model.ChannelTelegram }

func (a *TelegramAdapter) IsConfigured() bool { return a.botToken != "" }

func (a *TelegramAdapter) IsEnabled(ctx context.Context) bool {
	return isEnabled(ctx, a.store, model.ChannelTelegram)
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int `json:"message_id"`
	} `json:"result"`
}

func (a *TelegramAdapter) HealthCheck(ctx context.Context) bool {
	if !a.IsConfigured() {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, telegramAPIURL+a.botToken+"/getMe", nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return false
	}
	var body telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.OK
}

func (a *TelegramAdapter) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	masked := mask.Recipient("TELEGRAM", recipient)
	a.logger.Info("sending telegram message", zap.String("recipient", masked))

	if !a.IsConfigured() {
		return "", NewSendError("CONFIG_ERROR", "telegram bot token not configured", false)
	}

	fullText := body
	if subject != "" {
		fullText = "*" + markdownEscaper.Replace(subject) + "*\n\n" + body
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id":    recipient,
		"text":       fullText,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return "", NewSendError("MESSAGE_ERROR", err.Error(), false)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, telegramAPIURL+a.botToken+"/sendMessage", bytes.NewReader(payload))
	if err != nil {
		return "", NewSendError("API_ERROR", err.Error(), true)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Error("telegram send failed", zap.String("recipient", masked), zap.Error(err))
		return "", NewSendError("API_ERROR", err.Error(), true)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", NewSendError("SERVER_ERROR", fmt.Sprintf("telegram status %d", resp.StatusCode), true)
	}
	if resp.StatusCode >= 400 {
		return "", NewSendError("CLIENT_ERROR", fmt.Sprintf("telegram status %d", resp.StatusCode), false)
	}

	var out telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", NewSendError("RESPONSE_ERROR", err.Error(), true)
	}
	if !out.OK {
		return "", NewSendError("API_ERROR", out.Description, true)
	}

	pmid := fmt.Sprintf("%d", out.Result.MessageID)
	a.logger.Info("telegram message sent", zap.String("recipient", masked), zap.String("provider_message_id", pmid))
	return pmid, nil
}
