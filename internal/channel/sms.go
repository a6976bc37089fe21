package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/brightloom/notifyd/internal/mask"
	"github.com/brightloom/notifyd/internal/model"
)

var nonPhoneChars = regexp.MustCompile(`[^+\d]`)

// SMSConfig holds the generic form-encoded SMS gateway settings.
type SMSConfig struct {
	GatewayURL string
	Username   string
	Password   string
	From       string
}

// SMSAdapter posts form-encoded requests to a generic SMS gateway,
// grounded on SmsChannelAdapter's Twilio-shaped request but generalized
// away from a specific provider per §4.4's "opaque adapter" contract.
type SMSAdapter struct {
	cfg    SMSConfig
	store  ConfigLookup
	client *http.Client
	logger *zap.Logger
}

// NewSMSAdapter constructs the SMS gateway adapter.
func NewSMSAdapter(cfg SMSConfig, store ConfigLookup, client *http.Client, logger *zap.Logger) *SMSAdapter {
	return &SMSAdapter{cfg: cfg, store: store, client: client, logger: logger}
}

func (a *SMSAdapter) Name() model.Channel { return model.ChannelSMS }

func (a *SMSAdapter) IsConfigured() bool {
	return a.cfg.GatewayURL != "" && a.cfg.From != ""
}

func (a *SMSAdapter) IsEnabled(ctx context.Context) bool {
	return isEnabled(ctx, a.store, model.ChannelSMS)
}

func (a *SMSAdapter) HealthCheck(ctx context.Context) bool {
	if !a.IsConfigured() {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.GatewayURL, nil)
	if err != nil {
		return false
	}
	if a.cfg.Username != "" {
		req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode/100 == 2
}

type smsGatewayResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	Code   string `json:"code"`
}

func (a *SMSAdapter) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	masked := mask.Recipient("SMS", recipient)
	a.logger.Info("sending sms", zap.String("recipient", masked))

	if !a.IsConfigured() {
		return "", NewSendError("CONFIG_ERROR", "sms gateway not configured", false)
	}

	form := url.Values{}
	form.Set("To", normalizeE164(recipient))
	form.Set("From", a.cfg.From)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.GatewayURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", NewSendError("API_ERROR", err.Error(), true)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if a.cfg.Username != "" {
		req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Error("sms send failed", zap.String("recipient", masked), zap.Error(err))
		return "", NewSendError("API_ERROR", err.Error(), true)
	}
	defer resp.Body.Close()

	var out smsGatewayResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		code := out.Code
		if code == "" {
			code = "INVALID_RECIPIENT"
		}
		return "", NewSendError(code, "sms gateway rejected the request", false)
	case resp.StatusCode >= 500:
		return "", NewSendError("SERVER_ERROR", fmt.Sprintf("sms gateway status %d", resp.StatusCode), true)
	case resp.StatusCode >= 400:
		return "", NewSendError("CLIENT_ERROR", fmt.Sprintf("sms gateway status %d", resp.StatusCode), true)
	}

	a.logger.Info("sms sent", zap.String("recipient", masked), zap.String("provider_message_id", out.SID))
	return out.SID, nil
}

// normalizeE164 keeps a leading '+', strips non-digits, and maps the
// Russian domestic 11-digit "8XXXXXXXXXX" prefix to "+7XXXXXXXXXX", per
// §4.4's exact normalization rule.
func normalizeE164(phone string) string {
	normalized := nonPhoneChars.ReplaceAllString(phone, "")
	if strings.HasPrefix(normalized, "+") {
		return normalized
	}
	if strings.HasPrefix(normalized, "8") && len(normalized) == 11 {
		return "+7" + normalized[1:]
	}
	return "+" + normalized
}
