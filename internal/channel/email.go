package channel

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brightloom/notifyd/internal/mask"
	"github.com/brightloom/notifyd/internal/model"
)

// htmlSentinels are substrings whose presence marks a body as HTML,
// grounded on EmailChannelAdapter.isHtml.
var htmlSentinels = []string{"<!doctype", "<html", "<body", "<p>", "<div", "<br"}

// EmailConfig holds SMTP connection details for the EMAIL adapter.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailAdapter sends notifications over SMTP.
type EmailAdapter struct {
	cfg    EmailConfig
	store  ConfigLookup
	logger *zap.Logger
}

// NewEmailAdapter constructs the SMTP-backed EMAIL adapter.
func NewEmailAdapter(cfg EmailConfig, store ConfigLookup, logger *zap.Logger) *EmailAdapter {
	return &EmailAdapter{cfg: cfg, store: store, logger: logger}
}

func (a *EmailAdapter) Name() model.Channel { return model.ChannelEmail }

func (a *EmailAdapter) IsConfigured() bool {
	return a.cfg.Host != "" && a.cfg.From != ""
}

func (a *EmailAdapter) IsEnabled(ctx context.Context) bool {
	return isEnabled(ctx, a.store, model.ChannelEmail)
}

func (a *EmailAdapter) HealthCheck(ctx context.Context) bool {
	if !a.IsConfigured() {
		return false
	}
	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)
	c, err := smtp.Dial(addr)
	if err != nil {
		a.logger.Warn("email health check failed", zap.Error(err))
		return false
	}
	defer c.Close()
	return true
}

func (a *EmailAdapter) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	masked := mask.Recipient("EMAIL", recipient)
	a.logger.Info("sending email", zap.String("recipient", masked))

	if !a.IsConfigured() {
		return "", NewSendError("NOT_CONFIGURED", "SMTP is not configured", false)
	}

	if subject == "" {
		subject = "Notification"
	}

	contentType := "text/plain"
	if isHTML(body) {
		contentType = "text/html"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", a.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", recipient)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: %s; charset=\"UTF-8\"\r\n\r\n", contentType)
	buf.WriteString(body)

	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)
	var auth smtp.Auth
	if a.cfg.Username != "" {
		auth = smtp.PlainAuth("", a.cfg.Username, a.cfg.Password, a.cfg.Host)
	}

	err := smtp.SendMail(addr, auth, a.cfg.From, []string{recipient}, buf.Bytes())
	if err != nil {
		a.logger.Error("email send failed", zap.String("recipient", masked), zap.Error(err))
		retryable := isRetryableSMTPError(err)
		code := "SMTP_ERROR"
		if !retryable {
			code = "INVALID_RECIPIENT"
		}
		return "", NewSendError(code, err.Error(), retryable)
	}

	pmid := fmt.Sprintf("email-%d", time.Now().UnixNano())
	a.logger.Info("email sent", zap.String("recipient", masked), zap.String("provider_message_id", pmid))
	return pmid, nil
}

func isHTML(body string) bool {
	lower := strings.ToLower(body)
	for _, s := range htmlSentinels {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// isRetryableSMTPError classifies address-invalid refusals as terminal
// and every other transport/protocol error as transient, per §4.4.
func isRetryableSMTPError(err error) bool {
	msg := strings.ToLower(err.Error())
	terminal := []string{"invalid address", "invalid recipient", "user unknown", "mailbox unavailable", "no such user"}
	for _, t := range terminal {
		if strings.Contains(msg, t) {
			return false
		}
	}
	return true
}
