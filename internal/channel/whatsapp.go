package channel

import (
	"context"

	"go.uber.org/zap"

	"github.com/brightloom/notifyd/internal/mask"
	"github.com/brightloom/notifyd/internal/model"
)

// WhatsAppAdapter is structurally present but functionally
// unimplemented, grounded on WhatsAppChannelAdapter.java: it always
// fails NOT_CONFIGURED until a real Business API integration lands.
type WhatsAppAdapter struct {
	store  ConfigLookup
	logger *zap.Logger
}

// NewWhatsAppAdapter constructs the placeholder WHATSAPP adapter.
func NewWhatsAppAdapter(store ConfigLookup, logger *zap.Logger) *WhatsAppAdapter {
	return &WhatsAppAdapter{store: store, logger: logger}
}

func (a *WhatsAppAdapter) Name() model.Channel { return model.ChannelWhatsApp }

func (a *WhatsAppAdapter) IsConfigured() bool { return false }

func (a *WhatsAppAdapter) IsEnabled(ctx context.Context) bool {
	return isEnabled(ctx, a.store, model.ChannelWhatsApp)
}

func (a *WhatsAppAdapter) HealthCheck(ctx context.Context) bool { return false }

func (a *WhatsAppAdapter) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	a.logger.Info("attempted whatsapp send", zap.String("recipient", mask.Recipient("WHATSAPP", recipient)))
	return "", NewSendError("NOT_CONFIGURED", "whatsapp channel requires a Business API partner integration", false)
}
