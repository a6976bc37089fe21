package channel

import (
	"context"

	"go.uber.org/zap"

	"github.com/brightloom/notifyd/internal/model"
)

// SendResult is the outcome of a Router send, generalized from
// ChannelRouter.SendResult to carry the retryability classification the
// Dispatcher needs.
type SendResult struct {
	OK                bool
	ProviderMessageID string
	ErrorCode         string
	ErrorMessage      string
	Retryable         bool
	UsedChannel       model.Channel
}

// defaultFallback mirrors ChannelRouter.DEFAULT_FALLBACK.
var defaultFallback = map[model.Channel]model.Channel{
	model.ChannelEmail:    model.ChannelSMS,
	model.ChannelTelegram: model.ChannelEmail,
	model.ChannelSMS:      model.ChannelEmail,
	model.ChannelWhatsApp: model.ChannelTelegram,
}

// Router holds the registry of channel adapters and orchestrates
// fallback.
type Router struct {
	adapters map[model.Channel]Adapter
	limits   DailyLimiter
	logger   *zap.Logger
}

// NewRouter registers adapters into an immutable-after-construction map
// keyed by channel name, per spec §9's "tagged variant" strategy. limits
// backs the per-channel daily send cap enforced in Send.
func NewRouter(logger *zap.Logger, limits DailyLimiter, adapters ...Adapter) *Router {
	r := &Router{adapters: make(map[model.Channel]Adapter), limits: limits, logger: logger}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
		logger.Info("registered channel adapter", zap.String("channel", string(a.Name())))
	}
	return r
}

// DefaultFallback returns the fallback channel for ch, if any.
func (r *Router) DefaultFallback(ch model.Channel) (model.Channel, bool) {
	fb, ok := defaultFallback[ch]
	return fb, ok
}

// Send delivers to a single channel without fallback.
func (r *Router) Send(ctx context.Context, ch model.Channel, recipient, subject, body string) SendResult {
	adapter, ok := r.adapters[ch]
	if !ok {
		return SendResult{ErrorCode: "UNKNOWN_CHANNEL", ErrorMessage: "unknown channel: " + string(ch), Retryable: false}
	}
	if !adapter.IsEnabled(ctx) {
		return SendResult{ErrorCode: "CHANNEL_DISABLED", ErrorMessage: "channel disabled: " + string(ch), Retryable: false}
	}

	// DailySentCount is only ever incremented below; nothing in this
	// service resets it.
	if cfg, err := r.limits.FindChannelConfig(ctx, ch); err == nil && cfg.ReachedDailyLimit() {
		return SendResult{ErrorCode: "DAILY_LIMIT_EXCEEDED", ErrorMessage: "daily send cap reached for " + string(ch), Retryable: false}
	}

	pmid, err := adapter.Send(ctx, recipient, subject, body)
	if err != nil {
		sendErr, ok := err.(*SendError)
		if !ok {
			sendErr = NewSendError("UNKNOWN", err.Error(), true)
		}
		r.logger.Error("channel send failed", zap.String("channel", string(ch)), zap.String("code", sendErr.Code))
		return SendResult{ErrorCode: sendErr.Code, ErrorMessage: sendErr.Message, Retryable: sendErr.Retryable}
	}

	if err := r.limits.IncrementDailySentCount(ctx, ch); err != nil {
		r.logger.Warn("failed to increment daily sent count", zap.String("channel", string(ch)), zap.Error(err))
	}

	return SendResult{OK: true, ProviderMessageID: pmid, UsedChannel: ch}
}

// SendWithFallback attempts primary, and — only when the primary's
// failure is retryable — attempts fallback. Terminal validation errors
// on the primary never cascade, per spec §4.5's stricter rule (the
// source cascades on any failure; this specification intentionally
// diverges). When the fallback also fails, the primary's result is
// returned, so its retryable classification decides the next step.
func (r *Router) SendWithFallback(ctx context.Context, primary model.Channel, fallback model.Channel, recipient, subject, body string) SendResult {
	result := r.Send(ctx, primary, recipient, subject, body)
	if result.OK {
		result.UsedChannel = primary
		return result
	}

	if fallback == "" || !result.Retryable {
		return result
	}

	r.logger.Info("primary channel failed, trying fallback",
		zap.String("primary", string(primary)), zap.String("fallback", string(fallback)))

	fallbackResult := r.Send(ctx, fallback, recipient, subject, body)
	if fallbackResult.OK {
		fallbackResult.UsedChannel = fallback
		return fallbackResult
	}
	return result
}

const (
	healthStatusHealthy       = "HEALTHY"
	healthStatusUnhealthy     = "UNHEALTHY"
	healthStatusNotConfigured = "NOT_CONFIGURED"
)

// HealthCheckAll pings every registered adapter and reports its status.
// WHATSAPP is always listed as NOT_CONFIGURED for visibility, per spec's
// Open Questions resolution (SPEC_FULL §12), but callers computing an
// aggregate status must skip that entry rather than treat it as down.
func (r *Router) HealthCheckAll(ctx context.Context) map[model.Channel]string {
	results := make(map[model.Channel]string, len(r.adapters))
	for name, adapter := range r.adapters {
		if name == model.ChannelWhatsApp {
			results[name] = healthStatusNotConfigured
			continue
		}
		if adapter.HealthCheck(ctx) {
			results[name] = healthStatusHealthy
		} else {
			results[name] = healthStatusUnhealthy
		}
	}
	return results
}
