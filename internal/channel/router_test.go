package channel

import (
	"context"
	"testing"

	"github.com/brightloom/notifyd/internal/model"
)

type fakeLimits struct {
	enabled    map[model.Channel]bool
	reached    map[model.Channel]bool
	increments map[model.Channel]int
}

func newFakeLimits() *fakeLimits {
	return &fakeLimits{enabled: map[model.Channel]bool{}, reached: map[model.Channel]bool{}, increments: map[model.Channel]int{}}
}

func (f *fakeLimits) FindChannelConfig(_ context.Context, ch model.Channel) (*model.ChannelConfig, error) {
	limit := 0
	if f.reached[ch] {
		limit = 1
	}
	return &model.ChannelConfig{Channel: ch, Enabled: true, DailyLimit: limit, DailySentCount: limit}, nil
}

func (f *fakeLimits) IncrementDailySentCount(_ context.Context, ch model.Channel) error {
	f.increments[ch]++
	return nil
}

type fakeAdapter struct {
	name      model.Channel
	enabled   bool
	sendErr   *SendError
	sendPMID  string
	sendCalls int
}

func (f *fakeAdapter) Name() model.Channel                    { return f.name }
func (f *fakeAdapter) IsConfigured() bool                     { return true }
func (f *fakeAdapter) IsEnabled(_ context.Context) bool       { return f.enabled }
func (f *fakeAdapter) HealthCheck(_ context.Context) bool     { return f.enabled }
func (f *fakeAdapter) Send(_ context.Context, _, _, _ string) (string, error) {
	f.sendCalls++
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return f.sendPMID, nil
}

func TestRouter_Send_UnknownChannel(t *testing.T) {
	r := NewRouter(testLogger(), newFakeLimits())
	result := r.Send(contextBackground(), model.ChannelEmail, "a@b.com", "s", "b")
	if result.OK || result.ErrorCode != "UNKNOWN_CHANNEL" {
		t.Fatalf("expected UNKNOWN_CHANNEL, got %+v", result)
	}
}

func TestRouter_Send_DisabledChannel(t *testing.T) {
	a := &fakeAdapter{name: model.ChannelEmail, enabled: false}
	r := NewRouter(testLogger(), newFakeLimits(), a)
	result := r.Send(contextBackground(), model.ChannelEmail, "a@b.com", "s", "b")
	if result.OK || result.ErrorCode != "CHANNEL_DISABLED" {
		t.Fatalf("expected CHANNEL_DISABLED, got %+v", result)
	}
}

func TestRouter_SendWithFallback_RetryableCascades(t *testing.T) {
	primary := &fakeAdapter{name: model.ChannelEmail, enabled: true, sendErr: NewSendError("SMTP_ERROR", "timeout", true)}
	fallback := &fakeAdapter{name: model.ChannelSMS, enabled: true, sendPMID: "sms-1"}
	r := NewRouter(testLogger(), newFakeLimits(), primary, fallback)

	result := r.SendWithFallback(contextBackground(), model.ChannelEmail, model.ChannelSMS, "x", "s", "b")
	if !result.OK || result.UsedChannel != model.ChannelSMS {
		t.Fatalf("expected fallback success, got %+v", result)
	}
	if primary.sendCalls != 1 || fallback.sendCalls != 1 {
		t.Fatalf("expected exactly one call to each adapter, got primary=%d fallback=%d", primary.sendCalls, fallback.sendCalls)
	}
}

func TestRouter_SendWithFallback_TerminalDoesNotCascade(t *testing.T) {
	primary := &fakeAdapter{name: model.ChannelEmail, enabled: true, sendErr: NewSendError("INVALID_RECIPIENT", "bad address", false)}
	fallback := &fakeAdapter{name: model.ChannelSMS, enabled: true, sendPMID: "sms-1"}
	r := NewRouter(testLogger(), newFakeLimits(), primary, fallback)

	result := r.SendWithFallback(contextBackground(), model.ChannelEmail, model.ChannelSMS, "x", "s", "b")
	if result.OK {
		t.Fatal("expected overall failure since the primary error is terminal")
	}
	if fallback.sendCalls != 0 {
		t.Fatalf("fallback must not be tried for a terminal primary failure, got %d calls", fallback.sendCalls)
	}
}

func TestRouter_HealthCheckAll_ReportsWhatsAppAsNotConfigured(t *testing.T) {
	email := &fakeAdapter{name: model.ChannelEmail, enabled: true}
	whatsapp := &fakeAdapter{name: model.ChannelWhatsApp, enabled: true}
	r := NewRouter(testLogger(), newFakeLimits(), email, whatsapp)

	health := r.HealthCheckAll(contextBackground())
	if status, ok := health[model.ChannelWhatsApp]; !ok || status != "NOT_CONFIGURED" {
		t.Fatalf("expected WHATSAPP listed as NOT_CONFIGURED, got %q (present=%v)", status, ok)
	}
	if health[model.ChannelEmail] != "HEALTHY" {
		t.Fatalf("expected EMAIL to be HEALTHY, got %q", health[model.ChannelEmail])
	}
}

func TestRouter_Send_DailyLimitExceeded(t *testing.T) {
	a := &fakeAdapter{name: model.ChannelEmail, enabled: true, sendPMID: "p1"}
	limits := newFakeLimits()
	limits.reached[model.ChannelEmail] = true
	r := NewRouter(testLogger(), limits, a)

	result := r.Send(contextBackground(), model.ChannelEmail, "a@b.com", "s", "b")
	if result.OK || result.ErrorCode != "DAILY_LIMIT_EXCEEDED" || result.Retryable {
		t.Fatalf("expected a terminal DAILY_LIMIT_EXCEEDED, got %+v", result)
	}
	if a.sendCalls != 0 {
		t.Fatalf("adapter must not be invoked once the daily cap is reached, got %d calls", a.sendCalls)
	}
}

func TestRouter_Send_IncrementsDailySentCountOnSuccess(t *testing.T) {
	a := &fakeAdapter{name: model.ChannelEmail, enabled: true, sendPMID: "p1"}
	limits := newFakeLimits()
	r := NewRouter(testLogger(), limits, a)

	result := r.Send(contextBackground(), model.ChannelEmail, "a@b.com", "s", "b")
	if !result.OK {
		t.Fatalf("expected success, got %+v", result)
	}
	if limits.increments[model.ChannelEmail] != 1 {
		t.Fatalf("expected daily sent count incremented once, got %d", limits.increments[model.ChannelEmail])
	}
}

func TestRouter_Send_DoesNotIncrementDailySentCountOnFailure(t *testing.T) {
	a := &fakeAdapter{name: model.ChannelEmail, enabled: true, sendErr: NewSendError("SMTP_ERROR", "timeout", true)}
	limits := newFakeLimits()
	r := NewRouter(testLogger(), limits, a)

	r.Send(contextBackground(), model.ChannelEmail, "a@b.com", "s", "b")
	if limits.increments[model.ChannelEmail] != 0 {
		t.Fatalf("expected no increment on a failed send, got %d", limits.increments[model.ChannelEmail])
	}
}
