package breaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/brightloom/notifyd/internal/channel"
	"github.com/brightloom/notifyd/internal/model"
)

// ProtectedAdapter decorates a channel.Adapter with a CircuitBreaker so
// that a struggling provider fails fast instead of piling up blocked
// delivery attempts, per SPEC_FULL §11.10.
type ProtectedAdapter struct {
	adapter channel.Adapter
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedAdapter wraps adapter with breaker.
func NewProtectedAdapter(adapter channel.Adapter, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedAdapter {
	return &ProtectedAdapter{adapter: adapter, breaker: breaker, logger: logger}
}

func (p *ProtectedAdapter) Name() model.Channel { return p.adapter.Name() }

func (p *ProtectedAdapter) IsConfigured() bool { return p.adapter.IsConfigured() }

func (p *ProtectedAdapter) IsEnabled(ctx context.Context) bool { return p.adapter.IsEnabled(ctx) }

func (p *ProtectedAdapter) HealthCheck(ctx context.Context) bool { return p.adapter.HealthCheck(ctx) }

func (p *ProtectedAdapter) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send, failing fast",
			zap.String("channel", string(p.adapter.Name())), zap.String("state", p.breaker.GetState().String()))
		return "", channel.NewSendError("CHANNEL_UNAVAILABLE", fmt.Sprintf("%s: %s sender unavailable", ErrCircuitOpen, p.adapter.Name()), true)
	}

	pmid, err := p.adapter.Send(ctx, recipient, subject, body)
	if err != nil {
		p.breaker.RecordFailure()
		return "", err
	}
	p.breaker.RecordSuccess()
	return pmid, nil
}
