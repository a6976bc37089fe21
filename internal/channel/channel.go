// Package channel implements the uniform adapter contract over the four
// delivery channels and the router that selects and falls back between
// them.
package channel

import (
	"context"
	"fmt"

	"github.com/brightloom/notifyd/internal/model"
)

// SendError classifies a delivery failure. Router and Dispatcher use
// Retryable to decide between scheduling a retry and marking the row
// FAILED, mirroring the source's ChannelException{code, retryable}.
type SendError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewSendError builds a classified failure.
func NewSendError(code, message string, retryable bool) *SendError {
	return &SendError{Code: code, Message: message, Retryable: retryable}
}

// ConfigLookup is the subset of Store an adapter needs to check whether
// it is enabled.
type ConfigLookup interface {
	FindChannelConfig(ctx context.Context, channel model.Channel) (*model.ChannelConfig, error)
}

// DailyLimiter is the subset of Store the Router needs to enforce and
// account for each channel's daily send cap (spec's "checked inside the
// adapter or Router before the send" rule).
type DailyLimiter interface {
	ConfigLookup
	IncrementDailySentCount(ctx context.Context, channel model.Channel) error
}

func isEnabled(ctx context.Context, cfg ConfigLookup, ch model.Channel) bool {
	c, err := cfg.FindChannelConfig(ctx, ch)
	if err != nil {
		return false
	}
	return c.Enabled
}

// Adapter is the contract every channel implementation satisfies.
type Adapter interface {
	// Send delivers a message and returns the provider's message id, if
	// any. A failure must be a *SendError.
	Send(ctx context.Context, recipient, subject, body string) (providerMessageID string, err error)
	HealthCheck(ctx context.Context) bool
	Name() model.Channel
	IsEnabled(ctx context.Context) bool
	IsConfigured() bool
}
