// Package model holds the domain entities persisted and exchanged by the
// dispatch pipeline: notifications, API clients, channel configuration and
// message templates.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Channel identifies one of the four delivery channels the core supports.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelTelegram Channel = "TELEGRAM"
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
)

// Valid reports whether c is one of the four recognized channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelTelegram, ChannelSMS, ChannelWhatsApp:
		return true
	default:
		return false
	}
}

// Status is a notification's position in the delivery state machine.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSending   Status = "SENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
	StatusExpired   Status = "EXPIRED"
)

// Terminal reports whether s is a state the state machine does not leave
// except via the explicit forceRetry admin operation.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// Priority influences scheduler batch ordering; HIGH sorts before NORMAL
// before LOW.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

// Valid reports whether p is a recognized priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

// Rank orders priorities for SQL ORDER BY: lower rank sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

const (
	DefaultMaxRetries = 5
	DefaultTTL        = 24 * time.Hour
)

// Notification is the central entity of the dispatch pipeline.
type Notification struct {
	ID                 uuid.UUID
	ClientID           uuid.UUID
	Channel            Channel
	Recipient          string
	Subject            string
	Body               string
	Status             Status
	Priority           Priority
	RetryCount         int
	MaxRetries         int
	NextRetryAt        *time.Time
	ErrorCode          string
	ErrorMessage       string
	ProviderMessageID  string
	IdempotencyKey     string
	CallbackURL        string
	Metadata           json.RawMessage
	CreatedAt          time.Time
	UpdatedAt          time.Time
	SentAt             *time.Time
	ExpiresAt          *time.Time
}

// CanRetry reports whether n is eligible for one more delivery attempt
// after its current attempt fails. Callers must have already transitioned
// n.Status to SENDING for the in-flight attempt before calling this —
// both a fresh submit and a scheduler lease land here in SENDING, so this
// does not accept PENDING, which would never be true at the point a
// delivery outcome is known.
func (n *Notification) CanRetry() bool {
	if n.Status != StatusSending || n.RetryCount+1 >= n.MaxRetries {
		return false
	}
	if n.ExpiresAt != nil && !n.ExpiresAt.After(time.Now().UTC()) {
		return false
	}
	return true
}

// HealthStatus is the last observed reachability of a channel's provider.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
	HealthUnknown   HealthStatus = "UNKNOWN"
)

// ApiClient is an external system authorized to submit notifications.
type ApiClient struct {
	ID              uuid.UUID
	Name            string
	APIKeyHash      string
	APIKeyPrefix    string
	Active          bool
	RateLimit       int
	AllowedChannels []Channel
	CreatedAt       time.Time
	LastUsedAt      *time.Time
}

// CanUseChannel reports whether the client is permitted to send on c. An
// empty allow-list means every channel is permitted.
func (c *ApiClient) CanUseChannel(ch Channel) bool {
	if len(c.AllowedChannels) == 0 {
		return true
	}
	for _, allowed := range c.AllowedChannels {
		if allowed == ch {
			return true
		}
	}
	return false
}

// ChannelConfig is the per-channel singleton configuration row.
type ChannelConfig struct {
	Channel         Channel
	Enabled         bool
	ProviderName    string
	Credentials     []byte
	Settings        json.RawMessage
	Priority        int
	DailyLimit      int
	DailySentCount  int
	HealthStatus    HealthStatus
	LastHealthCheck *time.Time
}

// ReachedDailyLimit reports whether today's send count exhausted the
// configured daily cap. A zero limit means unlimited.
func (c *ChannelConfig) ReachedDailyLimit() bool {
	return c.DailyLimit > 0 && c.DailySentCount >= c.DailyLimit
}

// MessageTemplate is a named, versioned template body for a channel.
type MessageTemplate struct {
	ID              uuid.UUID
	Code            string
	Name            string
	Channel         Channel
	SubjectTemplate string
	BodyTemplate    string
	Variables       []string
	Active          bool
}

// AuditAction names an audited operation for the audit trail.
type AuditAction string

const (
	AuditSendNotification AuditAction = "SEND_NOTIFICATION"
	AuditForceRetry       AuditAction = "RETRY_NOTIFICATION"
)

// AuditRecord is a best-effort log entry describing a core operation.
type AuditRecord struct {
	ID         uuid.UUID
	Action     AuditAction
	EntityID   string
	ClientID   uuid.UUID
	ClientIP   string
	CreatedAt  time.Time
}
