package api

import (
	"encoding/json"
	"time"
)

// SendRequest is the JSON body of POST /api/v1/send, per spec §6.
type SendRequest struct {
	Channel            string            `json:"channel"`
	Recipient          string            `json:"recipient"`
	Subject            string            `json:"subject,omitempty"`
	Message            string            `json:"message,omitempty"`
	TemplateCode       string            `json:"template_code,omitempty"`
	TemplateVariables  map[string]string `json:"template_variables,omitempty"`
	Priority           string            `json:"priority,omitempty"`
	IdempotencyKey     string            `json:"idempotency_key,omitempty"`
	CallbackURL        string            `json:"callback_url,omitempty"`
	Metadata           json.RawMessage   `json:"metadata,omitempty"`
}

// SubmitResponse mirrors dispatch.SubmitResponse for the wire.
type SubmitResponse struct {
	NotificationID string    `json:"notification_id"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// StatusResponse is returned by GET /api/v1/status/{id}.
type StatusResponse struct {
	NotificationID    string     `json:"notification_id"`
	Channel           string     `json:"channel"`
	Recipient         string     `json:"recipient"`
	Status            string     `json:"status"`
	Priority          string     `json:"priority"`
	RetryCount        int        `json:"retry_count"`
	MaxRetries        int        `json:"max_retries"`
	ErrorCode         string     `json:"error_code,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	NextRetryAt       *time.Time `json:"next_retry_at,omitempty"`
}

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Database   bool              `json:"database"`
	Components map[string]string `json:"components"`
}

// ErrorResponse is the application/json body written on every non-2xx.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
