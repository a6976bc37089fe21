// Package dispatch implements notification ingress validation,
// idempotent persistence, and the delivery-attempt state machine,
// grounded on the source's NotificationService but restructured around
// a shared worker pool instead of framework-managed async methods.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightloom/notifyd/internal/channel"
	"github.com/brightloom/notifyd/internal/mask"
	"github.com/brightloom/notifyd/internal/metrics"
	"github.com/brightloom/notifyd/internal/model"
	"github.com/brightloom/notifyd/internal/store"
	"github.com/brightloom/notifyd/internal/template"
	"github.com/brightloom/notifyd/internal/webhook"
)

// backoffSchedule is the fixed retry delay table, indexed by the
// 1-based attempt number that just failed. Attempts beyond the table
// reuse the last entry.
var backoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
	240 * time.Minute,
}

func backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if attempt > len(backoffSchedule) {
		attempt = len(backoffSchedule)
	}
	return backoffSchedule[attempt-1]
}

// ValidationError is a 400-class request rejection.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func fail(code, msg string) error { return &ValidationError{Code: code, Message: msg} }

// Request is the validated shape of an inbound send request.
type Request struct {
	Channel            model.Channel
	Recipient          string
	Subject            string
	Message            string
	TemplateCode       string
	TemplateVariables  map[string]string
	Priority           model.Priority
	IdempotencyKey     string
	CallbackURL        string
	Metadata           []byte
}

// SubmitResponse is returned to the HTTP caller on successful ingress.
type SubmitResponse struct {
	NotificationID uuid.UUID
	Status         model.Status
	CreatedAt      time.Time
}

// Dispatcher wires persistence, templating, routing, and the webhook
// notifier behind the submit/deliver operations described in spec §4.6.
type Dispatcher struct {
	store    store.Store
	router   *channel.Router
	webhooks *webhook.Notifier
	pool     *Pool
	logger   *zap.Logger
}

// New builds a Dispatcher.
func New(st store.Store, router *channel.Router, webhooks *webhook.Notifier, pool *Pool, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{store: st, router: router, webhooks: webhooks, pool: pool, logger: logger}
}

// Submit validates req, enforces idempotency, persists the row, and
// enqueues the first delivery attempt.
func (d *Dispatcher) Submit(ctx context.Context, req Request, client *model.ApiClient, clientIP string) (*SubmitResponse, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}

	if !client.CanUseChannel(req.Channel) {
		return nil, fail("CHANNEL_NOT_ALLOWED", "client is not permitted to use channel "+string(req.Channel))
	}

	subject, body := req.Subject, req.Message
	if req.TemplateCode != "" {
		tpl, err := d.store.FindActiveTemplate(ctx, req.TemplateCode, req.Channel)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fail("TEMPLATE_NOT_FOUND", "no active template "+req.TemplateCode+" for channel "+string(req.Channel))
			}
			return nil, err
		}
		if missing := template.Validate(tpl, req.TemplateVariables); len(missing) > 0 {
			return nil, fail("INVALID_TEMPLATE_ARGS", fmt.Sprintf("missing template variables: %v", missing))
		}
		rendered := template.Render(tpl, req.TemplateVariables)
		subject, body = rendered.Subject, rendered.Body
	}

	if body == "" {
		return nil, fail("MISSING_BODY", "body or a rendering template is required")
	}
	if req.Channel == model.ChannelEmail && subject == "" {
		return nil, fail("MISSING_SUBJECT", "subject is required for EMAIL")
	}

	if req.IdempotencyKey != "" {
		existing, err := d.store.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if existing != nil {
			metrics.RecordIdempotencyHit()
			return &SubmitResponse{NotificationID: existing.ID, Status: existing.Status, CreatedAt: existing.CreatedAt}, nil
		}
	}

	now := time.Now().UTC()
	n := &model.Notification{
		ID:             uuid.New(),
		ClientID:       client.ID,
		Channel:        req.Channel,
		Recipient:      req.Recipient,
		Subject:        subject,
		Body:           body,
		Status:         model.StatusPending,
		Priority:       req.Priority,
		RetryCount:     0,
		MaxRetries:     model.DefaultMaxRetries,
		IdempotencyKey: req.IdempotencyKey,
		CallbackURL:    req.CallbackURL,
		Metadata:       req.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	expires := now.Add(model.DefaultTTL)
	n.ExpiresAt = &expires

	if err := d.store.InsertNotification(ctx, n); err != nil {
		if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
			existing, ferr := d.store.FindByIdempotencyKey(ctx, req.IdempotencyKey)
			if ferr != nil {
				return nil, ferr
			}
			metrics.RecordIdempotencyHit()
			return &SubmitResponse{NotificationID: existing.ID, Status: existing.Status, CreatedAt: existing.CreatedAt}, nil
		}
		return nil, err
	}

	metrics.RecordSubmitted(string(req.Channel))

	if err := d.store.InsertAuditRecord(ctx, &model.AuditRecord{
		ID:        uuid.New(),
		Action:    model.AuditSendNotification,
		EntityID:  n.ID.String(),
		ClientID:  client.ID,
		ClientIP:  clientIP,
		CreatedAt: now,
	}); err != nil {
		d.logger.Warn("failed to persist audit record", zap.Error(err), zap.String("notification_id", n.ID.String()))
	}

	if err := d.store.TouchClientLastUsed(ctx, client.ID); err != nil {
		d.logger.Warn("failed to touch client last_used_at", zap.Error(err), zap.String("client_id", client.ID.String()))
	}

	id := n.ID
	d.pool.Submit(func(ctx context.Context) {
		d.Deliver(ctx, id)
	})

	return &SubmitResponse{NotificationID: n.ID, Status: n.Status, CreatedAt: n.CreatedAt}, nil
}

func validate(req *Request) error {
	if !req.Channel.Valid() {
		return fail("INVALID_CHANNEL", "channel must be one of EMAIL, TELEGRAM, SMS, WHATSAPP")
	}
	if req.Recipient == "" {
		return fail("MISSING_RECIPIENT", "recipient is required")
	}
	if len(req.Recipient) > 255 {
		return fail("RECIPIENT_TOO_LONG", "recipient must be at most 255 characters")
	}
	if len(req.Subject) > 500 {
		return fail("SUBJECT_TOO_LONG", "subject must be at most 500 characters")
	}
	if req.Priority == "" {
		req.Priority = model.PriorityNormal
	}
	if !req.Priority.Valid() {
		return fail("INVALID_PRIORITY", "priority must be one of HIGH, NORMAL, LOW")
	}
	if len(req.IdempotencyKey) > 255 {
		return fail("IDEMPOTENCY_KEY_TOO_LONG", "idempotency_key must be at most 255 characters")
	}
	if len(req.CallbackURL) > 500 {
		return fail("CALLBACK_URL_TOO_LONG", "callback_url must be at most 500 characters")
	}
	if req.Message == "" && req.TemplateCode == "" {
		return fail("MISSING_BODY", "message or template_code is required")
	}
	return nil
}

// Deliver executes a single delivery attempt for id: lease to SENDING,
// call the router with fallback, and branch into SENT, a scheduled
// retry, or terminal FAILED, per spec §4.6.
func (d *Dispatcher) Deliver(ctx context.Context, id uuid.UUID) {
	n, err := d.store.FindByID(ctx, id)
	if err != nil {
		d.logger.Error("delivery attempt: notification not found", zap.String("notification_id", id.String()), zap.Error(err))
		return
	}
	if n.Status.Terminal() {
		return
	}

	if err := d.store.UpdateStatus(ctx, id, model.StatusSending, "", ""); err != nil {
		d.logger.Error("failed to lease notification to SENDING", zap.String("notification_id", id.String()), zap.Error(err))
		return
	}
	n.Status = model.StatusSending

	fallback, _ := d.router.DefaultFallback(n.Channel)
	start := time.Now()
	result := d.router.SendWithFallback(ctx, n.Channel, fallback, n.Recipient, n.Subject, n.Body)
	latency := time.Since(start)
	metrics.RecordDeliveryDuration(string(n.Channel), latency)
	logFields := []zap.Field{
		zap.String("notification_id", id.String()),
		zap.String("channel", string(n.Channel)),
		zap.String("recipient", mask.Recipient(string(n.Channel), n.Recipient)),
		zap.Duration("latency", latency),
	}

	switch {
	case result.OK:
		d.logger.Info("delivery attempt succeeded", append(logFields, zap.String("outcome", "SENT"))...)
		if err := d.store.UpdateStatus(ctx, id, model.StatusSent, "", ""); err != nil {
			d.logger.Error("failed to mark SENT", zap.Error(err))
		}
		if result.ProviderMessageID != "" {
			if err := d.store.SetProviderMessageID(ctx, id, result.ProviderMessageID); err != nil {
				d.logger.Warn("failed to persist provider message id", zap.Error(err))
			}
			n.ProviderMessageID = result.ProviderMessageID
		}
		metrics.RecordProcessed("SENT", string(n.Channel))
		d.webhooks.Fire(ctx, n, webhook.EventSent, result.UsedChannel)

	case result.Retryable && n.CanRetry():
		d.logger.Warn("delivery attempt failed, retry scheduled", append(logFields, zap.String("outcome", "RETRY_SCHEDULED"), zap.String("error_code", result.ErrorCode))...)
		nextAttempt := n.RetryCount + 1
		nextRetryAt := time.Now().UTC().Add(backoff(nextAttempt))
		if err := d.store.ScheduleRetry(ctx, id, nextAttempt, nextRetryAt, result.ErrorCode, result.ErrorMessage); err != nil {
			d.logger.Error("failed to schedule retry", zap.Error(err))
		}
		metrics.RecordProcessed("RETRY_SCHEDULED", string(n.Channel))

	default:
		d.logger.Error("delivery attempt failed", append(logFields, zap.String("outcome", "FAILED"), zap.String("error_code", result.ErrorCode))...)
		if err := d.store.UpdateStatus(ctx, id, model.StatusFailed, result.ErrorCode, result.ErrorMessage); err != nil {
			d.logger.Error("failed to mark FAILED", zap.Error(err))
		}
		n.ErrorCode, n.ErrorMessage = result.ErrorCode, result.ErrorMessage
		metrics.RecordProcessed("FAILED", string(n.Channel))
		d.webhooks.Fire(ctx, n, webhook.EventFailed, result.UsedChannel)
	}
}

// Pool exposes the dispatcher's worker pool so the scheduler can submit
// retry batches onto the same queue.
func (d *Dispatcher) Pool() *Pool { return d.pool }
