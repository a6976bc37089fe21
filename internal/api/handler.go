// Package api implements the HTTP ingress surface described in spec §6:
// submit, status, admin retry, and health, over chi with API-key auth
// and per-client rate limiting.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightloom/notifyd/internal/channel"
	"github.com/brightloom/notifyd/internal/dispatch"
	"github.com/brightloom/notifyd/internal/mask"
	"github.com/brightloom/notifyd/internal/metrics"
	"github.com/brightloom/notifyd/internal/model"
	"github.com/brightloom/notifyd/internal/store"
)

// Handler holds the dependencies every route needs.
type Handler struct {
	logger     *zap.Logger
	dispatcher *dispatch.Dispatcher
	router     *channel.Router
	store      store.Store
}

// NewHandler builds a Handler.
func NewHandler(logger *zap.Logger, dispatcher *dispatch.Dispatcher, router *channel.Router, st store.Store) *Handler {
	return &Handler{logger: logger, dispatcher: dispatcher, router: router, store: st}
}

// Send handles POST /api/v1/send.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	client, ok := ClientFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing authenticated client")
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "malformed JSON body")
		return
	}

	dispatchReq := dispatch.Request{
		Channel:           model.Channel(req.Channel),
		Recipient:         req.Recipient,
		Subject:           req.Subject,
		Message:           req.Message,
		TemplateCode:      req.TemplateCode,
		TemplateVariables: req.TemplateVariables,
		Priority:          model.Priority(req.Priority),
		IdempotencyKey:    req.IdempotencyKey,
		CallbackURL:       req.CallbackURL,
		Metadata:          req.Metadata,
	}

	resp, err := h.dispatcher.Submit(r.Context(), dispatchReq, client, clientIP(r))
	if err != nil {
		var verr *dispatch.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Code, verr.Message)
			return
		}
		h.logger.Error("submit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to submit notification")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(SubmitResponse{
		NotificationID: resp.NotificationID.String(),
		Status:         string(resp.Status),
		CreatedAt:      resp.CreatedAt,
	})
}

// Status handles GET /api/v1/status/{id}.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	client, ok := ClientFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing authenticated client")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "id must be a valid UUID")
		return
	}

	n, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "notification not found")
			return
		}
		h.logger.Error("status lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to fetch notification")
		return
	}
	if n.ClientID != client.ID {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "notification not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(StatusResponse{
		NotificationID:    n.ID.String(),
		Channel:           string(n.Channel),
		Recipient:         mask.Recipient(string(n.Channel), n.Recipient),
		Status:            string(n.Status),
		Priority:          string(n.Priority),
		RetryCount:        n.RetryCount,
		MaxRetries:        n.MaxRetries,
		ErrorCode:         n.ErrorCode,
		ErrorMessage:      n.ErrorMessage,
		ProviderMessageID: n.ProviderMessageID,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
		SentAt:            n.SentAt,
		NextRetryAt:       n.NextRetryAt,
	})
}

// Retry handles POST /api/v1/retry/{id}, the admin force-retry operation
// supplemented into the spec per SPEC_FULL §12.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	client, ok := ClientFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing authenticated client")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "id must be a valid UUID")
		return
	}

	n, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "notification not found")
			return
		}
		h.logger.Error("retry lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to fetch notification")
		return
	}
	if n.ClientID != client.ID {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "notification not found")
		return
	}
	if n.Status != model.StatusFailed && n.Status != model.StatusExpired {
		writeError(w, http.StatusBadRequest, "NOT_RETRYABLE", "only FAILED or EXPIRED notifications can be force-retried")
		return
	}

	if err := h.store.ForceRetry(r.Context(), id); err != nil {
		h.logger.Error("force retry failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to reset notification for retry")
		return
	}

	if err := h.store.InsertAuditRecord(r.Context(), &model.AuditRecord{
		ID:        uuid.New(),
		Action:    model.AuditForceRetry,
		EntityID:  id.String(),
		ClientID:  client.ID,
		ClientIP:  clientIP(r),
		CreatedAt: n.UpdatedAt,
	}); err != nil {
		h.logger.Warn("failed to persist audit record for force retry", zap.Error(err))
	}

	h.dispatcher.Pool().Submit(func(ctx context.Context) {
		h.dispatcher.Deliver(ctx, id)
	})

	w.WriteHeader(http.StatusOK)
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	dbErr := h.store.Health(r.Context())
	channels := h.router.HealthCheckAll(r.Context())

	status := "HEALTHY"
	if dbErr != nil {
		status = "UNHEALTHY"
	}

	components := make(map[string]string, len(channels))
	for ch, chStatus := range channels {
		components[string(ch)] = chStatus
		if ch == model.ChannelWhatsApp {
			continue
		}
		metrics.SetChannelHealth(string(ch), chStatus == "HEALTHY")
		if chStatus != "HEALTHY" && status == "HEALTHY" {
			status = "DEGRADED"
		}
	}

	if connPool, ok := h.store.(interface{ ActiveConnections() int32 }); ok {
		metrics.SetDBConnections(int(connPool.ActiveConnections()))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:     status,
		Database:   dbErr == nil,
		Components: components,
	})
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
