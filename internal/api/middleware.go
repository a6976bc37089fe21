package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/brightloom/notifyd/internal/metrics"
	"github.com/brightloom/notifyd/internal/model"
	"github.com/brightloom/notifyd/internal/ratelimit"
)

type contextKey int

const clientContextKey contextKey = iota

// ClientFromContext returns the authenticated caller stored by AuthMiddleware.
func ClientFromContext(ctx context.Context) (*model.ApiClient, bool) {
	c, ok := ctx.Value(clientContextKey).(*model.ApiClient)
	return c, ok
}

// AuthMiddleware resolves the X-API-Key header to a client and enforces
// the per-client rate limit, writing the limit headers on every response
// for which a client's limit was checked, per spec §6. Requests rejected
// for an unknown key or an inactive client carry no limit headers.
func AuthMiddleware(limiter *ratelimit.Limiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				writeError(w, http.StatusUnauthorized, "MISSING_API_KEY", "X-API-Key header is required")
				return
			}

			hash := ratelimit.HashAPIKey(apiKey)
			result, client, err := limiter.Check(r.Context(), hash)
			if err != nil {
				logger.Error("rate limiter check failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to authorize request")
				return
			}

			if result.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetEpochMs/1000, 10))
			}

			if !result.Allowed {
				switch result.Error {
				case ratelimit.ErrInvalidAPIKey:
					writeError(w, http.StatusUnauthorized, result.Error, "invalid API key")
				case ratelimit.ErrClientInactive:
					writeError(w, http.StatusUnauthorized, result.Error, "API client is not active")
				default:
					clientID := ""
					if client != nil {
						clientID = client.ID.String()
					}
					metrics.RecordRateLimitRejection(clientID)
					w.Header().Set("Retry-After", "60")
					writeError(w, http.StatusTooManyRequests, result.Error, "rate limit exceeded")
				}
				return
			}

			ctx := context.WithValue(r.Context(), clientContextKey, client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger logs each completed request with its status and duration.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Code: code, Message: message})
}
