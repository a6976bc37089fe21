// Package store defines typed, transactional persistence for
// notifications, API clients, channel configuration, templates, and
// audit records.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/brightloom/notifyd/internal/model"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateIdempotencyKey is returned by InsertNotification when
// another row already carries the same non-null idempotency key.
var ErrDuplicateIdempotencyKey = errors.New("store: duplicate idempotency key")

// Filter narrows the notification listing used by admin queries.
type Filter struct {
	ClientID *uuid.UUID
	Status   model.Status
	Channel  model.Channel
	From     *time.Time
	To       *time.Time
}

// Page is a single page of listing results.
type Page struct {
	Items []*model.Notification
	Total int
}

// Store is the persistence contract described in spec §4.1.
type Store interface {
	InsertNotification(ctx context.Context, n *model.Notification) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Notification, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*model.Notification, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status, errorCode, errorMessage string) error
	SetProviderMessageID(ctx context.Context, id uuid.UUID, pmid string) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, newRetryCount int, nextRetryAt time.Time, errorCode, errorMessage string) error
	ForceRetry(ctx context.Context, id uuid.UUID) error

	LeaseDueRetries(ctx context.Context, now time.Time, limit int) ([]*model.Notification, error)
	ReclaimExpiredLeases(ctx context.Context, leaseTimeout time.Duration) (int, error)
	ExpireOverdue(ctx context.Context, now time.Time) ([]*model.Notification, error)

	List(ctx context.Context, filter Filter, offset, limit int) (Page, error)

	FindClientByAPIKeyHash(ctx context.Context, hash string) (*model.ApiClient, error)
	TouchClientLastUsed(ctx context.Context, clientID uuid.UUID) error

	FindActiveTemplate(ctx context.Context, code string, channel model.Channel) (*model.MessageTemplate, error)

	FindChannelConfig(ctx context.Context, channel model.Channel) (*model.ChannelConfig, error)
	IncrementDailySentCount(ctx context.Context, channel model.Channel) error

	InsertAuditRecord(ctx context.Context, rec *model.AuditRecord) error

	Health(ctx context.Context) error
}
