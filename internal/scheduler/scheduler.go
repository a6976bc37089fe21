// Package scheduler runs the periodic retry sweep and expiry sweep that
// replace the source's fixed-delay @Scheduled methods with an explicit
// ticker submitting work to the shared worker pool.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/brightloom/notifyd/internal/dispatch"
	"github.com/brightloom/notifyd/internal/store"
	"github.com/brightloom/notifyd/internal/webhook"
)

// Scheduler ticks every pollInterval, leasing due retries and sweeping
// expired rows, per spec §4.7.
type Scheduler struct {
	store        store.Store
	dispatcher   *dispatch.Dispatcher
	webhooks     *webhook.Notifier
	pollInterval time.Duration
	batchLimit   int
	leaseTimeout time.Duration
	logger       *zap.Logger
}

// New builds a Scheduler.
func New(st store.Store, dispatcher *dispatch.Dispatcher, webhooks *webhook.Notifier, pollInterval, leaseTimeout time.Duration, batchLimit int, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:        st,
		dispatcher:   dispatcher,
		webhooks:     webhooks,
		pollInterval: pollInterval,
		batchLimit:   batchLimit,
		leaseTimeout: leaseTimeout,
		logger:       logger,
	}
}

// Run blocks, ticking until ctx is cancelled. Callers should invoke it
// in its own goroutine. Before the first tick it reclaims any leases
// left dangling by a prior process that died mid-delivery.
func (s *Scheduler) Run(ctx context.Context) {
	if n, err := s.store.ReclaimExpiredLeases(ctx, s.leaseTimeout); err != nil {
		s.logger.Error("failed to reclaim expired leases on startup", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("reclaimed stale SENDING leases on startup", zap.Int("count", n))
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	batch, err := s.store.LeaseDueRetries(ctx, now, s.batchLimit)
	if err != nil {
		s.logger.Error("failed to lease due retries", zap.Error(err))
	} else if len(batch) > 0 {
		s.logger.Info("leased retry batch", zap.Int("count", len(batch)))
		for _, n := range batch {
			id := n.ID
			s.dispatcher.Pool().Submit(func(ctx context.Context) {
				s.dispatcher.Deliver(ctx, id)
			})
		}
	}

	expired, err := s.store.ExpireOverdue(ctx, now)
	if err != nil {
		s.logger.Error("failed to sweep expired notifications", zap.Error(err))
		return
	}
	for _, n := range expired {
		s.webhooks.Fire(ctx, n, webhook.EventFailed, "")
	}
	if len(expired) > 0 {
		s.logger.Info("expired overdue notifications", zap.Int("count", len(expired)))
	}
}
