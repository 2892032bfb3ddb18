package service

import (
	"context"
	"time"

	"chatrelay/internal/constants"

	"github.com/sirupsen/logrus"
)

// SchedulerStore covers the maintenance operations the scheduler drives.
type SchedulerStore interface {
	CleanupOldRecords(ctx context.Context, retentionDays int) error
	ListStalePendingMessages(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
}

// Scheduler runs periodic maintenance: retention cleanup and a
// reconciliation pass that re-enqueues pending outbound messages that
// never made it onto the dispatch queue.
type Scheduler struct {
	store           SchedulerStore
	dispatcher      DeliveryEnqueuer
	retentionDays   int
	cleanupInterval time.Duration
	reconcileEvery  time.Duration
	staleAfter      time.Duration
	logger          *logrus.Logger
	stopCh          chan struct{}
}

func NewScheduler(store SchedulerStore, dispatcher DeliveryEnqueuer, retentionDays int, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		store:           store,
		dispatcher:      dispatcher,
		retentionDays:   retentionDays,
		cleanupInterval: time.Duration(constants.CleanupSchedulerIntervalHours) * time.Hour,
		reconcileEvery:  time.Duration(constants.DefaultReconcileIntervalSec) * time.Second,
		staleAfter:      time.Duration(constants.DefaultReconcileStaleSec) * time.Second,
		logger:          logger,
		stopCh:          make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	cleanup := time.NewTicker(s.cleanupInterval)
	defer cleanup.Stop()
	reconcile := time.NewTicker(s.reconcileEvery)
	defer reconcile.Stop()

	s.logger.Info("Starting maintenance scheduler")

	s.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-cleanup.C:
			s.runCleanup(ctx)
		case <-reconcile.C:
			s.runReconcile(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	s.logger.WithField("retentionDays", s.retentionDays).Info("Running scheduled cleanup")

	if err := s.store.CleanupOldRecords(ctx, s.retentionDays); err != nil {
		s.logger.WithError(err).Error("Failed to cleanup old records")
	} else {
		s.logger.Info("Successfully completed cleanup")
	}
}

// runReconcile picks up outbound messages stuck in PENDING longer than the
// stale window and hands them back to the dispatcher. The queue dedupes on
// message ID, so a message already in flight is not enqueued twice.
func (s *Scheduler) runReconcile(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.staleAfter)
	stale, err := s.store.ListStalePendingMessages(ctx, cutoff, constants.DefaultReconcileBatchSize)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list stale pending messages")
		return
	}
	if len(stale) == 0 {
		return
	}

	s.logger.WithField("count", len(stale)).Info("Re-enqueueing stale pending messages")
	for _, id := range stale {
		if err := s.dispatcher.Enqueue(id); err != nil {
			s.logger.WithError(err).WithField("messageId", id).Warn("Failed to re-enqueue pending message")
		}
	}
}
