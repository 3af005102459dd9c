// Package cleanup runs the periodic reclaimer that returns expired leases
// to available and escalates stuck pending_deletion rows to
// deletion_failed. Same ticker + single-flight-guard shape as
// pkg/reconciler, tuned to its own interval.
package cleanup

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cuemby/sandboxbroker/pkg/apierrors"
	"github.com/cuemby/sandboxbroker/pkg/logging"
	"github.com/cuemby/sandboxbroker/pkg/metrics"
	"github.com/cuemby/sandboxbroker/pkg/sandbox"
	"github.com/cuemby/sandboxbroker/pkg/store"
	"github.com/rs/zerolog"
)

const scanLimit = 100

// Reclaimer runs the cleanup tick.
type Reclaimer struct {
	store           store.Store
	interval        time.Duration
	deletionTimeout time.Duration
	logger          zerolog.Logger

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func New(st store.Store, interval, deletionTimeout time.Duration) *Reclaimer {
	return &Reclaimer{
		store:           st,
		interval:        interval,
		deletionTimeout: deletionTimeout,
		logger:          logging.WithComponent("cleanup"),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

func (r *Reclaimer) Start() {
	go r.run()
}

func (r *Reclaimer) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reclaimer) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("cleanup reclaimer started")

	for {
		select {
		case <-ticker.C:
			r.tick()
		case <-r.stopCh:
			r.logger.Info().Msg("cleanup reclaimer stopped")
			return
		}
	}
}

func (r *Reclaimer) tick() {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Warn().Msg("cleanup tick skipped: previous cycle still running")
		return
	}
	defer r.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	if err := r.Reclaim(ctx); err != nil {
		r.logger.Error().Err(err).Msg("cleanup cycle failed")
	}
}

// Reclaim runs one full cycle: reclaim expired leases, then escalate stuck
// deletions. Exported so it can be driven directly by tests without the
// ticker.
func (r *Reclaimer) Reclaim(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.CleanupCyclesTotal.Inc()
	}()

	if err := r.reclaimExpiredLeases(ctx); err != nil {
		return err
	}
	return r.escalateStuckDeletions(ctx)
}

func (r *Reclaimer) reclaimExpiredLeases(ctx context.Context) error {
	now := time.Now().Unix()

	rows, err := r.store.ScanByStatus(ctx, sandbox.StatusAllocated, scanLimit)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if row.ExpiresAt == nil || *row.ExpiresAt > now {
			continue
		}

		status := sandbox.StatusAvailable
		if !sandbox.CanTransition(row.Status, status) {
			continue
		}
		_, err := r.store.UpdateIf(ctx, row.SandboxID, row.Version, sandbox.StatusAllocated, store.Patch{
			Status:          &status,
			ClearAllocation: true,
		})
		if err != nil {
			if errors.Is(err, apierrors.VersionConflict) {
				// Mutated concurrently (allocator claimed it again, or it
				// was marked for deletion); not our job to retry.
				continue
			}
			r.logger.Error().Err(err).Str("sandbox_id", row.SandboxID).Msg("failed to reclaim expired lease")
			continue
		}
		metrics.CleanupReclaimedTotal.Inc()
	}
	return nil
}

func (r *Reclaimer) escalateStuckDeletions(ctx context.Context) error {
	now := time.Now().Unix()
	deadline := r.deletionTimeout.Seconds()

	rows, err := r.store.ScanByStatus(ctx, sandbox.StatusPendingDeletion, scanLimit)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if row.DeletionRequestedAt == nil || float64(now-*row.DeletionRequestedAt) < deadline {
			continue
		}

		status := sandbox.StatusDeletionFailed
		if !sandbox.CanTransition(row.Status, status) {
			continue
		}
		_, err := r.store.UpdateIf(ctx, row.SandboxID, row.Version, sandbox.StatusPendingDeletion, store.Patch{
			Status: &status,
		})
		if err != nil {
			if errors.Is(err, apierrors.VersionConflict) {
				continue
			}
			r.logger.Error().Err(err).Str("sandbox_id", row.SandboxID).Msg("failed to escalate stuck deletion")
			continue
		}
		metrics.CleanupEscalatedTotal.Inc()
	}
	return nil
}
