// Package reconciler runs the periodic sync job that aligns the store with
// the upstream account inventory: new accounts are inserted available,
// vanished ones are pruned or flagged, and survivors get their
// last_seen_at refreshed. Same ticker-loop, single-flight-guard, and
// metrics-timer shape as the teacher's own reconciler, generalized from
// node/container health reconciliation to upstream inventory sync.
package reconciler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cuemby/sandboxbroker/pkg/apierrors"
	"github.com/cuemby/sandboxbroker/pkg/logging"
	"github.com/cuemby/sandboxbroker/pkg/metrics"
	"github.com/cuemby/sandboxbroker/pkg/sandbox"
	"github.com/cuemby/sandboxbroker/pkg/store"
	"github.com/cuemby/sandboxbroker/pkg/upstream"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const pagedScanLimit = 100

// Reconciler ensures the store matches the upstream account inventory.
type Reconciler struct {
	store    store.Store
	upstream upstream.Client
	interval time.Duration
	logger   zerolog.Logger

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func New(st store.Store, up upstream.Client, interval time.Duration) *Reconciler {
	return &Reconciler{
		store:    st,
		upstream: up,
		interval: interval,
		logger:   logging.WithComponent("reconciler"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the reconciliation loop in a new goroutine.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop signals the loop to exit and blocks until it does.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reconciler) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("sync reconciler started")

	for {
		select {
		case <-ticker.C:
			r.tick()
		case <-r.stopCh:
			r.logger.Info().Msg("sync reconciler stopped")
			return
		}
	}
}

// tick runs one reconciliation cycle on the ticker's schedule. The
// single-flight guard itself lives in Reconcile so an admin-triggered sync
// shares it with the ticker instead of running concurrently alongside it.
func (r *Reconciler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	if _, err := r.Reconcile(ctx); err != nil {
		if kind, ok := apierrors.KindOf(err); ok && kind == apierrors.KindWrongState {
			r.logger.Warn().Msg("reconciliation tick skipped: previous cycle still running")
			return
		}
		r.logger.Error().Err(err).Msg("reconciliation cycle failed")
	}
}

// Counts summarizes the row changes one reconciliation cycle made.
type Counts struct {
	Inserted  int
	Refreshed int
	Pruned    int
	Orphaned  int
}

// Reconcile runs one full cycle: fetch upstream, then sync the store
// against it. Exported so admin-sync (§6 POST /v1/admin/sync) can invoke it
// directly, outside the ticker; the `running` guard makes the two mutually
// exclusive, so an admin-triggered sync never overlaps a scheduled tick.
func (r *Reconciler) Reconcile(ctx context.Context) (Counts, error) {
	if !r.running.CompareAndSwap(false, true) {
		metrics.ReconciliationSkippedTotal.Inc()
		return Counts{}, apierrors.New(apierrors.KindWrongState, "a reconciliation cycle is already running")
	}
	defer r.running.Store(false)

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	var counts Counts

	accounts, err := r.upstream.List(ctx)
	if err != nil {
		metrics.UpstreamErrorsTotal.Inc()
		return counts, apierrors.Wrap(apierrors.KindUpstream, "fetch upstream inventory", err)
	}

	upstreamByID := make(map[string]upstream.Account, len(accounts))
	for _, a := range accounts {
		upstreamByID[a.ExternalID] = a
	}

	seenLocally := make(map[string]bool, len(accounts))
	var cursor store.Cursor
	for {
		rows, next, err := r.store.PagedScan(ctx, store.Filter{}, cursor, pagedScanLimit)
		if err != nil {
			return counts, fmt.Errorf("paged scan: %w", err)
		}

		for _, row := range rows {
			r.reconcileRow(ctx, row, upstreamByID, &counts)
			seenLocally[row.ExternalID] = true
		}

		if next == "" {
			break
		}
		cursor = next
	}

	for externalID, acct := range upstreamByID {
		if seenLocally[externalID] {
			continue
		}
		r.insertNew(ctx, acct, &counts)
	}

	return counts, nil
}

func (r *Reconciler) reconcileRow(ctx context.Context, row *sandbox.Sandbox, upstreamByID map[string]upstream.Account, counts *Counts) {
	acct, stillUpstream := upstreamByID[row.ExternalID]

	if stillUpstream {
		name := acct.Name
		lastSeen := time.Now().Unix()
		if _, err := r.store.UpdateIf(ctx, row.SandboxID, row.Version, "", store.Patch{
			Name:       &name,
			LastSeenAt: &lastSeen,
		}); err != nil {
			r.logRowErr(row, "refresh", err)
			return
		}
		metrics.ReconciliationChangesTotal.WithLabelValues("refreshed").Inc()
		counts.Refreshed++
		return
	}

	switch row.Status {
	case sandbox.StatusAvailable, sandbox.StatusDeletionFailed:
		if err := r.store.Delete(ctx, row.SandboxID); err != nil {
			r.logRowErr(row, "prune", err)
			return
		}
		metrics.ReconciliationChangesTotal.WithLabelValues("pruned").Inc()
		counts.Pruned++
	case sandbox.StatusPendingDeletion:
		if err := r.store.Delete(ctx, row.SandboxID); err != nil {
			r.logRowErr(row, "prune-deleted", err)
			return
		}
		metrics.ReconciliationChangesTotal.WithLabelValues("deleted").Inc()
		counts.Pruned++
	case sandbox.StatusAllocated:
		r.logger.Warn().
			Str("sandbox_id", row.SandboxID).
			Str("external_id", row.ExternalID).
			Msg("upstream account disappeared mid-lease")
		metrics.ReconciliationChangesTotal.WithLabelValues("orphaned").Inc()
		counts.Orphaned++
	}
}

func (r *Reconciler) insertNew(ctx context.Context, acct upstream.Account, counts *Counts) {
	now := time.Now().Unix()
	row := &sandbox.Sandbox{
		SandboxID:  uuid.New().String(),
		Name:       acct.Name,
		ExternalID: acct.ExternalID,
		Status:     sandbox.StatusAvailable,
		LastSeenAt: now,
		Version:    1,
	}
	if err := r.store.PutIfAbsent(ctx, row); err != nil {
		r.logger.Error().Err(err).Str("external_id", acct.ExternalID).Msg("failed to insert new sandbox row")
		return
	}
	metrics.ReconciliationChangesTotal.WithLabelValues("inserted").Inc()
	counts.Inserted++
}

func (r *Reconciler) logRowErr(row *sandbox.Sandbox, action string, err error) {
	r.logger.Error().
		Err(err).
		Str("sandbox_id", row.SandboxID).
		Str("action", action).
		Msg("reconciliation row operation failed")
}
