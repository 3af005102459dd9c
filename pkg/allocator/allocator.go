// Package allocator implements the k-candidates contention-tolerant
// allocation algorithm: idempotency probe, bounded candidate scan, random
// permutation to spread contention, and a conditional claim loop that
// tolerates optimistic-concurrency losses by moving on to the next
// candidate. No locks: every state change is a conditional update guarded
// by (sandbox_id, version), the same "no in-process lock on the hot path"
// shape the teacher's scheduler uses for container placement.
package allocator

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/cuemby/sandboxbroker/pkg/apierrors"
	"github.com/cuemby/sandboxbroker/pkg/metrics"
	"github.com/cuemby/sandboxbroker/pkg/sandbox"
	"github.com/cuemby/sandboxbroker/pkg/store"
)

// Allocator runs allocate() and mark_for_deletion() against a Store.
type Allocator struct {
	store       store.Store
	kCandidates int
	leaseFor    time.Duration
}

// Config configures the allocator's tunables.
type Config struct {
	KCandidates int
	LeaseFor    time.Duration
}

func New(st store.Store, cfg Config) *Allocator {
	k := cfg.KCandidates
	if k <= 0 {
		k = 15
	}
	return &Allocator{store: st, kCandidates: k, leaseFor: cfg.LeaseFor}
}

// Result distinguishes a brand-new allocation (201) from an idempotent
// repeat of an existing one (200).
type Result struct {
	Sandbox *sandbox.Sandbox
	Created bool // true => 201, false => 200 idempotent repeat
}

// Allocate runs the five-step algorithm of §4.2.
func (a *Allocator) Allocate(ctx context.Context, trackID string) (*Result, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AllocationLatency)

	// Step 1: idempotency probe.
	existing, err := a.store.ScanAllocatedToTrack(ctx, trackID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		metrics.AllocationsTotal.WithLabelValues("idempotent").Inc()
		return &Result{Sandbox: existing[0], Created: false}, nil
	}

	// Step 2: candidate set.
	candidates, err := a.store.ScanByStatus(ctx, sandbox.StatusAvailable, a.kCandidates)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		metrics.AllocationsTotal.WithLabelValues("no_capacity").Inc()
		return nil, apierrors.New(apierrors.KindNoCapacity, "no available sandboxes")
	}

	// Step 3: shuffle to spread contention across concurrent allocators.
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	now := time.Now().Unix()
	expiresAt := time.Now().Add(a.leaseFor).Unix()
	tried := 0

	// Step 4: claim loop.
	status := sandbox.StatusAllocated
	if !sandbox.CanTransition(sandbox.StatusAvailable, status) {
		return nil, apierrors.New(apierrors.KindWrongState, "available -> allocated is not a legal transition")
	}
	for _, candidate := range candidates {
		tried++
		updated, err := a.store.UpdateIf(ctx, candidate.SandboxID, candidate.Version, sandbox.StatusAvailable, store.Patch{
			Status:           &status,
			AllocatedToTrack: &trackID,
			AllocatedAt:      &now,
			ExpiresAt:        &expiresAt,
		})
		if err == nil {
			metrics.AllocationsTotal.WithLabelValues("new").Inc()
			metrics.AllocationCandidatesTried.Observe(float64(tried))
			return &Result{Sandbox: updated, Created: true}, nil
		}
		if errors.Is(err, apierrors.VersionConflict) {
			continue
		}
		return nil, err
	}

	// Step 5: exhaustion.
	metrics.AllocationsTotal.WithLabelValues("no_capacity").Inc()
	metrics.AllocationCandidatesTried.Observe(float64(tried))
	return nil, apierrors.New(apierrors.KindNoCapacity, "all candidates lost the race")
}

// MarkForDeletion transitions an allocated sandbox to pending_deletion on
// behalf of its owning track.
func (a *Allocator) MarkForDeletion(ctx context.Context, sandboxID, trackID string) (*sandbox.Sandbox, error) {
	row, err := a.store.Get(ctx, sandboxID)
	if err != nil {
		return nil, err
	}
	status := sandbox.StatusPendingDeletion
	if !sandbox.CanTransition(row.Status, status) {
		return nil, apierrors.New(apierrors.KindWrongState, "sandbox "+sandboxID+" is not allocated")
	}
	if !row.OwnedBy(trackID) {
		return nil, apierrors.New(apierrors.KindForbidden, "sandbox "+sandboxID+" is not owned by track "+trackID)
	}

	now := time.Now().Unix()
	updated, err := a.store.UpdateIf(ctx, sandboxID, row.Version, sandbox.StatusAllocated, store.Patch{
		Status:              &status,
		ClearAllocation:     true,
		DeletionRequestedAt: &now,
	})
	if err != nil {
		if errors.Is(err, apierrors.VersionConflict) {
			return nil, apierrors.New(apierrors.KindWrongState, "sandbox "+sandboxID+" changed state concurrently")
		}
		return nil, err
	}
	return updated, nil
}
