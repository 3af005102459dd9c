// Package service is the façade that orchestrates the five request
// operations (allocate, get, mark-for-deletion, admin-sync, admin-list) on
// top of the allocator, store, and reconciler. It is the only place
// request-scoped logging context (track id, request id) is attached to the
// underlying operations, per §4.6.
package service

import (
	"context"

	"github.com/cuemby/sandboxbroker/pkg/allocator"
	"github.com/cuemby/sandboxbroker/pkg/logging"
	"github.com/cuemby/sandboxbroker/pkg/reconciler"
	"github.com/cuemby/sandboxbroker/pkg/sandbox"
	"github.com/cuemby/sandboxbroker/pkg/store"
)

// Service is the façade handed to the HTTP transport layer.
type Service struct {
	store      store.Store
	allocator  *allocator.Allocator
	reconciler *reconciler.Reconciler
}

func New(st store.Store, alloc *allocator.Allocator, recon *reconciler.Reconciler) *Service {
	return &Service{store: st, allocator: alloc, reconciler: recon}
}

// Allocate runs the k-candidates algorithm on behalf of trackID, logging
// with both the track id and the request id attached.
func (s *Service) Allocate(ctx context.Context, requestID, trackID string) (*allocator.Result, error) {
	logger := logging.WithTrackID(trackID)
	logger = logger.With().Str("request_id", requestID).Logger()

	result, err := s.allocator.Allocate(ctx, trackID)
	if err != nil {
		logger.Warn().Err(err).Msg("allocate failed")
		return nil, err
	}
	if !result.Sandbox.IsAllocated() {
		logger.Error().Str("sandbox_id", result.Sandbox.SandboxID).Msg("allocate returned a row missing allocation fields")
	}
	logger.Info().Str("sandbox_id", result.Sandbox.SandboxID).Bool("created", result.Created).Msg("allocate succeeded")
	return result, nil
}

// Get retrieves a sandbox by id.
func (s *Service) Get(ctx context.Context, requestID, sandboxID string) (*sandbox.Sandbox, error) {
	logger := logging.WithRequestID(requestID)
	row, err := s.store.Get(ctx, sandboxID)
	if err != nil {
		logger.Debug().Err(err).Str("sandbox_id", sandboxID).Msg("get failed")
		return nil, err
	}
	return row, nil
}

// MarkForDeletion transitions an allocated sandbox to pending_deletion on
// behalf of its owning track.
func (s *Service) MarkForDeletion(ctx context.Context, requestID, sandboxID, trackID string) (*sandbox.Sandbox, error) {
	logger := logging.WithTrackID(trackID)
	logger = logger.With().Str("request_id", requestID).Logger()

	row, err := s.allocator.MarkForDeletion(ctx, sandboxID, trackID)
	if err != nil {
		logger.Warn().Err(err).Str("sandbox_id", sandboxID).Msg("mark-for-deletion failed")
		return nil, err
	}
	logger.Info().Str("sandbox_id", sandboxID).Msg("mark-for-deletion succeeded")
	return row, nil
}

// SyncCounts summarizes one admin-triggered sync cycle.
type SyncCounts struct {
	Inserted  int
	Refreshed int
	Pruned    int
	Orphaned  int
}

// AdminSync triggers a sync reconciliation cycle immediately, outside the
// reconciler's own ticker, and reports what changed.
func (s *Service) AdminSync(ctx context.Context, requestID string) (SyncCounts, error) {
	logger := logging.WithRequestID(requestID)
	counts, err := s.reconciler.Reconcile(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("admin sync failed")
		return SyncCounts{}, err
	}
	logger.Info().
		Int("inserted", counts.Inserted).
		Int("refreshed", counts.Refreshed).
		Int("pruned", counts.Pruned).
		Int("orphaned", counts.Orphaned).
		Msg("admin sync completed")
	return SyncCounts(counts), nil
}

// AdminList returns a page of sandboxes, optionally filtered by status.
func (s *Service) AdminList(ctx context.Context, status sandbox.Status, cursor store.Cursor, limit int) ([]*sandbox.Sandbox, store.Cursor, error) {
	return s.store.PagedScan(ctx, store.Filter{Status: status}, cursor, limit)
}
