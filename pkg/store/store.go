// Package store defines the conditional-write contract the allocator, sync
// reconciler, and cleanup reclaimer are built against. Concrete adapters
// live in the dynamostore and memstore subpackages; this package holds only
// the interface and the cursor/filter types paged_scan needs.
package store

import (
	"context"

	"github.com/cuemby/sandboxbroker/pkg/sandbox"
)

// Patch describes a partial update applied by UpdateIf. Nil fields are left
// untouched except where noted; ClearAllocation explicitly nils the three
// allocation fields (Go has no "unset" zero value distinct from "set to
// zero" for pointers, so the patch needs an explicit flag for that case).
type Patch struct {
	Status              *sandbox.Status
	Name                *string
	AllocatedToTrack    *string
	ClearAllocation     bool
	AllocatedAt         *int64
	ExpiresAt           *int64
	DeletionRequestedAt *int64
	LastSeenAt          *int64
}

// Filter restricts a PagedScan to rows matching a status, or all rows when
// Status is empty.
type Filter struct {
	Status sandbox.Status
}

// Cursor is an opaque pagination token; its representation is adapter
// specific (a DynamoDB LastEvaluatedKey, a sort index for memstore).
type Cursor string

// Store is the contract every component above it is written against.
// Every method accepts a context and must honor cancellation at its next
// suspension point per the timeout/drain rules.
type Store interface {
	// Get fetches a single row by primary key. Returns apierrors.NotFound
	// if absent.
	Get(ctx context.Context, sandboxID string) (*sandbox.Sandbox, error)

	// PutIfAbsent inserts a new row. Returns apierrors.WrongState (the
	// abstract "Conflict" of §4.1) if sandbox_id already exists.
	PutIfAbsent(ctx context.Context, s *sandbox.Sandbox) error

	// UpdateIf conditionally applies patch to sandboxID, requiring the row's
	// current version to equal expectedVersion and (when expectedStatus is
	// non-empty) its current status to equal expectedStatus. On success the
	// returned row reflects the patch with version incremented by exactly
	// one. Returns apierrors.VersionConflict on precondition mismatch.
	// memstore returns apierrors.NotFound if the row does not exist;
	// dynamostore does not tell a missing row apart from a failed condition
	// and returns apierrors.VersionConflict for both.
	UpdateIf(ctx context.Context, sandboxID string, expectedVersion int64, expectedStatus sandbox.Status, patch Patch) (*sandbox.Sandbox, error)

	// ScanByStatus queries the secondary index for up to limit rows with the
	// given status. Eventually consistent: a just-written row may be
	// momentarily absent.
	ScanByStatus(ctx context.Context, status sandbox.Status, limit int) ([]*sandbox.Sandbox, error)

	// ScanAllocatedToTrack is the idempotency probe of §4.2 step 1: rows
	// with status=allocated and allocated_to_track=trackID.
	ScanAllocatedToTrack(ctx context.Context, trackID string) ([]*sandbox.Sandbox, error)

	// PagedScan iterates every row matching filter, limit at a time,
	// resuming from cursor (empty cursor starts at the beginning).
	PagedScan(ctx context.Context, filter Filter, cursor Cursor, limit int) ([]*sandbox.Sandbox, Cursor, error)

	// Delete logically removes a row (used by the reconciler when an
	// upstream account disappears, and on successful pending_deletion ->
	// removed transitions).
	Delete(ctx context.Context, sandboxID string) error
}
