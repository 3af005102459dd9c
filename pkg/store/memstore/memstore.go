// Package memstore is an in-memory Store used by unit tests for the
// allocator, reconciler, cleanup reclaimer, and service façade, so those
// packages exercise the same conditional-write contract the DynamoDB
// adapter honors without a network dependency.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/cuemby/sandboxbroker/pkg/apierrors"
	"github.com/cuemby/sandboxbroker/pkg/sandbox"
	"github.com/cuemby/sandboxbroker/pkg/store"
)

// Store is a mutex-guarded map implementation of store.Store. It applies
// the identical version+status conditional-write guard the DynamoDB adapter
// enforces via condition expressions, so tests against it exercise real
// contention behavior rather than a simplified stand-in.
type Store struct {
	mu   sync.Mutex
	rows map[string]*sandbox.Sandbox
}

func New() *Store {
	return &Store{rows: make(map[string]*sandbox.Sandbox)}
}

func clone(s *sandbox.Sandbox) *sandbox.Sandbox {
	cp := *s
	return &cp
}

func (m *Store) Get(_ context.Context, sandboxID string) (*sandbox.Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[sandboxID]
	if !ok {
		return nil, apierrors.New(apierrors.KindNotFound, "sandbox "+sandboxID+" not found")
	}
	return clone(row), nil
}

func (m *Store) PutIfAbsent(_ context.Context, s *sandbox.Sandbox) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rows[s.SandboxID]; exists {
		return apierrors.New(apierrors.KindWrongState, "sandbox "+s.SandboxID+" already exists")
	}
	m.rows[s.SandboxID] = clone(s)
	return nil
}

func (m *Store) UpdateIf(_ context.Context, sandboxID string, expectedVersion int64, expectedStatus sandbox.Status, patch store.Patch) (*sandbox.Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[sandboxID]
	if !ok {
		return nil, apierrors.New(apierrors.KindNotFound, "sandbox "+sandboxID+" not found")
	}
	if row.Version != expectedVersion {
		return nil, apierrors.New(apierrors.KindVersionConflict, "version mismatch on "+sandboxID)
	}
	if expectedStatus != "" && row.Status != expectedStatus {
		return nil, apierrors.New(apierrors.KindVersionConflict, "status mismatch on "+sandboxID)
	}

	next := clone(row)
	applyPatch(next, patch)
	next.Version = row.Version + 1
	m.rows[sandboxID] = next
	return clone(next), nil
}

func applyPatch(s *sandbox.Sandbox, patch store.Patch) {
	if patch.Status != nil {
		s.Status = *patch.Status
	}
	if patch.Name != nil {
		s.Name = *patch.Name
	}
	if patch.ClearAllocation {
		s.AllocatedToTrack = nil
		s.AllocatedAt = nil
		s.ExpiresAt = nil
	}
	if patch.AllocatedToTrack != nil {
		s.AllocatedToTrack = patch.AllocatedToTrack
	}
	if patch.AllocatedAt != nil {
		s.AllocatedAt = patch.AllocatedAt
	}
	if patch.ExpiresAt != nil {
		s.ExpiresAt = patch.ExpiresAt
	}
	if patch.DeletionRequestedAt != nil {
		s.DeletionRequestedAt = patch.DeletionRequestedAt
	}
	if patch.LastSeenAt != nil {
		s.LastSeenAt = *patch.LastSeenAt
	}
}

func (m *Store) ScanByStatus(_ context.Context, status sandbox.Status, limit int) ([]*sandbox.Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*sandbox.Sandbox
	for _, row := range m.sortedRows() {
		if row.Status != status {
			continue
		}
		out = append(out, clone(row))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Store) ScanAllocatedToTrack(_ context.Context, trackID string) ([]*sandbox.Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*sandbox.Sandbox
	for _, row := range m.sortedRows() {
		if row.Status == sandbox.StatusAllocated && row.AllocatedToTrack != nil && *row.AllocatedToTrack == trackID {
			out = append(out, clone(row))
		}
	}
	return out, nil
}

func (m *Store) PagedScan(_ context.Context, filter store.Filter, cursor store.Cursor, limit int) ([]*sandbox.Sandbox, store.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.sortedRows()
	start := 0
	if cursor != "" {
		if n, err := strconv.Atoi(string(cursor)); err == nil {
			start = n
		}
	}

	var out []*sandbox.Sandbox
	i := start
	for ; i < len(rows); i++ {
		if filter.Status != "" && rows[i].Status != filter.Status {
			continue
		}
		out = append(out, clone(rows[i]))
		if limit > 0 && len(out) >= limit {
			i++
			break
		}
	}

	next := store.Cursor("")
	if i < len(rows) {
		next = store.Cursor(strconv.Itoa(i))
	}
	return out, next, nil
}

func (m *Store) Delete(_ context.Context, sandboxID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[sandboxID]; !ok {
		return apierrors.New(apierrors.KindNotFound, "sandbox "+sandboxID+" not found")
	}
	delete(m.rows, sandboxID)
	return nil
}

// sortedRows returns rows ordered by sandbox_id so PagedScan's integer
// cursor is stable across calls.
func (m *Store) sortedRows() []*sandbox.Sandbox {
	out := make([]*sandbox.Sandbox, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SandboxID < out[j].SandboxID })
	return out
}
