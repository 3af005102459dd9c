package service

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/sandboxbroker/pkg/allocator"
	"github.com/cuemby/sandboxbroker/pkg/apierrors"
	"github.com/cuemby/sandboxbroker/pkg/reconciler"
	"github.com/cuemby/sandboxbroker/pkg/sandbox"
	"github.com/cuemby/sandboxbroker/pkg/store/memstore"
	"github.com/cuemby/sandboxbroker/pkg/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUpstream struct{ accounts []upstream.Account }

func (s *stubUpstream) List(_ context.Context) ([]upstream.Account, error) {
	return s.accounts, nil
}

func newTestService(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	m := memstore.New()
	alloc := allocator.New(m, allocator.Config{KCandidates: 15, LeaseFor: time.Hour})
	recon := reconciler.New(m, &stubUpstream{accounts: []upstream.Account{{ExternalID: "E1", Name: "acct-1"}}}, time.Minute)
	return New(m, alloc, recon), m
}

func TestServiceAllocateAndGet(t *testing.T) {
	svc, m := newTestService(t)
	require.NoError(t, m.PutIfAbsent(context.Background(), &sandbox.Sandbox{
		SandboxID: "s1", Status: sandbox.StatusAvailable, Version: 1,
	}))

	result, err := svc.Allocate(context.Background(), "req-1", "T1")
	require.NoError(t, err)
	assert.True(t, result.Created)

	row, err := svc.Get(context.Background(), "req-2", result.Sandbox.SandboxID)
	require.NoError(t, err)
	assert.Equal(t, sandbox.StatusAllocated, row.Status)
}

func TestServiceGetNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Get(context.Background(), "req-1", "missing")
	require.Error(t, err)
	kind, _ := apierrors.KindOf(err)
	assert.Equal(t, apierrors.KindNotFound, kind)
}

func TestServiceMarkForDeletion(t *testing.T) {
	svc, m := newTestService(t)
	require.NoError(t, m.PutIfAbsent(context.Background(), &sandbox.Sandbox{
		SandboxID: "s1", Status: sandbox.StatusAvailable, Version: 1,
	}))

	result, err := svc.Allocate(context.Background(), "req-1", "T1")
	require.NoError(t, err)

	row, err := svc.MarkForDeletion(context.Background(), "req-2", result.Sandbox.SandboxID, "T1")
	require.NoError(t, err)
	assert.Equal(t, sandbox.StatusPendingDeletion, row.Status)
}

func TestServiceAdminSyncReportsCounts(t *testing.T) {
	svc, _ := newTestService(t)

	counts, err := svc.AdminSync(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Inserted)
}

func TestServiceAdminList(t *testing.T) {
	svc, m := newTestService(t)
	require.NoError(t, m.PutIfAbsent(context.Background(), &sandbox.Sandbox{
		SandboxID: "s1", Status: sandbox.StatusAvailable, Version: 1,
	}))
	require.NoError(t, m.PutIfAbsent(context.Background(), &sandbox.Sandbox{
		SandboxID: "s2", Status: sandbox.StatusAllocated, Version: 1,
	}))

	rows, _, err := svc.AdminList(context.Background(), sandbox.StatusAvailable, "", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "s1", rows[0].SandboxID)
}
