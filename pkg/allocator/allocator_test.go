package allocator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/sandboxbroker/pkg/apierrors"
	"github.com/cuemby/sandboxbroker/pkg/sandbox"
	"github.com/cuemby/sandboxbroker/pkg/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, m *memstore.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, m.PutIfAbsent(context.Background(), &sandbox.Sandbox{
			SandboxID: id,
			Status:    sandbox.StatusAvailable,
			Version:   1,
		}))
	}
}

// Scenario 1: idempotent allocate.
func TestAllocateIsIdempotentPerTrack(t *testing.T) {
	m := memstore.New()
	seed(t, m, "s1", "s2", "s3")
	a := New(m, Config{KCandidates: 15, LeaseFor: time.Hour})

	first, err := a.Allocate(context.Background(), "T1")
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := a.Allocate(context.Background(), "T1")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Sandbox.SandboxID, second.Sandbox.SandboxID)
}

// Scenario 2: contention — exactly one winner out of 10 concurrent callers.
func TestAllocateContentionExactlyOneWinner(t *testing.T) {
	m := memstore.New()
	seed(t, m, "s1")
	a := New(m, Config{KCandidates: 15, LeaseFor: time.Hour})

	const n = 10
	var wg sync.WaitGroup
	results := make([]error, n)
	sandboxes := make([]string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := a.Allocate(context.Background(), trackName(i))
			results[i] = err
			if err == nil {
				sandboxes[i] = res.Sandbox.SandboxID
			}
		}(i)
	}
	wg.Wait()

	successes, failures := 0, 0
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		failures++
		kind, ok := apierrors.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, apierrors.KindNoCapacity, kind)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, failures)
}

func trackName(i int) string {
	return "T" + string(rune('0'+i))
}

func TestAllocateNoCapacity(t *testing.T) {
	m := memstore.New()
	a := New(m, Config{KCandidates: 15, LeaseFor: time.Hour})

	_, err := a.Allocate(context.Background(), "T1")
	require.Error(t, err)
	kind, _ := apierrors.KindOf(err)
	assert.Equal(t, apierrors.KindNoCapacity, kind)
}

// Scenario 4: mark-for-deletion ownership.
func TestMarkForDeletionOwnership(t *testing.T) {
	m := memstore.New()
	seed(t, m, "s1")
	a := New(m, Config{KCandidates: 15, LeaseFor: time.Hour})

	result, err := a.Allocate(context.Background(), "T1")
	require.NoError(t, err)
	sandboxID := result.Sandbox.SandboxID

	_, err = a.MarkForDeletion(context.Background(), sandboxID, "T2")
	require.Error(t, err)
	kind, _ := apierrors.KindOf(err)
	assert.Equal(t, apierrors.KindForbidden, kind)

	row, err := a.MarkForDeletion(context.Background(), sandboxID, "T1")
	require.NoError(t, err)
	assert.Equal(t, sandbox.StatusPendingDeletion, row.Status)
	assert.Nil(t, row.AllocatedToTrack)
}

func TestMarkForDeletionWrongState(t *testing.T) {
	m := memstore.New()
	seed(t, m, "s1")
	a := New(m, Config{KCandidates: 15, LeaseFor: time.Hour})

	_, err := a.MarkForDeletion(context.Background(), "s1", "T1")
	require.Error(t, err)
	kind, _ := apierrors.KindOf(err)
	assert.Equal(t, apierrors.KindWrongState, kind)
}

func TestMarkForDeletionNotFound(t *testing.T) {
	m := memstore.New()
	a := New(m, Config{KCandidates: 15, LeaseFor: time.Hour})

	_, err := a.MarkForDeletion(context.Background(), "missing", "T1")
	require.Error(t, err)
	kind, _ := apierrors.KindOf(err)
	assert.Equal(t, apierrors.KindNotFound, kind)
}
