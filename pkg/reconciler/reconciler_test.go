package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/sandboxbroker/pkg/sandbox"
	"github.com/cuemby/sandboxbroker/pkg/store"
	"github.com/cuemby/sandboxbroker/pkg/store/memstore"
	"github.com/cuemby/sandboxbroker/pkg/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUpstream struct {
	accounts []upstream.Account
	err      error
}

func (f *fakeUpstream) List(_ context.Context) ([]upstream.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.accounts, nil
}

func allRows(t *testing.T, m *memstore.Store) []*sandbox.Sandbox {
	t.Helper()
	rows, _, err := m.PagedScan(context.Background(), store.Filter{}, "", 0)
	require.NoError(t, err)
	return rows
}

// Scenario 5: sync inserts and prunes.
func TestReconcileInsertsAndPrunes(t *testing.T) {
	m := memstore.New()
	up := &fakeUpstream{accounts: []upstream.Account{
		{ExternalID: "E1", Name: "acct-1"},
		{ExternalID: "E2", Name: "acct-2"},
	}}
	r := New(m, up, time.Minute)

	counts, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Inserted)
	assert.Len(t, allRows(t, m), 2)

	up.accounts = []upstream.Account{
		{ExternalID: "E2", Name: "acct-2"},
		{ExternalID: "E3", Name: "acct-3"},
	}
	counts, err = r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Inserted) // E3
	assert.Equal(t, 1, counts.Pruned)   // E1 removed
	assert.Equal(t, 1, counts.Refreshed) // E2 refreshed

	rows := allRows(t, m)
	require.Len(t, rows, 2)
	externalIDs := map[string]bool{}
	for _, row := range rows {
		externalIDs[row.ExternalID] = true
	}
	assert.True(t, externalIDs["E2"])
	assert.True(t, externalIDs["E3"])
	assert.False(t, externalIDs["E1"])
}

func TestReconcileAllocatedRowSurvivesDisappearance(t *testing.T) {
	m := memstore.New()
	track := "T1"
	now := time.Now().Unix()
	require.NoError(t, m.PutIfAbsent(context.Background(), &sandbox.Sandbox{
		SandboxID:        "s1",
		ExternalID:       "E1",
		Status:           sandbox.StatusAllocated,
		AllocatedToTrack: &track,
		AllocatedAt:      &now,
		ExpiresAt:        &now,
		Version:          1,
	}))

	up := &fakeUpstream{accounts: nil}
	r := New(m, up, time.Minute)

	counts, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Orphaned)

	rows := allRows(t, m)
	require.Len(t, rows, 1)
	assert.Equal(t, sandbox.StatusAllocated, rows[0].Status)
}

func TestReconcileUpstreamErrorLeavesStoreUntouched(t *testing.T) {
	m := memstore.New()
	up := &fakeUpstream{err: assertErr("transport down")}
	r := New(m, up, time.Minute)

	_, err := r.Reconcile(context.Background())
	require.Error(t, err)
	assert.Empty(t, allRows(t, m))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
