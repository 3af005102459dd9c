package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"available to allocated", StatusAvailable, StatusAllocated, true},
		{"allocated to pending_deletion", StatusAllocated, StatusPendingDeletion, true},
		{"allocated to available (lease expiry)", StatusAllocated, StatusAvailable, true},
		{"pending_deletion to deletion_failed", StatusPendingDeletion, StatusDeletionFailed, true},
		{"available to pending_deletion is illegal", StatusAvailable, StatusPendingDeletion, false},
		{"deletion_failed to available is illegal", StatusDeletionFailed, StatusAvailable, false},
		{"same state is never a transition", StatusAvailable, StatusAvailable, false},
		{"unknown source state", StatusStale, StatusAvailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestIsAllocated(t *testing.T) {
	track := "t1"
	now := int64(100)

	allocated := &Sandbox{Status: StatusAllocated, AllocatedToTrack: &track, AllocatedAt: &now, ExpiresAt: &now}
	assert.True(t, allocated.IsAllocated())

	missingFields := &Sandbox{Status: StatusAllocated}
	assert.False(t, missingFields.IsAllocated())

	available := &Sandbox{Status: StatusAvailable}
	assert.False(t, available.IsAllocated())
}

func TestOwnedBy(t *testing.T) {
	track := "t1"
	row := &Sandbox{Status: StatusAllocated, AllocatedToTrack: &track}

	assert.True(t, row.OwnedBy("t1"))
	assert.False(t, row.OwnedBy("t2"))

	unallocated := &Sandbox{Status: StatusAvailable}
	assert.False(t, unallocated.OwnedBy("t1"))
}
