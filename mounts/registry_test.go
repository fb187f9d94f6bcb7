package mounts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	r := NewRegistry()
	sub := r.Subscribe()
	defer sub.Cancel()

	want := PathMapping{MountPoint: "/python", WorkerRoot: "/cache/python-3.11/lib"}
	r.Publish(want)

	got := <-sub.C
	assert.Equal(t, want, got)
}

func TestSubscribeReplaysHistory(t *testing.T) {
	r := NewRegistry()
	r.Publish(PathMapping{MountPoint: "/python", WorkerRoot: "/cache/lib"})
	r.Publish(PathMapping{MountPoint: "/workspace", WorkerRoot: "/home/dev/project"})

	sub := r.Subscribe()
	defer sub.Cancel()

	first := <-sub.C
	second := <-sub.C
	assert.Equal(t, "/python", first.MountPoint)
	assert.Equal(t, "/workspace", second.MountPoint)
}

func TestMappingsSnapshot(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Mappings())

	r.Publish(PathMapping{MountPoint: "/python", WorkerRoot: "/cache/lib"})
	snap := r.Mappings()
	require.Len(t, snap, 1)

	// Mutating the snapshot must not affect the registry.
	snap[0].MountPoint = "/other"
	assert.Equal(t, "/python", r.Mappings()[0].MountPoint)
}

func TestCancelStopsDelivery(t *testing.T) {
	r := NewRegistry()
	sub := r.Subscribe()
	sub.Cancel()
	sub.Cancel()

	// Publish after cancel must not panic on the closed channel.
	r.Publish(PathMapping{MountPoint: "/python", WorkerRoot: "/cache/lib"})

	_, open := <-sub.C
	assert.False(t, open)
}

func TestPublishNeverBlocks(t *testing.T) {
	r := NewRegistry()
	sub := r.Subscribe()
	defer sub.Cancel()

	// Overflow the buffer with an idle subscriber; Publish must not stall.
	for i := 0; i < subscriptionBuffer*2; i++ {
		r.Publish(PathMapping{MountPoint: "/python", WorkerRoot: "/cache/lib"})
	}
	assert.Len(t, r.Mappings(), subscriptionBuffer*2)
}
