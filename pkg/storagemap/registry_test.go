package storagemap

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRegistryUsesFloorUntilSlowerNodeJoins(t *testing.T) {
	r := NewRegistry(5*time.Second, nil)
	assert.Equal(t, 5*time.Second, r.LivenessThreshold())

	r.Register(uuid.New(), "10.0.0.1:7676", 10*time.Second)
	assert.Equal(t, 30*time.Second, r.LivenessThreshold())
}

func TestRegistryThresholdTracksSlowestNode(t *testing.T) {
	r := NewRegistry(0, nil)
	r.Register(uuid.New(), "a", 1*time.Second)
	r.Register(uuid.New(), "b", 20*time.Second)
	assert.Equal(t, 60*time.Second, r.LivenessThreshold())
}

func TestUpdateMarksNodeLive(t *testing.T) {
	r := NewRegistry(time.Minute, nil)
	id := uuid.New()
	r.Register(id, "a", time.Second)

	assert.False(t, r.IsLive(id))
	r.Update(id, HeartbeatReport{MaxSpace: 100, UsedSpace: 10})
	assert.True(t, r.IsLive(id))

	info, ok := r.Get(id)
	assert.True(t, ok)
	assert.Equal(t, uint64(90), info.FreeSpace())
}

func TestLiveNodesExcludesStale(t *testing.T) {
	r := NewRegistry(50*time.Millisecond, nil)
	stale, fresh := uuid.New(), uuid.New()
	r.Register(stale, "a", 10*time.Millisecond)
	r.Register(fresh, "b", 10*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	r.Update(fresh, HeartbeatReport{MaxSpace: 10, UsedSpace: 0})

	live := r.LiveNodes()
	assert.Len(t, live, 1)
	assert.Equal(t, fresh, live[0].NodeID)
}

func TestFreeSpaceClampsAtZero(t *testing.T) {
	n := NodeInfo{MaxSpace: 10, UsedSpace: 20}
	assert.Equal(t, uint64(0), n.FreeSpace())
}
