package upload

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/meowith/meowith/pkg/storagemap"
)

func TestPushMostFreeAssignsLargestNodesFirst(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	nodes := []storagemap.NodeInfo{
		{NodeID: a, MaxSpace: 100, UsedSpace: 90}, // free 10
		{NodeID: b, MaxSpace: 100, UsedSpace: 20}, // free 80
		{NodeID: c, MaxSpace: 100, UsedSpace: 50}, // free 50
	}

	targets, rem := pushMostFree(nodes, 100)
	assert.Equal(t, uint64(0), rem)
	assert.Equal(t, []target{{nodeID: b, size: 80}, {nodeID: c, size: 20}}, targets)
}

func TestPushMostFreeReportsShortfall(t *testing.T) {
	a := uuid.New()
	nodes := []storagemap.NodeInfo{{NodeID: a, MaxSpace: 100, UsedSpace: 90}}

	targets, rem := pushMostFree(nodes, 50)
	assert.Equal(t, uint64(40), rem)
	assert.Equal(t, []target{{nodeID: a, size: 10}}, targets)
}

func TestPushMostFreeSkipsFullNodes(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	nodes := []storagemap.NodeInfo{
		{NodeID: a, MaxSpace: 100, UsedSpace: 100},
		{NodeID: b, MaxSpace: 100, UsedSpace: 0},
	}

	targets, rem := pushMostFree(nodes, 30)
	assert.Equal(t, uint64(0), rem)
	assert.Equal(t, []target{{nodeID: b, size: 30}}, targets)
}
