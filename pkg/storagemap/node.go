// Package storagemap tracks which storage nodes exist, how much free space
// each reports, and whether each is alive enough to receive placements. It
// has a controller-side half (Registry, fed by heartbeat POSTs) and a
// storage-node-side half (Cache, fed by MGPP invalidations and periodic
// refetch of the controller's snapshot).
package storagemap

import (
	"time"

	"github.com/google/uuid"

	"github.com/meowith/meowith/pkg/api/contract"
)

// NodeInfo is one entry of the cluster-wide storage map: a node's last
// reported capacity and when it was last heard from.
type NodeInfo struct {
	NodeID            uuid.UUID     `json:"node_id"`
	Addr              string        `json:"addr"`
	MaxSpace          uint64        `json:"max_space"`
	UsedSpace         uint64        `json:"used_space"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	LastBeat          time.Time     `json:"last_beat"`
}

// FreeSpace returns how much capacity this node last reported as
// available. Never negative: a node reporting UsedSpace > MaxSpace (a
// transient race between a reservation and a heartbeat) is clamped to zero
// rather than wrapping.
func (n NodeInfo) FreeSpace() uint64 {
	if n.UsedSpace >= n.MaxSpace {
		return 0
	}
	return n.MaxSpace - n.UsedSpace
}

// HeartbeatReport is the body a storage node POSTs to the controller's
// health endpoint; an alias for the shared wire contract so Registry's
// API and the actual POST body can never drift apart.
type HeartbeatReport = contract.HealthStoragePostRequest
