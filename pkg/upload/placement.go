// Package upload implements placement planning and the upload-session
// state machine: deciding which nodes hold a new file's fragments,
// reserving space on each transactionally, and tracking a durable upload
// across resumes.
package upload

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meowith/meowith/internal/logger"
	"github.com/meowith/meowith/pkg/ledger"
	"github.com/meowith/meowith/pkg/mdsftp"
	"github.com/meowith/meowith/pkg/merr"
	"github.com/meowith/meowith/pkg/storagemap"
)

// ReservationMode selects how a placement plan picks remote targets once
// local capacity is accounted for.
type ReservationMode int

const (
	// PreferSelfThenMostFree reserves the whole fragment locally if this
	// node has room; only once it doesn't does it spill to remote nodes,
	// most-free-first.
	PreferSelfThenMostFree ReservationMode = iota

	// PreferMostFree always spreads across the most-free remote nodes
	// first, regardless of local capacity.
	PreferMostFree
)

// ReservedFragment is one piece of a placement plan that has actually
// been reserved (locally or on a remote peer).
type ReservedFragment struct {
	Channel *mdsftp.Channel // nil for the local fragment
	NodeID  uuid.UUID
	ChunkID uuid.UUID
	Size    uint64
	Window  uint16
}

// ReserveInfo is the result of a successful placement + reservation pass.
type ReserveInfo struct {
	Fragments []ReservedFragment
}

// ErrInsufficientStorage is returned when the cluster (self plus every
// known live peer) can't collectively absorb the requested size, or when
// any individual reservation in the plan fails and the whole plan is
// rolled back.
var ErrInsufficientStorage = fmt.Errorf("upload: insufficient storage across cluster")

// Planner reserves fragments for a new upload, locally via a Ledger and
// remotely via mdsftp, choosing targets from the last-known storage map.
type Planner struct {
	SelfID uuid.UUID
	Ledger *ledger.Ledger
	Nodes  *storagemap.Cache
	Pool   *mdsftp.Pool
}

type target struct {
	nodeID uuid.UUID
	size   uint64
}

// ReserveChunks runs a full placement pass: pick targets, reserve each,
// and roll back every reservation already acquired if any later one in
// the plan fails.
func (p *Planner) ReserveChunks(ctx context.Context, size uint64, flags mdsftp.ReserveFlags, mode ReservationMode) (*ReserveInfo, error) {
	targets, rem, err := p.planTargets(ctx, size, mode)
	if err != nil {
		return nil, err
	}
	if rem > 0 {
		return nil, ErrInsufficientStorage
	}

	fragments := make([]ReservedFragment, 0, len(targets))
	if err := p.reserveAll(ctx, targets, flags, &fragments); err != nil {
		p.rollback(ctx, fragments)
		return nil, err
	}

	return &ReserveInfo{Fragments: fragments}, nil
}

func (p *Planner) planTargets(ctx context.Context, size uint64, mode ReservationMode) ([]target, uint64, error) {
	if mode == PreferSelfThenMostFree {
		if p.Ledger.AvailableSpace() >= size {
			return []target{{nodeID: p.SelfID, size: size}}, 0, nil
		}
	}

	nodes, err := p.Nodes.Snapshot(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("upload: fetching storage map: %w", err)
	}
	targets, rem := pushMostFree(nodes, size)
	return targets, rem, nil
}

// pushMostFree greedily assigns size across nodes sorted by descending
// free space, each target getting min(remaining, node_free).
func pushMostFree(nodes []storagemap.NodeInfo, size uint64) ([]target, uint64) {
	sorted := make([]storagemap.NodeInfo, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FreeSpace() > sorted[j].FreeSpace() })

	var targets []target
	for _, n := range sorted {
		if size == 0 {
			break
		}
		free := n.FreeSpace()
		if free == 0 {
			continue
		}
		if size >= free {
			size -= free
			targets = append(targets, target{nodeID: n.NodeID, size: free})
		} else {
			targets = append(targets, target{nodeID: n.NodeID, size: size})
			size = 0
		}
	}
	return targets, size
}

func (p *Planner) reserveAll(ctx context.Context, targets []target, flags mdsftp.ReserveFlags, fragments *[]ReservedFragment) error {
	for _, t := range targets {
		if t.nodeID == p.SelfID {
			chunkID, err := p.Ledger.Reserve(ctx, t.size, flags.Durable)
			if err != nil {
				return fmt.Errorf("upload: local reserve: %w", err)
			}
			*fragments = append(*fragments, ReservedFragment{NodeID: t.nodeID, ChunkID: chunkID, Size: t.size})
			continue
		}

		ch, err := p.Pool.Channel(t.nodeID, nil)
		if err != nil {
			return fmt.Errorf("upload: opening channel to %s: %w", t.nodeID, err)
		}

		reqPayload := mdsftp.EncodeReserve(mdsftp.Reserve{Flags: flags, Desired: t.size})
		raw, err := ch.Request(ctx, mdsftp.PacketReserve, reqPayload, mdsftp.PacketReserveOk, mdsftp.PacketReserveErr)
		if err != nil {
			return fmt.Errorf("upload: remote reserve to %s: %w", t.nodeID, err)
		}

		if raw.Type == mdsftp.PacketReserveErr {
			errPayload, decErr := mdsftp.DecodeReserveErr(raw.Payload)
			if decErr != nil {
				return fmt.Errorf("upload: decoding reserve error from %s: %w", t.nodeID, decErr)
			}
			logger.With(logger.NodeID(t.nodeID.String()), logger.FreeBytes(errPayload.AvailableBytes)).
				Warn("remote reservation rejected, caller should refetch storage map")
			return merr.ReserveErr(errPayload.AvailableBytes)
		}

		ok, err := mdsftp.DecodeReserveOk(raw.Payload)
		if err != nil {
			return fmt.Errorf("upload: decoding reserve ok from %s: %w", t.nodeID, err)
		}
		*fragments = append(*fragments, ReservedFragment{Channel: ch, NodeID: t.nodeID, ChunkID: ok.Chunk, Size: t.size, Window: ok.Window})
	}
	return nil
}

// rollback releases every fragment already reserved in a plan that
// ultimately failed partway through.
func (p *Planner) rollback(ctx context.Context, fragments []ReservedFragment) {
	for _, f := range fragments {
		if f.Channel == nil {
			if err := p.Ledger.Cancel(ctx, f.ChunkID); err != nil {
				logger.With(logger.ChunkID(f.ChunkID.String())).Warn("rollback: local cancel failed", logger.Err(err))
			}
			continue
		}
		payload := mdsftp.EncodeReserveCancel(mdsftp.ReserveCancel{Chunk: f.ChunkID})
		if err := f.Channel.Send(mdsftp.PacketReserveCancel, payload); err != nil {
			logger.With(logger.NodeID(f.NodeID.String()), logger.ChunkID(f.ChunkID.String())).
				Warn("rollback: remote cancel failed", logger.Err(err))
		}
	}
}

// KeepAliveInterval is how often a reserved-but-not-yet-committed fragment
// needs a Commit{keep_alive} to avoid expiring.
const KeepAliveInterval = 60 * time.Second
