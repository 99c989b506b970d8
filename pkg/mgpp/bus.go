package mgpp

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/meowith/meowith/internal/logger"
)

// Bus is the controller-side MGPP endpoint: it accepts one Conn per storage
// node and relays every inbound InvalidateCache to every other currently
// connected node. Storage nodes never relay to each other directly; the
// controller is always the hub.
type Bus struct {
	selfID uuid.UUID
	auth   Authenticator

	mu    sync.RWMutex
	peers map[uuid.UUID]*Conn
}

// NewBus creates an empty relay hub.
func NewBus(selfID uuid.UUID, auth Authenticator) *Bus {
	return &Bus{
		selfID: selfID,
		auth:   auth,
		peers:  make(map[uuid.UUID]*Conn),
	}
}

// Accept completes the handshake for an inbound net.Conn and registers it
// for relaying. Any InvalidateCache the node sends is fanned out to every
// other node already registered.
func (b *Bus) Accept(ctx context.Context, netConn net.Conn) (*Conn, error) {
	var conn *Conn
	handler := func(c *Conn, pkt InvalidateCache) { b.relay(c.PeerID(), pkt) }

	conn, err := Accept(ctx, netConn, b.selfID, b.auth, handler)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if old, ok := b.peers[conn.PeerID()]; ok {
		_ = old.Close()
	}
	b.peers[conn.PeerID()] = conn
	b.mu.Unlock()

	go b.watch(conn)
	return conn, nil
}

func (b *Bus) watch(conn *Conn) {
	<-conn.Done()

	b.mu.Lock()
	if current, ok := b.peers[conn.PeerID()]; ok && current == conn {
		delete(b.peers, conn.PeerID())
	}
	b.mu.Unlock()
}

func (b *Bus) relay(from uuid.UUID, pkt InvalidateCache) {
	log := logger.With(logger.PeerID(from.String()), logger.CacheID(uint32(pkt.CacheID)))

	b.mu.RLock()
	defer b.mu.RUnlock()
	for peerID, conn := range b.peers {
		if peerID == from {
			continue
		}
		if err := conn.Send(pkt); err != nil {
			log.Warn("mgpp relay send failed", logger.PeerID(peerID.String()), logger.Err(err))
		}
	}
}

// Broadcast pushes an invalidation the controller itself originated (as
// opposed to one relayed from a peer) to every connected node.
func (b *Bus) Broadcast(pkt InvalidateCache) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, conn := range b.peers {
		_ = conn.Send(pkt)
	}
}

// PeerCount reports how many nodes are currently connected.
func (b *Bus) PeerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.peers)
}

// Shutdown closes every registered connection.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, conn := range b.peers {
		_ = conn.Close()
	}
	b.peers = make(map[uuid.UUID]*Conn)
}
