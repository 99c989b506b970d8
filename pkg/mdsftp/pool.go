package mdsftp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meowith/meowith/internal/logger"
)

// StaleConnectionAge is how long a connection with zero live channels is
// kept warm before the sweep retires it. Peers reopen connections cheaply,
// so idle connections are not worth holding onto indefinitely.
const StaleConnectionAge = 5 * time.Minute

// Pool multiplexes outbound MDSFTP connections across the cluster: each
// peer may have more than one live connection (opened independently by
// concurrent callers before either side observed the other), and Pool
// hands out whichever currently carries the fewest channels.
type Pool struct {
	selfID uuid.UUID
	auth   Authenticator

	// openHandler is invoked for every connection this pool dials or
	// accepts, letting the caller wire an unsolicited-packet Handler onto
	// channels the peer opens back.
	openHandler func(ch *Channel) Handler

	mu          sync.Mutex
	byPeer      map[uuid.UUID][]*connEntry
	closed      bool
	sweepCancel context.CancelFunc
}

type connEntry struct {
	conn     *Connection
	idleSince time.Time
}

// NewPool creates a Pool and starts its background stale-connection sweep.
func NewPool(selfID uuid.UUID, auth Authenticator, openHandler func(ch *Channel) Handler) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		selfID:      selfID,
		auth:        auth,
		openHandler: openHandler,
		byPeer:      make(map[uuid.UUID][]*connEntry),
		sweepCancel: cancel,
	}
	go p.sweepLoop(ctx)
	return p
}

// AddConnection registers an already-established connection (typically one
// accepted by a listener) under its peer id so Channel can reuse it for
// outbound-initiated operations.
func (p *Pool) AddConnection(conn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = conn.Close()
		return
	}
	p.byPeer[conn.PeerID()] = append(p.byPeer[conn.PeerID()], &connEntry{conn: conn})
	go p.watchConnection(conn)
}

// Dial establishes a new outbound connection to addr for peerID and adds it
// to the pool.
func (p *Pool) Dial(ctx context.Context, addr string, peerID uuid.UUID) (*Connection, error) {
	conn, err := Dial(ctx, addr, p.selfID, p.auth, p.openHandler)
	if err != nil {
		return nil, err
	}
	if conn.PeerID() != peerID {
		_ = conn.Close()
		return nil, ErrHandshakeFailed
	}
	p.AddConnection(conn)
	return conn, nil
}

// Channel opens a new channel to peerID on whichever of its pooled
// connections currently has the fewest live channels.
func (p *Pool) Channel(peerID uuid.UUID, handler Handler) (*Channel, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrShuttingDown
	}
	entries := p.byPeer[peerID]
	p.mu.Unlock()

	if len(entries) == 0 {
		return nil, ErrNoConnections
	}

	var best *Connection
	bestCount := -1
	for _, e := range entries {
		if e.conn.IsClosed() {
			continue
		}
		n := e.conn.ChannelCount()
		if bestCount == -1 || n < bestCount {
			best = e.conn
			bestCount = n
		}
	}
	if best == nil {
		return nil, ErrNoConnections
	}
	return best.OpenChannel(handler)
}

func (p *Pool) watchConnection(conn *Connection) {
	<-conn.Done()
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := p.byPeer[conn.PeerID()]
	for i, e := range entries {
		if e.conn == conn {
			p.byPeer[conn.PeerID()] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(p.byPeer[conn.PeerID()]) == 0 {
		delete(p.byPeer, conn.PeerID())
	}
}

func (p *Pool) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(StaleConnectionAge / 5)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepStale()
		}
	}
}

func (p *Pool) sweepStale() {
	now := time.Now()

	p.mu.Lock()
	var toClose []*Connection
	for peerID, entries := range p.byPeer {
		kept := entries[:0]
		for _, e := range entries {
			if e.conn.IsClosed() {
				continue
			}
			if e.conn.ChannelCount() > 0 {
				e.idleSince = time.Time{}
				kept = append(kept, e)
				continue
			}
			if e.idleSince.IsZero() {
				e.idleSince = now
				kept = append(kept, e)
				continue
			}
			if now.Sub(e.idleSince) >= StaleConnectionAge {
				toClose = append(toClose, e.conn)
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(p.byPeer, peerID)
		} else {
			p.byPeer[peerID] = kept
		}
	}
	p.mu.Unlock()

	for _, conn := range toClose {
		logger.Info("closing idle mdsftp connection", logger.PeerID(conn.PeerID().String()))
		_ = conn.Close()
	}
}

// Stats reports the pool's current size, for metrics collection.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := PoolStats{Peers: len(p.byPeer)}
	for _, entries := range p.byPeer {
		stats.Connections += len(entries)
	}
	return stats
}

// PoolStats is a snapshot of a Pool's size.
type PoolStats struct {
	Peers       int
	Connections int
}

// Shutdown stops the sweep and closes every pooled connection.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	all := p.byPeer
	p.byPeer = make(map[uuid.UUID][]*connEntry)
	p.mu.Unlock()

	p.sweepCancel()
	for _, entries := range all {
		for _, e := range entries {
			_ = e.conn.Close()
		}
	}
}
