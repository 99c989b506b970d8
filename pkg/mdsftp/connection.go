package mdsftp

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meowith/meowith/internal/logger"
	"github.com/meowith/meowith/pkg/bufpool"
)

// maxChannelID bounds the id space a single connection's channels are
// allocated from; a connection that exhausts it is retired and redialed
// rather than wrapping ids, so pending channel state is never reused.
const maxChannelID = 1_000_000

// HandshakeTimeout bounds how long Dial/Accept wait for the peer's token.
const HandshakeTimeout = 10 * time.Second

// Connection is a single TCP link to a peer node carrying zero or more
// multiplexed Channels. Either side may open a channel at any time; channel
// ids are partitioned by which side dialed so concurrent opens never
// collide without coordination.
type Connection struct {
	netConn  net.Conn
	reader   *bufio.Reader
	writeMu  sync.Mutex
	selfID   uuid.UUID
	peerID   uuid.UUID
	outbound bool

	// openHandler builds the Handler assigned to a channel the peer opens
	// with a ChannelOpen system packet. Nil means this side never accepts
	// peer-opened channels (e.g. a pure client connection).
	openHandler func(ch *Channel) Handler

	mu       sync.RWMutex
	channels map[uint32]*Channel
	nextID   uint32
	closed   bool
	closeCh  chan struct{}
}

// Dial opens an outbound connection to addr, exchanges handshake tokens via
// auth, and starts the connection's read loop. openHandler may be nil if
// this side never expects the peer to open channels back.
func Dial(ctx context.Context, addr string, selfID uuid.UUID, auth Authenticator, openHandler func(ch *Channel) Handler) (*Connection, error) {
	d := net.Dialer{}
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("mdsftp: dial %s: %w", addr, err)
	}

	conn, err := newConnection(netConn, selfID, true, openHandler)
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}

	if err := conn.handshakeOutbound(ctx, auth); err != nil {
		_ = netConn.Close()
		return nil, err
	}

	conn.startReadLoop()
	return conn, nil
}

// Accept wraps an already-accepted net.Conn (from a listener's Accept loop),
// validates the peer's handshake token via auth, and starts the read loop.
func Accept(ctx context.Context, netConn net.Conn, selfID uuid.UUID, auth Authenticator, openHandler func(ch *Channel) Handler) (*Connection, error) {
	conn, err := newConnection(netConn, selfID, false, openHandler)
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}

	if err := conn.handshakeInbound(ctx, auth); err != nil {
		_ = netConn.Close()
		return nil, err
	}

	conn.startReadLoop()
	return conn, nil
}

func newConnection(netConn net.Conn, selfID uuid.UUID, outbound bool, openHandler func(ch *Channel) Handler) (*Connection, error) {
	start, err := randomChannelStart(outbound)
	if err != nil {
		return nil, err
	}
	return &Connection{
		netConn:     netConn,
		reader:      bufio.NewReaderSize(netConn, 64<<10),
		selfID:      selfID,
		outbound:    outbound,
		openHandler: openHandler,
		channels:    make(map[uint32]*Channel),
		nextID:      start,
		closeCh:     make(chan struct{}),
	}, nil
}

// randomChannelStart picks the first id an outbound (odd) or inbound (even)
// connection allocates, randomized within the id space so two connections
// between the same pair of nodes, opened around the same time, don't tend
// to hand out the same sequence of ids.
func randomChannelStart(outbound bool) (uint32, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxChannelID/2-1))
	if err != nil {
		return 0, fmt.Errorf("mdsftp: generating channel id seed: %w", err)
	}
	base := uint32(n.Int64())*2 + 2
	if outbound {
		base++
	}
	return base, nil
}

func (c *Connection) handshakeOutbound(ctx context.Context, auth Authenticator) error {
	token, err := auth.Token(ctx, c.selfID)
	if err != nil {
		return fmt.Errorf("mdsftp: building handshake token: %w", err)
	}
	if err := c.writeHandshake(token); err != nil {
		return err
	}
	peerToken, err := c.readHandshake()
	if err != nil {
		return err
	}
	peerID, err := auth.Authenticate(ctx, peerToken)
	if err != nil {
		return err
	}
	c.peerID = peerID
	return nil
}

func (c *Connection) handshakeInbound(ctx context.Context, auth Authenticator) error {
	peerToken, err := c.readHandshake()
	if err != nil {
		return err
	}
	peerID, err := auth.Authenticate(ctx, peerToken)
	if err != nil {
		return err
	}
	token, err := auth.Token(ctx, c.selfID)
	if err != nil {
		return fmt.Errorf("mdsftp: building handshake token: %w", err)
	}
	if err := c.writeHandshake(token); err != nil {
		return err
	}
	c.peerID = peerID
	return nil
}

func (c *Connection) writeHandshake(token []byte) error {
	_ = c.netConn.SetWriteDeadline(time.Now().Add(HandshakeTimeout))
	defer func() { _ = c.netConn.SetWriteDeadline(time.Time{}) }()

	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(token)))
	if _, err := c.netConn.Write(lenBuf); err != nil {
		return fmt.Errorf("mdsftp: writing handshake length: %w", err)
	}
	if _, err := c.netConn.Write(token); err != nil {
		return fmt.Errorf("mdsftp: writing handshake token: %w", err)
	}
	return nil
}

func (c *Connection) readHandshake() ([]byte, error) {
	_ = c.netConn.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	defer func() { _ = c.netConn.SetReadDeadline(time.Time{}) }()

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(c.reader, lenBuf); err != nil {
		return nil, fmt.Errorf("%w: reading handshake length: %v", ErrHandshakeFailed, err)
	}
	tokenLen := binary.BigEndian.Uint32(lenBuf)
	if tokenLen > 1<<16 {
		return nil, fmt.Errorf("%w: handshake token too large (%d bytes)", ErrHandshakeFailed, tokenLen)
	}
	token := make([]byte, tokenLen)
	if _, err := io.ReadFull(c.reader, token); err != nil {
		return nil, fmt.Errorf("%w: reading handshake token: %v", ErrHandshakeFailed, err)
	}
	return token, nil
}

// PeerID returns the remote node's identity, known only after the handshake
// completes.
func (c *Connection) PeerID() uuid.UUID { return c.peerID }

// RemoteAddr returns the underlying TCP connection's remote address.
func (c *Connection) RemoteAddr() net.Addr { return c.netConn.RemoteAddr() }

// OpenChannel allocates a new channel id on this connection, registers it
// locally, and tells the peer about it with a ChannelOpen system packet.
func (c *Connection) OpenChannel(handler Handler) (*Channel, error) {
	id, err := c.allocateChannelID()
	if err != nil {
		return nil, err
	}

	ch := newChannel(id, c, handler)

	c.mu.Lock()
	c.channels[id] = ch
	c.mu.Unlock()

	if err := c.writeFrame(PacketChannelOpen, id, nil); err != nil {
		c.removeChannel(id)
		return nil, err
	}
	return ch, nil
}

func (c *Connection) allocateChannelID() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrConnectionClosed
	}

	step := uint32(2)
	for i := 0; i < maxChannelID/2; i++ {
		id := c.nextID
		c.nextID += step
		if c.nextID >= maxChannelID {
			c.nextID = id % 2
			if c.nextID == 0 {
				c.nextID = 2
			}
		}
		if id == 0 {
			continue
		}
		if _, exists := c.channels[id]; !exists {
			return id, nil
		}
	}
	return 0, ErrMaxChannels
}

func (c *Connection) removeChannel(id uint32) {
	c.mu.Lock()
	delete(c.channels, id)
	c.mu.Unlock()
}

// ChannelCount returns the number of live channels, used by Pool to pick the
// least-loaded connection to a peer.
func (c *Connection) ChannelCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.channels)
}

// writeFrame serialises and writes a single frame. Writes are serialised by
// writeMu since multiple channels share one underlying net.Conn.
func (c *Connection) writeFrame(pt PacketType, streamID uint32, payload []byte) error {
	header := make([]byte, HeaderSize)
	WriteHeader(header, Header{PacketType: pt, StreamID: streamID, PayloadSize: uint32(len(payload))})

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.netConn.Write(header); err != nil {
		return fmt.Errorf("mdsftp: writing frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := c.netConn.Write(payload); err != nil {
			return fmt.Errorf("mdsftp: writing frame payload: %w", err)
		}
	}
	return nil
}

// startReadLoop launches the background goroutine that reads frames off the
// wire and dispatches them until the connection closes or a framing error
// occurs.
func (c *Connection) startReadLoop() {
	go c.readLoop()
}

func (c *Connection) readLoop() {
	log := logger.With(logger.PeerID(c.peerID.String()), logger.RemoteAddr(c.netConn.RemoteAddr().String()))

	defer c.Close()

	headerBuf := make([]byte, HeaderSize)
	for {
		if _, err := io.ReadFull(c.reader, headerBuf); err != nil {
			if err != io.EOF {
				log.Warn("mdsftp connection read error", logger.Err(err))
			}
			return
		}

		h := ReadHeader(headerBuf)
		if err := h.Validate(); err != nil {
			log.Warn("mdsftp rejecting malformed frame", logger.Err(err))
			return
		}

		payload := bufpool.Get(int(h.PayloadSize))
		if h.PayloadSize > 0 {
			if _, err := io.ReadFull(c.reader, payload); err != nil {
				log.Warn("mdsftp connection read error reading payload", logger.Err(err))
				bufpool.Put(payload)
				return
			}
		}

		c.handleFrame(h, payload)
	}
}

func (c *Connection) handleFrame(h Header, payload []byte) {
	if h.PacketType.IsSystem() {
		c.handleSystemPacket(h, payload)
		bufpool.Put(payload)
		return
	}

	c.mu.RLock()
	ch, ok := c.channels[h.StreamID]
	c.mu.RUnlock()

	if !ok {
		// A packet for a channel we don't know about: the peer may have
		// raced a close, or never received our ChannelOpen. Drop it.
		bufpool.Put(payload)
		return
	}

	// Copy out of the pooled buffer before handing it to dispatch: the
	// handler may retain payload past this call (e.g. queueing a FileChunk
	// body), which bufpool reuse would otherwise corrupt.
	owned := make([]byte, len(payload))
	copy(owned, payload)
	bufpool.Put(payload)

	ch.dispatch(RawPacket{Type: h.PacketType, StreamID: h.StreamID, Payload: owned})
}

func (c *Connection) handleSystemPacket(h Header, _ []byte) {
	switch h.PacketType {
	case PacketChannelOpen:
		c.mu.Lock()
		if _, exists := c.channels[h.StreamID]; exists {
			c.mu.Unlock()
			return
		}
		var handler Handler
		ch := newChannel(h.StreamID, c, nil)
		if c.openHandler != nil {
			handler = c.openHandler(ch)
			ch.SetHandler(handler)
		}
		c.channels[h.StreamID] = ch
		c.mu.Unlock()

	case PacketChannelClose, PacketChannelErr:
		c.mu.Lock()
		ch, exists := c.channels[h.StreamID]
		delete(c.channels, h.StreamID)
		c.mu.Unlock()
		if exists {
			ch.closeLocal()
		}
	}
}

// Close shuts down the underlying connection and every live channel.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	channels := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.channels = make(map[uint32]*Channel)
	c.mu.Unlock()

	close(c.closeCh)
	for _, ch := range channels {
		ch.closeLocal()
	}
	return c.netConn.Close()
}

// Done returns a channel closed once this connection has shut down.
func (c *Connection) Done() <-chan struct{} { return c.closeCh }

// IsClosed reports whether Close has run.
func (c *Connection) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
