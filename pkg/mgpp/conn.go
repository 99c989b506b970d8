package mgpp

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HandshakeTimeout bounds how long Dial/Accept wait for the peer's token.
const HandshakeTimeout = 10 * time.Second

// Authenticator validates the handshake token presented by a peer dialing
// in and mints the token this node presents when dialing out. It shares its
// contract with mdsftp.Authenticator by construction: a
// peerauth.NodeAuthenticator value satisfies both without pkg/mgpp
// importing pkg/mdsftp or vice versa.
type Authenticator interface {
	Token(ctx context.Context, selfID uuid.UUID) ([]byte, error)
	Authenticate(ctx context.Context, token []byte) (uuid.UUID, error)
}

// Handler receives every InvalidateCache packet a Conn reads off the wire.
type Handler func(conn *Conn, pkt InvalidateCache)

// Conn is a single MGPP link: either the controller's connection to one
// storage node, or a storage node's connection to the controller.
type Conn struct {
	netConn net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
	selfID  uuid.UUID
	peerID  uuid.UUID

	handler Handler
	closeCh chan struct{}
	closed  bool
	mu      sync.Mutex
}

// Dial opens an outbound MGPP connection and completes the handshake.
func Dial(ctx context.Context, addr string, selfID uuid.UUID, auth Authenticator, handler Handler) (*Conn, error) {
	d := net.Dialer{}
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("mgpp: dial %s: %w", addr, err)
	}

	c := newConn(netConn, selfID, handler)
	token, err := auth.Token(ctx, selfID)
	if err != nil {
		_ = netConn.Close()
		return nil, fmt.Errorf("mgpp: building handshake token: %w", err)
	}
	if err := c.writeHandshake(token); err != nil {
		_ = netConn.Close()
		return nil, err
	}
	peerToken, err := c.readHandshake()
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}
	peerID, err := auth.Authenticate(ctx, peerToken)
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}
	c.peerID = peerID

	c.startReadLoop()
	return c, nil
}

// Accept wraps an already-accepted net.Conn and validates the peer's token.
func Accept(ctx context.Context, netConn net.Conn, selfID uuid.UUID, auth Authenticator, handler Handler) (*Conn, error) {
	c := newConn(netConn, selfID, handler)

	peerToken, err := c.readHandshake()
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}
	peerID, err := auth.Authenticate(ctx, peerToken)
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}
	token, err := auth.Token(ctx, selfID)
	if err != nil {
		_ = netConn.Close()
		return nil, fmt.Errorf("mgpp: building handshake token: %w", err)
	}
	if err := c.writeHandshake(token); err != nil {
		_ = netConn.Close()
		return nil, err
	}
	c.peerID = peerID

	c.startReadLoop()
	return c, nil
}

func newConn(netConn net.Conn, selfID uuid.UUID, handler Handler) *Conn {
	return &Conn{
		netConn: netConn,
		reader:  bufio.NewReaderSize(netConn, 4<<10),
		selfID:  selfID,
		handler: handler,
		closeCh: make(chan struct{}),
	}
}

func (c *Conn) writeHandshake(token []byte) error {
	_ = c.netConn.SetWriteDeadline(time.Now().Add(HandshakeTimeout))
	defer func() { _ = c.netConn.SetWriteDeadline(time.Time{}) }()

	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(token)))
	if _, err := c.netConn.Write(lenBuf); err != nil {
		return fmt.Errorf("mgpp: writing handshake length: %w", err)
	}
	if _, err := c.netConn.Write(token); err != nil {
		return fmt.Errorf("mgpp: writing handshake token: %w", err)
	}
	return nil
}

func (c *Conn) readHandshake() ([]byte, error) {
	_ = c.netConn.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	defer func() { _ = c.netConn.SetReadDeadline(time.Time{}) }()

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(c.reader, lenBuf); err != nil {
		return nil, fmt.Errorf("mgpp: reading handshake length: %w", err)
	}
	tokenLen := binary.BigEndian.Uint32(lenBuf)
	if tokenLen > 1<<16 {
		return nil, fmt.Errorf("mgpp: handshake token too large (%d bytes)", tokenLen)
	}
	token := make([]byte, tokenLen)
	if _, err := io.ReadFull(c.reader, token); err != nil {
		return nil, fmt.Errorf("mgpp: reading handshake token: %w", err)
	}
	return token, nil
}

// PeerID returns the remote node's identity, known only after the
// handshake completes.
func (c *Conn) PeerID() uuid.UUID { return c.peerID }

// Send broadcasts one invalidation to the peer on the other end of this
// connection.
func (c *Conn) Send(pkt InvalidateCache) error {
	payload := pkt.Encode()
	header := make([]byte, HeaderSize)
	WriteHeader(header, PacketInvalidateCache, uint32(len(payload)))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.netConn.Write(header); err != nil {
		return fmt.Errorf("mgpp: writing frame header: %w", err)
	}
	if _, err := c.netConn.Write(payload); err != nil {
		return fmt.Errorf("mgpp: writing frame payload: %w", err)
	}
	return nil
}

func (c *Conn) startReadLoop() { go c.readLoop() }

func (c *Conn) readLoop() {
	defer c.Close()

	headerBuf := make([]byte, HeaderSize)
	for {
		if _, err := io.ReadFull(c.reader, headerBuf); err != nil {
			return
		}
		packetType, size := ReadHeader(headerBuf)
		if size > 1<<20 {
			return
		}
		payload := make([]byte, size)
		if size > 0 {
			if _, err := io.ReadFull(c.reader, payload); err != nil {
				return
			}
		}
		if packetType != PacketInvalidateCache {
			continue
		}
		pkt, err := DecodeInvalidateCache(payload)
		if err != nil {
			continue
		}
		if c.handler != nil {
			c.handler(c, pkt)
		}
	}
}

// Done returns a channel closed once this connection has shut down.
func (c *Conn) Done() <-chan struct{} { return c.closeCh }

// Close tears down the underlying connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.closeCh)
	return c.netConn.Close()
}
