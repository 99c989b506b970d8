// Package mdsftp implements the binary, channel-multiplexed protocol used
// between storage nodes for chunk reservation, upload, download, commit,
// lock, delete, and query.
package mdsftp

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// HeaderSize is the fixed size of every frame's header, in bytes.
const HeaderSize = 9

// PacketType identifies the payload layout that follows a header. Values
// with the high bit set (>= systemBit) are system packets, handled by the
// connection rather than routed to a channel.
type PacketType uint8

const systemBit PacketType = 0x80

const (
	PacketFileChunk PacketType = iota + 1
	PacketRetrieve
	PacketPut
	PacketPutOk
	PacketPutErr
	PacketRecvAck
	PacketReserve
	PacketReserveCancel
	PacketReserveOk
	PacketReserveErr
	PacketLockReq
	PacketLockAcquire
	PacketLockErr
	PacketQuery
	PacketQueryResponse
	PacketDeleteChunk
	PacketCommit
)

const (
	PacketChannelClose PacketType = systemBit + iota
	PacketChannelOpen
	PacketChannelErr
)

// IsSystem reports whether a packet type is handled by the connection
// directly instead of being routed to a channel by stream id.
func (t PacketType) IsSystem() bool {
	return t >= systemBit
}

func (t PacketType) String() string {
	switch t {
	case PacketFileChunk:
		return "FileChunk"
	case PacketRetrieve:
		return "Retrieve"
	case PacketPut:
		return "Put"
	case PacketPutOk:
		return "PutOk"
	case PacketPutErr:
		return "PutErr"
	case PacketRecvAck:
		return "RecvAck"
	case PacketReserve:
		return "Reserve"
	case PacketReserveCancel:
		return "ReserveCancel"
	case PacketReserveOk:
		return "ReserveOk"
	case PacketReserveErr:
		return "ReserveErr"
	case PacketLockReq:
		return "LockReq"
	case PacketLockAcquire:
		return "LockAcquire"
	case PacketLockErr:
		return "LockErr"
	case PacketQuery:
		return "Query"
	case PacketQueryResponse:
		return "QueryResponse"
	case PacketDeleteChunk:
		return "DeleteChunk"
	case PacketCommit:
		return "Commit"
	case PacketChannelOpen:
		return "ChannelOpen"
	case PacketChannelClose:
		return "ChannelClose"
	case PacketChannelErr:
		return "ChannelErr"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// minPayloadSize returns the minimum payload length a well-formed packet of
// this type may carry. FileChunk's payload is variable (header + body), so
// its minimum is the fixed prefix only. System packets carry no payload.
func (t PacketType) minPayloadSize() (int, bool) {
	switch t {
	case PacketFileChunk:
		return 5, true // is_last:u8 + chunk_seq:u32, body follows
	case PacketRetrieve:
		return 16 + 2 + 8 + 8, true
	case PacketPut:
		return 1 + 16 + 8, true
	case PacketPutOk:
		return 2, true
	case PacketPutErr:
		return 1, true
	case PacketRecvAck:
		return 4, true
	case PacketReserve:
		return 1 + 8, true
	case PacketReserveCancel:
		return 16, true
	case PacketReserveOk:
		return 16 + 2, true
	case PacketReserveErr:
		return 8, true
	case PacketLockReq, PacketLockAcquire, PacketLockErr:
		return 1 + 16, true
	case PacketQuery:
		return 16, true
	case PacketQueryResponse:
		return 1 + 8, true
	case PacketDeleteChunk:
		return 16, true
	case PacketCommit:
		return 1 + 16, true
	case PacketChannelOpen, PacketChannelClose, PacketChannelErr:
		return 0, true
	default:
		return 0, false
	}
}

// Header is the 9-byte frame prefix: packet id, stream (channel) id, and the
// exact payload length that follows.
type Header struct {
	PacketType  PacketType
	StreamID    uint32
	PayloadSize uint32
}

// WriteHeader serialises h into buf, which must be at least HeaderSize bytes.
func WriteHeader(buf []byte, h Header) {
	buf[0] = byte(h.PacketType)
	binary.BigEndian.PutUint32(buf[1:5], h.StreamID)
	binary.BigEndian.PutUint32(buf[5:9], h.PayloadSize)
}

// ReadHeader parses a Header from buf, which must be at least HeaderSize
// bytes. It does not validate the packet type or payload size; callers
// combine it with Validate for that.
func ReadHeader(buf []byte) Header {
	return Header{
		PacketType:  PacketType(buf[0]),
		StreamID:    binary.BigEndian.Uint32(buf[1:5]),
		PayloadSize: binary.BigEndian.Uint32(buf[5:9]),
	}
}

// Validate checks a header against the static packet-type registry before
// its payload is read: an unknown packet type, a reserved stream id on a
// non-system packet, or a payload shorter than the type's minimum is
// rejected immediately.
func (h Header) Validate() error {
	minSize, known := h.PacketType.minPayloadSize()
	if !known {
		return fmt.Errorf("mdsftp: unknown packet type %d", uint8(h.PacketType))
	}
	if h.StreamID == 0 && !h.PacketType.IsSystem() {
		return fmt.Errorf("mdsftp: stream id 0 is reserved for non-system packet %s", h.PacketType)
	}
	if int(h.PayloadSize) < minSize {
		return fmt.Errorf("mdsftp: payload %d shorter than minimum %d for %s", h.PayloadSize, minSize, h.PacketType)
	}
	return nil
}

// RawPacket is a decoded frame before its payload has been interpreted
// against a specific packet schema.
type RawPacket struct {
	Type     PacketType
	StreamID uint32
	Payload  []byte
}

// --- Bit-packed flag and enum types -----------------------------------------

// ReserveFlags is the bitset carried by Reserve: bit 0 auto_start, bit 1
// durable, bit 2 temp, bit 3 overwrite.
type ReserveFlags struct {
	AutoStart bool
	Durable   bool
	Temp      bool
	Overwrite bool
}

func (f ReserveFlags) Byte() byte {
	var b byte
	if f.AutoStart {
		b |= 1 << 0
	}
	if f.Durable {
		b |= 1 << 1
	}
	if f.Temp {
		b |= 1 << 2
	}
	if f.Overwrite {
		b |= 1 << 3
	}
	return b
}

func ParseReserveFlags(b byte) ReserveFlags {
	return ReserveFlags{
		AutoStart: b&(1<<0) != 0,
		Durable:   b&(1<<1) != 0,
		Temp:      b&(1<<2) != 0,
		Overwrite: b&(1<<3) != 0,
	}
}

// CommitFlags is a tri-state, not a bitset: exactly one of Final, KeepAlive,
// or Reject applies.
type CommitFlags uint8

const (
	CommitFinal CommitFlags = iota
	CommitKeepAlive
	CommitReject
)

// LockKind selects a read (shared) or write (exclusive) lock, encoded in the
// low bit of the flags byte.
type LockKind uint8

const (
	LockRead LockKind = iota
	LockWrite
)

func ParseLockKind(b byte) LockKind {
	if b&0x01 != 0 {
		return LockWrite
	}
	return LockRead
}

func (k LockKind) Byte() byte {
	if k == LockWrite {
		return 1
	}
	return 0
}

// ChunkErrorKind distinguishes "the chunk exists but isn't ready" from
// "the chunk id is unknown", encoded via bit 1 of the flags byte.
type ChunkErrorKind uint8

const (
	ChunkNotAvailable ChunkErrorKind = iota
	ChunkNotFound
)

func ParseChunkErrorKind(b byte) ChunkErrorKind {
	if b&0x02 != 0 {
		return ChunkNotFound
	}
	return ChunkNotAvailable
}

func (k ChunkErrorKind) Byte() byte {
	if k == ChunkNotFound {
		return 0x02
	}
	return 0
}

// --- Payload structs ---------------------------------------------------------

type FileChunkHeader struct {
	IsLast   bool
	ChunkSeq uint32
}

type Retrieve struct {
	Chunk      uuid.UUID
	Window     uint16
	RangeStart uint64
	RangeEnd   uint64
}

type Put struct {
	Flags byte
	Chunk uuid.UUID
	Size  uint64
}

type PutOk struct {
	Window uint16
}

type PutErr struct {
	Kind ChunkErrorKind
}

type RecvAck struct {
	ChunkSeq uint32
}

type Reserve struct {
	Flags   ReserveFlags
	Desired uint64
}

type ReserveCancel struct {
	Chunk uuid.UUID
}

type ReserveOk struct {
	Chunk  uuid.UUID
	Window uint16
}

type ReserveErr struct {
	AvailableBytes uint64
}

type LockReq struct {
	Kind  LockKind
	Chunk uuid.UUID
}

type LockAcquire struct {
	Kind  LockKind
	Chunk uuid.UUID
}

type LockErr struct {
	Kind  LockKind
	Chunk uuid.UUID
}

type Query struct {
	Chunk uuid.UUID
}

type QueryResponse struct {
	Exists bool
	Size   uint64
}

type DeleteChunk struct {
	Chunk uuid.UUID
}

type Commit struct {
	Flags CommitFlags
	Chunk uuid.UUID
}

// --- Encode/decode -----------------------------------------------------------

func putUUID(buf []byte, id uuid.UUID) {
	copy(buf, id[:])
}

func getUUID(buf []byte) uuid.UUID {
	var id uuid.UUID
	copy(id[:], buf[:16])
	return id
}

// EncodeFileChunkHeader writes the fixed 5-byte prefix of a FileChunk
// payload; the caller appends the body bytes after it.
func EncodeFileChunkHeader(h FileChunkHeader) []byte {
	buf := make([]byte, 5)
	if h.IsLast {
		buf[0] = 1
	}
	binary.BigEndian.PutUint32(buf[1:5], h.ChunkSeq)
	return buf
}

func DecodeFileChunkHeader(payload []byte) (FileChunkHeader, []byte, error) {
	if len(payload) < 5 {
		return FileChunkHeader{}, nil, fmt.Errorf("mdsftp: FileChunk payload too short")
	}
	return FileChunkHeader{
		IsLast:   payload[0] != 0,
		ChunkSeq: binary.BigEndian.Uint32(payload[1:5]),
	}, payload[5:], nil
}

func EncodeRetrieve(r Retrieve) []byte {
	buf := make([]byte, 16+2+8+8)
	putUUID(buf[0:16], r.Chunk)
	binary.BigEndian.PutUint16(buf[16:18], r.Window)
	binary.BigEndian.PutUint64(buf[18:26], r.RangeStart)
	binary.BigEndian.PutUint64(buf[26:34], r.RangeEnd)
	return buf
}

func DecodeRetrieve(p []byte) (Retrieve, error) {
	if len(p) < 34 {
		return Retrieve{}, fmt.Errorf("mdsftp: Retrieve payload too short")
	}
	return Retrieve{
		Chunk:      getUUID(p[0:16]),
		Window:     binary.BigEndian.Uint16(p[16:18]),
		RangeStart: binary.BigEndian.Uint64(p[18:26]),
		RangeEnd:   binary.BigEndian.Uint64(p[26:34]),
	}, nil
}

func EncodePut(p Put) []byte {
	buf := make([]byte, 1+16+8)
	buf[0] = p.Flags
	putUUID(buf[1:17], p.Chunk)
	binary.BigEndian.PutUint64(buf[17:25], p.Size)
	return buf
}

func DecodePut(p []byte) (Put, error) {
	if len(p) < 25 {
		return Put{}, fmt.Errorf("mdsftp: Put payload too short")
	}
	return Put{
		Flags: p[0],
		Chunk: getUUID(p[1:17]),
		Size:  binary.BigEndian.Uint64(p[17:25]),
	}, nil
}

func EncodePutOk(p PutOk) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, p.Window)
	return buf
}

func DecodePutOk(p []byte) (PutOk, error) {
	if len(p) < 2 {
		return PutOk{}, fmt.Errorf("mdsftp: PutOk payload too short")
	}
	return PutOk{Window: binary.BigEndian.Uint16(p[0:2])}, nil
}

func EncodePutErr(p PutErr) []byte {
	return []byte{p.Kind.Byte()}
}

func DecodePutErr(p []byte) (PutErr, error) {
	if len(p) < 1 {
		return PutErr{}, fmt.Errorf("mdsftp: PutErr payload too short")
	}
	return PutErr{Kind: ParseChunkErrorKind(p[0])}, nil
}

func EncodeRecvAck(a RecvAck) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, a.ChunkSeq)
	return buf
}

func DecodeRecvAck(p []byte) (RecvAck, error) {
	if len(p) < 4 {
		return RecvAck{}, fmt.Errorf("mdsftp: RecvAck payload too short")
	}
	return RecvAck{ChunkSeq: binary.BigEndian.Uint32(p[0:4])}, nil
}

func EncodeReserve(r Reserve) []byte {
	buf := make([]byte, 1+8)
	buf[0] = r.Flags.Byte()
	binary.BigEndian.PutUint64(buf[1:9], r.Desired)
	return buf
}

func DecodeReserve(p []byte) (Reserve, error) {
	if len(p) < 9 {
		return Reserve{}, fmt.Errorf("mdsftp: Reserve payload too short")
	}
	return Reserve{
		Flags:   ParseReserveFlags(p[0]),
		Desired: binary.BigEndian.Uint64(p[1:9]),
	}, nil
}

func EncodeReserveCancel(r ReserveCancel) []byte {
	buf := make([]byte, 16)
	putUUID(buf, r.Chunk)
	return buf
}

func DecodeReserveCancel(p []byte) (ReserveCancel, error) {
	if len(p) < 16 {
		return ReserveCancel{}, fmt.Errorf("mdsftp: ReserveCancel payload too short")
	}
	return ReserveCancel{Chunk: getUUID(p[0:16])}, nil
}

func EncodeReserveOk(r ReserveOk) []byte {
	buf := make([]byte, 16+2)
	putUUID(buf[0:16], r.Chunk)
	binary.BigEndian.PutUint16(buf[16:18], r.Window)
	return buf
}

func DecodeReserveOk(p []byte) (ReserveOk, error) {
	if len(p) < 18 {
		return ReserveOk{}, fmt.Errorf("mdsftp: ReserveOk payload too short")
	}
	return ReserveOk{
		Chunk:  getUUID(p[0:16]),
		Window: binary.BigEndian.Uint16(p[16:18]),
	}, nil
}

func EncodeReserveErr(r ReserveErr) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, r.AvailableBytes)
	return buf
}

func DecodeReserveErr(p []byte) (ReserveErr, error) {
	if len(p) < 8 {
		return ReserveErr{}, fmt.Errorf("mdsftp: ReserveErr payload too short")
	}
	return ReserveErr{AvailableBytes: binary.BigEndian.Uint64(p[0:8])}, nil
}

func encodeLockPayload(kind LockKind, chunk uuid.UUID) []byte {
	buf := make([]byte, 1+16)
	buf[0] = kind.Byte()
	putUUID(buf[1:17], chunk)
	return buf
}

func decodeLockPayload(p []byte) (LockKind, uuid.UUID, error) {
	if len(p) < 17 {
		return 0, uuid.Nil, fmt.Errorf("mdsftp: lock payload too short")
	}
	return ParseLockKind(p[0]), getUUID(p[1:17]), nil
}

func EncodeLockReq(l LockReq) []byte         { return encodeLockPayload(l.Kind, l.Chunk) }
func EncodeLockAcquire(l LockAcquire) []byte { return encodeLockPayload(l.Kind, l.Chunk) }
func EncodeLockErr(l LockErr) []byte         { return encodeLockPayload(l.Kind, l.Chunk) }

func DecodeLockReq(p []byte) (LockReq, error) {
	k, c, err := decodeLockPayload(p)
	return LockReq{Kind: k, Chunk: c}, err
}

func DecodeLockAcquire(p []byte) (LockAcquire, error) {
	k, c, err := decodeLockPayload(p)
	return LockAcquire{Kind: k, Chunk: c}, err
}

func DecodeLockErr(p []byte) (LockErr, error) {
	k, c, err := decodeLockPayload(p)
	return LockErr{Kind: k, Chunk: c}, err
}

func EncodeQuery(q Query) []byte {
	buf := make([]byte, 16)
	putUUID(buf, q.Chunk)
	return buf
}

func DecodeQuery(p []byte) (Query, error) {
	if len(p) < 16 {
		return Query{}, fmt.Errorf("mdsftp: Query payload too short")
	}
	return Query{Chunk: getUUID(p[0:16])}, nil
}

func EncodeQueryResponse(r QueryResponse) []byte {
	buf := make([]byte, 1+8)
	if r.Exists {
		buf[0] = 1
	}
	binary.BigEndian.PutUint64(buf[1:9], r.Size)
	return buf
}

func DecodeQueryResponse(p []byte) (QueryResponse, error) {
	if len(p) < 9 {
		return QueryResponse{}, fmt.Errorf("mdsftp: QueryResponse payload too short")
	}
	return QueryResponse{
		Exists: p[0] != 0,
		Size:   binary.BigEndian.Uint64(p[1:9]),
	}, nil
}

func EncodeDeleteChunk(d DeleteChunk) []byte {
	buf := make([]byte, 16)
	putUUID(buf, d.Chunk)
	return buf
}

func DecodeDeleteChunk(p []byte) (DeleteChunk, error) {
	if len(p) < 16 {
		return DeleteChunk{}, fmt.Errorf("mdsftp: DeleteChunk payload too short")
	}
	return DeleteChunk{Chunk: getUUID(p[0:16])}, nil
}

func EncodeCommit(c Commit) []byte {
	buf := make([]byte, 1+16)
	buf[0] = byte(c.Flags)
	putUUID(buf[1:17], c.Chunk)
	return buf
}

func DecodeCommit(p []byte) (Commit, error) {
	if len(p) < 17 {
		return Commit{}, fmt.Errorf("mdsftp: Commit payload too short")
	}
	return Commit{
		Flags: CommitFlags(p[0]),
		Chunk: getUUID(p[1:17]),
	}, nil
}
